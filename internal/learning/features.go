package learning

import (
	"fmt"
	"maps"
	"strings"
)

// Ключи стабильных признаков. Порядок фиксирован: от него зависит детерминизм обновлений.
const (
	FeatureCategory       = "category"
	FeatureSenderDomain   = "sender_domain"
	FeatureListID         = "list_id"
	FeatureSender         = "sender"
	FeatureHasUnsubscribe = "has_list_unsubscribe"
)

var stableKeys = []string{FeatureCategory, FeatureSenderDomain, FeatureListID, FeatureSender, FeatureHasUnsubscribe}

// Feature стабильный признак: небольшое детерминированное подмножество снимка письма,
// достаточно надежное, чтобы обобщаться в правило или вес.
type Feature struct {
	Key   string
	Value string
}

// String ключ веса: "category=promotions"
func (f Feature) String() string {
	return f.Key + "=" + f.Value
}

// StableFeatures извлекает до пяти стабильных признаков в фиксированном порядке.
// sender_domain выводится из sender, если не задан явно.
func StableFeatures(features map[string]any) []Feature {
	if len(features) == 0 {
		return nil
	}

	out := make([]Feature, 0, len(stableKeys))
	for _, key := range stableKeys {
		v, ok := normalize(features[key])
		if !ok && key == FeatureSenderDomain {
			v, ok = domainOf(features[FeatureSender])
		}
		if !ok {
			continue
		}
		out = append(out, Feature{Key: key, Value: v})
	}
	return out
}

// WithDerived копия снимка с выведенным sender_domain, если его нет, а sender содержит адрес.
// Условия политик видят те же признаки, что и обучение. Исходная map не меняется.
func WithDerived(features map[string]any) map[string]any {
	if _, ok := normalize(features[FeatureSenderDomain]); ok {
		return features
	}
	d, ok := domainOf(features[FeatureSender])
	if !ok {
		return features
	}
	out := maps.Clone(features)
	out[FeatureSenderDomain] = d
	return out
}

// Lookup значение стабильного признака по ключу
func Lookup(features []Feature, key string) (string, bool) {
	for _, f := range features {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

func normalize(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s, s != ""
	case bool:
		return fmt.Sprint(t), true
	case []any, map[string]any:
		// списки и вложенные объекты нестабильны
		return "", false
	}
	s := strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
	return s, s != ""
}

func domainOf(v any) (string, bool) {
	s, ok := normalize(v)
	if !ok {
		return "", false
	}
	// "Shop <news@mail.example.com>" -> mail.example.com
	if i := strings.LastIndex(s, "<"); i >= 0 {
		s = strings.TrimSuffix(s[i+1:], ">")
	}
	at := strings.LastIndex(s, "@")
	if at < 0 || at == len(s)-1 {
		return "", false
	}
	return strings.TrimSpace(s[at+1:]), true
}
