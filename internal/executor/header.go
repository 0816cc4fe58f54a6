package executor

import (
	"strings"
)

const headerListUnsubscribe = "list-unsubscribe"

// Targets цели отписки из заголовка List-Unsubscribe: ноль, одна или две
type Targets struct {
	HTTP   string // http(s) ссылка деактивации
	Mailto string // адрес (с query) из mailto:
}

func (t Targets) Empty() bool {
	return t.HTTP == "" && t.Mailto == ""
}

// ParseListUnsubscribe разбирает "<mailto:a@b?subject=x>, <https://b/u>".
// Схемы сравниваются без учета регистра; из каждой схемы берется первая цель.
func ParseListUnsubscribe(header string) Targets {
	var t Targets
	for _, raw := range splitTargets(header) {
		lower := strings.ToLower(raw)
		switch {
		case strings.HasPrefix(lower, "mailto:"):
			if t.Mailto == "" && len(raw) > len("mailto:") {
				t.Mailto = raw[len("mailto:"):]
			}
		case strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "http://"):
			if t.HTTP == "" {
				t.HTTP = raw
			}
		}
	}
	return t
}

// splitTargets достает содержимое <...>; без скобок режет по запятым и пробелам
func splitTargets(header string) []string {
	var out []string
	rest := header
	for {
		open := strings.IndexByte(rest, '<')
		if open < 0 {
			break
		}
		end := strings.IndexByte(rest[open:], '>')
		if end < 0 {
			break
		}
		if v := strings.TrimSpace(rest[open+1 : open+end]); v != "" {
			out = append(out, v)
		}
		rest = rest[open+end+1:]
	}
	if len(out) > 0 {
		return out
	}

	return strings.FieldsFunc(header, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}

// FindHeader ищет значение List-Unsubscribe в карте: ключи "list_unsubscribe",
// "List-Unsubscribe" на верхнем уровне или внутри "headers". Регистр ключей не важен.
func FindHeader(m map[string]any) (string, bool) {
	if len(m) == 0 {
		return "", false
	}
	for k, v := range m {
		if isUnsubscribeKey(k) {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s, true
			}
		}
	}
	switch headers := m["headers"].(type) {
	case map[string]any:
		for k, v := range headers {
			if isUnsubscribeKey(k) {
				if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
					return s, true
				}
			}
		}
	case map[string]string:
		for k, v := range headers {
			if isUnsubscribeKey(k) && strings.TrimSpace(v) != "" {
				return v, true
			}
		}
	}
	return "", false
}

func isUnsubscribeKey(k string) bool {
	k = strings.ToLower(strings.ReplaceAll(k, "_", "-"))
	return k == headerListUnsubscribe
}
