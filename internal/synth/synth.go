// Package synth строит новые политики из решений пользователя:
// "always do this" по одобренному действию и keep-исключения из фраз "... unless ...".
package synth

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/xela07ax/inboxpilot/internal/condition"
	"github.com/xela07ax/inboxpilot/internal/domain"
	"github.com/xela07ax/inboxpilot/internal/learning"
)

// canonicalKeys признаки, из которых строится условие выученной политики
var canonicalKeys = []string{learning.FeatureCategory, learning.FeatureSenderDomain}

// Learned строит политику из одобренного действия. features перекрывают снимок из rationale.
func Learned(a *domain.ProposedAction, features map[string]any) (*domain.Policy, error) {
	if len(features) == 0 {
		features = a.Rationale.Features
	}
	stable := learning.StableFeatures(features)

	clauses := make([]any, 0, len(canonicalKeys))
	parts := make([]string, 0, len(canonicalKeys))
	for _, key := range canonicalKeys {
		v, ok := learning.Lookup(stable, key)
		if !ok {
			continue
		}
		clauses = append(clauses, equalFold(key, v))
		parts = append(parts, key+"="+v)
	}
	if len(clauses) == 0 {
		return nil, &domain.ValidationError{Field: "rationale_features", Reason: "has no category or sender_domain"}
	}

	cond, err := json.Marshal(map[string]any{"all": clauses})
	if err != nil {
		return nil, err
	}

	p := &domain.Policy{
		Name:                fmt.Sprintf("always %s: %s", a.Action, strings.Join(parts, ", ")),
		Enabled:             true,
		Priority:            domain.PriorityLearned,
		Action:              a.Action,
		Params:              a.Params,
		ConfidenceThreshold: LearnedThreshold(a.Confidence),
		Condition:           cond,
		Origin:              domain.OriginLearned,
	}
	if p.Fingerprint, err = Fingerprint(p.Condition, p.Action, p.Params); err != nil {
		return nil, err
	}
	return p, p.Validate()
}

// LearnedThreshold max(floor, confidence - margin)
func LearnedThreshold(confidence float64) float64 {
	t := math.Max(domain.LearnedThresholdFloor, confidence-domain.LearnedThresholdMargin)
	return math.Min(t, 1)
}

// Fingerprint хэш канонического условия и действия. Одинаковые правила дают одинаковый отпечаток
// независимо от порядка ключей в JSON.
func Fingerprint(cond json.RawMessage, action domain.PolicyAction, params map[string]any) (string, error) {
	canon, err := condition.Canonical(cond)
	if err != nil {
		return "", err
	}
	// json.Marshal сортирует ключи map
	var p []byte
	if len(params) > 0 {
		if p, err = json.Marshal(params); err != nil {
			return "", err
		}
	}

	h := sha256.New()
	h.Write([]byte(action))
	h.Write([]byte{0})
	h.Write(canon)
	h.Write([]byte{0})
	h.Write(p)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func clause(op, field string, v any) map[string]any {
	return map[string]any{op: []any{field, v}}
}

// equalFold поле равно v без учета регистра и пробелов по краям.
// Признаки обучения нормализованы, а письма приходят как есть ("Promotions", " Example.COM").
func equalFold(field, v string) map[string]any {
	return clause(string(condition.OpRegex), field, `^\s*`+regexp.QuoteMeta(v)+`\s*$`)
}

// domainIs домен отправителя или его поддомен: amazon.com покрывает и mail.amazon.com
func domainIs(v string) map[string]any {
	return clause(string(condition.OpRegex), learning.FeatureSenderDomain, `^\s*(?:[^@\s]*\.)?`+regexp.QuoteMeta(v)+`\s*$`)
}

// addressIs адрес отправителя, в том числе в форме "Имя <addr>"
func addressIs(v string) map[string]any {
	return clause(string(condition.OpRegex), learning.FeatureSender, `(?:^|<)\s*`+regexp.QuoteMeta(v)+`\s*(?:>|$)`)
}
