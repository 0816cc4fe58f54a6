package synth

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/xela07ax/inboxpilot/internal/domain"
	"github.com/xela07ax/inboxpilot/internal/learning"
)

var (
	// Маркер исключения и хвост фразы до конца предложения. Точка внутри домена конец не означает.
	exceptionRe = regexp.MustCompile(`(?i)\b(?:unless|except(?:\s+(?:for|when|if))?)\b((?:[^.;!?\n]|\.[^\s.;!?])*)`)
	splitRe     = regexp.MustCompile(`(?i)\s*,\s*|\s+or\s+|\s+and\s+`)
	emailRe     = regexp.MustCompile(`^[^\s@]+@[a-z0-9-]+(?:\.[a-z0-9-]+)+$`)
	domainRe    = regexp.MustCompile(`^[a-z0-9-]+(?:\.[a-z0-9-]+)*\.[a-z]{2,}$`)

	// Служебные слова в начале фразы: "unless it's from amazon.com"
	fillerPrefixes = []string{
		"it's from ", "it is from ", "they're from ", "they are from ", "it comes from ",
		"sent by ", "from ", "by ",
		"it mentions ", "it contains ", "mentions ", "contains ", "about ",
		"the subject has ", "subject has ", "the subject contains ", "subject contains ",
	}
)

// Exception разобранная фраза-исключение
type Exception struct {
	Field string // sender_domain | sender | subject
	Op    string // "=" | "contains"
	Value string
}

// ParseExceptions находит фразы после "unless"/"except" и разбивает их по or/and/запятым
func ParseExceptions(text string) []Exception {
	var out []Exception
	seen := make(map[Exception]struct{})

	for _, m := range exceptionRe.FindAllStringSubmatch(text, -1) {
		for _, phrase := range splitRe.Split(m[1], -1) {
			ex, ok := classify(phrase)
			if !ok {
				continue
			}
			if _, dup := seen[ex]; dup {
				continue
			}
			seen[ex] = struct{}{}
			out = append(out, ex)
		}
	}
	return out
}

func classify(phrase string) (Exception, bool) {
	s := strings.ToLower(strings.TrimSpace(phrase))
	for changed := true; changed; {
		changed = false
		for _, p := range fillerPrefixes {
			if strings.HasPrefix(s, p) {
				s = strings.TrimSpace(strings.TrimPrefix(s, p))
				changed = true
			}
		}
	}
	s = strings.Trim(s, `"'<>()`)
	s = strings.TrimPrefix(s, "@")
	if s == "" {
		return Exception{}, false
	}

	switch {
	case emailRe.MatchString(s):
		return Exception{Field: learning.FeatureSender, Op: "=", Value: s}, true
	case domainRe.MatchString(s):
		return Exception{Field: learning.FeatureSenderDomain, Op: "=", Value: s}, true
	}
	return Exception{Field: "subject", Op: "contains", Value: s}, true
}

// Exceptions строит keep-политики для каждой фразы-исключения. Скалярные признаки scope
// (например, category) добавляются в условие через AND, чтобы исключение перекрывало
// только ту широкую политику, к которой оно относится.
func Exceptions(text string, scope map[string]any) ([]*domain.Policy, error) {
	found := ParseExceptions(text)
	if len(found) == 0 {
		return nil, &domain.ValidationError{Field: "text", Reason: "contains no unless/except phrase"}
	}

	scopeClauses, scopeParts := scopeConditions(scope)

	out := make([]*domain.Policy, 0, len(found))
	for _, ex := range found {
		clauses := append(append([]any{}, scopeClauses...), ex.clause())
		cond, err := json.Marshal(map[string]any{"all": clauses})
		if err != nil {
			return nil, err
		}

		name := fmt.Sprintf("keep: %s %s %s", ex.Field, ex.Op, ex.Value)
		if len(scopeParts) > 0 {
			name += " (" + strings.Join(scopeParts, ", ") + ")"
		}

		p := &domain.Policy{
			Name:      name,
			Enabled:   true,
			Priority:  domain.PriorityException,
			Action:    domain.ActionKeep,
			Condition: cond,
			Origin:    domain.OriginException,
		}
		if p.Fingerprint, err = Fingerprint(p.Condition, p.Action, nil); err != nil {
			return nil, err
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// clause условие исключения. Сравнение без учета регистра: фраза нормализована,
// а sender в письме может быть "Boss <Boss@Corp.com>".
func (ex Exception) clause() map[string]any {
	switch ex.Field {
	case learning.FeatureSender:
		return addressIs(ex.Value)
	case learning.FeatureSenderDomain:
		return domainIs(ex.Value)
	}
	return clause(ex.Op, ex.Field, ex.Value)
}

func scopeConditions(scope map[string]any) ([]any, []string) {
	keys := make([]string, 0, len(scope))
	for k := range scope {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		clauses []any
		parts   []string
	)
	for _, k := range keys {
		switch v := scope[k].(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				continue
			}
			clauses = append(clauses, equalFold(k, strings.TrimSpace(v)))
			parts = append(parts, k+"="+v)
		case bool, float64, int, int64:
			clauses = append(clauses, clause("=", k, v))
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
	}
	return clauses, parts
}
