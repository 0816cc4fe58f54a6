package condition

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/inboxpilot/internal/domain"
)

var fixedNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func mustParse(t *testing.T, raw string) Node {
	t.Helper()
	n, err := Parse(json.RawMessage(raw))
	require.NoError(t, err)
	return n
}

func eval(t *testing.T, raw string, features map[string]any) bool {
	t.Helper()
	return Evaluate(mustParse(t, raw), features, fixedNow).Matched
}

func TestRegexIsCaseInsensitiveSearch(t *testing.T) {
	cond := `{"regex":["subject","verif|confirm"]}`

	assert.True(t, eval(t, cond, map[string]any{"subject": "Please complete verification"}))
	assert.True(t, eval(t, cond, map[string]any{"subject": "CONFIRM your address"}))
	assert.False(t, eval(t, cond, map[string]any{"subject": "hello"}))

	res := Evaluate(mustParse(t, cond), map[string]any{"subject": "Please complete Verification"}, fixedNow)
	assert.Equal(t, []string{"Verif"}, res.Tokens)
}

func TestInOperator(t *testing.T) {
	cond := `{"in":["category",["promo","newsletter"]]}`

	tests := []struct {
		name     string
		category any
		want     bool
	}{
		{"list intersects", []any{"promo", "other"}, true},
		{"list disjoint", []any{"social", "other"}, false},
		{"empty list", []any{}, false},
		{"scalar member", "newsletter", true},
		{"scalar non member", "updates", false},
		{"string slice", []string{"x", "promo"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eval(t, cond, map[string]any{"category": tt.category}))
		})
	}
}

func TestNullNeverMatches(t *testing.T) {
	ops := []string{"=", "!=", ">", ">=", "<", "<=", "contains", "regex"}
	for _, op := range ops {
		t.Run(op, func(t *testing.T) {
			missingField := `{"` + op + `":["missing.path","x"]}`
			assert.False(t, eval(t, missingField, map[string]any{"subject": "x"}))

			nullField := `{"` + op + `":["subject","x"]}`
			assert.False(t, eval(t, nullField, map[string]any{"subject": nil}))

			nullLiteral := `{"` + op + `":["subject",null]}`
			assert.False(t, eval(t, nullLiteral, map[string]any{"subject": "x"}))
		})
	}

	assert.False(t, eval(t, `{"in":["category",null]}`, map[string]any{"category": "promo"}))
	assert.False(t, eval(t, `{"in":["category",["promo"]]}`, map[string]any{}))
	assert.False(t, eval(t, `{"=":["a.b.c",1]}`, nil))
}

func TestComparisonOperators(t *testing.T) {
	features := map[string]any{
		"risk_score": 60,
		"sender":     map[string]any{"reputation": 0.35, "domain": "example.com"},
		"labels":     []any{"Work", "Important"},
		"flagged":    true,
	}

	tests := []struct {
		cond string
		want bool
	}{
		{`{">=":["risk_score",60]}`, true},
		{`{">":["risk_score",60]}`, false},
		{`{"<":["sender.reputation",0.5]}`, true},
		{`{"<=":["sender.reputation",0.35]}`, true},
		{`{"=":["sender.domain","example.com"]}`, true},
		{`{"!=":["sender.domain","example.com"]}`, false},
		{`{"=":["risk_score",60.0]}`, true},
		{`{"=":["flagged",true]}`, true},
		{`{">":["sender.domain",5]}`, false},
		{`{"contains":["sender.domain","EXAMPLE"]}`, true},
		{`{"contains":["labels","important"]}`, true},
		{`{"contains":["labels","spam"]}`, false},
		{`{"regex":["labels","^imp"]}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.cond, func(t *testing.T) {
			assert.Equal(t, tt.want, eval(t, tt.cond, features))
		})
	}
}

func TestBooleanTrees(t *testing.T) {
	features := map[string]any{"category": "promotions", "risk_score": 70, "subject": "Big sale today"}

	assert.True(t, eval(t, `{"all":[]}`, features))
	assert.False(t, eval(t, `{"any":[]}`, features))
	assert.True(t, eval(t, `{"all":[{"=":["category","promotions"]},{">=":["risk_score",60]}]}`, features))
	assert.False(t, eval(t, `{"all":[{"=":["category","promotions"]},{">=":["risk_score",80]}]}`, features))
	assert.True(t, eval(t, `{"any":[{"contains":["subject","sale"]},{"in":["sender_domain",["x.com","y.com"]]}]}`, features))
	assert.True(t, eval(t, `{"any":[{"all":[{"=":["category","social"]}]},{"all":[{"regex":["subject","sale"]}]}]}`, features))
}

func TestTokensFromFailedBranchesAreDropped(t *testing.T) {
	n := mustParse(t, `{"any":[{"all":[{"contains":["subject","sale"]},{"=":["category","social"]}]},{"regex":["subject","today"]}]}`)
	res := Evaluate(n, map[string]any{"subject": "Big sale today", "category": "promotions"}, fixedNow)

	require.True(t, res.Matched)
	assert.Equal(t, []string{"today"}, res.Tokens)
}

func TestNowPlaceholder(t *testing.T) {
	old := fixedNow.Add(-45 * 24 * time.Hour)
	recent := fixedNow.Add(-2 * time.Hour)

	cond := `{"<":["received_at","now-30d"]}`
	assert.True(t, eval(t, cond, map[string]any{"received_at": old.Format(time.RFC3339)}))
	assert.False(t, eval(t, cond, map[string]any{"received_at": recent.Format(time.RFC3339)}))
	assert.True(t, eval(t, cond, map[string]any{"received_at": float64(old.Unix())}))
	assert.False(t, eval(t, cond, map[string]any{"received_at": "not a date"}))

	assert.True(t, eval(t, `{">=":["received_at","now-1w"]}`, map[string]any{"received_at": recent}))
	assert.True(t, eval(t, `{"<=":["received_at","now"]}`, map[string]any{"received_at": recent.Format(time.RFC3339)}))
	assert.True(t, eval(t, `{">":["due_at","now+2h"]}`, map[string]any{"due_at": fixedNow.Add(3 * time.Hour).Format(time.RFC3339)}))
}

func TestNowIsLiteralForEquality(t *testing.T) {
	assert.True(t, eval(t, `{"=":["subject","now"]}`, map[string]any{"subject": "now"}))
	assert.False(t, eval(t, `{"!=":["subject","now-1d"]}`, map[string]any{"subject": "now-1d"}))
	assert.False(t, eval(t, `{"=":["received_at","now"]}`, map[string]any{"received_at": fixedNow.Format(time.RFC3339)}))
}

func TestEvaluationIsDeterministic(t *testing.T) {
	n := mustParse(t, `{"all":[{"<":["received_at","now-1d"]},{"regex":["subject","(sale|deal)"]}]}`)
	features := map[string]any{"received_at": "2026-03-01T00:00:00Z", "subject": "Deal of the day, sale!"}

	first := Evaluate(n, features, fixedNow)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Evaluate(n, features, fixedNow))
	}
}

func TestParseRejectsMalformedTrees(t *testing.T) {
	tests := []string{
		``,
		`[]`,
		`{}`,
		`{"all":{}}`,
		`{"=":["category"]}`,
		`{"=":[1,"x"]}`,
		`{"like":["subject","x"]}`,
		`{"regex":["subject","("]}`,
		`{"regex":["subject",5]}`,
		`{"in":["category","promo"]}`,
		`{"=":["a..b","x"]}`,
		`{"all":[{"=":["a","b"]},{"bogus":["a","b"]}]}`,
		`{"=":["a","b"],"!=":["a","c"]}`,
	}
	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			_, err := Parse(json.RawMessage(raw))
			require.Error(t, err)
			var verr *domain.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestParseValueAcceptsDecodedTrees(t *testing.T) {
	tree := map[string]any{
		"all": []any{
			map[string]any{"=": []any{"category", "promotions"}},
			map[string]any{"in": []any{"sender_domain", []any{"a.com"}}},
		},
	}
	n, err := ParseValue(tree)
	require.NoError(t, err)
	assert.True(t, Evaluate(n, map[string]any{"category": "promotions", "sender_domain": "a.com"}, fixedNow).Matched)
}

func TestCanonicalSortsKeys(t *testing.T) {
	a, err := Canonical(json.RawMessage(`{"all": [ {"=": ["category", "promotions"]} ]}`))
	require.NoError(t, err)
	assert.Equal(t, `{"all":[{"=":["category","promotions"]}]}`, string(a))

	_, err = Canonical(json.RawMessage(`{"nope":[]}`))
	assert.Error(t, err)
}
