package condition

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// eval вычисляет клаузу. Null в поле или в литерале всегда дает false, паники исключены.
func (c *Clause) eval(e *env) bool {
	actual := lookup(e.features, c.Path, c.Field)
	if actual == nil || c.Literal == nil {
		return false
	}

	if c.now != nil {
		return compareTimes(c.Op, actual, c.now.resolve(e.now))
	}

	switch c.Op {
	case OpEqual:
		return valuesEqual(actual, c.Literal)
	case OpNotEqual:
		return !valuesEqual(actual, c.Literal)
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
		cmp, ok := compare(actual, c.Literal)
		if !ok {
			return false
		}
		return holds(c.Op, cmp)
	case OpContains:
		return c.evalContains(e, actual)
	case OpIn:
		return evalIn(actual, c.Literal)
	case OpRegex:
		return c.evalRegex(e, actual)
	}
	return false
}

func holds(op Operator, cmp int) bool {
	switch op {
	case OpEqual:
		return cmp == 0
	case OpNotEqual:
		return cmp != 0
	case OpGreater:
		return cmp > 0
	case OpGreaterEqual:
		return cmp >= 0
	case OpLess:
		return cmp < 0
	case OpLessEqual:
		return cmp <= 0
	}
	return false
}

func compareTimes(op Operator, actual any, at time.Time) bool {
	t, ok := toTime(actual)
	if !ok {
		return false
	}
	return holds(op, t.Compare(at))
}

// evalContains: строка - подстрока без учета регистра; список - содержит элемент
func (c *Clause) evalContains(e *env, actual any) bool {
	needle, ok := scalarString(c.Literal)
	if !ok {
		return false
	}

	if s, ok := actual.(string); ok {
		if strings.Contains(strings.ToLower(s), strings.ToLower(needle)) {
			e.tokens = append(e.tokens, needle)
			return true
		}
		return false
	}

	list, ok := asList(actual)
	if !ok {
		return false
	}
	for _, item := range list {
		if s, ok := item.(string); ok && strings.EqualFold(s, needle) {
			e.tokens = append(e.tokens, s)
			return true
		}
		if valuesEqual(item, c.Literal) {
			e.tokens = append(e.tokens, needle)
			return true
		}
	}
	return false
}

func (c *Clause) evalRegex(e *env, actual any) bool {
	if c.re == nil {
		return false
	}
	if s, ok := actual.(string); ok {
		if loc := c.re.FindStringIndex(s); loc != nil {
			e.tokens = append(e.tokens, s[loc[0]:loc[1]])
			return true
		}
		return false
	}
	list, ok := asList(actual)
	if !ok {
		return false
	}
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if loc := c.re.FindStringIndex(s); loc != nil {
			e.tokens = append(e.tokens, s[loc[0]:loc[1]])
			return true
		}
	}
	return false
}

// evalIn: список слева - непустое пересечение; скаляр слева - принадлежность
func evalIn(actual, literal any) bool {
	right, ok := asList(literal)
	if !ok {
		return false
	}
	if left, ok := asList(actual); ok {
		for _, l := range left {
			if l == nil {
				continue
			}
			if member(l, right) {
				return true
			}
		}
		return false
	}
	return member(actual, right)
}

func member(v any, list []any) bool {
	for _, item := range list {
		if item == nil {
			continue
		}
		if valuesEqual(v, item) {
			return true
		}
	}
	return false
}

// valuesEqual сравнивает с приведением чисел (int против float64)
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return reflect.DeepEqual(a, b)
}

// compare возвращает -1/0/1 и false, если значения несравнимы
func compare(a, b any) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		// ISO-даты сравниваем как время, остальное лексикографически
		if at, ok := toTime(as); ok {
			if bt, ok := toTime(bs); ok {
				return at.Compare(bt), true
			}
		}
		return strings.Compare(as, bs), true
	}

	if at, ok := a.(time.Time); ok {
		if bt, ok := toTime(b); ok {
			return at.Compare(bt), true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func scalarString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case bool:
		return fmt.Sprint(s), true
	}
	if f, ok := toFloat(v); ok {
		return fmt.Sprint(f), true
	}
	return "", false
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
