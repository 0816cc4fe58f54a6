package condition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xela07ax/inboxpilot/internal/domain"
)

const maxDepth = 32

// Parse разбирает JSON-дерево условий. Ошибки формата возвращаются как *domain.ValidationError.
func Parse(raw json.RawMessage) (Node, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, invalid("", "condition is empty")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, invalid("", "condition is not valid JSON: "+err.Error())
	}
	return ParseValue(v)
}

// ParseValue разбирает уже декодированное дерево (JSON или YAML)
func ParseValue(v any) (Node, error) {
	return parseNode(v, "$", 0)
}

// Canonical возвращает каноническую JSON-форму дерева (ключи отсортированы).
// Используется для отпечатков синтезированных политик.
func Canonical(raw json.RawMessage) ([]byte, error) {
	if _, err := Parse(raw); err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func parseNode(v any, at string, depth int) (Node, error) {
	if depth > maxDepth {
		return nil, invalid(at, "condition tree is too deep")
	}

	m, ok := v.(map[string]any)
	if !ok {
		return nil, invalid(at, fmt.Sprintf("node must be an object, got %T", v))
	}
	if len(m) != 1 {
		return nil, invalid(at, fmt.Sprintf("node must have exactly one key, got %d", len(m)))
	}

	for key, body := range m {
		switch key {
		case "all", "any":
			children, err := parseChildren(body, at+"."+key, depth)
			if err != nil {
				return nil, err
			}
			if key == "all" {
				return &All{Children: children}, nil
			}
			return &Any{Children: children}, nil
		default:
			return parseClause(Operator(key), body, at)
		}
	}
	return nil, invalid(at, "unreachable")
}

func parseChildren(body any, at string, depth int) ([]Node, error) {
	list, ok := body.([]any)
	if !ok {
		return nil, invalid(at, "expects a list of nodes")
	}
	children := make([]Node, 0, len(list))
	for i, item := range list {
		child, err := parseNode(item, fmt.Sprintf("%s[%d]", at, i), depth+1)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

func parseClause(op Operator, body any, at string) (*Clause, error) {
	if !op.valid() {
		return nil, invalid(at, fmt.Sprintf("unknown operator %q", op))
	}
	args, ok := body.([]any)
	if !ok || len(args) != 2 {
		return nil, invalid(at, fmt.Sprintf("operator %q expects [field, value]", op))
	}
	field, ok := args[0].(string)
	if !ok || strings.TrimSpace(field) == "" {
		return nil, invalid(at, fmt.Sprintf("operator %q expects a field path string", op))
	}
	path := strings.Split(field, ".")
	for _, part := range path {
		if part == "" {
			return nil, invalid(at, fmt.Sprintf("malformed field path %q", field))
		}
	}

	c := &Clause{Op: op, Field: field, Path: path, Literal: args[1]}

	switch op {
	case OpRegex:
		pattern, ok := c.Literal.(string)
		if c.Literal != nil && !ok {
			return nil, invalid(at, "regex expects a string pattern")
		}
		if ok {
			// поиск без учета регистра, не полное совпадение
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				return nil, invalid(at, fmt.Sprintf("invalid regex %q: %v", pattern, err))
			}
			c.re = re
		}
	case OpIn:
		if c.Literal != nil {
			if _, ok := c.Literal.([]any); !ok {
				return nil, invalid(at, "in expects a list on the right")
			}
		}
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
		// "now..." - момент времени только для сравнений порядка; "=" сравнивает текст как есть
		if s, ok := c.Literal.(string); ok && isPlaceholder(s) {
			ref, err := parseTimeRef(s)
			if err != nil {
				return nil, invalid(at, err.Error())
			}
			c.now = ref
		}
	}
	return c, nil
}

func invalid(at, reason string) error {
	return &domain.ValidationError{Field: "condition" + strings.TrimPrefix(at, "$"), Reason: reason}
}
