// Package condition компилирует и вычисляет деревья условий политик.
//
// Формат (JSON):
//
//	{"all": [ {"=": ["category","promotions"]}, {">=": ["risk_score", 60]} ]}
//	{"any": [ {"contains": ["subject","sale"]}, {"in": ["sender_domain", ["x.com","y.com"]]} ]}
//	{"regex": ["subject", "verif|confirm"]}
//
// Литерал "now", "now-7d", "now+2h" у операторов >, >=, <, <= означает момент вычисления
// со смещением, а поле приводится ко времени. У "=" и "!=" такой литерал остается строкой.
//
// Дерево разбирается один раз (Parse) в типизированный AST, дальше вычисляется без повторного парсинга.
package condition

import (
	"regexp"
	"time"
)

// Operator оператор сравнения в клаузе
type Operator string

const (
	OpEqual        Operator = "="
	OpNotEqual     Operator = "!="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpContains     Operator = "contains"
	OpIn           Operator = "in"
	OpRegex        Operator = "regex"
)

func (o Operator) valid() bool {
	switch o {
	case OpEqual, OpNotEqual, OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpContains, OpIn, OpRegex:
		return true
	}
	return false
}

// Node узел AST: *Clause, *All или *Any
type Node interface {
	eval(env *env) bool
	node()
}

// Clause {op: [field_path, literal]}
type Clause struct {
	Op      Operator
	Field   string
	Path    []string
	Literal any

	re  *regexp.Regexp // скомпилирован при разборе для OpRegex
	now *timeRef       // литерал-плейсхолдер "now[+-]N<unit>"
}

// All логическое И. Пустой All = true.
type All struct {
	Children []Node
}

// Any логическое ИЛИ. Пустой Any = false.
type Any struct {
	Children []Node
}

func (*Clause) node() {}
func (*All) node()    {}
func (*Any) node()    {}

func (a *All) eval(e *env) bool {
	mark := len(e.tokens)
	for _, c := range a.Children {
		if !c.eval(e) {
			// токены несработавшей ветки в объяснение не попадают
			e.tokens = e.tokens[:mark]
			return false
		}
	}
	return true
}

func (a *Any) eval(e *env) bool {
	for _, c := range a.Children {
		mark := len(e.tokens)
		if c.eval(e) {
			return true
		}
		e.tokens = e.tokens[:mark]
	}
	return false
}

// env контекст одного вычисления
type env struct {
	features map[string]any
	now      time.Time
	tokens   []string
}

// Result итог вычисления дерева
type Result struct {
	Matched bool
	Tokens  []string // подстроки, совпавшие в contains/regex
}

// Evaluate вычисляет дерево на признаках письма. Детерминирован при фиксированном now.
func Evaluate(n Node, features map[string]any, now time.Time) Result {
	if n == nil {
		return Result{}
	}
	e := &env{features: features, now: now}
	ok := n.eval(e)
	if !ok {
		return Result{Matched: false}
	}
	return Result{Matched: true, Tokens: dedupe(e.tokens)}
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
