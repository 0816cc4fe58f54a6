package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/inboxpilot/internal/condition"
	"github.com/xela07ax/inboxpilot/internal/domain"
	"github.com/xela07ax/inboxpilot/internal/learning"
)

type PolicyRepository interface {
	ListEnabledPolicies(ctx context.Context) ([]domain.Policy, error)
}

// Compiled политика с разобранным деревом условий и готовым ключом сортировки
type Compiled struct {
	Policy domain.Policy
	Cond   condition.Node
	key    uint64
}

// Compile разбирает условие политики. Битое дерево - *domain.ValidationError на этапе загрузки,
// а не ошибка при каждом матчинге.
func Compile(p domain.Policy) (Compiled, error) {
	node, err := condition.Parse(p.Condition)
	if err != nil {
		return Compiled{}, fmt.Errorf("policy %d (%s): %w", p.ID, p.Name, err)
	}
	return Compiled{Policy: p, Cond: node, key: p.SortKey()}, nil
}

// Match победившая политика для одного письма
type Match struct {
	Policy     domain.Policy
	Confidence float64
	Tokens     []string
}

// Matcher In-memory кэш скомпилированных политик, отсортированных по (priority, id).
// Синхронизируется с БД через Refresh(), в рантайме матчинг работает только с памятью.
type Matcher struct {
	mu       sync.RWMutex
	policies []Compiled

	repo   PolicyRepository // Используется только для Refresh()
	scorer Scorer
	logger *zap.Logger
}

func NewMatcher(repo PolicyRepository, scorer Scorer, logger *zap.Logger) *Matcher {
	return &Matcher{
		repo:   repo,
		scorer: scorer,
		logger: logger.Named("matcher"),
	}
}

// Refresh "холодная загрузка" включенных политик из хранилища.
// Битые политики пропускаются и логируются, валидные продолжают работать.
func (m *Matcher) Refresh(ctx context.Context) error {
	policies, err := m.repo.ListEnabledPolicies(ctx)
	if err != nil {
		return fmt.Errorf("matcher: load policies: %w", err)
	}
	if err := m.Load(policies); err != nil {
		m.logger.Error("some policies were skipped", zap.Error(err))
	}
	return nil
}

// Load компилирует и атомарно подменяет набор политик.
// Возвращает объединенную ошибку по пропущенным политикам.
func (m *Matcher) Load(policies []domain.Policy) error {
	compiled := make([]Compiled, 0, len(policies))
	var errs []error
	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		c, err := Compile(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		compiled = append(compiled, c)
	}

	sort.Slice(compiled, func(i, j int) bool { return compiled[i].key < compiled[j].key })

	m.mu.Lock()
	m.policies = compiled
	m.mu.Unlock()

	m.logger.Info("policy cache refreshed", zap.Int("count", len(compiled)), zap.Int("skipped", len(errs)))
	return errors.Join(errs...)
}

// Match возвращает первую политику (по возрастанию приоритета), условие которой истинно
// и уверенность проходит ее порог. Политика ниже порога отфильтровывается целиком.
// Нет совпадения - нет предложения, это не ошибка. sender_domain выводится из sender,
// если письмо пришло без него.
func (m *Matcher) Match(features map[string]any, weights map[string]float64, now time.Time) (*Match, bool) {
	m.mu.RLock()
	policies := m.policies
	m.mu.RUnlock()

	features = learning.WithDerived(features)
	confidence := m.scorer.Confidence(features, weights)

	for i := range policies {
		c := &policies[i]
		res := condition.Evaluate(c.Cond, features, now)
		if !res.Matched {
			continue
		}
		if confidence < c.Policy.ConfidenceThreshold {
			continue
		}
		return &Match{Policy: c.Policy, Confidence: confidence, Tokens: res.Tokens}, true
	}
	return nil, false
}

// Policies снимок текущего набора в порядке вычисления
func (m *Matcher) Policies() []domain.Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Policy, len(m.policies))
	for i, c := range m.policies {
		out[i] = c.Policy
	}
	return out
}
