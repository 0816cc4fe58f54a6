package sqldb

/*
Файл proposal_repo.go хранит предложенные действия и их жизненный цикл.
Переход статуса атомарен: UPDATE ... WHERE status = <ожидаемый>, поэтому
два конкурентных approve одного действия дают ровно одну запись.
*/

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/inboxpilot/internal/domain"
)

const proposalColumns = `id, item_id, user_id, action, params, confidence, rationale, policy_id,
	status, reviewed_by, reviewed_at, executed_at, error, created_at`

func scanProposal(row rowScanner) (*domain.ProposedAction, error) {
	var (
		a          domain.ProposedAction
		params     sql.NullString
		rationale  string
		policyID   sql.NullInt64
		reviewedBy sql.NullString
		reviewedAt sql.NullTime
		executedAt sql.NullTime
		errText    sql.NullString
	)
	err := row.Scan(&a.ID, &a.ItemID, &a.UserID, &a.Action, &params, &a.Confidence, &rationale,
		&policyID, &a.Status, &reviewedBy, &reviewedAt, &executedAt, &errText, &a.CreatedAt)
	if err != nil {
		return nil, err
	}

	if params.Valid && params.String != "" && params.String != "null" {
		if err := json.Unmarshal([]byte(params.String), &a.Params); err != nil {
			return nil, fmt.Errorf("action %d params: %w", a.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(rationale), &a.Rationale); err != nil {
		return nil, fmt.Errorf("action %d rationale: %w", a.ID, err)
	}

	// Маппим NULL значения в указатели
	if policyID.Valid {
		v := policyID.Int64
		a.PolicyID = &v
	}
	if reviewedBy.Valid {
		v := reviewedBy.String
		a.ReviewedBy = &v
	}
	if reviewedAt.Valid {
		v := reviewedAt.Time
		a.ReviewedAt = &v
	}
	if executedAt.Valid {
		v := executedAt.Time
		a.ExecutedAt = &v
	}
	if errText.Valid {
		v := errText.String
		a.Error = &v
	}
	return &a, nil
}

// CreateProposals сохраняет пачку предложений в одной транзакции и проставляет им ID.
// Для каждого предложения из политики увеличивается счетчик fired в policy_stats.
func (d *DB) CreateProposals(ctx context.Context, actions []*domain.ProposedAction) error {
	if len(actions) == 0 {
		return nil
	}

	insert := d.rebind(`
		INSERT INTO proposed_actions (item_id, user_id, action, params, confidence, rationale,
			policy_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)
	fired := d.rebind(`
		INSERT INTO policy_stats (policy_id, user_id, fired, window_days, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT (policy_id, user_id) DO UPDATE
		SET fired = policy_stats.fired + 1, updated_at = excluded.updated_at`)

	return d.inTx(ctx, func(tx *sql.Tx) error {
		for _, a := range actions {
			params, err := encodeParams(a.Params)
			if err != nil {
				return err
			}
			rationale, err := json.Marshal(a.Rationale)
			if err != nil {
				return fmt.Errorf("encode rationale: %w", err)
			}
			if a.Status == "" {
				a.Status = domain.StatusProposed
			}
			if a.CreatedAt.IsZero() {
				a.CreatedAt = time.Now()
			}
			a.CreatedAt = utc(a.CreatedAt)

			var policyID sql.NullInt64
			if a.PolicyID != nil {
				policyID = sql.NullInt64{Int64: *a.PolicyID, Valid: true}
			}

			err = tx.QueryRowContext(ctx, insert,
				a.ItemID, a.UserID, string(a.Action), params, a.Confidence, string(rationale),
				policyID, string(a.Status), a.CreatedAt,
			).Scan(&a.ID)
			if err != nil {
				return fmt.Errorf("sqldb: failed to create proposal for %s: %w", a.ItemID, err)
			}

			if policyID.Valid {
				if _, err := tx.ExecContext(ctx, fired, policyID.Int64, a.UserID, d.windowDays, a.CreatedAt); err != nil {
					return fmt.Errorf("sqldb: bump fired counter: %w", err)
				}
			}
		}
		return nil
	})
}

func (d *DB) GetProposal(ctx context.Context, id int64) (*domain.ProposedAction, error) {
	query := d.rebind(`SELECT ` + proposalColumns + ` FROM proposed_actions WHERE id = ?`)

	a, err := scanProposal(d.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Resource: "proposed action", ID: id}
		}
		return nil, fmt.Errorf("sqldb: get proposal: %w", err)
	}
	return a, nil
}

// ProposalFilter фильтр очереди ревью. Пустые поля не фильтруют.
type ProposalFilter struct {
	Status  domain.ActionStatus
	ItemID  string
	UserID  string
	AfterID int64
	Limit   int
}

// ListProposals выборка по возрастанию ID (порядок создания)
func (d *DB) ListProposals(ctx context.Context, f ProposalFilter) ([]*domain.ProposedAction, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.ItemID != "" {
		where = append(where, "item_id = ?")
		args = append(args, f.ItemID)
	}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.AfterID > 0 {
		where = append(where, "id > ?")
		args = append(args, f.AfterID)
	}

	query := `SELECT ` + proposalColumns + ` FROM proposed_actions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += " ORDER BY id LIMIT ?"
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("sqldb: failed to query proposals: %w", err)
	}
	defer rows.Close()

	// Пустой слайс, чтобы в JSON был [] вместо null
	results := make([]*domain.ProposedAction, 0)
	for rows.Next() {
		a, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("sqldb: failed to scan proposal: %w", err)
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

// Transition параметры перехода статуса
type Transition struct {
	From       domain.ActionStatus
	To         domain.ActionStatus
	ReviewedBy string
	At         time.Time
	Error      string
}

// TransitionStatus условный переход: строка обновляется, только если ее статус равен From.
// ok=false без ошибки означает, что действие уже не в статусе From (или его нет).
func (d *DB) TransitionStatus(ctx context.Context, id int64, t Transition) (*domain.ProposedAction, bool, error) {
	if err := domain.CheckTransition(t.From, t.To); err != nil {
		return nil, false, err
	}
	at := utc(t.At)
	if t.At.IsZero() {
		at = utc(time.Now())
	}

	var query string
	var args []any
	switch t.To {
	case domain.StatusApproved, domain.StatusRejected:
		query = `UPDATE proposed_actions SET status = ?, reviewed_by = ?, reviewed_at = ?
			WHERE id = ? AND status = ? RETURNING ` + proposalColumns
		args = []any{string(t.To), nullString(t.ReviewedBy), at, id, string(t.From)}
	default:
		query = `UPDATE proposed_actions SET status = ?, executed_at = ?, error = ?
			WHERE id = ? AND status = ? RETURNING ` + proposalColumns
		args = []any{string(t.To), at, nullString(t.Error), id, string(t.From)}
	}

	a, err := scanProposal(d.db.QueryRowContext(ctx, d.rebind(query), args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("sqldb: transition %d %s->%s: %w", id, t.From, t.To, err)
	}
	return a, true, nil
}

// CountByStatus счетчики для дашборда очереди ревью
func (d *DB) CountByStatus(ctx context.Context) (map[domain.ActionStatus]int64, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM proposed_actions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("sqldb: count proposals: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.ActionStatus]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[domain.ActionStatus(status)] = n
	}
	return out, rows.Err()
}

// CountPolicies всего включенных и сколько из них выученных
func (d *DB) CountPolicies(ctx context.Context) (enabled, learned int64, err error) {
	query := d.rebind(`
		SELECT
			COALESCE(SUM(CASE WHEN enabled = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN enabled = ? AND origin = ? THEN 1 ELSE 0 END), 0)
		FROM policies`)
	err = d.db.QueryRowContext(ctx, query, true, true, string(domain.OriginLearned)).Scan(&enabled, &learned)
	if err != nil {
		return 0, 0, fmt.Errorf("sqldb: count policies: %w", err)
	}
	return enabled, learned, nil
}

// ListProposalsAfter страница для replay аудита
func (d *DB) ListProposalsAfter(ctx context.Context, afterID int64, limit int) ([]*domain.ProposedAction, error) {
	return d.ListProposals(ctx, ProposalFilter{AfterID: afterID, Limit: limit})
}
