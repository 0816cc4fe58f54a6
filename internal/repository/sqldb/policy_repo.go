package sqldb

/*
Файл policy_repo.go отвечает за долговременное хранение политик.
Матчер держит скомпилированную копию в памяти и перечитывает ее через ListEnabledPolicies.
*/

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/inboxpilot/internal/domain"
)

const policyColumns = `id, name, enabled, priority, action, params, confidence_threshold,
	condition_tree, origin, fingerprint, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (*domain.Policy, error) {
	var (
		p           domain.Policy
		params      sql.NullString
		cond        string
		fingerprint sql.NullString
	)
	err := row.Scan(&p.ID, &p.Name, &p.Enabled, &p.Priority, &p.Action, &params,
		&p.ConfidenceThreshold, &cond, &p.Origin, &fingerprint, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if params.Valid && params.String != "" && params.String != "null" {
		if err := json.Unmarshal([]byte(params.String), &p.Params); err != nil {
			return nil, fmt.Errorf("policy %d params: %w", p.ID, err)
		}
	}
	p.Condition = json.RawMessage(cond)
	p.Fingerprint = fingerprint.String
	return &p, nil
}

func encodeParams(params map[string]any) (string, error) {
	if len(params) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}
	return string(b), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// GetPolicyByID возвращает *domain.NotFoundError, если политики нет
func (d *DB) GetPolicyByID(ctx context.Context, id int64) (*domain.Policy, error) {
	query := d.rebind(`SELECT ` + policyColumns + ` FROM policies WHERE id = ?`)

	p, err := scanPolicy(d.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Resource: "policy", ID: id}
		}
		return nil, fmt.Errorf("sqldb: get policy: %w", err)
	}
	return p, nil
}

// ListPolicies все политики в порядке вычисления (priority, id)
func (d *DB) ListPolicies(ctx context.Context) ([]domain.Policy, error) {
	return d.queryPolicies(ctx, `SELECT `+policyColumns+` FROM policies ORDER BY priority, id`)
}

// ListEnabledPolicies "холодная загрузка" активного набора для матчера
func (d *DB) ListEnabledPolicies(ctx context.Context) ([]domain.Policy, error) {
	return d.queryPolicies(ctx, `SELECT `+policyColumns+` FROM policies WHERE enabled = ? ORDER BY priority, id`, true)
}

func (d *DB) queryPolicies(ctx context.Context, query string, args ...any) ([]domain.Policy, error) {
	rows, err := d.db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("sqldb: query policies: %w", err)
	}
	defer rows.Close()

	results := make([]domain.Policy, 0)
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("sqldb: scan policy: %w", err)
		}
		results = append(results, *p)
	}
	return results, rows.Err()
}

// CreatePolicy сохраняет политику и проставляет ID и метки времени
func (d *DB) CreatePolicy(ctx context.Context, p *domain.Policy) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		return d.insertPolicy(ctx, tx, p)
	})
}

func (d *DB) insertPolicy(ctx context.Context, tx *sql.Tx, p *domain.Policy) error {
	params, err := encodeParams(p.Params)
	if err != nil {
		return err
	}
	now := utc(time.Now())
	if p.Origin == "" {
		p.Origin = domain.OriginManual
	}

	query := d.rebind(`
		INSERT INTO policies (name, enabled, priority, action, params, confidence_threshold,
			condition_tree, origin, fingerprint, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	err = tx.QueryRowContext(ctx, query,
		p.Name, p.Enabled, p.Priority, string(p.Action), params, p.ConfidenceThreshold,
		string(p.Condition), string(p.Origin), nullString(p.Fingerprint), now, now,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("sqldb: failed to create policy: %w", err)
	}
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

// CreateOrGetByFingerprint вставляет выученную политику или возвращает уже существующую
// с тем же отпечатком (повторное "always do this"). Существующая включается обратно.
// created=false означает слияние с найденной политикой.
func (d *DB) CreateOrGetByFingerprint(ctx context.Context, p *domain.Policy) (id int64, created bool, err error) {
	if p.Fingerprint == "" {
		return 0, false, &domain.ValidationError{Field: "fingerprint", Reason: "is required"}
	}

	for attempt := 0; attempt < 2; attempt++ {
		err = d.inTx(ctx, func(tx *sql.Tx) error {
			var enabled bool
			row := tx.QueryRowContext(ctx, d.rebind(`SELECT id, enabled FROM policies WHERE fingerprint = ?`), p.Fingerprint)
			switch scanErr := row.Scan(&id, &enabled); {
			case scanErr == nil:
				created = false
				if !enabled {
					_, err := tx.ExecContext(ctx, d.rebind(`UPDATE policies SET enabled = ?, updated_at = ? WHERE id = ?`),
						true, utc(time.Now()), id)
					if err != nil {
						return fmt.Errorf("sqldb: re-enable policy: %w", err)
					}
				}
				return nil
			case errors.Is(scanErr, sql.ErrNoRows):
			default:
				return fmt.Errorf("sqldb: lookup fingerprint: %w", scanErr)
			}

			if err := d.insertPolicy(ctx, tx, p); err != nil {
				return err
			}
			id, created = p.ID, true
			return nil
		})
		// Гонка двух одинаковых запросов: уникальный индекс отбил вторую вставку, перечитываем
		if err != nil && isUniqueViolation(err) {
			continue
		}
		return id, created, err
	}
	return 0, false, err
}

// UpdatePolicy перезаписывает изменяемые поля политики
func (d *DB) UpdatePolicy(ctx context.Context, p *domain.Policy) error {
	params, err := encodeParams(p.Params)
	if err != nil {
		return err
	}
	now := utc(time.Now())

	query := d.rebind(`
		UPDATE policies
		SET name = ?, enabled = ?, priority = ?, action = ?, params = ?,
			confidence_threshold = ?, condition_tree = ?, updated_at = ?
		WHERE id = ?`)

	res, err := d.db.ExecContext(ctx, query,
		p.Name, p.Enabled, p.Priority, string(p.Action), params,
		p.ConfidenceThreshold, string(p.Condition), now, p.ID)
	if err != nil {
		return fmt.Errorf("sqldb: failed to update policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Resource: "policy", ID: p.ID}
	}
	p.UpdatedAt = now
	return nil
}

// DeletePolicy удаляет политику. Предложения сохраняют историю, policy_id у них обнуляется.
func (d *DB) DeletePolicy(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx, d.rebind(`DELETE FROM policies WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("sqldb: failed to delete policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Resource: "policy", ID: id}
	}
	return nil
}
