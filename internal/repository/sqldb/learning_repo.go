package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/xela07ax/inboxpilot/internal/domain"
)

// AddWeights прибавляет дельты к весам признаков пользователя. Отсутствующий вес считается нулем.
func (d *DB) AddWeights(ctx context.Context, userID string, deltas map[string]float64, at time.Time) error {
	if len(deltas) == 0 {
		return nil
	}
	query := d.rebind(`
		INSERT INTO user_weights (user_id, feature, weight, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, feature) DO UPDATE
		SET weight = user_weights.weight + excluded.weight, updated_at = excluded.updated_at`)

	// Стабильный порядок ключей: одинаковый порядок блокировок строк в Postgres
	features := make([]string, 0, len(deltas))
	for f := range deltas {
		features = append(features, f)
	}
	sort.Strings(features)

	return d.inTx(ctx, func(tx *sql.Tx) error {
		for _, f := range features {
			if _, err := tx.ExecContext(ctx, query, userID, f, deltas[f], utc(at)); err != nil {
				return fmt.Errorf("sqldb: upsert weight %s: %w", f, err)
			}
		}
		return nil
	})
}

// GetWeights веса пользователя в виде feature -> weight
func (d *DB) GetWeights(ctx context.Context, userID string) (map[string]float64, error) {
	rows, err := d.db.QueryContext(ctx, d.rebind(`SELECT feature, weight FROM user_weights WHERE user_id = ?`), userID)
	if err != nil {
		return nil, fmt.Errorf("sqldb: query weights: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var (
			f string
			w float64
		)
		if err := rows.Scan(&f, &w); err != nil {
			return nil, err
		}
		out[f] = w
	}
	return out, rows.Err()
}

// ListWeights подробный список для консоли
func (d *DB) ListWeights(ctx context.Context, userID string) ([]domain.UserWeight, error) {
	rows, err := d.db.QueryContext(ctx,
		d.rebind(`SELECT user_id, feature, weight, updated_at FROM user_weights WHERE user_id = ? ORDER BY feature`), userID)
	if err != nil {
		return nil, fmt.Errorf("sqldb: query weights: %w", err)
	}
	defer rows.Close()

	out := make([]domain.UserWeight, 0)
	for rows.Next() {
		var w domain.UserWeight
		if err := rows.Scan(&w.UserID, &w.Feature, &w.Weight, &w.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// RecordReview учитывает одно решение ревьюера и пересчитывает точность политики
func (d *DB) RecordReview(ctx context.Context, policyID int64, userID string, approved bool, windowDays int, at time.Time) error {
	var a, r int64
	if approved {
		a = 1
	} else {
		r = 1
	}

	upsert := d.rebind(`
		INSERT INTO policy_stats (policy_id, user_id, approved, rejected, window_days, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (policy_id, user_id) DO UPDATE
		SET approved = policy_stats.approved + excluded.approved,
			rejected = policy_stats.rejected + excluded.rejected,
			window_days = excluded.window_days,
			updated_at = excluded.updated_at
		RETURNING approved, rejected`)
	setPrecision := d.rebind(`UPDATE policy_stats SET precision_value = ? WHERE policy_id = ? AND user_id = ?`)

	return d.inTx(ctx, func(tx *sql.Tx) error {
		var approvedTotal, rejectedTotal int64
		err := tx.QueryRowContext(ctx, upsert, policyID, userID, a, r, windowDays, utc(at)).
			Scan(&approvedTotal, &rejectedTotal)
		if err != nil {
			return fmt.Errorf("sqldb: record review: %w", err)
		}
		_, err = tx.ExecContext(ctx, setPrecision, domain.Precision(approvedTotal, rejectedTotal), policyID, userID)
		if err != nil {
			return fmt.Errorf("sqldb: update precision: %w", err)
		}
		return nil
	})
}

// RecomputeStats пересчитывает статистику всех пар (политика, пользователь) по окну [since, now].
// Пары без активности в окне обнуляются. Возвращает число пар с активностью.
func (d *DB) RecomputeStats(ctx context.Context, since time.Time, windowDays int, at time.Time) (int, error) {
	since, at = utc(since), utc(at)

	aggregate := d.rebind(`
		SELECT policy_id, user_id,
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status IN ('approved', 'executed', 'failed') AND reviewed_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'rejected' AND reviewed_at >= ? THEN 1 ELSE 0 END), 0)
		FROM proposed_actions
		WHERE policy_id IS NOT NULL AND (created_at >= ? OR reviewed_at >= ?)
		GROUP BY policy_id, user_id`)
	reset := d.rebind(`
		UPDATE policy_stats
		SET fired = 0, approved = 0, rejected = 0, precision_value = 0, window_days = ?, updated_at = ?`)
	upsert := d.rebind(`
		INSERT INTO policy_stats (policy_id, user_id, fired, approved, rejected, precision_value, window_days, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (policy_id, user_id) DO UPDATE
		SET fired = excluded.fired, approved = excluded.approved, rejected = excluded.rejected,
			precision_value = excluded.precision_value, window_days = excluded.window_days,
			updated_at = excluded.updated_at`)

	var stats []domain.PolicyStats
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, aggregate, since, since, since, since, since)
		if err != nil {
			return fmt.Errorf("sqldb: aggregate stats: %w", err)
		}
		// Дочитываем выборку до конца до первой записи в той же транзакции
		for rows.Next() {
			var s domain.PolicyStats
			if err := rows.Scan(&s.PolicyID, &s.UserID, &s.Fired, &s.Approved, &s.Rejected); err != nil {
				rows.Close()
				return err
			}
			stats = append(stats, s)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, reset, windowDays, at); err != nil {
			return fmt.Errorf("sqldb: reset stats: %w", err)
		}
		for _, s := range stats {
			_, err := tx.ExecContext(ctx, upsert, s.PolicyID, s.UserID, s.Fired, s.Approved, s.Rejected,
				domain.Precision(s.Approved, s.Rejected), windowDays, at)
			if err != nil {
				return fmt.Errorf("sqldb: store stats for policy %d: %w", s.PolicyID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(stats), nil
}

// ListStats статистика политики по всем пользователям. policyID = 0 - по всем политикам.
func (d *DB) ListStats(ctx context.Context, policyID int64) ([]domain.PolicyStats, error) {
	query := `SELECT policy_id, user_id, fired, approved, rejected, precision_value, window_days, updated_at
		FROM policy_stats`
	var args []any
	if policyID > 0 {
		query += ` WHERE policy_id = ?`
		args = append(args, policyID)
	}
	query += ` ORDER BY policy_id, user_id`

	rows, err := d.db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("sqldb: query stats: %w", err)
	}
	defer rows.Close()

	out := make([]domain.PolicyStats, 0)
	for rows.Next() {
		var s domain.PolicyStats
		if err := rows.Scan(&s.PolicyID, &s.UserID, &s.Fired, &s.Approved, &s.Rejected,
			&s.Precision, &s.WindowDays, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
