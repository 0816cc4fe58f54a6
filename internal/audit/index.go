package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/inboxpilot/internal/domain"
	"github.com/xela07ax/inboxpilot/internal/infra"
)

// Index вторичный (eventually consistent) индекс аудита.
// Повторная запись записи с тем же ID перезаписывает ее, поэтому replay безопасен.
type Index interface {
	IndexBatch(ctx context.Context, entries []domain.AuditEntry) error
	ByItem(ctx context.Context, itemID string, limit int64) ([]domain.AuditEntry, error)
}

// RedisIndex HASH с телами записей + ZSET по письму и общая лента по времени
type RedisIndex struct {
	rdb *redis.Client
}

func NewRedisIndex(rdb *redis.Client) *RedisIndex {
	return &RedisIndex{rdb: rdb}
}

func (r *RedisIndex) IndexBatch(ctx context.Context, entries []domain.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	_, err := r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range entries {
			body, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encode audit entry %s: %w", e.ID, err)
			}
			score := float64(e.CreatedAt.UnixMilli())
			pipe.HSet(ctx, infra.RedisKeyAuditEntries, e.ID, body)
			pipe.ZAdd(ctx, infra.AuditItemKey(e.ItemID), redis.Z{Score: score, Member: e.ID})
			pipe.ZAdd(ctx, infra.RedisKeyAuditTimeline, redis.Z{Score: score, Member: e.ID})
		}
		return nil
	})
	if err != nil {
		return &domain.AuditWriteError{Count: len(entries), Err: err}
	}
	return nil
}

// ByItem записи письма в хронологическом порядке
func (r *RedisIndex) ByItem(ctx context.Context, itemID string, limit int64) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := r.rdb.ZRange(ctx, infra.AuditItemKey(itemID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("audit: read item index: %w", err)
	}

	out := make([]domain.AuditEntry, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	bodies, err := r.rdb.HMGet(ctx, infra.RedisKeyAuditEntries, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("audit: read entries: %w", err)
	}
	for _, b := range bodies {
		s, ok := b.(string)
		if !ok {
			continue // запись пропала из HASH, индекс догонит при replay
		}
		var e domain.AuditEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, fmt.Errorf("audit: decode entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}
