package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/inboxpilot/internal/domain"
)

// ProposalSource основное хранилище, постранично по возрастанию ID
type ProposalSource interface {
	ListProposalsAfter(ctx context.Context, afterID int64, limit int) ([]*domain.ProposedAction, error)
}

// Reconciler заново выводит аудит-индекс из основного хранилища.
// Запускается вне запроса: по cron, из CLI или через /v1/audit/replay.
type Reconciler struct {
	source   ProposalSource
	index    Index
	pageSize int
	attempts uint
	logger   *zap.Logger
}

func NewReconciler(source ProposalSource, index Index, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		source:   source,
		index:    index,
		pageSize: 200,
		attempts: 3,
		logger:   logger.Named("reconciler"),
	}
}

// Replay проходит все предложения и переиндексирует их историю.
// ID записей детерминированы, поэтому повторный прогон ничего не дублирует.
func (r *Reconciler) Replay(ctx context.Context) (int, error) {
	var (
		afterID int64
		indexed int
	)
	start := time.Now()

	for {
		page, err := r.source.ListProposalsAfter(ctx, afterID, r.pageSize)
		if err != nil {
			return indexed, fmt.Errorf("reconciler: read proposals after %d: %w", afterID, err)
		}
		if len(page) == 0 {
			break
		}

		var entries []domain.AuditEntry
		for _, a := range page {
			entries = append(entries, EntriesFor(a)...)
		}

		if err := r.indexWithRetry(ctx, entries); err != nil {
			return indexed, fmt.Errorf("reconciler: index page after %d: %w", afterID, err)
		}
		indexed += len(entries)
		afterID = page[len(page)-1].ID

		if len(page) < r.pageSize {
			break
		}
	}

	r.logger.Info("audit index replayed",
		zap.Int("entries", indexed),
		zap.Duration("took", time.Since(start)))
	return indexed, nil
}

func (r *Reconciler) indexWithRetry(ctx context.Context, entries []domain.AuditEntry) error {
	rt := retry.New(
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			r.logger.Warn("audit index write failed, retrying", zap.Uint("attempt", n), zap.Error(err))
			return retry.BackOffDelay(n, err, config)
		}),
	)
	return rt.Do(func() error {
		return r.index.IndexBatch(ctx, entries)
	})
}
