package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/inboxpilot/internal/domain"
	"github.com/xela07ax/inboxpilot/internal/engine"
)

type memIndex struct {
	mu      sync.Mutex
	entries map[string]domain.AuditEntry
	calls   int
	failN   int // сколько первых вызовов завершить ошибкой
}

func newMemIndex() *memIndex {
	return &memIndex{entries: map[string]domain.AuditEntry{}}
}

func (m *memIndex) IndexBatch(_ context.Context, entries []domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failN {
		return errors.New("redis unavailable")
	}
	for _, e := range entries {
		m.entries[e.ID] = e
	}
	return nil
}

func (m *memIndex) ByItem(_ context.Context, itemID string, _ int64) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range m.entries {
		if e.ItemID == itemID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memIndex) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func action(id int64, status domain.ActionStatus) *domain.ProposedAction {
	created := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	reviewed := created.Add(time.Hour)
	executed := reviewed.Add(time.Minute)
	who := "alice"
	a := &domain.ProposedAction{
		ID:         id,
		ItemID:     "m1",
		UserID:     "u1",
		Action:     domain.ActionArchive,
		Confidence: 0.9,
		Status:     status,
		CreatedAt:  created,
	}
	if status != domain.StatusProposed {
		a.ReviewedAt, a.ReviewedBy = &reviewed, &who
	}
	if status == domain.StatusExecuted || status == domain.StatusFailed {
		a.ExecutedAt = &executed
	}
	if status == domain.StatusFailed {
		msg := "mailbox down"
		a.Error = &msg
	}
	return a
}

func TestEntriesForDerivesHistory(t *testing.T) {
	entries := EntriesFor(action(5, domain.StatusFailed))
	require.Len(t, entries, 3)

	assert.Equal(t, "5:proposed", entries[0].ID)
	assert.Equal(t, domain.ActorAgent, entries[0].Actor)

	assert.Equal(t, "5:approved", entries[1].ID)
	assert.Equal(t, domain.ActorUser, entries[1].Actor)
	assert.Equal(t, "alice", entries[1].Payload["reviewed_by"])

	assert.Equal(t, "5:failed", entries[2].ID)
	assert.Equal(t, domain.ActorSystem, entries[2].Actor)
	assert.Equal(t, "mailbox down", entries[2].Payload["error"])
	assert.True(t, entries[2].CreatedAt.After(entries[1].CreatedAt))

	assert.Len(t, EntriesFor(action(6, domain.StatusProposed)), 1)
	assert.Len(t, EntriesFor(action(7, domain.StatusRejected)), 2)
}

func TestDirectEntry(t *testing.T) {
	ok := DirectEntry("m1", domain.ActionLabel, map[string]any{"label": "x"}, nil, time.Now())
	assert.Equal(t, domain.StatusExecuted, ok.Status)
	assert.NotEmpty(t, ok.ID)

	failed := DirectEntry("m1", domain.ActionUnsubscribe, nil, domain.ErrNoUnsubscribeTargets, time.Now())
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Equal(t, domain.ErrNoUnsubscribeTargets.Error(), failed.Payload["error"])
}

func TestWriterFlushesOnStop(t *testing.T) {
	idx := newMemIndex()
	w := NewWriter(idx, WriterOptions{FlushInterval: time.Hour}, nil, zap.NewNop())
	w.Start()

	for i := int64(1); i <= 5; i++ {
		w.Log(EntryFor(action(i, domain.StatusProposed), domain.StatusProposed))
	}
	w.Stop()

	assert.Equal(t, 5, idx.len())
	w.Stop() // повторная остановка безопасна
}

func TestWriterFlushesBySize(t *testing.T) {
	idx := newMemIndex()
	w := NewWriter(idx, WriterOptions{BatchSize: 2, FlushInterval: time.Hour}, nil, zap.NewNop())
	w.Start()
	defer w.Stop()

	w.Log(EntriesFor(action(1, domain.StatusRejected))...)
	assert.Eventually(t, func() bool { return idx.len() == 2 }, time.Second, 10*time.Millisecond)
}

func TestWriterSwallowsIndexFailure(t *testing.T) {
	idx := newMemIndex()
	idx.failN = 1
	metrics := engine.NewMetrics(nil)
	w := NewWriter(idx, WriterOptions{FlushInterval: time.Hour}, metrics, zap.NewNop())
	w.Start()

	w.Log(EntriesFor(action(1, domain.StatusRejected))...)
	w.Stop()

	assert.Zero(t, idx.len())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.AuditWriteFailures))
}

func TestWriterDropsOnOverflowAndAfterStop(t *testing.T) {
	idx := newMemIndex()
	metrics := engine.NewMetrics(nil)
	// Воркер не запущен: буфер на одну запись
	w := NewWriter(idx, WriterOptions{BufferSize: 1}, metrics, zap.NewNop())

	w.Log(EntriesFor(action(1, domain.StatusExecuted))...)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.AuditDropped))

	w.Start()
	w.Stop()
	assert.Equal(t, 1, idx.len())

	w.Log(EntryFor(action(2, domain.StatusProposed), domain.StatusProposed))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.AuditDropped))
}

type pagedSource struct {
	actions []*domain.ProposedAction
	err     error
}

func (p *pagedSource) ListProposalsAfter(_ context.Context, afterID int64, limit int) ([]*domain.ProposedAction, error) {
	if p.err != nil {
		return nil, p.err
	}
	var out []*domain.ProposedAction
	for _, a := range p.actions {
		if a.ID > afterID && len(out) < limit {
			out = append(out, a)
		}
	}
	return out, nil
}

func TestReplayIsIdempotent(t *testing.T) {
	src := &pagedSource{}
	for i := int64(1); i <= 5; i++ {
		src.actions = append(src.actions, action(i, domain.StatusExecuted))
	}
	idx := newMemIndex()
	r := NewReconciler(src, idx, zap.NewNop())
	r.pageSize = 2

	n, err := r.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 15, n)
	assert.Equal(t, 15, idx.len())

	_, err = r.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 15, idx.len())
}

func TestReplayRetriesIndexWrites(t *testing.T) {
	src := &pagedSource{actions: []*domain.ProposedAction{action(1, domain.StatusProposed)}}
	idx := newMemIndex()
	idx.failN = 2
	r := NewReconciler(src, idx, zap.NewNop())

	n, err := r.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, idx.calls)
}

func TestReplayPropagatesStoreError(t *testing.T) {
	r := NewReconciler(&pagedSource{err: errors.New("db down")}, newMemIndex(), zap.NewNop())
	_, err := r.Replay(context.Background())
	assert.Error(t, err)
}
