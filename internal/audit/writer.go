package audit

/*
Файл writer.go реализует асинхронную запись аудита во вторичный индекс.

- Non-blocking: Log никогда не ждет индекс. Основная запись в реляционное хранилище
  уже прошла, аудит догоняет ее в фоне.
- Batching: записи копятся и уходят пачкой по размеру или по таймеру.
- Drain: Stop закрывает канал и ждет финальный flush.
- Load Shedding: при переполненном буфере запись отбрасывается и учитывается в метриках.
  Потерянное восстанавливается через Reconciler.Replay.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/inboxpilot/internal/domain"
	"github.com/xela07ax/inboxpilot/internal/engine"
)

// Auditor то, что видят сервисы: отправить записи и забыть
type Auditor interface {
	Log(entries ...domain.AuditEntry)
}

type WriterOptions struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
}

func (o *WriterOptions) defaults() {
	if o.BufferSize <= 0 {
		o.BufferSize = 10000
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 500 * time.Millisecond
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
}

type Writer struct {
	ch      chan domain.AuditEntry
	index   Index
	opts    WriterOptions
	metrics *engine.Metrics
	logger  *zap.Logger
	wg      sync.WaitGroup

	mu       sync.RWMutex // держат отправители; Stop берет на запись перед close(ch)
	isClosed int32
}

func NewWriter(index Index, opts WriterOptions, metrics *engine.Metrics, logger *zap.Logger) *Writer {
	opts.defaults()
	if metrics == nil {
		metrics = engine.NewMetrics(nil)
	}
	return &Writer{
		ch:      make(chan domain.AuditEntry, opts.BufferSize),
		index:   index,
		opts:    opts,
		metrics: metrics,
		logger:  logger.Named("audit"),
	}
}

func (w *Writer) Start() {
	w.wg.Add(1)
	go w.worker()
}

// Stop «запирает» вход и ждет, пока воркер всё допишет
func (w *Writer) Stop() {
	w.mu.Lock()
	if !atomic.CompareAndSwapInt32(&w.isClosed, 0, 1) {
		w.mu.Unlock()
		return
	}
	w.logger.Info("stopping audit writer: closing channel and flushing buffer...")
	close(w.ch)
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info("audit writer stopped gracefully")
}

// Log ставит записи в очередь, не блокируя вызывающего
func (w *Writer) Log(entries ...domain.AuditEntry) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if atomic.LoadInt32(&w.isClosed) == 1 {
		w.metrics.AuditDropped.Add(float64(len(entries)))
		w.logger.Warn("audit entries dropped: writer is stopping", zap.Int("count", len(entries)))
		return
	}

	for _, e := range entries {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		select {
		case w.ch <- e:
		default:
			// Backpressure: индекс не успевает, сбрасываем нагрузку
			w.metrics.AuditDropped.Inc()
			w.logger.Error("audit_buffer_overflow",
				zap.String("entry_id", e.ID),
				zap.String("item_id", e.ItemID))
		}
	}
	w.metrics.AuditBufferFill.Set(float64(len(w.ch)))
}

func (w *Writer) worker() {
	defer w.wg.Done()

	batch := make([]domain.AuditEntry, 0, w.opts.BatchSize)
	ticker := time.NewTicker(w.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: контекст запроса к этому моменту уже завершен
		ctx, cancel := context.WithTimeout(context.Background(), w.opts.WriteTimeout)
		err := w.index.IndexBatch(ctx, batch)
		cancel()
		if err != nil {
			w.metrics.AuditWriteFailures.Add(float64(len(batch)))
			w.logger.Error("audit flush failed", zap.Int("count", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
		w.metrics.AuditBufferFill.Set(float64(len(w.ch)))
	}

	for {
		select {
		case e, ok := <-w.ch:
			if !ok {
				// Канал закрыт в Stop(): остатки уже вычитаны, финальный сброс
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= w.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
