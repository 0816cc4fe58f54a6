package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/inboxpilot/internal/domain"
)

type flakyMailbox struct {
	err   error
	calls int
}

func (f *flakyMailbox) Apply(_ context.Context, _ string, _ domain.PolicyAction, _ map[string]any) error {
	f.calls++
	return f.err
}

func TestReliabilityWrapperOpensBreaker(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	mb := &flakyMailbox{err: errors.New("503")}
	w := NewReliabilityWrapper(mb, ReliabilityOptions{
		Name:                "test",
		ConsecutiveFailures: 2,
		OpenTimeout:         time.Minute,
	}, metrics)

	ctx := context.Background()
	assert.Error(t, w.Apply(ctx, "m-1", domain.ActionArchive, nil))
	assert.Error(t, w.Apply(ctx, "m-2", domain.ActionArchive, nil))
	assert.Equal(t, gobreaker.StateOpen, w.State())

	err := w.Apply(ctx, "m-3", domain.ActionArchive, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, mb.calls, "open breaker must not reach the mailbox")
	assert.Equal(t, float64(gobreaker.StateOpen), testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("test")))
}

func TestReliabilityWrapperHonoursContext(t *testing.T) {
	w := NewReliabilityWrapper(&flakyMailbox{}, ReliabilityOptions{RatePerSecond: 0.001, Burst: 1}, nil)

	require.NoError(t, w.Apply(context.Background(), "m-1", domain.ActionLabel, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, w.Apply(ctx, "m-2", domain.ActionLabel, nil))
}

func TestHoldManagerSignals(t *testing.T) {
	m := NewHoldManager(nil, zap.NewNop())
	ctx := context.Background()

	assert.False(t, m.IsHeld("u1"))
	require.NoError(t, m.Set(ctx, "u1", true))
	assert.True(t, m.IsHeld("u1"))
	assert.False(t, m.IsHeld("u2"))
	assert.False(t, m.IsHeld(""))

	assert.True(t, m.apply(HoldAll+":on"))
	assert.True(t, m.IsHeld("u2"))
	assert.True(t, m.IsHeld(""))
	assert.Equal(t, []string{HoldAll, "u1"}, m.List())

	assert.True(t, m.apply(HoldAll+":off"))
	require.NoError(t, m.Set(ctx, "u1", false))
	assert.Empty(t, m.List())

	for _, bad := range []string{"", ":on", "u1", "u1:maybe"} {
		assert.False(t, m.apply(bad), bad)
	}
	assert.Error(t, m.Set(ctx, "", true))
}

func TestRunOnceWithoutRedisRunsLocally(t *testing.T) {
	calls := 0
	ran, err := RunOnce(context.Background(), nil, zap.NewNop(), "lock", time.Second, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, calls)
}

func TestTracingAndMetricsMiddleware(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	var seen string
	r := chi.NewRouter()
	r.Use(TracingMiddleware)
	r.Use(metrics.MetricsMiddleware)
	r.Get("/v1/proposals/{id}", func(w http.ResponseWriter, r *http.Request) {
		seen = TraceID(r.Context())
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/proposals/42", nil)
	req.Header.Set("X-Trace-ID", "trace-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "trace-1", seen)
	assert.Equal(t, "trace-1", rec.Header().Get("X-Trace-ID"))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.RequestDuration))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/proposals/43", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))
	// обе заявки легли в одну серию по шаблону маршрута
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.RequestDuration))
}
