package executor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/inboxpilot/internal/connectors"
	"github.com/xela07ax/inboxpilot/internal/domain"
)

type fakeMail struct {
	mu       sync.Mutex
	requests []string
	err      error
}

func (f *fakeMail) RequestUnsubscribe(_ context.Context, itemID, mailto string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, itemID+"|"+mailto)
	return nil
}

func newDispatcher(t *testing.T, mail MailRequester) (*Dispatcher, *connectors.RecordingMailbox) {
	t.Helper()
	mb := connectors.NewRecordingMailbox()
	unsub := NewUnsubscriber(http.DefaultClient, mail, nil, time.Second, zap.NewNop())
	return NewDispatcher(mb, unsub, nil, zap.NewNop()), mb
}

func TestParseListUnsubscribe(t *testing.T) {
	tests := []struct {
		header string
		want   Targets
	}{
		{"<mailto:unsub@list.example.com?subject=unsubscribe>, <https://example.com/u?id=1>",
			Targets{HTTP: "https://example.com/u?id=1", Mailto: "unsub@list.example.com?subject=unsubscribe"}},
		{"<HTTPS://Example.com/U>", Targets{HTTP: "HTTPS://Example.com/U"}},
		{"<MAILTO:stop@x.com>", Targets{Mailto: "stop@x.com"}},
		{"<mailto:a@x.com> <mailto:b@x.com> <http://x.com/1> <http://x.com/2>", Targets{HTTP: "http://x.com/1", Mailto: "a@x.com"}},
		{"https://bare.example.com/u, mailto:bare@x.com", Targets{HTTP: "https://bare.example.com/u", Mailto: "bare@x.com"}},
		{"<ftp://nope>", Targets{}},
		{"", Targets{}},
		{"<mailto:>", Targets{}},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseListUnsubscribe(tt.header))
		})
	}
}

func TestFindHeader(t *testing.T) {
	v, ok := FindHeader(map[string]any{"headers": map[string]any{"LIST-UNSUBSCRIBE": "<mailto:x@y.com>"}})
	assert.True(t, ok)
	assert.Equal(t, "<mailto:x@y.com>", v)

	v, ok = FindHeader(map[string]any{"list_unsubscribe": "<https://u>"})
	assert.True(t, ok)
	assert.Equal(t, "<https://u>", v)

	_, ok = FindHeader(map[string]any{"has_list_unsubscribe": true})
	assert.False(t, ok)

	_, ok = FindHeader(nil)
	assert.False(t, ok)
}

// Сценарий E: только mailto - успех через почту; без целей - отдельная ошибка
func TestUnsubscribeMailtoAndNoTargets(t *testing.T) {
	mail := &fakeMail{}
	d, _ := newDispatcher(t, mail)
	ctx := context.Background()

	err := d.Execute(ctx, Request{
		ItemID:   "m1",
		Action:   domain.ActionUnsubscribe,
		Features: map[string]any{"headers": map[string]any{"List-Unsubscribe": "<mailto:leave@news.example.com>"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1|leave@news.example.com"}, mail.requests)

	err = d.Execute(ctx, Request{ItemID: "m2", Action: domain.ActionUnsubscribe, Params: map[string]any{}})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoUnsubscribeTargets)
	var execErr *domain.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "m2", execErr.ItemID)
}

func TestUnsubscribeHeadThenGet(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method)
		mu.Unlock()
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mail := &fakeMail{}
	d, _ := newDispatcher(t, mail)
	err := d.Execute(context.Background(), Request{
		ItemID: "m1",
		Action: domain.ActionUnsubscribe,
		Params: map[string]any{"list_unsubscribe": "<" + srv.URL + "/u>, <mailto:x@y.com>"},
	})
	require.NoError(t, err)
	mu.Lock()
	assert.Equal(t, []string{http.MethodHead, http.MethodGet}, methods)
	mu.Unlock()
	assert.Empty(t, mail.requests, "http succeeded, mail path must not be used")
}

func TestUnsubscribeHeadSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d, _ := newDispatcher(t, nil)
	err := d.Execute(context.Background(), Request{ItemID: "m1", Action: domain.ActionUnsubscribe,
		Params: map[string]any{"List-Unsubscribe": "<" + srv.URL + ">"}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestUnsubscribeHTTPFailureFallsBackToMail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	mail := &fakeMail{}
	d, _ := newDispatcher(t, mail)
	err := d.Execute(context.Background(), Request{ItemID: "m1", Action: domain.ActionUnsubscribe,
		Params: map[string]any{"list_unsubscribe": "<" + srv.URL + ">, <mailto:x@y.com>"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1|x@y.com"}, mail.requests)

	// Только http и он падает: ошибка исполнения, без ретраев
	err = d.Execute(context.Background(), Request{ItemID: "m2", Action: domain.ActionUnsubscribe,
		Params: map[string]any{"list_unsubscribe": "<" + srv.URL + ">"}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNoUnsubscribeTargets)
}

func TestMailboxMutationAndKeep(t *testing.T) {
	d, mb := newDispatcher(t, nil)
	ctx := context.Background()

	require.NoError(t, d.Execute(ctx, Request{ItemID: "m1", Action: domain.ActionArchive}))
	require.NoError(t, d.Execute(ctx, Request{ItemID: "m2", Action: domain.ActionLabel, Params: map[string]any{"label": "x"}}))
	require.NoError(t, d.Execute(ctx, Request{ItemID: "m3", Action: domain.ActionKeep}))

	applied := mb.Applied()
	require.Len(t, applied, 2)
	assert.Equal(t, domain.ActionArchive, applied[0].Action)
	assert.Equal(t, "x", applied[1].Params["label"])

	mb.Fail["m4"] = errors.New("mailbox down")
	err := d.Execute(ctx, Request{ItemID: "m4", Action: domain.ActionDelete})
	var execErr *domain.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, domain.ActionDelete, execErr.Action)

	assert.Error(t, d.Execute(ctx, Request{ItemID: "m5", Action: "explode"}))
}
