package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/inboxpilot/internal/domain"
)

func TestHTTPMailboxApply(t *testing.T) {
	var got applyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/items/m%2F1/actions", r.URL.EscapedPath())
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	mb := NewHTTPMailbox(srv.URL+"/", time.Second)
	err := mb.Apply(context.Background(), "m/1", domain.ActionLabel, map[string]any{"label": "promo"})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionLabel, got.Action)
	assert.Equal(t, "promo", got.Params["label"])
}

func TestHTTPMailboxErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/items/busy/actions" {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		http.Error(w, "no such item", http.StatusNotFound)
	}))
	defer srv.Close()

	mb := NewHTTPMailbox(srv.URL, time.Second)

	err := mb.Apply(context.Background(), "busy", domain.ActionArchive, nil)
	var throttle *ThrottleError
	require.ErrorAs(t, err, &throttle)
	assert.Equal(t, 3*time.Second, throttle.RetryAfter)

	err = mb.Apply(context.Background(), "gone", domain.ActionArchive, nil)
	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusNotFound, status.Code)
	assert.Equal(t, "no such item", status.Body)
}

func TestRecordingMailbox(t *testing.T) {
	mb := NewRecordingMailbox()
	mb.Fail["bad"] = errors.New("locked")

	require.NoError(t, mb.Apply(context.Background(), "m1", domain.ActionArchive, nil))
	assert.EqualError(t, mb.Apply(context.Background(), "bad", domain.ActionArchive, nil), "locked")

	applied := mb.Applied()
	require.Len(t, applied, 1)
	assert.Equal(t, "m1", applied[0].ItemID)
}
