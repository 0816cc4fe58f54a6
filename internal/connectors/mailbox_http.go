package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xela07ax/inboxpilot/internal/domain"
)

// HTTPMailbox клиент внешнего mailbox executor: POST {base}/v1/items/{item_id}/actions
type HTTPMailbox struct {
	baseURL string
	client  *http.Client
}

func NewHTTPMailbox(baseURL string, timeout time.Duration) *HTTPMailbox {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPMailbox{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type applyRequest struct {
	Action domain.PolicyAction `json:"action"`
	Params map[string]any      `json:"params,omitempty"`
}

func (m *HTTPMailbox) Apply(ctx context.Context, itemID string, action domain.PolicyAction, params map[string]any) error {
	body, err := json.Marshal(applyRequest{Action: action, Params: params})
	if err != nil {
		return fmt.Errorf("mailbox: encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/items/%s/actions", m.baseURL, url.PathEscape(itemID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mailbox: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mailbox call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	statusErr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &ThrottleError{RetryAfter: retryAfter(resp.Header.Get("Retry-After")), Cause: statusErr}
	}
	return statusErr
}

func retryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return time.Second
}
