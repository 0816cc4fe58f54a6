package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/inboxpilot/internal/domain"
)

// HTTPDoer клиент для ссылок деактивации (*http.Client)
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// MailRequester асинхронная отправка заявки на отписку письмом
type MailRequester interface {
	RequestUnsubscribe(ctx context.Context, itemID, mailto string) error
}

var errMailUnavailable = errors.New("mail unsubscribe is not configured")

// Unsubscriber двухуровневая стратегия: прямая HTTP-ссылка, затем письмо.
// HTTP: HEAD, при отказе GET. Ретраев нет, каждый запрос ограничен timeout.
type Unsubscriber struct {
	client  HTTPDoer
	mail    MailRequester
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger
}

func NewUnsubscriber(client HTTPDoer, mail MailRequester, limiter *rate.Limiter, timeout time.Duration, logger *zap.Logger) *Unsubscriber {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Unsubscriber{
		client:  client,
		mail:    mail,
		limiter: limiter,
		timeout: timeout,
		logger:  logger.Named("unsubscribe"),
	}
}

// Unsubscribe выполняет отписку по найденным целям. Возвращает способ, которым она удалась.
func (u *Unsubscriber) Unsubscribe(ctx context.Context, itemID string, t Targets) (string, error) {
	if t.Empty() {
		return "", domain.ErrNoUnsubscribeTargets
	}

	var httpErr error
	if t.HTTP != "" {
		if httpErr = u.viaHTTP(ctx, t.HTTP); httpErr == nil {
			return "http", nil
		}
		if t.Mailto == "" {
			return "", httpErr
		}
		u.logger.Warn("http unsubscribe failed, falling back to mail",
			zap.String("item_id", itemID), zap.Error(httpErr))
	}

	if u.mail == nil {
		return "", errors.Join(httpErr, errMailUnavailable)
	}
	if err := u.mail.RequestUnsubscribe(ctx, itemID, t.Mailto); err != nil {
		return "", errors.Join(httpErr, fmt.Errorf("mail unsubscribe: %w", err))
	}
	return "mailto", nil
}

// viaHTTP HEAD, и если он отклонен (ошибка или статус >= 400), GET
func (u *Unsubscriber) viaHTTP(ctx context.Context, link string) error {
	headErr := u.request(ctx, http.MethodHead, link)
	if headErr == nil {
		return nil
	}
	u.logger.Debug("HEAD rejected, trying GET", zap.String("url", link), zap.Error(headErr))

	if err := u.request(ctx, http.MethodGet, link); err != nil {
		return fmt.Errorf("http unsubscribe: HEAD: %v; GET: %w", headErr, err)
	}
	return nil
}

func (u *Unsubscriber) request(ctx context.Context, method, link string) error {
	if err := u.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, link, nil)
	if err != nil {
		return err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: status %d", method, link, resp.StatusCode)
	}
	return nil
}
