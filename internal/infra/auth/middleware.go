package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/xela07ax/inboxpilot/internal/domain"
)

// AnonymousReviewer личность по умолчанию, когда запрос не представился
const AnonymousReviewer = "anonymous"

// TokenValidator проверка Bearer токена (BaseValidator)
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.ReviewerClaims, error)
}

type ctxKey struct{}

// NewMiddleware только извлекает личность ревьюера для reviewed_by, аутентификация вне сервиса.
// С валидатором: Bearer токен обязателен к проверке, битый токен - 401.
// Без валидатора (или без заголовка Authorization): X-User-ID, иначе "anonymous".
func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get("X-User-ID"))

			if authHeader := r.Header.Get("Authorization"); v != nil && authHeader != "" {
				claims, err := v.VerifyToken(authHeader)
				if err != nil {
					logger.Warn("auth failure", zap.Error(err))
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
				userID = claims.UserID
			}
			if userID == "" {
				userID = AnonymousReviewer
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserID личность из контекста запроса
func UserID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return AnonymousReviewer
}
