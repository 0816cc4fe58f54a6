package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// ReviewerClaims claims токена ревьюера. Токены выпускает внешний IdP,
// мы только извлекаем личность для reviewed_by.
type ReviewerClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}
