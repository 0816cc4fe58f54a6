package domain

import "time"

// UserWeight вес признака для пользователя. Создается лениво, не удаляется.
type UserWeight struct {
	UserID    string    `json:"user_id"`
	Feature   string    `json:"feature"` // "category=promotions"
	Weight    float64   `json:"weight"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PolicyStats счетчики срабатываний и решений для пары (политика, пользователь)
type PolicyStats struct {
	PolicyID   int64     `json:"policy_id"`
	UserID     string    `json:"user_id"`
	Fired      int64     `json:"fired"`
	Approved   int64     `json:"approved"`
	Rejected   int64     `json:"rejected"`
	Precision  float64   `json:"precision"`
	WindowDays int       `json:"window_days"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Precision approved/(approved+rejected); ровно 0, если решений еще не было (никогда не NaN).
func Precision(approved, rejected int64) float64 {
	total := approved + rejected
	if total <= 0 || approved <= 0 {
		return 0
	}
	p := float64(approved) / float64(total)
	if p > 1 {
		return 1
	}
	return p
}
