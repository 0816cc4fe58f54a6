package policy

import (
	"encoding/json"

	"github.com/xela07ax/inboxpilot/internal/learning"
)

const (
	DefaultBaseConfidence  = 0.80
	DefaultWeightInfluence = 0.10
)

// Scorer считает уверенность для письма: базовая оценка классификатора
// (features["confidence"]) плюс выученные веса пользователя по стабильным признакам.
type Scorer struct {
	Base      float64 // если классификатор не прислал confidence
	Influence float64 // множитель суммы весов
}

func DefaultScorer() Scorer {
	return Scorer{Base: DefaultBaseConfidence, Influence: DefaultWeightInfluence}
}

func (s Scorer) Confidence(features map[string]any, weights map[string]float64) float64 {
	base := s.Base
	if f, ok := number(features["confidence"]); ok && f >= 0 && f <= 1 {
		base = f
	}

	adj := 0.0
	if len(weights) > 0 {
		for _, f := range learning.StableFeatures(features) {
			adj += weights[f.String()]
		}
	}
	return clamp01(base + s.Influence*adj)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
