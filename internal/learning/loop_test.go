package learning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/inboxpilot/internal/domain"
)

type review struct {
	policyID int64
	userID   string
	approved bool
}

type fakeStore struct {
	weights  map[string]map[string]float64
	reviews  []review
	since    time.Time
	failWith error
}

func newFakeStore() *fakeStore {
	return &fakeStore{weights: map[string]map[string]float64{}}
}

func (f *fakeStore) AddWeights(_ context.Context, userID string, deltas map[string]float64, _ time.Time) error {
	if f.failWith != nil {
		return f.failWith
	}
	if f.weights[userID] == nil {
		f.weights[userID] = map[string]float64{}
	}
	for k, v := range deltas {
		f.weights[userID][k] += v
	}
	return nil
}

func (f *fakeStore) GetWeights(_ context.Context, userID string) (map[string]float64, error) {
	return f.weights[userID], f.failWith
}

func (f *fakeStore) RecordReview(_ context.Context, policyID int64, userID string, approved bool, _ int, _ time.Time) error {
	f.reviews = append(f.reviews, review{policyID, userID, approved})
	return nil
}

func (f *fakeStore) RecomputeStats(_ context.Context, since time.Time, _ int, _ time.Time) (int, error) {
	f.since = since
	return 3, nil
}

func TestStableFeatures(t *testing.T) {
	got := StableFeatures(map[string]any{
		"sender":               "Shop News <news@Shop.example.com>",
		"category":             " Promotions ",
		"list_id":              "<weekly.shop.example.com>",
		"has_list_unsubscribe": true,
		"subject":              "ignored",
	})

	keys := make([]string, len(got))
	for i, f := range got {
		keys[i] = f.String()
	}
	assert.Equal(t, []string{
		"category=promotions",
		"sender_domain=shop.example.com",
		"list_id=<weekly.shop.example.com>",
		"sender=shop news <news@shop.example.com>",
		"has_list_unsubscribe=true",
	}, keys)

	assert.Empty(t, StableFeatures(nil))
	assert.Empty(t, StableFeatures(map[string]any{"category": nil, "subject": "x"}))
}

func TestWithDerived(t *testing.T) {
	in := map[string]any{"sender": "Shop <News@Shop.com>", "category": "Promotions"}
	out := WithDerived(in)
	assert.Equal(t, "shop.com", out[FeatureSenderDomain])
	assert.Equal(t, "Promotions", out[FeatureCategory])
	assert.NotContains(t, in, FeatureSenderDomain)

	explicit := map[string]any{"sender": "a@b.com", "sender_domain": "Other.org"}
	assert.Equal(t, "Other.org", WithDerived(explicit)[FeatureSenderDomain])

	assert.NotContains(t, WithDerived(map[string]any{"sender": "no address"}), FeatureSenderDomain)
	assert.Nil(t, WithDerived(nil))
}

func TestDeltas(t *testing.T) {
	features := map[string]any{"category": "promotions", "sender_domain": "example.com"}

	up := Deltas(features, 0.2, Approve)
	assert.Equal(t, map[string]float64{"category=promotions": 0.2, "sender_domain=example.com": 0.2}, up)

	down := Deltas(features, 0.2, Reject)
	assert.InDelta(t, -0.2, down["category=promotions"], 1e-9)

	assert.Nil(t, Deltas(map[string]any{"subject": "x"}, 0.2, Approve))
}

func TestFeedbackUpdatesWeightsAndStats(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	loop := NewLoop(store, 0, 0, zap.NewNop())

	policyID := int64(4)
	a := &domain.ProposedAction{
		ID:        1,
		UserID:    "u1",
		PolicyID:  &policyID,
		Rationale: domain.Rationale{Features: map[string]any{"category": "promotions", "sender_domain": "example.com"}},
	}

	require.NoError(t, loop.Feedback(ctx, a, Approve))
	require.NoError(t, loop.Feedback(ctx, a, Approve))
	require.NoError(t, loop.Feedback(ctx, a, Reject))

	w, err := loop.Weights(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 0.2, w["category=promotions"], 1e-9)
	assert.InDelta(t, 0.2, w["sender_domain=example.com"], 1e-9)

	require.Len(t, store.reviews, 3)
	assert.Equal(t, review{4, "u1", true}, store.reviews[0])
	assert.Equal(t, review{4, "u1", false}, store.reviews[2])
}

func TestFeedbackWithoutPolicySkipsStats(t *testing.T) {
	store := newFakeStore()
	loop := NewLoop(store, 0.5, 30, zap.NewNop())

	a := &domain.ProposedAction{ID: 2, UserID: "u1", Rationale: domain.Rationale{Features: map[string]any{"category": "social"}}}
	require.NoError(t, loop.Feedback(context.Background(), a, Reject))

	assert.Empty(t, store.reviews)
	assert.InDelta(t, -0.5, store.weights["u1"]["category=social"], 1e-9)
}

func TestFeedbackPropagatesStoreError(t *testing.T) {
	store := newFakeStore()
	store.failWith = errors.New("db down")
	loop := NewLoop(store, 0, 0, zap.NewNop())

	a := &domain.ProposedAction{ID: 3, UserID: "u1", Rationale: domain.Rationale{Features: map[string]any{"category": "social"}}}
	assert.ErrorIs(t, loop.Feedback(context.Background(), a, Approve), store.failWith)
}

func TestRecomputeWindowUsesWindowDays(t *testing.T) {
	store := newFakeStore()
	loop := NewLoop(store, 0, 7, zap.NewNop())
	now := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	loop.now = func() time.Time { return now }

	n, err := loop.RecomputeWindow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, now.Add(-7*24*time.Hour), store.since)
}

func TestPrecisionNeverNaN(t *testing.T) {
	assert.Equal(t, 0.0, domain.Precision(0, 0))
	assert.Equal(t, 0.0, domain.Precision(0, 4))
	assert.Equal(t, 1.0, domain.Precision(3, 0))
	assert.InDelta(t, 0.75, domain.Precision(3, 1), 1e-9)
}
