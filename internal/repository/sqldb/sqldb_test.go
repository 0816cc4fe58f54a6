package sqldb

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/inboxpilot/internal/domain"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Options{Driver: SQLite, URL: filepath.Join(t.TempDir(), "pilot.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func newPolicy(name string, prio int) *domain.Policy {
	return &domain.Policy{
		Name:                name,
		Enabled:             true,
		Priority:            prio,
		Action:              domain.ActionArchive,
		ConfidenceThreshold: 0.5,
		Condition:           json.RawMessage(`{"=":["category","promotions"]}`),
	}
}

func TestRebind(t *testing.T) {
	pg := &DB{dialect: Postgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)", pg.rebind("SELECT * FROM t WHERE a = ? AND b IN (?, ?)"))

	lite := &DB{dialect: SQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Options{Driver: "mysql", URL: "x"})
	assert.Error(t, err)
}

func TestPolicyCRUD(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	p := newPolicy("promo catch-all", domain.PriorityCatchAll)
	p.Params = map[string]any{"label": "promo"}
	require.NoError(t, db.CreatePolicy(ctx, p))
	require.NotZero(t, p.ID)
	assert.Equal(t, domain.OriginManual, p.Origin)

	got, err := db.GetPolicyByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, "promo", got.Params["label"])
	assert.JSONEq(t, string(p.Condition), string(got.Condition))

	got.Enabled = false
	got.Priority = 20
	require.NoError(t, db.UpdatePolicy(ctx, got))

	enabled, err := db.ListEnabledPolicies(ctx)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	all, err := db.ListPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 20, all[0].Priority)

	require.NoError(t, db.DeletePolicy(ctx, p.ID))
	_, err = db.GetPolicyByID(ctx, p.ID)
	assert.True(t, domain.IsNotFound(err))
	assert.True(t, domain.IsNotFound(db.DeletePolicy(ctx, p.ID)))
}

func TestListEnabledPoliciesOrder(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	for _, p := range []*domain.Policy{
		newPolicy("catch-all", domain.PriorityCatchAll),
		newPolicy("security", domain.PrioritySecurity),
		newPolicy("learned", domain.PriorityLearned),
	} {
		require.NoError(t, db.CreatePolicy(ctx, p))
	}

	list, err := db.ListEnabledPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"security", "learned", "catch-all"}, []string{list[0].Name, list[1].Name, list[2].Name})
}

func TestCreateOrGetByFingerprintMerges(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	p := newPolicy("learned archive", domain.PriorityLearned)
	p.Origin = domain.OriginLearned
	p.Fingerprint = "abc"

	id, created, err := db.CreateOrGetByFingerprint(ctx, p)
	require.NoError(t, err)
	assert.True(t, created)

	// Отключаем и повторяем: та же политика включается обратно, новой не появляется
	existing, err := db.GetPolicyByID(ctx, id)
	require.NoError(t, err)
	existing.Enabled = false
	require.NoError(t, db.UpdatePolicy(ctx, existing))

	dup := newPolicy("learned archive again", domain.PriorityLearned)
	dup.Fingerprint = "abc"
	id2, created, err := db.CreateOrGetByFingerprint(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, id2)

	all, err := db.ListPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Enabled)

	_, _, err = db.CreateOrGetByFingerprint(ctx, newPolicy("no fp", 10))
	assert.True(t, domain.IsValidation(err))
}

func seedProposal(t *testing.T, db *DB, policyID *int64, item string) *domain.ProposedAction {
	t.Helper()
	a := &domain.ProposedAction{
		ItemID:     item,
		UserID:     "u1",
		Action:     domain.ActionArchive,
		Confidence: 0.8,
		Rationale:  domain.Rationale{Features: map[string]any{"category": "promotions"}, Narrative: "matched"},
		PolicyID:   policyID,
	}
	require.NoError(t, db.CreateProposals(context.Background(), []*domain.ProposedAction{a}))
	return a
}

func TestCreateProposalsAndFiredCounter(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	p := newPolicy("promo", domain.PriorityCatchAll)
	require.NoError(t, db.CreatePolicy(ctx, p))

	batch := []*domain.ProposedAction{
		{ItemID: "m1", UserID: "u1", Action: domain.ActionArchive, Confidence: 0.8, PolicyID: &p.ID,
			Rationale: domain.Rationale{Features: map[string]any{"category": "promotions"}, MatchedTokens: []string{"sale"}}},
		{ItemID: "m2", UserID: "u1", Action: domain.ActionArchive, Confidence: 0.8, PolicyID: &p.ID},
	}
	require.NoError(t, db.CreateProposals(ctx, batch))
	assert.Less(t, batch[0].ID, batch[1].ID)

	got, err := db.GetProposal(ctx, batch[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProposed, got.Status)
	assert.Equal(t, []string{"sale"}, got.Rationale.MatchedTokens)
	require.NotNil(t, got.PolicyID)
	assert.Equal(t, p.ID, *got.PolicyID)
	assert.Nil(t, got.ReviewedAt)

	stats, err := db.ListStats(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.EqualValues(t, 2, stats[0].Fired)
	assert.Zero(t, stats[0].Precision)
	assert.Equal(t, defaultWindowDays, stats[0].WindowDays, "fired-only pair reports the default window")

	_, err = db.GetProposal(ctx, 999)
	assert.True(t, domain.IsNotFound(err))
}

func TestFiredCounterUsesConfiguredWindow(t *testing.T) {
	ctx := context.Background()
	db, err := Open(Options{Driver: SQLite, URL: filepath.Join(t.TempDir(), "pilot.db"), WindowDays: 14})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))

	p := newPolicy("promo", domain.PriorityCatchAll)
	require.NoError(t, db.CreatePolicy(ctx, p))
	seedProposal(t, db, &p.ID, "m1")

	stats, err := db.ListStats(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 14, stats[0].WindowDays)
}

func TestTransitionStatusIsConditional(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	a := seedProposal(t, db, nil, "m1")

	updated, ok, err := db.TransitionStatus(ctx, a.ID, Transition{From: domain.StatusProposed, To: domain.StatusApproved, ReviewedBy: "alice"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.StatusApproved, updated.Status)
	require.NotNil(t, updated.ReviewedBy)
	assert.Equal(t, "alice", *updated.ReviewedBy)
	assert.NotNil(t, updated.ReviewedAt)

	// Повторный approve - no-op
	_, ok, err = db.TransitionStatus(ctx, a.ID, Transition{From: domain.StatusProposed, To: domain.StatusApproved})
	require.NoError(t, err)
	assert.False(t, ok)

	failed, ok, err := db.TransitionStatus(ctx, a.ID, Transition{From: domain.StatusApproved, To: domain.StatusFailed, Error: "boom"})
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "boom", *failed.Error)
	assert.NotNil(t, failed.ExecutedAt)

	_, _, err = db.TransitionStatus(ctx, a.ID, Transition{From: domain.StatusRejected, To: domain.StatusApproved})
	assert.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestConcurrentApproveWritesOnce(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	a := seedProposal(t, db, nil, "m1")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := db.TransitionStatus(ctx, a.ID, Transition{From: domain.StatusProposed, To: domain.StatusApproved})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestListProposalsFilter(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	a := seedProposal(t, db, nil, "m1")
	b := seedProposal(t, db, nil, "m2")
	_, _, err := db.TransitionStatus(ctx, a.ID, Transition{From: domain.StatusProposed, To: domain.StatusRejected})
	require.NoError(t, err)

	proposed, err := db.ListProposals(ctx, ProposalFilter{Status: domain.StatusProposed})
	require.NoError(t, err)
	require.Len(t, proposed, 1)
	assert.Equal(t, b.ID, proposed[0].ID)

	byItem, err := db.ListProposals(ctx, ProposalFilter{ItemID: "m1"})
	require.NoError(t, err)
	require.Len(t, byItem, 1)

	after, err := db.ListProposals(ctx, ProposalFilter{AfterID: a.ID})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, b.ID, after[0].ID)

	counts, err := db.CountByStatus(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[domain.StatusProposed])
	assert.EqualValues(t, 1, counts[domain.StatusRejected])
}

func TestDeletePolicyKeepsProposals(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	p := newPolicy("promo", domain.PriorityCatchAll)
	require.NoError(t, db.CreatePolicy(ctx, p))
	a := seedProposal(t, db, &p.ID, "m1")

	require.NoError(t, db.DeletePolicy(ctx, p.ID))
	got, err := db.GetProposal(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PolicyID)
}

func TestWeightsAccumulate(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	now := time.Now()

	require.NoError(t, db.AddWeights(ctx, "u1", map[string]float64{"category=promotions": 0.2, "sender_domain=shop.com": 0.2}, now))
	require.NoError(t, db.AddWeights(ctx, "u1", map[string]float64{"category=promotions": -0.2}, now))
	require.NoError(t, db.AddWeights(ctx, "u2", map[string]float64{"category=promotions": 0.2}, now))

	w, err := db.GetWeights(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 0.0, w["category=promotions"], 1e-9)
	assert.InDelta(t, 0.2, w["sender_domain=shop.com"], 1e-9)

	list, err := db.ListWeights(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	empty, err := db.GetWeights(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRecordReviewPrecision(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	now := time.Now()

	require.NoError(t, db.RecordReview(ctx, 7, "u1", true, 30, now))
	require.NoError(t, db.RecordReview(ctx, 7, "u1", true, 30, now))
	require.NoError(t, db.RecordReview(ctx, 7, "u1", false, 30, now))

	stats, err := db.ListStats(ctx, 7)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.EqualValues(t, 2, stats[0].Approved)
	assert.EqualValues(t, 1, stats[0].Rejected)
	assert.InDelta(t, 2.0/3.0, stats[0].Precision, 1e-9)
}

func TestRecomputeStatsWindow(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	p := newPolicy("promo", domain.PriorityCatchAll)
	require.NoError(t, db.CreatePolicy(ctx, p))

	now := time.Now().UTC()
	old := now.Add(-60 * 24 * time.Hour)

	stale := &domain.ProposedAction{ItemID: "old", UserID: "u1", Action: domain.ActionArchive, PolicyID: &p.ID, CreatedAt: old}
	fresh1 := &domain.ProposedAction{ItemID: "m1", UserID: "u1", Action: domain.ActionArchive, PolicyID: &p.ID, CreatedAt: now}
	fresh2 := &domain.ProposedAction{ItemID: "m2", UserID: "u1", Action: domain.ActionArchive, PolicyID: &p.ID, CreatedAt: now}
	require.NoError(t, db.CreateProposals(ctx, []*domain.ProposedAction{stale, fresh1, fresh2}))

	_, _, err := db.TransitionStatus(ctx, stale.ID, Transition{From: domain.StatusProposed, To: domain.StatusRejected, At: old})
	require.NoError(t, err)
	_, _, err = db.TransitionStatus(ctx, fresh1.ID, Transition{From: domain.StatusProposed, To: domain.StatusApproved, At: now})
	require.NoError(t, err)
	_, _, err = db.TransitionStatus(ctx, fresh2.ID, Transition{From: domain.StatusProposed, To: domain.StatusRejected, At: now})
	require.NoError(t, err)

	n, err := db.RecomputeStats(ctx, now.Add(-30*24*time.Hour), 30, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := db.ListStats(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.EqualValues(t, 2, stats[0].Fired)
	assert.EqualValues(t, 1, stats[0].Approved)
	assert.EqualValues(t, 1, stats[0].Rejected)
	assert.InDelta(t, 0.5, stats[0].Precision, 1e-9)
	assert.Equal(t, 30, stats[0].WindowDays)
}

func TestCountPolicies(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	learned := newPolicy("learned", domain.PriorityLearned)
	learned.Origin = domain.OriginLearned
	disabled := newPolicy("off", domain.PriorityCatchAll)
	disabled.Enabled = false
	for _, p := range []*domain.Policy{learned, disabled, newPolicy("on", domain.PriorityCatchAll)} {
		require.NoError(t, db.CreatePolicy(ctx, p))
	}

	enabled, l, err := db.CountPolicies(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, enabled)
	assert.EqualValues(t, 1, l)
}
