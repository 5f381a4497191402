package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/strategy-cli/internal/automation"
	"github.com/sells-group/strategy-cli/internal/idempotency"
	"github.com/sells-group/strategy-cli/internal/model"
	"github.com/sells-group/strategy-cli/internal/temporal"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

var day0 = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

// --- Campaigns ---

func TestSQLite_Campaign_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	c := &model.Campaign{ID: "c1", TenantID: "t1", Name: "Spring", ManualAutomationLock: true, CreatedAt: day0}
	require.NoError(t, st.UpsertCampaign(ctx, c))

	got, err := st.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, *c, *got)

	c.ManualAutomationLock = false
	c.Name = "Summer"
	require.NoError(t, st.UpsertCampaign(ctx, c))
	got, err = st.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, got.ManualAutomationLock)
	assert.Equal(t, "Summer", got.Name)
}

func TestSQLite_Campaign_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)
	got, err := st.GetCampaign(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// --- Recommendations ---

func TestSQLite_Recommendations_UpsertAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	recs := []model.StoredRecommendation{
		{ID: "r1", TenantID: "t1", CampaignID: "c1", RecommendationType: "ctr", ConfidenceScore: 0.9, RiskTier: 1, Status: model.RecommendationGenerated, CreatedAt: day0},
		{ID: "r2", TenantID: "t1", CampaignID: "c1", RecommendationType: "local", ConfidenceScore: 0.5, RiskTier: 2, Status: model.RecommendationValidated, CreatedAt: day0.AddDate(0, 0, 1)},
		{ID: "r3", TenantID: "t1", CampaignID: "c1", RecommendationType: "local", Status: model.RecommendationArchived, CreatedAt: day0},
		{ID: "r4", TenantID: "t1", CampaignID: "c2", RecommendationType: "ctr", Status: model.RecommendationGenerated, CreatedAt: day0},
	}
	n, err := st.UpsertRecommendations(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	got, err := st.ListRecommendations(ctx, "c1", []model.RecommendationStatus{
		model.RecommendationGenerated, model.RecommendationValidated,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r2", got[0].ID)
	assert.Equal(t, "r1", got[1].ID)
	assert.Equal(t, 0.9, got[1].ConfidenceScore)

	all, err := st.ListRecommendations(ctx, "c1", nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	unchanged, err := st.UpsertRecommendations(ctx, recs)
	require.NoError(t, err)
	assert.Zero(t, unchanged)

	recs[0].Status = model.RecommendationFailed
	n, err = st.UpsertRecommendations(ctx, recs[:1])
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	failed, err := st.ListRecommendations(ctx, "c1", []model.RecommendationStatus{model.RecommendationFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "r1", failed[0].ID)
}

func TestSQLite_Recommendations_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)
	n, err := st.UpsertRecommendations(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// --- Temporal snapshots ---

func TestSQLite_Series_WindowAndOrder(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	snaps := []model.TemporalSnapshot{
		{CampaignID: "c1", SignalType: "rank", MetricName: "avg_position", MetricValue: 12, ObservedAt: day0.AddDate(0, 0, 2)},
		{CampaignID: "c1", SignalType: "rank", MetricName: "avg_position", MetricValue: 10, ObservedAt: day0},
		{CampaignID: "c1", SignalType: "rank", MetricName: "avg_position", MetricValue: 11, ObservedAt: day0.AddDate(0, 0, 1)},
		{CampaignID: "c1", SignalType: "rank", MetricName: "avg_position", MetricValue: 99, ObservedAt: day0.AddDate(0, 1, 0)},
		{CampaignID: "c1", SignalType: "review", MetricName: "avg_position", MetricValue: 50, ObservedAt: day0},
	}
	n, err := st.InsertSnapshots(ctx, snaps)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.NotEmpty(t, snaps[0].ID)

	points, err := st.Series(ctx, temporal.SeriesQuery{
		CampaignID: "c1",
		SignalType: temporal.SignalRank,
		Metric:     "avg_position",
		From:       day0,
		To:         day0.AddDate(0, 0, 2),
	})
	require.NoError(t, err)
	require.Len(t, points, 3)
	values, stamps := temporal.Split(points)
	assert.Equal(t, []float64{10, 11, 12}, values)
	assert.True(t, stamps[2].Equal(day0.AddDate(0, 0, 2)))
	assert.Equal(t, time.UTC, stamps[0].Location())
}

// --- Momentum metrics ---

func TestSQLite_MomentumMetrics(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		require.NoError(t, st.UpsertMomentumMetric(ctx, &model.MomentumMetric{
			CampaignID:        "c1",
			MetricName:        automation.MomentumMetricName,
			Slope:             float64(i),
			WindowDays:        30,
			ComputedAt:        day0.AddDate(0, 0, i),
			DeterministicHash: "h",
			ProfileVersion:    "v1",
		}))
	}
	// Same computed_at replaces the row.
	require.NoError(t, st.UpsertMomentumMetric(ctx, &model.MomentumMetric{
		CampaignID: "c1", MetricName: automation.MomentumMetricName, Slope: 42,
		WindowDays: 30, ComputedAt: day0.AddDate(0, 0, 7), DeterministicHash: "h2", ProfileVersion: "v1",
	}))

	got, err := st.LatestMomentumMetrics(ctx, "c1", automation.MomentumMetricName, 6)
	require.NoError(t, err)
	require.Len(t, got, 6)
	assert.Equal(t, 42.0, got[0].Slope)
	assert.Equal(t, "h2", got[0].DeterministicHash)
	assert.Equal(t, 6.0, got[1].Slope)
	assert.True(t, got[5].ComputedAt.Equal(day0.AddDate(0, 0, 2)))
}

// --- Phase history ---

func TestSQLite_Phases_LatestByInsertion(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	latest, err := st.LatestPhase(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, latest)

	// Same effective date: insertion order decides.
	require.NoError(t, st.AppendPhase(ctx, &model.PhaseHistory{CampaignID: "c1", PriorPhase: "stabilization", NewPhase: "growth", EffectiveDate: day0}))
	require.NoError(t, st.AppendPhase(ctx, &model.PhaseHistory{CampaignID: "c1", PriorPhase: "growth", NewPhase: "defensive", EffectiveDate: day0}))

	latest, err = st.LatestPhase(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "defensive", latest.NewPhase)
	assert.NotEmpty(t, latest.ID)
}

// --- Automation events ---

func testEvent(campaignID string, at time.Time) *model.AutomationEvent {
	return &model.AutomationEvent{
		CampaignID:       campaignID,
		EvaluationDate:   at,
		PriorPhase:       "stabilization",
		NewPhase:         "growth",
		TriggeredRules:   `["sustained_positive_slope"]`,
		MomentumSnapshot: `{"momentum_score":0.27}`,
		ActionSummary:    `{}`,
		TracePayload:     `{}`,
		DecisionHash:     "dh",
		VersionHash:      "vh",
	}
}

func TestSQLite_CommitAutomation(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertRecommendations(ctx, []model.StoredRecommendation{
		{ID: "r1", TenantID: "t1", CampaignID: "c1", RecommendationType: "ctr", Status: model.RecommendationGenerated},
	})
	require.NoError(t, err)

	commit := model.AutomationCommit{
		Event: testEvent("c1", day0),
		Transitions: []model.RecommendationTransition{
			{RecommendationID: "r1", From: model.RecommendationGenerated, To: model.RecommendationValidated},
		},
		Phase: &model.PhaseHistory{CampaignID: "c1", PriorPhase: "stabilization", NewPhase: "growth", EffectiveDate: day0},
	}
	id, err := st.CommitAutomation(ctx, commit)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	evt, err := st.GetAutomationEvent(ctx, "c1", day0)
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, id, evt.ID)
	assert.Equal(t, `{"momentum_score":0.27}`, evt.MomentumSnapshot)

	recs, err := st.ListRecommendations(ctx, "c1", []model.RecommendationStatus{model.RecommendationValidated})
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	phase, err := st.LatestPhase(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "growth", phase.NewPhase)

	_, err = st.CommitAutomation(ctx, model.AutomationCommit{Event: testEvent("c1", day0)})
	assert.ErrorIs(t, err, ErrEvaluationExists)
}

func TestSQLite_CommitAutomation_StaleTransitionRollsBack(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertRecommendations(ctx, []model.StoredRecommendation{
		{ID: "r1", TenantID: "t1", CampaignID: "c1", RecommendationType: "ctr", Status: model.RecommendationArchived},
	})
	require.NoError(t, err)

	_, err = st.CommitAutomation(ctx, model.AutomationCommit{
		Event: testEvent("c1", day0),
		Transitions: []model.RecommendationTransition{
			{RecommendationID: "r1", From: model.RecommendationGenerated, To: model.RecommendationValidated},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "r1")

	evt, err := st.GetAutomationEvent(ctx, "c1", day0)
	require.NoError(t, err)
	assert.Nil(t, evt)
}

func TestSQLite_CommitAutomation_RequiresEvent(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.CommitAutomation(context.Background(), model.AutomationCommit{})
	require.Error(t, err)
}

func TestSQLite_AutomationEngine(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertCampaign(ctx, &model.Campaign{ID: "c1", TenantID: "t1"}))
	_, err := st.UpsertRecommendations(ctx, []model.StoredRecommendation{
		{ID: "r1", TenantID: "t1", CampaignID: "c1", RecommendationType: "ctr", ConfidenceScore: 0.9, RiskTier: 1, Status: model.RecommendationGenerated, CreatedAt: day0},
		{ID: "r2", TenantID: "t1", CampaignID: "c1", RecommendationType: "local", ConfidenceScore: 0.5, RiskTier: 2, Status: model.RecommendationValidated, CreatedAt: day0},
	})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.NoError(t, st.UpsertMomentumMetric(ctx, &model.MomentumMetric{
			CampaignID: "c1", MetricName: automation.MomentumMetricName,
			Slope: -0.3, Volatility: 0.1, WindowDays: 30, ComputedAt: day0.AddDate(0, 0, i),
		}))
	}

	eng := automation.NewEngine(st)
	at := time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC)
	res, err := eng.Evaluate(ctx, "c1", at)
	require.NoError(t, err)
	assert.Equal(t, automation.StatusEvaluated, res.Status)
	assert.Equal(t, automation.PhaseGrowth, res.NewPhase)

	validated, err := st.ListRecommendations(ctx, "c1", []model.RecommendationStatus{model.RecommendationValidated})
	require.NoError(t, err)
	assert.Len(t, validated, 2)

	again, err := eng.Evaluate(ctx, "c1", at)
	require.NoError(t, err)
	assert.Equal(t, automation.StatusAlreadyEvaluated, again.Status)
	assert.Equal(t, res.EventID, again.EventID)
}

// --- Idempotent executions ---

func TestSQLite_Executions_Lifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := day0

	e := &model.Execution{
		ID: "e1", TenantID: "t1", CampaignID: "c1", OperationType: "strategy_build",
		IdempotencyKey: "k1", InputHash: "in", VersionFingerprint: "v",
		Status: model.ExecutionPending, CreatedAt: now, UpdatedAt: now,
	}
	inserted, err := st.InsertExecution(ctx, e)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := *e
	dup.ID = "e2"
	inserted, err = st.InsertExecution(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	claimed, err := st.ClaimExecution(ctx, "e1", now)
	require.NoError(t, err)
	assert.True(t, claimed)
	claimed, err = st.ClaimExecution(ctx, "e1", now)
	require.NoError(t, err)
	assert.False(t, claimed)

	done := now.Add(time.Minute)
	ok, err := st.CompleteExecution(ctx, "e1", "out", `{"a":1}`, done)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := st.GetExecutionByKey(ctx, "t1", "strategy_build", "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.ExecutionCompleted, got.Status)
	assert.Equal(t, "out", got.OutputHash)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(done))

	missing, err := st.GetExecutionByKey(ctx, "t1", "strategy_build", "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.Error(t, st.FailExecution(ctx, "nope", "{}", now))
}

func TestSQLite_Executions_CompleteRequiresRunning(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.InsertExecution(ctx, &model.Execution{
		ID: "e1", TenantID: "t1", OperationType: "op", IdempotencyKey: "k",
		Status: model.ExecutionPending, CreatedAt: day0, UpdatedAt: day0,
	})
	require.NoError(t, err)

	ok, err := st.CompleteExecution(ctx, "e1", "out", "{}", day0)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.FailExecution(ctx, "e1", `{"error":"boom"}`, day0))
	require.NoError(t, st.ResetFailedExecution(ctx, "e1", day0))
	got, err := st.GetExecutionByKey(ctx, "t1", "op", "k")
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionPending, got.Status)
}

func TestSQLite_FailStaleExecutions(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for i, id := range []string{"e3", "e1", "e2", "e4"} {
		_, err := st.InsertExecution(ctx, &model.Execution{
			ID: id, TenantID: "t1", OperationType: "op", IdempotencyKey: id,
			Status: model.ExecutionPending, CreatedAt: day0, UpdatedAt: day0,
		})
		require.NoError(t, err)
		claimed, err := st.ClaimExecution(ctx, id, day0.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		require.True(t, claimed)
	}

	cutoff := day0.Add(150 * time.Second)
	ids, err := st.FailStaleExecutions(ctx, cutoff, 2, `{"error":"timeout"}`, cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"e3", "e1"}, ids)

	ids, err = st.FailStaleExecutions(ctx, cutoff, 10, `{"error":"timeout"}`, cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"e2"}, ids)

	got, err := st.GetExecutionByKey(ctx, "t1", "op", "e4")
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionRunning, got.Status)
}

func TestSQLite_IdempotencyService(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	svc := idempotency.NewService(st)

	k := idempotency.Key{TenantID: "t1", CampaignID: "c1", OperationType: "op", IdempotencyKey: "k", InputHash: "in", VersionFingerprint: "v"}
	e, created, err := svc.GetOrCreate(ctx, k)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := svc.GetOrCreate(ctx, k)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, e.ID, again.ID)

	k.InputHash = "other"
	_, _, err = svc.GetOrCreate(ctx, k)
	assert.ErrorIs(t, err, idempotency.ErrConflict)
}
