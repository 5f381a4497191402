package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/strategy-cli/internal/db"
	"github.com/sells-group/strategy-cli/internal/model"
	"github.com/sells-group/strategy-cli/internal/resilience"
	"github.com/sells-group/strategy-cli/internal/temporal"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"get_campaign":       `SELECT id, tenant_id, name, manual_automation_lock, created_at FROM campaigns WHERE id = $1`,
	"latest_phase":       `SELECT id, campaign_id, prior_phase, new_phase, trigger_reason, momentum_score, effective_date, version_hash FROM strategy_phase_history WHERE campaign_id = $1 ORDER BY seq DESC LIMIT 1`,
	"get_execution":      `SELECT ` + executionColumns + ` FROM strategy_execution_keys WHERE tenant_id = $1 AND operation_type = $2 AND idempotency_key = $3`,
	"claim_execution":    `UPDATE strategy_execution_keys SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
	"get_automation_evt": `SELECT ` + eventColumns + ` FROM strategy_automation_events WHERE campaign_id = $1 AND evaluation_date = $2`,
}

// NewPostgres creates a PostgresStore with a connection pool. The initial
// ping is retried on transient network errors.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("postgres", "ping")
	if err := resilience.Do(ctx, retry, pool.Ping); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Close does not close it.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access, such as the startup invariant checks.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS schema_version (
	id          INTEGER PRIMARY KEY DEFAULT 1,
	version_num TEXT NOT NULL,
	applied_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS campaigns (
	id                     TEXT PRIMARY KEY,
	tenant_id              TEXT NOT NULL,
	name                   TEXT NOT NULL DEFAULT '',
	manual_automation_lock BOOLEAN NOT NULL DEFAULT false,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS recommendations (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id           TEXT NOT NULL,
	campaign_id         TEXT NOT NULL,
	recommendation_type TEXT NOT NULL,
	rationale           TEXT NOT NULL DEFAULT '',
	confidence_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
	risk_tier           INTEGER NOT NULL DEFAULT 0,
	status              TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_recommendations_campaign ON recommendations(campaign_id, status);

CREATE TABLE IF NOT EXISTS temporal_snapshots (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	seq          BIGSERIAL,
	campaign_id  TEXT NOT NULL,
	signal_type  TEXT NOT NULL,
	metric_name  TEXT NOT NULL,
	metric_value DOUBLE PRECISION NOT NULL,
	observed_at  TIMESTAMPTZ NOT NULL,
	source       TEXT NOT NULL DEFAULT '',
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 1,
	version_hash TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_snapshots_series ON temporal_snapshots(campaign_id, signal_type, metric_name, observed_at);

CREATE TABLE IF NOT EXISTS momentum_metrics (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	campaign_id        TEXT NOT NULL,
	metric_name        TEXT NOT NULL,
	slope              DOUBLE PRECISION NOT NULL,
	acceleration       DOUBLE PRECISION NOT NULL,
	volatility         DOUBLE PRECISION NOT NULL,
	window_days        INTEGER NOT NULL,
	computed_at        TIMESTAMPTZ NOT NULL,
	deterministic_hash TEXT NOT NULL,
	profile_version    TEXT NOT NULL,
	UNIQUE (campaign_id, metric_name, computed_at)
);

CREATE TABLE IF NOT EXISTS strategy_phase_history (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	seq            BIGSERIAL,
	campaign_id    TEXT NOT NULL,
	prior_phase    TEXT NOT NULL,
	new_phase      TEXT NOT NULL,
	trigger_reason TEXT NOT NULL,
	momentum_score DOUBLE PRECISION NOT NULL,
	effective_date TIMESTAMPTZ NOT NULL,
	version_hash   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_phase_history_campaign ON strategy_phase_history(campaign_id, seq DESC);

CREATE TABLE IF NOT EXISTS strategy_automation_events (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	campaign_id       TEXT NOT NULL,
	evaluation_date   TIMESTAMPTZ NOT NULL,
	prior_phase       TEXT NOT NULL,
	new_phase         TEXT NOT NULL,
	triggered_rules   TEXT NOT NULL,
	momentum_snapshot TEXT NOT NULL,
	action_summary    TEXT NOT NULL,
	trace_payload     TEXT NOT NULL,
	decision_hash     TEXT NOT NULL,
	version_hash      TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (campaign_id, evaluation_date)
);

CREATE TABLE IF NOT EXISTS strategy_execution_keys (
	id                  TEXT PRIMARY KEY,
	tenant_id           TEXT NOT NULL,
	campaign_id         TEXT NOT NULL,
	operation_type      TEXT NOT NULL,
	idempotency_key     TEXT NOT NULL,
	input_hash          TEXT NOT NULL,
	version_fingerprint TEXT NOT NULL,
	status              TEXT NOT NULL,
	output_hash         TEXT NOT NULL DEFAULT '',
	output_payload      TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL,
	completed_at        TIMESTAMPTZ,
	updated_at          TIMESTAMPTZ NOT NULL,
	UNIQUE (tenant_id, operation_type, idempotency_key)
);

CREATE INDEX IF NOT EXISTS idx_execution_keys_status ON strategy_execution_keys(status, updated_at);

CREATE TABLE IF NOT EXISTS threshold_bundles (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	version      TEXT NOT NULL UNIQUE,
	status       TEXT NOT NULL,
	checksum     TEXT NOT NULL,
	is_valid     BOOLEAN NOT NULL DEFAULT false,
	activated_at TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runtime_version_locks (
	id                        TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	expected_schema_revision  TEXT NOT NULL,
	expected_code_fingerprint TEXT NOT NULL,
	active                    BOOLEAN NOT NULL DEFAULT true,
	created_at                TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate creates the schema and records SchemaVersion.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO schema_version (id, version_num, applied_at) VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET version_num = EXCLUDED.version_num, applied_at = EXCLUDED.applied_at`,
		SchemaVersion,
	)
	return eris.Wrap(err, "postgres: record schema version")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Campaigns

func (s *PostgresStore) UpsertCampaign(ctx context.Context, c *model.Campaign) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO campaigns (id, tenant_id, name, manual_automation_lock, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			name = EXCLUDED.name,
			manual_automation_lock = EXCLUDED.manual_automation_lock`,
		c.ID, c.TenantID, c.Name, c.ManualAutomationLock, c.CreatedAt,
	)
	return eris.Wrap(err, "postgres: upsert campaign")
}

func (s *PostgresStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	var c model.Campaign
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, manual_automation_lock, created_at FROM campaigns WHERE id = $1`, id,
	).Scan(&c.ID, &c.TenantID, &c.Name, &c.ManualAutomationLock, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get campaign")
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// Recommendations

var recommendationColumns = []string{
	"id", "tenant_id", "campaign_id", "recommendation_type", "rationale",
	"confidence_score", "risk_tier", "status", "created_at",
}

// UpsertRecommendations merges recs by id through a COPY-backed bulk upsert.
func (s *PostgresStore) UpsertRecommendations(ctx context.Context, recs []model.StoredRecommendation) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, len(recs))
	for i := range recs {
		r := &recs[i]
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		rows[i] = []any{
			r.ID, r.TenantID, r.CampaignID, r.RecommendationType, r.Rationale,
			r.ConfidenceScore, r.RiskTier, string(r.Status), r.CreatedAt,
		}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:         "recommendations",
		Columns:       recommendationColumns,
		ConflictKeys:  []string{"id"},
		UpdateCols:    []string{"recommendation_type", "rationale", "confidence_score", "risk_tier", "status"},
		SkipUnchanged: true,
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert recommendations")
}

func (s *PostgresStore) ListRecommendations(ctx context.Context, campaignID string, statuses []model.RecommendationStatus) ([]model.StoredRecommendation, error) {
	query := `SELECT id, tenant_id, campaign_id, recommendation_type, rationale, confidence_score, risk_tier, status, created_at
		FROM recommendations WHERE campaign_id = $1`
	args := []any{campaignID}
	if len(statuses) > 0 {
		query += ` AND status = ANY($2)`
		args = append(args, statusStrings(statuses))
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list recommendations")
	}
	defer rows.Close()

	var out []model.StoredRecommendation
	for rows.Next() {
		var r model.StoredRecommendation
		var status string
		if err := rows.Scan(&r.ID, &r.TenantID, &r.CampaignID, &r.RecommendationType, &r.Rationale,
			&r.ConfidenceScore, &r.RiskTier, &status, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan recommendation")
		}
		r.Status = model.RecommendationStatus(status)
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate recommendations")
}

// Temporal snapshots

var snapshotColumns = []string{
	"id", "campaign_id", "signal_type", "metric_name", "metric_value",
	"observed_at", "source", "confidence", "version_hash", "created_at",
}

// InsertSnapshots bulk-loads snaps with COPY.
func (s *PostgresStore) InsertSnapshots(ctx context.Context, snaps []model.TemporalSnapshot) (int64, error) {
	if len(snaps) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	for i := range snaps {
		if snaps[i].ID == "" {
			snaps[i].ID = uuid.NewString()
		}
		if snaps[i].CreatedAt.IsZero() {
			snaps[i].CreatedAt = now
		}
	}
	n, err := db.CopyRows(ctx, s.pool, "temporal_snapshots", snapshotColumns, snaps, func(sn model.TemporalSnapshot) []any {
		return []any{
			sn.ID, sn.CampaignID, sn.SignalType, sn.MetricName, sn.MetricValue,
			sn.ObservedAt, sn.Source, sn.Confidence, sn.VersionHash, sn.CreatedAt,
		}
	})
	return n, eris.Wrap(err, "postgres: insert snapshots")
}

// Series returns observations in the inclusive window ordered by
// observation time, then insertion order.
func (s *PostgresStore) Series(ctx context.Context, q temporal.SeriesQuery) ([]temporal.Point, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT metric_value, observed_at FROM temporal_snapshots
		WHERE campaign_id = $1 AND signal_type = $2 AND metric_name = $3
			AND observed_at >= $4 AND observed_at <= $5
		ORDER BY observed_at, seq`,
		q.CampaignID, string(q.SignalType), q.Metric, q.From, q.To,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query series")
	}
	defer rows.Close()

	var out []temporal.Point
	for rows.Next() {
		var p temporal.Point
		if err := rows.Scan(&p.Value, &p.ObservedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan series point")
		}
		p.ObservedAt = p.ObservedAt.UTC()
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate series")
}

// Momentum metrics

func (s *PostgresStore) UpsertMomentumMetric(ctx context.Context, m *model.MomentumMetric) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO momentum_metrics
			(id, campaign_id, metric_name, slope, acceleration, volatility, window_days, computed_at, deterministic_hash, profile_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (campaign_id, metric_name, computed_at) DO UPDATE SET
			slope = EXCLUDED.slope,
			acceleration = EXCLUDED.acceleration,
			volatility = EXCLUDED.volatility,
			window_days = EXCLUDED.window_days,
			deterministic_hash = EXCLUDED.deterministic_hash,
			profile_version = EXCLUDED.profile_version`,
		m.ID, m.CampaignID, m.MetricName, m.Slope, m.Acceleration, m.Volatility,
		m.WindowDays, m.ComputedAt, m.DeterministicHash, m.ProfileVersion,
	)
	return eris.Wrap(err, "postgres: upsert momentum metric")
}

func (s *PostgresStore) LatestMomentumMetrics(ctx context.Context, campaignID, metricName string, limit int) ([]model.MomentumMetric, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, campaign_id, metric_name, slope, acceleration, volatility, window_days, computed_at, deterministic_hash, profile_version
		FROM momentum_metrics WHERE campaign_id = $1 AND metric_name = $2
		ORDER BY computed_at DESC LIMIT $3`,
		campaignID, metricName, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest momentum metrics")
	}
	defer rows.Close()

	var out []model.MomentumMetric
	for rows.Next() {
		var m model.MomentumMetric
		if err := rows.Scan(&m.ID, &m.CampaignID, &m.MetricName, &m.Slope, &m.Acceleration, &m.Volatility,
			&m.WindowDays, &m.ComputedAt, &m.DeterministicHash, &m.ProfileVersion); err != nil {
			return nil, eris.Wrap(err, "postgres: scan momentum metric")
		}
		m.ComputedAt = m.ComputedAt.UTC()
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate momentum metrics")
}

// Phase history

func (s *PostgresStore) LatestPhase(ctx context.Context, campaignID string) (*model.PhaseHistory, error) {
	var h model.PhaseHistory
	err := s.pool.QueryRow(ctx,
		`SELECT id, campaign_id, prior_phase, new_phase, trigger_reason, momentum_score, effective_date, version_hash
		FROM strategy_phase_history WHERE campaign_id = $1 ORDER BY seq DESC LIMIT 1`, campaignID,
	).Scan(&h.ID, &h.CampaignID, &h.PriorPhase, &h.NewPhase, &h.TriggerReason, &h.MomentumScore, &h.EffectiveDate, &h.VersionHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest phase")
	}
	h.EffectiveDate = h.EffectiveDate.UTC()
	return &h, nil
}

func (s *PostgresStore) AppendPhase(ctx context.Context, h *model.PhaseHistory) error {
	return appendPhasePG(ctx, s.pool, h)
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func appendPhasePG(ctx context.Context, ex pgExecer, h *model.PhaseHistory) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	_, err := ex.Exec(ctx,
		`INSERT INTO strategy_phase_history
			(id, campaign_id, prior_phase, new_phase, trigger_reason, momentum_score, effective_date, version_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		h.ID, h.CampaignID, h.PriorPhase, h.NewPhase, h.TriggerReason, h.MomentumScore, h.EffectiveDate, h.VersionHash,
	)
	return eris.Wrap(err, "postgres: append phase")
}

// Automation events

// Snapshot, trace and rule columns are TEXT so the canonical bytes survive
// a round trip.
const eventColumns = `id, campaign_id, evaluation_date, prior_phase, new_phase, triggered_rules,
	momentum_snapshot, action_summary, trace_payload, decision_hash, version_hash, created_at`

func (s *PostgresStore) GetAutomationEvent(ctx context.Context, campaignID string, evaluationDate time.Time) (*model.AutomationEvent, error) {
	var e model.AutomationEvent
	err := s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM strategy_automation_events WHERE campaign_id = $1 AND evaluation_date = $2`,
		campaignID, evaluationDate,
	).Scan(&e.ID, &e.CampaignID, &e.EvaluationDate, &e.PriorPhase, &e.NewPhase, &e.TriggeredRules,
		&e.MomentumSnapshot, &e.ActionSummary, &e.TracePayload, &e.DecisionHash, &e.VersionHash, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get automation event")
	}
	e.EvaluationDate = e.EvaluationDate.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

// CommitAutomation writes the event, applies each recommendation transition
// only if the row is still in its expected status, and appends the phase row
// in one transaction.
func (s *PostgresStore) CommitAutomation(ctx context.Context, c model.AutomationCommit) (string, error) {
	if c.Event == nil {
		return "", eris.New("postgres: commit automation requires an event")
	}
	e := c.Event
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO strategy_automation_events
				(id, campaign_id, evaluation_date, prior_phase, new_phase, triggered_rules, momentum_snapshot,
				action_summary, trace_payload, decision_hash, version_hash, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (campaign_id, evaluation_date) DO NOTHING`,
			e.ID, e.CampaignID, e.EvaluationDate, e.PriorPhase, e.NewPhase, e.TriggeredRules,
			e.MomentumSnapshot, e.ActionSummary, e.TracePayload, e.DecisionHash, e.VersionHash, e.CreatedAt,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: insert automation event")
		}
		if tag.RowsAffected() == 0 {
			return ErrEvaluationExists
		}

		for _, t := range c.Transitions {
			tag, err := tx.Exec(ctx,
				`UPDATE recommendations SET status = $1 WHERE id = $2 AND status = $3`,
				string(t.To), t.RecommendationID, string(t.From),
			)
			if err != nil {
				return eris.Wrapf(err, "postgres: transition recommendation %s", t.RecommendationID)
			}
			if tag.RowsAffected() == 0 {
				return eris.Errorf("recommendation in status %s not found: %s", t.From, t.RecommendationID)
			}
		}

		if c.Phase != nil {
			return appendPhasePG(ctx, tx, c.Phase)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

// Idempotent executions

func (s *PostgresStore) InsertExecution(ctx context.Context, e *model.Execution) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO strategy_execution_keys (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (tenant_id, operation_type, idempotency_key) DO NOTHING`,
		e.ID, e.TenantID, e.CampaignID, e.OperationType, e.IdempotencyKey, e.InputHash,
		e.VersionFingerprint, string(e.Status), e.OutputHash, e.OutputPayload,
		e.CreatedAt, e.CompletedAt, e.UpdatedAt,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: insert execution")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetExecutionByKey(ctx context.Context, tenantID, operationType, key string) (*model.Execution, error) {
	var e model.Execution
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM strategy_execution_keys
		WHERE tenant_id = $1 AND operation_type = $2 AND idempotency_key = $3`,
		tenantID, operationType, key,
	).Scan(&e.ID, &e.TenantID, &e.CampaignID, &e.OperationType, &e.IdempotencyKey, &e.InputHash,
		&e.VersionFingerprint, &status, &e.OutputHash, &e.OutputPayload, &e.CreatedAt, &e.CompletedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get execution")
	}
	e.Status = model.ExecutionStatus(status)
	return &e, nil
}

func (s *PostgresStore) ResetFailedExecution(ctx context.Context, id string, now time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE strategy_execution_keys SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(model.ExecutionPending), now, id, string(model.ExecutionFailed),
	)
	return eris.Wrap(err, "postgres: reset failed execution")
}

func (s *PostgresStore) ClaimExecution(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE strategy_execution_keys SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(model.ExecutionRunning), now, id, string(model.ExecutionPending),
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: claim execution")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) CompleteExecution(ctx context.Context, id, outputHash, payload string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE strategy_execution_keys
		SET status = $1, output_hash = $2, output_payload = $3, completed_at = $4, updated_at = $4
		WHERE id = $5 AND status = ANY($6)`,
		string(model.ExecutionCompleted), outputHash, payload, now,
		id, []string{string(model.ExecutionRunning), string(model.ExecutionCompleted)},
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: complete execution")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) FailExecution(ctx context.Context, id, payload string, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE strategy_execution_keys SET status = $1, output_payload = $2, updated_at = $3 WHERE id = $4`,
		string(model.ExecutionFailed), payload, now, id,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: fail execution")
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("execution not found: %s", id)
	}
	return nil
}

// FailStaleExecutions locks the oldest stale running rows, skipping rows
// another worker holds, and marks them failed.
func (s *PostgresStore) FailStaleExecutions(ctx context.Context, cutoff time.Time, limit int, payload string, now time.Time) ([]string, error) {
	var ids []string
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT id FROM strategy_execution_keys WHERE status = $1 AND updated_at < $2
			ORDER BY updated_at, id LIMIT $3 FOR UPDATE SKIP LOCKED`,
			string(model.ExecutionRunning), cutoff, limit,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: select stale executions")
		}
		ids, err = pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return eris.Wrap(err, "postgres: scan stale executions")
		}
		if len(ids) == 0 {
			return nil
		}
		_, err = tx.Exec(ctx,
			`UPDATE strategy_execution_keys SET status = $1, output_payload = $2, updated_at = $3 WHERE id = ANY($4)`,
			string(model.ExecutionFailed), payload, now, ids,
		)
		return eris.Wrap(err, "postgres: fail stale executions")
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
