package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/strategy-cli/internal/model"
	"github.com/sells-group/strategy-cli/internal/temporal"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection; one connection also serializes writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Timestamps are stored as fixed-width UTC text (see tsLayout).
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS campaigns (
	id                     TEXT PRIMARY KEY,
	tenant_id              TEXT NOT NULL,
	name                   TEXT NOT NULL DEFAULT '',
	manual_automation_lock INTEGER NOT NULL DEFAULT 0,
	created_at             TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS recommendations (
	id                  TEXT PRIMARY KEY,
	tenant_id           TEXT NOT NULL,
	campaign_id         TEXT NOT NULL,
	recommendation_type TEXT NOT NULL,
	rationale           TEXT NOT NULL DEFAULT '',
	confidence_score    REAL NOT NULL DEFAULT 0,
	risk_tier           INTEGER NOT NULL DEFAULT 0,
	status              TEXT NOT NULL,
	created_at          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS temporal_snapshots (
	id           TEXT PRIMARY KEY,
	campaign_id  TEXT NOT NULL,
	signal_type  TEXT NOT NULL,
	metric_name  TEXT NOT NULL,
	metric_value REAL NOT NULL,
	observed_at  TEXT NOT NULL,
	source       TEXT NOT NULL DEFAULT '',
	confidence   REAL NOT NULL DEFAULT 1,
	version_hash TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS momentum_metrics (
	id                 TEXT PRIMARY KEY,
	campaign_id        TEXT NOT NULL,
	metric_name        TEXT NOT NULL,
	slope              REAL NOT NULL,
	acceleration       REAL NOT NULL,
	volatility         REAL NOT NULL,
	window_days        INTEGER NOT NULL,
	computed_at        TEXT NOT NULL,
	deterministic_hash TEXT NOT NULL,
	profile_version    TEXT NOT NULL,
	UNIQUE (campaign_id, metric_name, computed_at)
);

CREATE TABLE IF NOT EXISTS strategy_phase_history (
	id             TEXT PRIMARY KEY,
	campaign_id    TEXT NOT NULL,
	prior_phase    TEXT NOT NULL,
	new_phase      TEXT NOT NULL,
	trigger_reason TEXT NOT NULL,
	momentum_score REAL NOT NULL,
	effective_date TEXT NOT NULL,
	version_hash   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS strategy_automation_events (
	id                TEXT PRIMARY KEY,
	campaign_id       TEXT NOT NULL,
	evaluation_date   TEXT NOT NULL,
	prior_phase       TEXT NOT NULL,
	new_phase         TEXT NOT NULL,
	triggered_rules   TEXT NOT NULL,
	momentum_snapshot TEXT NOT NULL,
	action_summary    TEXT NOT NULL,
	trace_payload     TEXT NOT NULL,
	decision_hash     TEXT NOT NULL,
	version_hash      TEXT NOT NULL,
	created_at        TEXT NOT NULL,
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
	created_at          TEXT NOT NULL,
	completed_at        TEXT,
	updated_at          TEXT NOT NULL,
	UNIQUE (tenant_id, operation_type, idempotency_key)
);

CREATE INDEX IF NOT EXISTS idx_recommendations_campaign ON recommendations(campaign_id, status);
CREATE INDEX IF NOT EXISTS idx_snapshots_series ON temporal_snapshots(campaign_id, signal_type, metric_name, observed_at);
CREATE INDEX IF NOT EXISTS idx_phase_history_campaign ON strategy_phase_history(campaign_id);
CREATE INDEX IF NOT EXISTS idx_execution_keys_status ON strategy_execution_keys(status, updated_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Campaigns

func (s *SQLiteStore) UpsertCampaign(ctx context.Context, c *model.Campaign) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO campaigns (id, tenant_id, name, manual_automation_lock, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			name = excluded.name,
			manual_automation_lock = excluded.manual_automation_lock`,
		c.ID, c.TenantID, c.Name, c.ManualAutomationLock, formatTime(c.CreatedAt),
	)
	return eris.Wrap(err, "sqlite: upsert campaign")
}

func (s *SQLiteStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	var c model.Campaign
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, manual_automation_lock, created_at FROM campaigns WHERE id = ?`, id,
	).Scan(&c.ID, &c.TenantID, &c.Name, &c.ManualAutomationLock, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get campaign")
	}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &c, nil
}

// Recommendations

func (s *SQLiteStore) UpsertRecommendations(ctx context.Context, recs []model.StoredRecommendation) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert recommendations")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	var n int64
	for i := range recs {
		r := &recs[i]
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO recommendations
				(id, tenant_id, campaign_id, recommendation_type, rationale, confidence_score, risk_tier, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				recommendation_type = excluded.recommendation_type,
				rationale = excluded.rationale,
				confidence_score = excluded.confidence_score,
				risk_tier = excluded.risk_tier,
				status = excluded.status
			WHERE recommendation_type IS NOT excluded.recommendation_type
				OR rationale IS NOT excluded.rationale
				OR confidence_score IS NOT excluded.confidence_score
				OR risk_tier IS NOT excluded.risk_tier
				OR status IS NOT excluded.status`,
			r.ID, r.TenantID, r.CampaignID, r.RecommendationType, r.Rationale,
			r.ConfidenceScore, r.RiskTier, string(r.Status), formatTime(r.CreatedAt),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert recommendation %s", r.ID)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: upsert recommendation rows affected")
		}
		n += affected
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert recommendations")
	}
	return n, nil
}

func (s *SQLiteStore) ListRecommendations(ctx context.Context, campaignID string, statuses []model.RecommendationStatus) ([]model.StoredRecommendation, error) {
	query := `SELECT id, tenant_id, campaign_id, recommendation_type, rationale, confidence_score, risk_tier, status, created_at
		FROM recommendations WHERE campaign_id = ?`
	args := []any{campaignID}
	if len(statuses) > 0 {
		query += ` AND status IN (?` + strings.Repeat(", ?", len(statuses)-1) + `)`
		for _, st := range statusStrings(statuses) {
			args = append(args, st)
		}
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list recommendations")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.StoredRecommendation
	for rows.Next() {
		var r model.StoredRecommendation
		var status, created string
		if err := rows.Scan(&r.ID, &r.TenantID, &r.CampaignID, &r.RecommendationType, &r.Rationale,
			&r.ConfidenceScore, &r.RiskTier, &status, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan recommendation")
		}
		r.Status = model.RecommendationStatus(status)
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate recommendations")
}

// Temporal snapshots

func (s *SQLiteStore) InsertSnapshots(ctx context.Context, snaps []model.TemporalSnapshot) (int64, error) {
	if len(snaps) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert snapshots")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for i := range snaps {
		sn := &snaps[i]
		if sn.ID == "" {
			sn.ID = uuid.NewString()
		}
		if sn.CreatedAt.IsZero() {
			sn.CreatedAt = now
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO temporal_snapshots
				(id, campaign_id, signal_type, metric_name, metric_value, observed_at, source, confidence, version_hash, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sn.ID, sn.CampaignID, sn.SignalType, sn.MetricName, sn.MetricValue,
			formatTime(sn.ObservedAt), sn.Source, sn.Confidence, sn.VersionHash, formatTime(sn.CreatedAt),
		); err != nil {
			return 0, eris.Wrap(err, "sqlite: insert snapshot")
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert snapshots")
	}
	return int64(len(snaps)), nil
}

// Series returns observations in the inclusive window ordered by
// observation time, then insertion order.
func (s *SQLiteStore) Series(ctx context.Context, q temporal.SeriesQuery) ([]temporal.Point, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT metric_value, observed_at FROM temporal_snapshots
		WHERE campaign_id = ? AND signal_type = ? AND metric_name = ?
			AND observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at, rowid`,
		q.CampaignID, string(q.SignalType), q.Metric, formatTime(q.From), formatTime(q.To),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query series")
	}
	defer rows.Close() //nolint:errcheck

	var out []temporal.Point
	for rows.Next() {
		var p temporal.Point
		var observed string
		if err := rows.Scan(&p.Value, &observed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan series point")
		}
		if p.ObservedAt, err = parseTime(observed); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate series")
}

// Momentum metrics

func (s *SQLiteStore) UpsertMomentumMetric(ctx context.Context, m *model.MomentumMetric) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO momentum_metrics
			(id, campaign_id, metric_name, slope, acceleration, volatility, window_days, computed_at, deterministic_hash, profile_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (campaign_id, metric_name, computed_at) DO UPDATE SET
			slope = excluded.slope,
			acceleration = excluded.acceleration,
			volatility = excluded.volatility,
			window_days = excluded.window_days,
			deterministic_hash = excluded.deterministic_hash,
			profile_version = excluded.profile_version`,
		m.ID, m.CampaignID, m.MetricName, m.Slope, m.Acceleration, m.Volatility,
		m.WindowDays, formatTime(m.ComputedAt), m.DeterministicHash, m.ProfileVersion,
	)
	return eris.Wrap(err, "sqlite: upsert momentum metric")
}

func (s *SQLiteStore) LatestMomentumMetrics(ctx context.Context, campaignID, metricName string, limit int) ([]model.MomentumMetric, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, campaign_id, metric_name, slope, acceleration, volatility, window_days, computed_at, deterministic_hash, profile_version
		FROM momentum_metrics WHERE campaign_id = ? AND metric_name = ?
		ORDER BY computed_at DESC LIMIT ?`,
		campaignID, metricName, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest momentum metrics")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.MomentumMetric
	for rows.Next() {
		var m model.MomentumMetric
		var computed string
		if err := rows.Scan(&m.ID, &m.CampaignID, &m.MetricName, &m.Slope, &m.Acceleration, &m.Volatility,
			&m.WindowDays, &computed, &m.DeterministicHash, &m.ProfileVersion); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan momentum metric")
		}
		if m.ComputedAt, err = parseTime(computed); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate momentum metrics")
}

// Phase history

// LatestPhase returns the most recently appended phase row, or nil.
func (s *SQLiteStore) LatestPhase(ctx context.Context, campaignID string) (*model.PhaseHistory, error) {
	var h model.PhaseHistory
	var effective string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, campaign_id, prior_phase, new_phase, trigger_reason, momentum_score, effective_date, version_hash
		FROM strategy_phase_history WHERE campaign_id = ? ORDER BY rowid DESC LIMIT 1`, campaignID,
	).Scan(&h.ID, &h.CampaignID, &h.PriorPhase, &h.NewPhase, &h.TriggerReason, &h.MomentumScore, &effective, &h.VersionHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest phase")
	}
	if h.EffectiveDate, err = parseTime(effective); err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *SQLiteStore) AppendPhase(ctx context.Context, h *model.PhaseHistory) error {
	return appendPhaseSQL(ctx, s.db, h)
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func appendPhaseSQL(ctx context.Context, ex sqlExecer, h *model.PhaseHistory) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	_, err := ex.ExecContext(ctx,
		`INSERT INTO strategy_phase_history
			(id, campaign_id, prior_phase, new_phase, trigger_reason, momentum_score, effective_date, version_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.CampaignID, h.PriorPhase, h.NewPhase, h.TriggerReason, h.MomentumScore,
		formatTime(h.EffectiveDate), h.VersionHash,
	)
	return eris.Wrap(err, "sqlite: append phase")
}

// Automation events

func (s *SQLiteStore) GetAutomationEvent(ctx context.Context, campaignID string, evaluationDate time.Time) (*model.AutomationEvent, error) {
	var e model.AutomationEvent
	var evaluated, created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, campaign_id, evaluation_date, prior_phase, new_phase, triggered_rules, momentum_snapshot,
			action_summary, trace_payload, decision_hash, version_hash, created_at
		FROM strategy_automation_events WHERE campaign_id = ? AND evaluation_date = ?`,
		campaignID, formatTime(evaluationDate),
	).Scan(&e.ID, &e.CampaignID, &evaluated, &e.PriorPhase, &e.NewPhase, &e.TriggeredRules, &e.MomentumSnapshot,
		&e.ActionSummary, &e.TracePayload, &e.DecisionHash, &e.VersionHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get automation event")
	}
	if e.EvaluationDate, err = parseTime(evaluated); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &e, nil
}

// CommitAutomation writes the event, applies each recommendation transition
// only if the row is still in its expected status, and appends the phase row.
func (s *SQLiteStore) CommitAutomation(ctx context.Context, c model.AutomationCommit) (string, error) {
	if c.Event == nil {
		return "", eris.New("sqlite: commit automation requires an event")
	}
	e := c.Event
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: begin commit automation")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`INSERT INTO strategy_automation_events
			(id, campaign_id, evaluation_date, prior_phase, new_phase, triggered_rules, momentum_snapshot,
			action_summary, trace_payload, decision_hash, version_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (campaign_id, evaluation_date) DO NOTHING`,
		e.ID, e.CampaignID, formatTime(e.EvaluationDate), e.PriorPhase, e.NewPhase, e.TriggeredRules,
		e.MomentumSnapshot, e.ActionSummary, e.TracePayload, e.DecisionHash, e.VersionHash, formatTime(e.CreatedAt),
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: insert automation event")
	}
	if n, err := res.RowsAffected(); err != nil {
		return "", eris.Wrap(err, "sqlite: rows affected")
	} else if n == 0 {
		return "", ErrEvaluationExists
	}

	for _, t := range c.Transitions {
		res, err := tx.ExecContext(ctx,
			`UPDATE recommendations SET status = ? WHERE id = ? AND status = ?`,
			string(t.To), t.RecommendationID, string(t.From),
		)
		if err != nil {
			return "", eris.Wrapf(err, "sqlite: transition recommendation %s", t.RecommendationID)
		}
		if err := checkRowsAffected(res, "recommendation in status "+string(t.From), t.RecommendationID); err != nil {
			return "", err
		}
	}

	if c.Phase != nil {
		if err := appendPhaseSQL(ctx, tx, c.Phase); err != nil {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", eris.Wrap(err, "sqlite: commit automation")
	}
	return e.ID, nil
}

// Idempotent executions

const executionColumns = `id, tenant_id, campaign_id, operation_type, idempotency_key, input_hash,
	version_fingerprint, status, output_hash, output_payload, created_at, completed_at, updated_at`

func (s *SQLiteStore) InsertExecution(ctx context.Context, e *model.Execution) (bool, error) {
	var completed sql.NullString
	if e.CompletedAt != nil {
		completed = sql.NullString{String: formatTime(*e.CompletedAt), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO strategy_execution_keys (`+executionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, operation_type, idempotency_key) DO NOTHING`,
		e.ID, e.TenantID, e.CampaignID, e.OperationType, e.IdempotencyKey, e.InputHash,
		e.VersionFingerprint, string(e.Status), e.OutputHash, e.OutputPayload,
		formatTime(e.CreatedAt), completed, formatTime(e.UpdatedAt),
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert execution")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) GetExecutionByKey(ctx context.Context, tenantID, operationType, key string) (*model.Execution, error) {
	var e model.Execution
	var status, created, updated string
	var completed sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM strategy_execution_keys
		WHERE tenant_id = ? AND operation_type = ? AND idempotency_key = ?`,
		tenantID, operationType, key,
	).Scan(&e.ID, &e.TenantID, &e.CampaignID, &e.OperationType, &e.IdempotencyKey, &e.InputHash,
		&e.VersionFingerprint, &status, &e.OutputHash, &e.OutputPayload, &created, &completed, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get execution")
	}
	e.Status = model.ExecutionStatus(status)
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if completed.Valid {
		t, err := parseTime(completed.String)
		if err != nil {
			return nil, err
		}
		e.CompletedAt = &t
	}
	return &e, nil
}

func (s *SQLiteStore) ResetFailedExecution(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE strategy_execution_keys SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.ExecutionPending), formatTime(now), id, string(model.ExecutionFailed),
	)
	return eris.Wrap(err, "sqlite: reset failed execution")
}

func (s *SQLiteStore) ClaimExecution(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE strategy_execution_keys SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.ExecutionRunning), formatTime(now), id, string(model.ExecutionPending),
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: claim execution")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) CompleteExecution(ctx context.Context, id, outputHash, payload string, now time.Time) (bool, error) {
	ts := formatTime(now)
	res, err := s.db.ExecContext(ctx,
		`UPDATE strategy_execution_keys
		SET status = ?, output_hash = ?, output_payload = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(model.ExecutionCompleted), outputHash, payload, ts, ts,
		id, string(model.ExecutionRunning), string(model.ExecutionCompleted),
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: complete execution")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) FailExecution(ctx context.Context, id, payload string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE strategy_execution_keys SET status = ?, output_payload = ?, updated_at = ? WHERE id = ?`,
		string(model.ExecutionFailed), payload, formatTime(now), id,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: fail execution")
	}
	return checkRowsAffected(res, "execution", id)
}

func (s *SQLiteStore) FailStaleExecutions(ctx context.Context, cutoff time.Time, limit int, payload string, now time.Time) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin fail stale executions")
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM strategy_execution_keys WHERE status = ? AND updated_at < ?
		ORDER BY updated_at, id LIMIT ?`,
		string(model.ExecutionRunning), formatTime(cutoff), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: select stale executions")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "sqlite: scan stale execution")
		}
		ids = append(ids, id)
	}
	rows.Close() //nolint:errcheck
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate stale executions")
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE strategy_execution_keys SET status = ?, output_payload = ?, updated_at = ? WHERE id = ?`,
			string(model.ExecutionFailed), payload, formatTime(now), id,
		); err != nil {
			return nil, eris.Wrapf(err, "sqlite: fail stale execution %s", id)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit fail stale executions")
	}
	return ids, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
