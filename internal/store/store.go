// Package store persists campaign strategy state: recommendations, temporal
// snapshots, momentum metrics, phase history, automation events and
// idempotent execution keys. SQLite backs local runs and tests; Postgres
// backs shared deployments.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/strategy-cli/internal/automation"
	"github.com/sells-group/strategy-cli/internal/idempotency"
	"github.com/sells-group/strategy-cli/internal/model"
	"github.com/sells-group/strategy-cli/internal/strategy"
)

// SchemaVersion is the schema revision Migrate records.
const SchemaVersion = "20260224_0028"

// ErrEvaluationExists is returned by CommitAutomation when an event for the
// same campaign and evaluation date is already stored.
var ErrEvaluationExists = eris.New("store: automation event already exists")

// Store defines the persistence interface for the strategy services.
type Store interface {
	idempotency.Store
	strategy.TemporalStore
	automation.Repository

	// Campaigns and recommendations
	UpsertCampaign(ctx context.Context, c *model.Campaign) error
	UpsertRecommendations(ctx context.Context, recs []model.StoredRecommendation) (int64, error)

	// Temporal snapshots
	InsertSnapshots(ctx context.Context, snaps []model.TemporalSnapshot) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Compile-time checks.
var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// tsLayout is fixed width so lexical order matches chronological order in
// TEXT columns.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "store: parse timestamp %q", s)
	}
	return t.UTC(), nil
}

func statusStrings(statuses []model.RecommendationStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
