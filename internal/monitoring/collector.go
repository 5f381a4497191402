package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/strategy-cli/internal/automation"
	"github.com/sells-group/strategy-cli/internal/model"
	"github.com/sells-group/strategy-cli/internal/observability"
	"github.com/sells-group/strategy-cli/internal/portfolio"
	"github.com/sells-group/strategy-cli/internal/queue"
)

// MetricsSnapshot holds a point-in-time view of strategy system health.
type MetricsSnapshot struct {
	Observability observability.Snapshot            `json:"observability"`
	Starvation    map[string]queue.StarvationStatus `json:"starvation"`

	// Portfolio drift over the latest momentum slope of each sampled campaign.
	Drift            portfolio.DriftResult `json:"drift"`
	CampaignsSampled int                   `json:"campaigns_sampled"`

	CollectedAt time.Time `json:"collected_at"`
}

// StarvationSource reports per-queue starvation. queue.Controller satisfies it.
type StarvationSource interface {
	Starvation() (map[string]queue.StarvationStatus, error)
}

// MomentumReader reads stored momentum metrics.
type MomentumReader interface {
	LatestMomentumMetrics(ctx context.Context, campaignID, metricName string, limit int) ([]model.MomentumMetric, error)
}

// Collector gathers metrics from process counters, admission control and
// the momentum store. Any source may be nil.
type Collector struct {
	metrics    *observability.Metrics
	starvation StarvationSource
	momentum   MomentumReader
	campaigns  []string
}

// NewCollector creates a new metrics collector. campaigns lists the
// campaign ids sampled for portfolio drift.
func NewCollector(metrics *observability.Metrics, starvation StarvationSource, momentum MomentumReader, campaigns []string) *Collector {
	return &Collector{
		metrics:    metrics,
		starvation: starvation,
		momentum:   momentum,
		campaigns:  campaigns,
	}
}

// Collect gathers a snapshot of the current metrics.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		Observability: c.metrics.Snapshot(),
		Starvation:    map[string]queue.StarvationStatus{},
		CollectedAt:   time.Now().UTC(),
	}

	if c.starvation != nil {
		st, err := c.starvation.Starvation()
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: starvation")
		}
		snap.Starvation = st
	}

	if c.momentum != nil && len(c.campaigns) > 0 {
		values := make([]float64, 0, len(c.campaigns))
		for _, id := range c.campaigns {
			rows, err := c.momentum.LatestMomentumMetrics(ctx, id, automation.MomentumMetricName, 1)
			if err != nil {
				return nil, eris.Wrapf(err, "monitoring: momentum for %s", id)
			}
			if len(rows) == 0 {
				continue
			}
			values = append(values, rows[0].Slope)
		}
		snap.CampaignsSampled = len(values)
		snap.Drift = portfolio.DetectSystemicDrift(values)
	}

	return snap, nil
}
