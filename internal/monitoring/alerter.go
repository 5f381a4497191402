package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/strategy-cli/internal/config"
	"github.com/sells-group/strategy-cli/internal/queue"
	"github.com/sells-group/strategy-cli/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertReplayFailureRate AlertType = "replay_failure_rate"
	AlertQueueStarvation   AlertType = "queue_starvation"
	AlertSystemicDrift     AlertType = "systemic_drift"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Key identifies the condition an alert reports. Starvation alerts are keyed
// per queue.
func (a Alert) Key() string {
	if q, ok := a.Details["queue"].(string); ok {
		return string(a.Type) + ":" + q
	}
	return string(a.Type)
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  resilience.ScheduleRetryConfig(resilience.IsTransient, 500*time.Millisecond, 2*time.Second),
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Replay failure rate, once enough runs have accumulated.
	rate := snap.Observability.ReplayFailureRate()
	if snap.Observability.ReplayRuns >= a.cfg.MinReplayRuns && snap.Observability.ReplayRuns > 0 &&
		rate > a.cfg.ReplayFailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertReplayFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Replay failure rate %.1f%% exceeds threshold %.1f%% (%d drifted / %d runs)",
				rate*100, a.cfg.ReplayFailureRateThreshold*100,
				snap.Observability.ReplayFailures, snap.Observability.ReplayRuns,
			),
			Details: map[string]any{
				"failure_rate": rate,
				"threshold":    a.cfg.ReplayFailureRateThreshold,
				"failures":     snap.Observability.ReplayFailures,
				"runs":         snap.Observability.ReplayRuns,
			},
			Timestamp: now,
		})
	}

	// Critically starved queues, one alert per queue in name order.
	queues := make([]string, 0, len(snap.Starvation))
	for q := range snap.Starvation {
		queues = append(queues, q)
	}
	sort.Strings(queues)
	for _, q := range queues {
		s := snap.Starvation[q]
		if s.Level != queue.LevelCritical {
			continue
		}
		alerts = append(alerts, Alert{
			Type:     AlertQueueStarvation,
			Severity: "high",
			Message:  fmt.Sprintf("Queue %s is starved (score %.2f)", q, s.Score),
			Details: map[string]any{
				"queue":            q,
				"starvation_score": s.Score,
				"level":            s.Level,
			},
			Timestamp: now,
		})
	}

	if snap.Drift.Detected {
		alerts = append(alerts, Alert{
			Type:     AlertSystemicDrift,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%.0f%% of %d campaigns have negative momentum",
				snap.Drift.NegativeRatio*100, snap.CampaignsSampled,
			),
			Details: map[string]any{
				"negative_ratio": snap.Drift.NegativeRatio,
				"campaigns":      snap.CampaignsSampled,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.sendWebhook(ctx, alert)
		})
		if err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode >= 500:
		return resilience.NewTransientError(
			eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode),
			fmt.Sprint(resp.StatusCode))
	case resp.StatusCode >= 400:
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
