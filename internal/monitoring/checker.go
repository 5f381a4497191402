package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/strategy-cli/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates collected metrics on an interval and delivers alerts.
// An alert whose Key was delivered within the cooldown is reported but not
// sent again.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewChecker creates a Checker. A non-positive check interval falls back to
// five minutes.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		cooldown:  time.Duration(cfg.AlertCooldownSecs) * time.Second,
		now:       time.Now,
		lastSent:  make(map[string]time.Time),
	}
}

// Run checks once immediately and then on every tick until ctx ends.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker", zap.Duration("interval", c.interval))

	if ctx.Err() == nil {
		c.Check(ctx, log)
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx, log)
		}
	}
}

// Check collects one snapshot and evaluates it. It returns every alert that
// fired, including ones suppressed by the cooldown.
func (c *Checker) Check(ctx context.Context, log *zap.Logger) []Alert {
	snap, err := c.collector.Collect(ctx)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return nil
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return nil
	}

	due := c.due(alerts)
	sent := c.alerter.SendAlerts(ctx, due)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_suppressed", len(alerts)-len(due)),
		zap.Int("alerts_sent", sent),
	)
	return alerts
}

// due filters out alerts still inside their cooldown and stamps the rest.
func (c *Checker) due(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var out []Alert
	for _, a := range alerts {
		key := a.Key()
		if last, ok := c.lastSent[key]; ok && now.Sub(last) < c.cooldown {
			continue
		}
		c.lastSent[key] = now
		out = append(out, a)
	}
	return out
}
