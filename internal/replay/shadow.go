package replay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/sells-group/strategy-cli/internal/canonical"
	"github.com/sells-group/strategy-cli/internal/observability"
)

// ShouldSampleShadow buckets key into one of 10,000 slots by SHA-256 and
// samples it when the slot falls under ratePercent*100. The answer for a
// given key and rate never changes.
func ShouldSampleShadow(key string, ratePercent float64) (bool, error) {
	if ratePercent <= 0 {
		return false, nil
	}
	if ratePercent > 100 {
		return false, eris.Errorf("replay: sample rate %v must be <= 100", ratePercent)
	}
	sum := sha256.Sum256([]byte(key))
	prefix, err := strconv.ParseUint(hex.EncodeToString(sum[:4]), 16, 64)
	if err != nil {
		return false, eris.Wrap(err, "replay: bucket digest")
	}
	return int(prefix%10_000) < int(ratePercent*100), nil
}

// Executor recomputes the output for a case.
type Executor interface {
	Execute(ctx context.Context, c Case) (map[string]any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, c Case) (map[string]any, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, c Case) (map[string]any, error) {
	return f(ctx, c)
}

// AdmissionGate reports whether shadow work may run right now.
type AdmissionGate interface {
	ShadowReplayAllowed(ctx context.Context) bool
}

// ShadowConfig tunes a ShadowRunner.
type ShadowConfig struct {
	SampleRatePercent float64
	MaxConcurrency    int
	// MaxPerSecond caps executions started per second. Zero disables the
	// limit.
	MaxPerSecond float64
}

// ShadowRunner re-executes sampled live cases and emits drift.
type ShadowRunner struct {
	cfg      ShadowConfig
	gate     AdmissionGate
	executor Executor
	emitter  observability.Emitter
	metrics  *observability.Metrics
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	now      func() time.Time
}

// NewShadowRunner creates a runner. A nil emitter discards drift events.
func NewShadowRunner(cfg ShadowConfig, gate AdmissionGate, executor Executor, emitter observability.Emitter, metrics *observability.Metrics) (*ShadowRunner, error) {
	if cfg.SampleRatePercent > 100 {
		return nil, eris.Errorf("replay: sample rate %v must be <= 100", cfg.SampleRatePercent)
	}
	if gate == nil || executor == nil {
		return nil, eris.New("replay: shadow runner needs a gate and an executor")
	}
	if emitter == nil {
		emitter = observability.NopEmitter{}
	}
	limit := rate.Inf
	if cfg.MaxPerSecond > 0 {
		limit = rate.Limit(cfg.MaxPerSecond)
	}
	return &ShadowRunner{
		cfg:      cfg,
		gate:     gate,
		executor: executor,
		emitter:  emitter,
		metrics:  metrics,
		sem:      semaphore.NewWeighted(int64(max(1, cfg.MaxConcurrency))),
		limiter:  rate.NewLimiter(limit, 1),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run executes c when the gate admits shadow work and the case is sampled.
// It returns the drift found, or nil when the case was skipped. Executor
// errors are returned as is. A cancelled context aborts before any drift
// is emitted.
func (r *ShadowRunner) Run(ctx context.Context, c Case) ([]DriftEvent, error) {
	if !r.gate.ShadowReplayAllowed(ctx) {
		return nil, nil
	}
	sampled, err := ShouldSampleShadow(c.StableKey(), r.cfg.SampleRatePercent)
	if err != nil || !sampled {
		return nil, err
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "replay: shadow rate limit")
	}
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrap(err, "replay: shadow concurrency slot")
	}
	actual, err := r.executor.Execute(ctx, c)
	r.sem.Release(1)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "replay: shadow run cancelled")
	}

	events, err := compareCase(c, actual, r.now(), false)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ev := range events {
		ev := ev
		g.Go(func() error {
			observability.SafeEmit(observability.EventDrift, func() {
				r.emitter.Drift(gctx, toObservation(ev))
			})
			return nil
		})
	}
	_ = g.Wait()

	r.metrics.RecordReplay(len(events) > 0)
	if len(events) > 0 {
		zap.L().Info("replay: shadow drift detected",
			zap.String("case_id", c.CaseID),
			zap.Int("drift_events", len(events)),
		)
	}
	return events, nil
}

// compareCase checks actual against the case's expected output on the hash,
// ordering and confidence band axes, in that order. withSignature adds the
// per-position ordering signature ahead of the band check.
func compareCase(c Case, actual map[string]any, now time.Time, withSignature bool) ([]DriftEvent, error) {
	expected, _ := StripVolatile(c.ExpectedOutput).(map[string]any)
	got, _ := StripVolatile(actual).(map[string]any)

	newEvent := func(driftType string, e, a any) DriftEvent {
		return DriftEvent{
			CaseID:     c.CaseID,
			TenantID:   c.TenantID,
			CampaignID: c.CampaignID,
			DriftType:  driftType,
			Expected:   e,
			Actual:     a,
			DetectedAt: now,
		}
	}

	var events []DriftEvent
	match, eh, ah, err := CompareHashes(expected, got)
	if err != nil {
		return nil, err
	}
	if !match {
		diff, err := DiffPayload(expected, got)
		if err != nil {
			return nil, err
		}
		ev := newEvent(DriftHash, eh, ah)
		ev.Diff = &diff
		events = append(events, ev)
	}
	if ok, e, a := CompareOrdering(expected, got); !ok {
		events = append(events, newEvent(DriftOrdering, e, a))
	}
	if withSignature {
		e, err := canonical.ToJSON(orderingSignature(expected))
		if err != nil {
			return nil, eris.Wrap(err, "replay: expected ordering signature")
		}
		a, err := canonical.ToJSON(orderingSignature(got))
		if err != nil {
			return nil, eris.Wrap(err, "replay: actual ordering signature")
		}
		if string(e) != string(a) {
			events = append(events, newEvent(DriftOrdering, string(e), string(a)))
		}
	}
	if ok, e, a := CompareConfidenceBands(expected, got); !ok {
		events = append(events, newEvent(DriftConfidenceBand, e, a))
	}
	return events, nil
}

func toObservation(ev DriftEvent) observability.Drift {
	out := observability.Drift{
		CaseID:    ev.CaseID,
		DriftType: ev.DriftType,
		Expected:  observedString(ev.Expected),
		Actual:    observedString(ev.Actual),
	}
	if ev.Diff != nil {
		out.Diff = *ev.Diff
	}
	return out
}

func observedString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []string:
		return "[" + strings.Join(t, ",") + "]"
	default:
		raw, err := canonical.ToJSON(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
