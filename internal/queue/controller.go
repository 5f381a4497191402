package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/strategy-cli/internal/observability"
)

// Admission reason codes. Each step of the chain rejects with its own code.
const (
	ReasonShadowReplayDisabled = "shadow_replay_disabled"
	ReasonStarvationThrottle   = "starvation_throttle"
	ReasonRateLimited          = "token_bucket_exhausted"
	ReasonCriticalQueueLag     = "critical_queue_lag"
	ReasonDispatched           = "dispatched"
	ReasonDeferred             = "deferred"
)

// ShadowReplayQueue is the queue shadow replay jobs are submitted to.
const ShadowReplayQueue = "shadow_replay_queue"

// Workload queues watched for backpressure.
var workloadQueues = map[string]string{
	"crawl":   "crawl_queue",
	"content": "content_queue",
}

// ControllerConfig configures admission control.
type ControllerConfig struct {
	BackpressureEnabled   bool
	BackpressureThreshold int64
	ShadowReplayEnabled   bool
	// ShadowBackpressureDisable turns shadow replay off while the crawl or
	// content queue is backpressured.
	ShadowBackpressureDisable bool
	TargetWait                time.Duration
	CriticalQueues            []string
	CriticalLag               time.Duration
	TenantWeights             []TenantWeight
	BucketCapacity            int
	BucketRefillPerSecond     float64
}

// Decision is the outcome of one admission.
type Decision struct {
	Admitted bool   `json:"admitted"`
	Reason   string `json:"reason"`
	// Dispatched is the job the scheduler released. Under fair scheduling it
	// can belong to another tenant than the submitted job.
	Dispatched *Job `json:"dispatched,omitempty"`
}

// Controller holds the admission state for one process: per-tenant token
// buckets, the fair scheduler and the last observed queue waits. One mutex
// guards all of it.
type Controller struct {
	cfg     ControllerConfig
	probe   DepthProbe
	metrics *observability.Metrics

	mu        sync.Mutex
	buckets   map[string]*TokenBucket
	scheduler *FairScheduler
	waits     map[string]time.Duration
	critical  map[string]bool
}

// NewController creates a Controller. probe may be nil when backpressure is
// disabled.
func NewController(cfg ControllerConfig, probe DepthProbe, metrics *observability.Metrics) (*Controller, error) {
	weights := cfg.TenantWeights
	if len(weights) == 0 {
		weights = []TenantWeight{{TenantID: "default", Weight: 1}}
	}
	sched, err := NewFairScheduler(weights)
	if err != nil {
		return nil, err
	}
	if cfg.TargetWait <= 0 {
		return nil, eris.New("queue: target wait must be greater than zero")
	}
	if cfg.BucketCapacity <= 0 {
		return nil, eris.New("queue: bucket capacity must be greater than zero")
	}
	critical := make(map[string]bool, len(cfg.CriticalQueues))
	for _, q := range cfg.CriticalQueues {
		critical[q] = true
	}
	return &Controller{
		cfg:       cfg,
		probe:     probe,
		metrics:   metrics,
		buckets:   map[string]*TokenBucket{},
		scheduler: sched,
		waits:     map[string]time.Duration{},
		critical:  critical,
	}, nil
}

// TenantWeightsFromMap orders a weight map by tenant id so the scheduler's
// visiting order is stable.
func TenantWeightsFromMap(m map[string]int) []TenantWeight {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]TenantWeight, len(ids))
	for i, id := range ids {
		out[i] = TenantWeight{TenantID: id, Weight: m[id]}
	}
	return out
}

// ObserveWait records the oldest job wait currently seen on a queue.
func (c *Controller) ObserveWait(queueName string, maxWait time.Duration) {
	c.mu.Lock()
	c.waits[queueName] = maxWait
	c.mu.Unlock()
}

// BackpressureActive reports whether the queue behind workload is deeper than
// the threshold. Unknown workloads and unknown depths are not backpressured.
// Errors other than an unknown depth are returned alongside false.
func (c *Controller) BackpressureActive(ctx context.Context, workload string) (bool, error) {
	if !c.cfg.BackpressureEnabled || c.probe == nil {
		return false, nil
	}
	queueName, ok := workloadQueues[workload]
	if !ok {
		return false, nil
	}
	depth, err := c.probe.Depth(ctx, queueName)
	if err != nil {
		if eris.Is(err, ErrDepthUnknown) {
			return false, nil
		}
		return false, err
	}
	return depth > c.cfg.BackpressureThreshold, nil
}

// ShadowReplayAllowed is the global shadow replay gate. It fails closed when
// backpressure cannot be evaluated.
func (c *Controller) ShadowReplayAllowed(ctx context.Context) bool {
	if !c.cfg.ShadowReplayEnabled {
		return false
	}
	if !c.cfg.ShadowBackpressureDisable {
		return true
	}
	for _, workload := range []string{"crawl", "content"} {
		active, err := c.BackpressureActive(ctx, workload)
		if err != nil {
			zap.L().Warn("queue: shadow replay gate failed closed",
				zap.String("workload", workload),
				zap.Error(err),
			)
			return false
		}
		if active {
			return false
		}
	}
	return true
}

// Admit runs job through the admission chain: shadow replay kill switch,
// starvation throttle of non-critical queues, the tenant token bucket,
// critical queue lag and finally fair-scheduler dispatch.
func (c *Controller) Admit(ctx context.Context, job Job, now time.Time) (Decision, error) {
	if job.Cost <= 0 {
		job.Cost = 1
	}
	if job.QueueName == ShadowReplayQueue && !c.ShadowReplayAllowed(ctx) {
		return c.reject(ReasonShadowReplayDisabled), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	isCritical := c.critical[job.QueueName]
	if !isCritical {
		starving, err := c.criticalStarvingLocked()
		if err != nil {
			return Decision{}, err
		}
		if starving {
			return c.reject(ReasonStarvationThrottle), nil
		}
	}

	bucket, ok := c.buckets[job.TenantID]
	if !ok {
		bucket = NewTokenBucket(TokenBucketState{
			Capacity:            c.cfg.BucketCapacity,
			RefillRatePerSecond: c.cfg.BucketRefillPerSecond,
			Tokens:              float64(c.cfg.BucketCapacity),
			LastRefillEpoch:     now.Unix(),
		})
		c.buckets[job.TenantID] = bucket
	}
	allowed, err := bucket.TryConsume(now.Unix(), float64(job.Cost))
	if err != nil {
		return Decision{}, err
	}
	if !allowed {
		return c.reject(ReasonRateLimited), nil
	}

	if isCritical && c.cfg.CriticalLag > 0 && c.waits[job.QueueName] > c.cfg.CriticalLag {
		return c.reject(ReasonCriticalQueueLag), nil
	}

	c.scheduler.Enqueue(job)
	next, ok := c.scheduler.Next()
	if !ok {
		c.metrics.RecordAdmission(false, ReasonDeferred)
		return Decision{Admitted: false, Reason: ReasonDeferred}, nil
	}
	c.metrics.RecordAdmission(true, ReasonDispatched)
	return Decision{Admitted: true, Reason: ReasonDispatched, Dispatched: &next}, nil
}

// criticalStarvingLocked reports whether any critical queue is at the
// critical starvation level.
func (c *Controller) criticalStarvingLocked() (bool, error) {
	for _, q := range c.cfg.CriticalQueues {
		status, err := EvaluateStarvation(c.waits[q].Seconds(), c.cfg.TargetWait.Seconds())
		if err != nil {
			return false, err
		}
		if status.Level == LevelCritical {
			return true, nil
		}
	}
	return false, nil
}

func (c *Controller) reject(reason string) Decision {
	c.metrics.RecordAdmission(false, reason)
	return Decision{Reason: reason}
}

// Starvation evaluates every queue with an observed wait, keyed by queue.
func (c *Controller) Starvation() (map[string]StarvationStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]StarvationStatus, len(c.waits))
	for q, w := range c.waits {
		s, err := EvaluateStarvation(w.Seconds(), c.cfg.TargetWait.Seconds())
		if err != nil {
			return nil, err
		}
		out[q] = s
	}
	return out, nil
}
