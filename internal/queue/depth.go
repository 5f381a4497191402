package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/strategy-cli/internal/resilience"
)

// DefaultProbeTimeout bounds a single queue-depth read.
const DefaultProbeTimeout = 200 * time.Millisecond

// ErrDepthUnknown is returned when a depth read failed or timed out. Callers
// treat it as "no signal" rather than as an outage.
var ErrDepthUnknown = eris.New("queue: depth unknown")

// DepthProbe reports the number of jobs waiting in a named queue.
type DepthProbe interface {
	Depth(ctx context.Context, queueName string) (int64, error)
}

// RedisDepthProbe reads list lengths from Redis behind a circuit breaker.
// Individual failures surface as ErrDepthUnknown; once the breaker opens
// calls fail fast with resilience.ErrCircuitOpen.
type RedisDepthProbe struct {
	client  redis.Cmdable
	breaker *resilience.CircuitBreaker
	timeout time.Duration
}

// NewRedisDepthProbe creates a probe. A nil breaker gets the default config.
func NewRedisDepthProbe(client redis.Cmdable, breaker *resilience.CircuitBreaker) *RedisDepthProbe {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	}
	return &RedisDepthProbe{client: client, breaker: breaker, timeout: DefaultProbeTimeout}
}

// NewRedisDepthProbeFromURL parses a redis:// URL and creates a probe.
func NewRedisDepthProbeFromURL(url string, breaker *resilience.CircuitBreaker) (*RedisDepthProbe, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, eris.Wrap(err, "queue: parse redis url")
	}
	client := redis.NewClient(opts)
	return NewRedisDepthProbe(client, breaker), client, nil
}

// Depth implements DepthProbe with LLEN.
func (p *RedisDepthProbe) Depth(ctx context.Context, queueName string) (int64, error) {
	depth, err := resilience.ExecuteVal(ctx, p.breaker, func(ctx context.Context) (int64, error) {
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return p.client.LLen(ctx, queueName).Result()
	})
	if err == nil {
		return depth, nil
	}
	if eris.Is(err, resilience.ErrCircuitOpen) || eris.Is(err, resilience.ErrProbeInFlight) {
		return 0, err
	}
	zap.L().Debug("queue: depth probe failed",
		zap.String("queue", queueName),
		zap.Error(err),
	)
	return 0, eris.Wrapf(ErrDepthUnknown, "queue: llen %s", queueName)
}
