// Package queue implements admission control for background work: token
// buckets, a weighted fair scheduler, starvation scoring and a controller
// that chains them into one decision per job.
package queue

import (
	"math"

	"github.com/rotisserie/eris"
)

// TokenBucketState is the full state of a token bucket. Epochs are Unix
// seconds.
type TokenBucketState struct {
	Capacity            int     `json:"capacity"`
	RefillRatePerSecond float64 `json:"refill_rate_per_second"`
	Tokens              float64 `json:"tokens"`
	LastRefillEpoch     int64   `json:"last_refill_epoch"`
}

// TokenBucket refills lazily on each consume.
type TokenBucket struct {
	state TokenBucketState
}

// NewTokenBucket creates a bucket from state.
func NewTokenBucket(state TokenBucketState) *TokenBucket {
	return &TokenBucket{state: state}
}

// State returns a copy of the bucket state.
func (b *TokenBucket) State() TokenBucketState {
	return b.state
}

// Refill adds elapsed seconds times the refill rate, capped at capacity.
// A clock that has not moved forward is ignored.
func (b *TokenBucket) Refill(nowEpoch int64) {
	if nowEpoch <= b.state.LastRefillEpoch {
		return
	}
	elapsed := float64(nowEpoch - b.state.LastRefillEpoch)
	b.state.Tokens = math.Min(float64(b.state.Capacity), b.state.Tokens+elapsed*b.state.RefillRatePerSecond)
	b.state.LastRefillEpoch = nowEpoch
}

// TryConsume refills and then takes amount tokens if available.
func (b *TokenBucket) TryConsume(nowEpoch int64, amount float64) (bool, error) {
	if amount <= 0 {
		return false, eris.Errorf("queue: consume amount must be greater than zero, got %v", amount)
	}
	b.Refill(nowEpoch)
	if b.state.Tokens < amount {
		return false, nil
	}
	b.state.Tokens -= amount
	return true, nil
}
