// Package idempotency guards long-running operations behind a
// (tenant, operation, key) execution record so a repeated request returns
// the stored result instead of recomputing it.
package idempotency

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/strategy-cli/internal/canonical"
	"github.com/sells-group/strategy-cli/internal/model"
	"github.com/sells-group/strategy-cli/internal/resilience"
)

// ErrConflict is returned when an execution cannot proceed: the key was
// reused with a different input, another worker holds it, or it is running.
var ErrConflict = eris.New("idempotency: execution conflict")

// StaleTimeoutReason is the error recorded on executions recovered by
// RecoverStale.
const StaleTimeoutReason = "stale_running_timeout"

// Store persists execution records.
type Store interface {
	// InsertExecution inserts e unless the (tenant, operation, key) triple
	// exists. It reports whether a row was inserted.
	InsertExecution(ctx context.Context, e *model.Execution) (bool, error)
	// GetExecutionByKey returns nil when no row matches.
	GetExecutionByKey(ctx context.Context, tenantID, operationType, key string) (*model.Execution, error)
	// ResetFailedExecution moves a failed row back to pending.
	ResetFailedExecution(ctx context.Context, id string, now time.Time) error
	// ClaimExecution moves a pending row to running and reports success.
	ClaimExecution(ctx context.Context, id string, now time.Time) (bool, error)
	// CompleteExecution stores the output of a running or completed row and
	// reports whether the row was in a completable state.
	CompleteExecution(ctx context.Context, id, outputHash, payload string, now time.Time) (bool, error)
	// FailExecution marks a row failed with an error payload.
	FailExecution(ctx context.Context, id, payload string, now time.Time) error
	// FailStaleExecutions fails up to limit running rows last updated before
	// cutoff, oldest first, and returns their ids.
	FailStaleExecutions(ctx context.Context, cutoff time.Time, limit int, payload string, now time.Time) ([]string, error)
}

// Key identifies one idempotent execution.
type Key struct {
	TenantID           string
	CampaignID         string
	OperationType      string
	IdempotencyKey     string
	InputHash          string
	VersionFingerprint string
}

// RecoveryReport summarizes a stale-execution sweep.
type RecoveryReport struct {
	RecoveredCount int      `json:"recovered_count"`
	RecoveredIDs   []string `json:"recovered_execution_ids"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

// Service wraps a Store with conflict detection and a retry loop for
// transient database contention.
type Service struct {
	store Store
	retry resilience.RetryConfig
	now   func() time.Time
}

// NewService creates a Service. Store operations that fail with a
// retryable database error are replayed after 0, 50, 100 and 250ms.
func NewService(store Store) *Service {
	return &Service{
		store: store,
		retry: resilience.ScheduleRetryConfig(resilience.IsRetryableDB,
			0, 50*time.Millisecond, 100*time.Millisecond, 250*time.Millisecond),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func withRetry[T any](ctx context.Context, s *Service, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg := s.retry
	cfg.OnRetry = resilience.RetryLogger("idempotency", op)
	return resilience.DoVal(ctx, cfg, fn)
}

// GetOrCreate returns the execution for k, creating a pending one when none
// exists. The boolean reports creation. A key reused with a different input
// hash or version fingerprint is an ErrConflict.
func (s *Service) GetOrCreate(ctx context.Context, k Key) (*model.Execution, bool, error) {
	type result struct {
		exec    *model.Execution
		created bool
	}
	r, err := withRetry(ctx, s, "get_or_create", func(ctx context.Context) (result, error) {
		now := s.now()
		e := &model.Execution{
			ID:                 uuid.NewString(),
			TenantID:           k.TenantID,
			CampaignID:         k.CampaignID,
			OperationType:      k.OperationType,
			IdempotencyKey:     k.IdempotencyKey,
			InputHash:          k.InputHash,
			VersionFingerprint: k.VersionFingerprint,
			Status:             model.ExecutionPending,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		inserted, err := s.store.InsertExecution(ctx, e)
		if err != nil {
			return result{}, err
		}
		if inserted {
			return result{exec: e, created: true}, nil
		}
		existing, err := s.store.GetExecutionByKey(ctx, k.TenantID, k.OperationType, k.IdempotencyKey)
		if err != nil {
			return result{}, err
		}
		if existing == nil {
			return result{}, eris.Errorf("idempotency: execution %s vanished after conflicting insert", k.IdempotencyKey)
		}
		if existing.InputHash != k.InputHash || existing.VersionFingerprint != k.VersionFingerprint {
			return result{}, eris.Wrap(ErrConflict, "identical idempotency_key was reused with different input_hash/version_fingerprint")
		}
		return result{exec: existing}, nil
	})
	if err != nil {
		return nil, false, err
	}
	return r.exec, r.created, nil
}

// ResetFailed moves a failed execution back to pending.
func (s *Service) ResetFailed(ctx context.Context, id string) error {
	_, err := withRetry(ctx, s, "reset_failed", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.ResetFailedExecution(ctx, id, s.now())
	})
	return err
}

// Claim moves a pending execution to running. It returns ErrConflict when
// another worker got there first.
func (s *Service) Claim(ctx context.Context, id string) error {
	claimed, err := withRetry(ctx, s, "claim", func(ctx context.Context) (bool, error) {
		return s.store.ClaimExecution(ctx, id, s.now())
	})
	if err != nil {
		return err
	}
	if !claimed {
		return eris.Wrap(ErrConflict, "execution is locked by another worker")
	}
	return nil
}

// Complete stores the canonical payload and its hash.
func (s *Service) Complete(ctx context.Context, id, outputHash string, payload []byte) error {
	ok, err := withRetry(ctx, s, "complete", func(ctx context.Context) (bool, error) {
		return s.store.CompleteExecution(ctx, id, outputHash, string(payload), s.now())
	})
	if err != nil {
		return err
	}
	if !ok {
		return eris.Errorf("idempotency: execution %s state does not allow completion", id)
	}
	return nil
}

// Fail records msg as the execution's error payload.
func (s *Service) Fail(ctx context.Context, id, msg string) error {
	payload, err := errorPayload(msg)
	if err != nil {
		return err
	}
	_, err = withRetry(ctx, s, "fail", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.FailExecution(ctx, id, payload, s.now())
	})
	return err
}

// RecoverStale fails running executions that have not been touched for
// timeout.
func (s *Service) RecoverStale(ctx context.Context, timeout time.Duration, batchSize int) (*RecoveryReport, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	payload, err := errorPayload(StaleTimeoutReason)
	if err != nil {
		return nil, err
	}
	ids, err := withRetry(ctx, s, "recover_stale", func(ctx context.Context) ([]string, error) {
		now := s.now()
		return s.store.FailStaleExecutions(ctx, now.Add(-timeout), batchSize, payload, now)
	})
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		zap.L().Warn("recovered stale executions",
			zap.Int("count", len(ids)),
			zap.Strings("execution_ids", ids),
		)
	}
	if ids == nil {
		ids = []string{}
	}
	return &RecoveryReport{
		RecoveredCount: len(ids),
		RecoveredIDs:   ids,
		TimeoutSeconds: int(timeout.Seconds()),
	}, nil
}

func errorPayload(msg string) (string, error) {
	raw, err := canonical.ToJSON(map[string]any{"error": msg})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
