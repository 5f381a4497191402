package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// TransientError marks an error as safe to retry.
type TransientError struct {
	Err error
	// Code is an optional machine-readable cause, such as a SQLSTATE.
	Code string
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as transient.
func NewTransientError(err error, code string) *TransientError {
	return &TransientError{Err: err, Code: code}
}

// IsTransient reports whether err (or any error in its chain) is a
// TransientError, a network timeout, a dropped connection, or a retryable
// database conflict.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	if IsRetryableDB(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"i/o timeout",
		"no such host",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// retryableSQLStates are deadlock_detected and serialization_failure.
var retryableSQLStates = map[string]bool{
	"40P01": true,
	"40001": true,
}

// IsRetryableDB reports whether err is a database conflict that succeeds
// when replayed: deadlocks, serialization failures and SQLite busy locks.
func IsRetryableDB(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && retryableSQLStates[pgErr.Code] {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "serialization") ||
		strings.Contains(msg, "database is locked")
}
