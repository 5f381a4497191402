package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("overloaded"), ""), true},
		{"wrapped", fmt.Errorf("probe: %w", NewTransientError(errors.New("busy"), "BUSY")), true},
		{"plain", errors.New("invalid input: missing field"), false},
		{"conn reset", fmt.Errorf("write tcp: %w", syscall.ECONNRESET), true},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"timeout", &net.DNSError{Err: "timeout", IsTimeout: true}, true},
		{"message", errors.New("read: i/o timeout"), true},
		{"deadlock", &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRetryableDB(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"serialization sqlstate", fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"}), true},
		{"deadlock sqlstate", &pgconn.PgError{Code: "40P01"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505", Message: "duplicate key"}, false},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"message deadlock", errors.New("Deadlock found when trying to get lock"), true},
		{"other", errors.New("no rows in result set"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableDB(tt.err); got != tt.want {
				t.Errorf("IsRetryableDB(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
