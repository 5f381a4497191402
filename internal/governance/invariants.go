// Package governance runs the startup invariants that must hold before a
// runtime serves traffic against a Postgres database.
package governance

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/strategy-cli/internal/db"
	"github.com/sells-group/strategy-cli/internal/store"
)

// DefaultCodeFingerprint is used when Config leaves CodeFingerprint empty.
const DefaultCodeFingerprint = "dev"

// Config selects the expected versions for one runtime.
type Config struct {
	Runtime         string
	ExpectedSchema  string
	CodeFingerprint string
	Skip            bool
}

// InvariantError is a failed startup invariant.
type InvariantError struct {
	Code    string
	Context map[string]any
}

// Error renders the failure as sorted-key JSON.
func (e *InvariantError) Error() string {
	raw, err := json.Marshal(map[string]any{
		"event":   "invariant_error",
		"code":    e.Code,
		"context": e.Context,
	})
	if err != nil {
		return "invariant_error: " + e.Code
	}
	return string(raw)
}

// IsInvariant reports whether err is an InvariantError with the given code.
func IsInvariant(err error, code string) bool {
	var ie *InvariantError
	return errors.As(err, &ie) && ie.Code == code
}

// requiredNotNull lists the columns each governed table must declare NOT NULL.
var requiredNotNull = map[string][]string{
	"strategy_execution_keys": {
		"tenant_id", "campaign_id", "operation_type", "idempotency_key",
		"input_hash", "version_fingerprint", "status",
	},
	"threshold_bundles":     {"version", "status", "checksum", "is_valid"},
	"runtime_version_locks": {"expected_schema_revision", "expected_code_fingerprint", "active"},
}

// RunStartupInvariants checks, in order: schema version, active threshold
// checksum, exactly one active valid threshold bundle, required NOT NULL
// columns and the runtime version lock. The first failure is logged and
// returned as an *InvariantError. APP_ENV=test or cfg.Skip disables the
// checks.
func RunStartupInvariants(ctx context.Context, pool db.Pool, cfg Config) error {
	if cfg.Skip || strings.EqualFold(strings.TrimSpace(os.Getenv("APP_ENV")), "test") {
		return nil
	}
	if cfg.ExpectedSchema == "" {
		cfg.ExpectedSchema = store.SchemaVersion
	}
	if cfg.CodeFingerprint == "" {
		cfg.CodeFingerprint = DefaultCodeFingerprint
	}

	c := &checker{pool: pool, cfg: cfg}
	for _, check := range []func(context.Context) error{
		c.schemaVersion,
		c.registryChecksum,
		c.activeThresholdBundle,
		c.requiredNotNull,
		c.versionLock,
	} {
		if err := check(ctx); err != nil {
			return err
		}
	}
	zap.L().Info("startup invariants passed",
		zap.String("runtime", cfg.Runtime),
		zap.String("schema", cfg.ExpectedSchema),
		zap.String("code_fingerprint", cfg.CodeFingerprint),
	)
	return nil
}

type checker struct {
	pool db.Pool
	cfg  Config
}

func (c *checker) fail(code string, ctx map[string]any) error {
	if ctx == nil {
		ctx = map[string]any{}
	}
	ctx["runtime"] = c.cfg.Runtime
	err := &InvariantError{Code: code, Context: ctx}
	zap.L().Error(err.Error(), zap.String("code", code), zap.String("runtime", c.cfg.Runtime))
	return err
}

func (c *checker) hasTable(ctx context.Context, table string) (bool, error) {
	var ok bool
	if err := c.pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&ok); err != nil {
		return false, eris.Wrapf(err, "governance: check table %s", table)
	}
	return ok, nil
}

func (c *checker) schemaVersion(ctx context.Context) error {
	ok, err := c.hasTable(ctx, "schema_version")
	if err != nil {
		return err
	}
	if !ok {
		return c.fail("schema_version_table_missing", nil)
	}
	var current pgtype.Text
	err = c.pool.QueryRow(ctx, `SELECT version_num FROM schema_version LIMIT 1`).Scan(&current)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrap(err, "governance: read schema version")
	}
	if !current.Valid || current.String != c.cfg.ExpectedSchema {
		var actual any
		if current.Valid {
			actual = current.String
		}
		return c.fail("schema_version_mismatch", map[string]any{
			"expected_schema": c.cfg.ExpectedSchema,
			"actual_schema":   actual,
		})
	}
	return nil
}

func (c *checker) registryChecksum(ctx context.Context) error {
	ok, err := c.hasTable(ctx, "threshold_bundles")
	if err != nil {
		return err
	}
	if !ok {
		return c.fail("threshold_bundles_table_missing", nil)
	}
	var checksum pgtype.Text
	err = c.pool.QueryRow(ctx,
		`SELECT checksum FROM threshold_bundles
		WHERE status = 'active'
		ORDER BY CASE WHEN activated_at IS NULL THEN 1 ELSE 0 END, activated_at DESC, created_at DESC
		LIMIT 1`,
	).Scan(&checksum)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrap(err, "governance: read active threshold checksum")
	}
	if !checksum.Valid || strings.TrimSpace(checksum.String) == "" {
		return c.fail("active_threshold_checksum_missing", nil)
	}
	return nil
}

func (c *checker) activeThresholdBundle(ctx context.Context) error {
	var n int64
	if err := c.pool.QueryRow(ctx,
		`SELECT count(*) FROM threshold_bundles WHERE status = 'active' AND is_valid = true`,
	).Scan(&n); err != nil {
		return eris.Wrap(err, "governance: count active threshold bundles")
	}
	if n != 1 {
		return c.fail("active_threshold_bundle_count_invalid", map[string]any{"active_count": n})
	}
	return nil
}

func (c *checker) requiredNotNull(ctx context.Context) error {
	tables := make([]string, 0, len(requiredNotNull))
	for t := range requiredNotNull {
		tables = append(tables, t)
	}
	slices.Sort(tables)

	for _, table := range tables {
		ok, err := c.hasTable(ctx, table)
		if err != nil {
			return err
		}
		if !ok {
			return c.fail("required_table_missing", map[string]any{"table_name": table})
		}
		nullable, err := c.columns(ctx, table)
		if err != nil {
			return err
		}

		var missing, loose []string
		for _, col := range requiredNotNull[table] {
			isNullable, found := nullable[col]
			switch {
			case !found:
				missing = append(missing, col)
			case isNullable:
				loose = append(loose, col)
			}
		}
		if len(missing) > 0 {
			slices.Sort(missing)
			return c.fail("required_columns_missing", map[string]any{"table_name": table, "missing_columns": missing})
		}
		if len(loose) > 0 {
			slices.Sort(loose)
			return c.fail("required_not_null_violation", map[string]any{"table_name": table, "nullable_columns": loose})
		}
	}
	return nil
}

// columns maps each column of table to whether it is nullable.
func (c *checker) columns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT column_name, is_nullable FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1`, table)
	if err != nil {
		return nil, eris.Wrapf(err, "governance: list columns of %s", table)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var name, isNullable string
		if err := rows.Scan(&name, &isNullable); err != nil {
			return nil, eris.Wrapf(err, "governance: scan column of %s", table)
		}
		out[name] = isNullable == "YES"
	}
	return out, eris.Wrapf(rows.Err(), "governance: iterate columns of %s", table)
}

func (c *checker) versionLock(ctx context.Context) error {
	var schema, code string
	err := c.pool.QueryRow(ctx,
		`SELECT expected_schema_revision, expected_code_fingerprint
		FROM runtime_version_locks WHERE active = true LIMIT 1`,
	).Scan(&schema, &code)
	if errors.Is(err, pgx.ErrNoRows) {
		return c.fail("runtime_version_lock_missing", nil)
	}
	if err != nil {
		return eris.Wrap(err, "governance: read runtime version lock")
	}
	if schema != c.cfg.ExpectedSchema {
		return c.fail("runtime_schema_fingerprint_mismatch", map[string]any{
			"expected_schema": c.cfg.ExpectedSchema,
			"cluster_schema":  schema,
		})
	}
	if code != c.cfg.CodeFingerprint {
		return c.fail("runtime_code_fingerprint_mismatch", map[string]any{
			"expected_code_fingerprint": c.cfg.CodeFingerprint,
			"cluster_code_fingerprint":  code,
		})
	}
	return nil
}
