package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes a merge of staged rows into Table.
type UpsertConfig struct {
	Table        string   // schema-qualified allowed
	Columns      []string // staged columns, in row order
	ConflictKeys []string // unique constraint columns
	UpdateCols   []string // nil updates every non-key column

	// SkipUnchanged leaves rows whose update columns already hold the staged
	// values untouched, so the returned count only reflects real changes.
	SkipUnchanged bool
}

func (c UpsertConfig) validate() error {
	switch {
	case len(c.Columns) == 0:
		return eris.New("db: upsert: no columns specified")
	case len(c.ConflictKeys) == 0:
		return eris.New("db: upsert: no conflict keys specified")
	}
	return nil
}

func (c UpsertConfig) updateColumns() []string {
	if c.UpdateCols != nil {
		return c.UpdateCols
	}
	keys := make(map[string]bool, len(c.ConflictKeys))
	for _, k := range c.ConflictKeys {
		keys[k] = true
	}
	var cols []string
	for _, col := range c.Columns {
		if !keys[col] {
			cols = append(cols, col)
		}
	}
	return cols
}

func (c UpsertConfig) stagingTable() string {
	return "_tmp_upsert_" + strings.ReplaceAll(c.Table, ".", "_")
}

// mergeSQL builds the INSERT ... SELECT ... ON CONFLICT statement that moves
// staged rows into the target table.
func (c UpsertConfig) mergeSQL() string {
	target := identifier(c.Table).Sanitize()
	staging := pgx.Identifier{c.stagingTable()}.Sanitize()
	cols := quoteAndJoin(c.Columns)

	updates := c.updateColumns()
	if len(updates) == 0 {
		return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO NOTHING",
			target, cols, cols, staging, quoteAndJoin(c.ConflictKeys))
	}

	set := make([]string, len(updates))
	excluded := make([]string, len(updates))
	current := make([]string, len(updates))
	for i, col := range updates {
		q := pgx.Identifier{col}.Sanitize()
		set[i] = q + " = EXCLUDED." + q
		excluded[i] = "EXCLUDED." + q
		current[i] = target + "." + q
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		target, cols, cols, staging, quoteAndJoin(c.ConflictKeys), strings.Join(set, ", "))
	if c.SkipUnchanged {
		stmt += fmt.Sprintf(" WHERE (%s) IS DISTINCT FROM (%s)",
			strings.Join(current, ", "), strings.Join(excluded, ", "))
	}
	return stmt
}

// BulkUpsert stages rows in a transaction-scoped temp table with COPY and
// merges them into the target in one statement. It returns the number of
// target rows inserted or updated.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cfg.validate(); err != nil {
		return 0, err
	}

	var affected int64
	err := InTx(ctx, pool, func(tx pgx.Tx) error {
		staging := pgx.Identifier{cfg.stagingTable()}
		create := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
			staging.Sanitize(), identifier(cfg.Table).Sanitize())
		if _, err := tx.Exec(ctx, create); err != nil {
			return eris.Wrapf(err, "db: upsert: create staging table for %s", cfg.Table)
		}

		if _, err := tx.CopyFrom(ctx, staging, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
			return eris.Wrapf(err, "db: upsert: stage rows for %s", cfg.Table)
		}

		tag, err := tx.Exec(ctx, cfg.mergeSQL())
		if err != nil {
			return eris.Wrapf(err, "db: upsert: merge into %s", cfg.Table)
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// identifier splits an optionally schema-qualified table name.
func identifier(table string) pgx.Identifier {
	return pgx.Identifier(strings.SplitN(table, ".", 2))
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
