package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyRows streams items into table with the COPY protocol, encoding each
// one with row. Append-only series such as temporal snapshots load this way.
func CopyRows[T any](ctx context.Context, pool Pool, table string, columns []string, items []T, row func(T) []any) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}

	src := pgx.CopyFromSlice(len(items), func(i int) ([]any, error) {
		vals := row(items[i])
		if len(vals) != len(columns) {
			return nil, eris.Errorf("db: copy %s: row %d has %d values, want %d", table, i, len(vals), len(columns))
		}
		return vals, nil
	})

	n, err := pool.CopyFrom(ctx, identifier(table), columns, src)
	if err != nil {
		return 0, eris.Wrapf(err, "db: copy %s", table)
	}
	return n, nil
}
