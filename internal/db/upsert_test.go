package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "recommendations",
		Columns:      []string{"id", "status"},
		ConflictKeys: []string{"id"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "recommendations",
		ConflictKeys: []string{"id"},
	}, [][]any{{"r1", "GENERATED"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:   "recommendations",
		Columns: []string{"id", "status"},
	}, [][]any{{"r1", "GENERATED"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"id", "status"}
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_recommendations"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_recommendations"}, cols).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "recommendations"`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "recommendations",
		Columns:      cols,
		ConflictKeys: []string{"id"},
	}, [][]any{{"r1", "GENERATED"}, {"r2", "VALIDATED"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"strategy.campaigns", `"strategy"."campaigns"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, identifier(tt.input).Sanitize())
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"id", "name", "value"})
	assert.Equal(t, `"id", "name", "value"`, result)
}

func TestMergeSQL(t *testing.T) {
	tests := []struct {
		name string
		cfg  UpsertConfig
		want string
	}{
		{
			name: "all non-key columns",
			cfg:  UpsertConfig{Table: "recommendations", Columns: []string{"id", "status"}, ConflictKeys: []string{"id"}},
			want: `INSERT INTO "recommendations" ("id", "status") SELECT "id", "status" FROM "_tmp_upsert_recommendations" ON CONFLICT ("id") DO UPDATE SET "status" = EXCLUDED."status"`,
		},
		{
			name: "keys only",
			cfg:  UpsertConfig{Table: "campaigns", Columns: []string{"id"}, ConflictKeys: []string{"id"}},
			want: `INSERT INTO "campaigns" ("id") SELECT "id" FROM "_tmp_upsert_campaigns" ON CONFLICT ("id") DO NOTHING`,
		},
		{
			name: "skip unchanged",
			cfg: UpsertConfig{
				Table: "strategy.recommendations", Columns: []string{"id", "status", "rationale"},
				ConflictKeys: []string{"id"}, UpdateCols: []string{"status"}, SkipUnchanged: true,
			},
			want: `INSERT INTO "strategy"."recommendations" ("id", "status", "rationale") SELECT "id", "status", "rationale" FROM "_tmp_upsert_strategy_recommendations" ON CONFLICT ("id") DO UPDATE SET "status" = EXCLUDED."status" WHERE ("strategy"."recommendations"."status") IS DISTINCT FROM (EXCLUDED."status")`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.mergeSQL())
		})
	}
}

func TestBulkUpsert_MergeError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"id", "status"}
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_recommendations"}, cols).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "recommendations"`).WillReturnError(fmt.Errorf("unique violation"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "recommendations",
		Columns:      cols,
		ConflictKeys: []string{"id"},
	}, [][]any{{"r1", "GENERATED"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db: upsert: merge into recommendations")
	assert.NoError(t, mock.ExpectationsWereMet())
}
