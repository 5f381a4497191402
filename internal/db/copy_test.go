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

var snapshotCols = []string{"id", "campaign_id", "metric_name", "metric_value"}

type point struct {
	id, campaign, metric string
	value                float64
}

func pointRow(p point) []any { return []any{p.id, p.campaign, p.metric, p.value} }

func TestCopyRows_Empty(t *testing.T) {
	n, err := CopyRows[point](context.TODO(), nil, "temporal_snapshots", snapshotCols, nil, pointRow)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyRows_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"temporal_snapshots"}, snapshotCols).WillReturnResult(2)

	pts := []point{{"s1", "c1", "avg_position", 4.2}, {"s2", "c1", "avg_position", 4.1}}
	n, err := CopyRows(context.Background(), mock, "temporal_snapshots", snapshotCols, pts, pointRow)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyRows_SchemaQualified(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"strategy", "temporal_snapshots"}, snapshotCols).WillReturnResult(1)

	n, err := CopyRows(context.Background(), mock, "strategy.temporal_snapshots", snapshotCols, []point{{"s1", "c1", "ctr", 0.1}}, pointRow)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyRows_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"temporal_snapshots"}, snapshotCols).WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyRows(context.Background(), mock, "temporal_snapshots", snapshotCols, []point{{"s1", "c1", "ctr", 0.1}}, pointRow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db: copy temporal_snapshots")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTx_RollsBackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE recommendations").WillReturnError(fmt.Errorf("boom"))
	mock.ExpectRollback()

	err = InTx(context.Background(), mock, func(tx pgx.Tx) error {
		_, err := tx.Exec(context.Background(), "UPDATE recommendations SET status = $1", "ARCHIVED")
		return err
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTx_Commits(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE recommendations").WithArgs("ARCHIVED").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = InTx(context.Background(), mock, func(tx pgx.Tx) error {
		_, err := tx.Exec(context.Background(), "UPDATE recommendations SET status = $1", "ARCHIVED")
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
