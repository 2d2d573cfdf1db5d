package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/billboard-chart-crawler/internal/chart"
)

func TestRecordInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewLedgerWithPool(mock, "ingestions")
	require.NoError(t, err)

	now := time.Unix(1704931200, 0).UTC()
	rec := chart.Ingestion{
		RunID:      "run-1",
		ChartID:    "hot-100",
		Date:       time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC),
		WeeklyKey:  "hot-100/2024/01/06/result.csv",
		Rows:       100,
		Checksum:   "abc123",
		IngestedAt: now,
	}

	mock.ExpectExec("INSERT INTO ingestions").
		WithArgs(rec.RunID, rec.ChartID, rec.Date, rec.WeeklyKey, rec.Rows, rec.Checksum, rec.IngestedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, ledger.Record(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPropagatesError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewLedgerWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO chart_ingestions").
		WillReturnError(errors.New("connection lost"))

	err = ledger.Record(context.Background(), chart.Ingestion{ChartID: "hot-100"})
	require.ErrorContains(t, err, "connection lost")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRequiresChartID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewLedgerWithPool(mock, "")
	require.NoError(t, err)
	require.Error(t, ledger.Record(context.Background(), chart.Ingestion{}))
}

func TestHasQueriesExistence(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewLedgerWithPool(mock, "")
	require.NoError(t, err)

	date := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("hot-100", date).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := ledger.Has(context.Background(), "hot-100", date)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewLedgerWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS chart_ingestions").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, ledger.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewLedgerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewLedgerWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewLedgerWithPool(mock, "drop table;")
	require.Error(t, err)

	_, err = NewLedger(context.Background(), Config{})
	require.Error(t, err)
}
