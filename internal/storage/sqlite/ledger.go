// Package sqlite provides a single-file ingestion ledger for local runs.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/JakeFAU/billboard-chart-crawler/internal/chart"
)

const schema = `
CREATE TABLE IF NOT EXISTS chart_ingestions (
	run_id      TEXT    NOT NULL,
	chart_id    TEXT    NOT NULL,
	chart_date  TEXT    NOT NULL,
	weekly_key  TEXT    NOT NULL,
	row_count   INTEGER NOT NULL,
	checksum    TEXT    NOT NULL,
	ingested_at TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS chart_ingestions_week ON chart_ingestions (chart_id, chart_date);`

// Ledger records merged chart weeks in a SQLite file.
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database at path.
func Open(ctx context.Context, path string) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record inserts one ingestion row.
func (l *Ledger) Record(ctx context.Context, ingestion chart.Ingestion) error {
	if ingestion.ChartID == "" {
		return fmt.Errorf("chart id is required")
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO chart_ingestions (run_id, chart_id, chart_date, weekly_key, row_count, checksum, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ingestion.RunID,
		ingestion.ChartID,
		chart.FormatDate(ingestion.Date),
		ingestion.WeeklyKey,
		ingestion.Rows,
		ingestion.Checksum,
		ingestion.IngestedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert ingestion: %w", err)
	}
	return nil
}

// Has reports whether any run merged the chart week.
func (l *Ledger) Has(ctx context.Context, chartID string, date time.Time) (bool, error) {
	var exists bool
	err := l.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM chart_ingestions WHERE chart_id = ? AND chart_date = ?)`,
		chartID, chart.FormatDate(date),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query ingestion: %w", err)
	}
	return exists, nil
}

// count returns the number of recorded ingestions for chartID.
func (l *Ledger) count(ctx context.Context, chartID string) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chart_ingestions WHERE chart_id = ?`, chartID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count ingestions: %w", err)
	}
	return n, nil
}
