// Package postgres provides a Postgres-backed ingestion ledger.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/billboard-chart-crawler/internal/chart"
)

const defaultTable = "chart_ingestions"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for the ledger.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Ledger records merged chart weeks in Postgres.
type Ledger struct {
	pool  pool
	table string
}

// NewLedger connects to Postgres and ensures the ledger table exists.
func NewLedger(ctx context.Context, cfg Config) (*Ledger, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	ledger, err := NewLedgerWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := ledger.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return ledger, nil
}

// NewLedgerWithPool constructs a ledger from an existing pool (primarily for testing).
func NewLedgerWithPool(p pool, table string) (*Ledger, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Ledger{pool: p, table: table}, nil
}

// EnsureSchema creates the ledger table when it is missing.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id      TEXT        NOT NULL,
	chart_id    TEXT        NOT NULL,
	chart_date  DATE        NOT NULL,
	weekly_key  TEXT        NOT NULL,
	row_count   INTEGER     NOT NULL,
	checksum    TEXT        NOT NULL,
	ingested_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (chart_id, chart_date, run_id)
)`, l.table)
	if _, err := l.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create ledger table: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (l *Ledger) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

// Record inserts one ingestion row.
func (l *Ledger) Record(ctx context.Context, ingestion chart.Ingestion) error {
	if ingestion.ChartID == "" {
		return fmt.Errorf("chart id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	chart_id,
	chart_date,
	weekly_key,
	row_count,
	checksum,
	ingested_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)`, l.table)
	args := []any{
		ingestion.RunID,
		ingestion.ChartID,
		ingestion.Date,
		ingestion.WeeklyKey,
		ingestion.Rows,
		ingestion.Checksum,
		ingestion.IngestedAt,
	}
	if _, err := l.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert ingestion: %w", err)
	}
	return nil
}

// Has reports whether any run merged the chart week.
func (l *Ledger) Has(ctx context.Context, chartID string, date time.Time) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE chart_id = $1 AND chart_date = $2)`, l.table)
	var exists bool
	if err := l.pool.QueryRow(ctx, query, chartID, date).Scan(&exists); err != nil {
		return false, fmt.Errorf("query ingestion: %w", err)
	}
	return exists, nil
}
