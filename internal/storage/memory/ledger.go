package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/billboard-chart-crawler/internal/chart"
)

// Ledger records ingestions in memory.
type Ledger struct {
	mu      sync.RWMutex
	records []chart.Ingestion
	index   map[string]struct{}
}

// NewLedger constructs an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{index: make(map[string]struct{})}
}

// Record appends an ingestion.
func (l *Ledger) Record(_ context.Context, ingestion chart.Ingestion) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, ingestion)
	l.index[ledgerKey(ingestion.ChartID, ingestion.Date)] = struct{}{}
	return nil
}

// Has reports whether the chart week was recorded.
func (l *Ledger) Has(_ context.Context, chartID string, date time.Time) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.index[ledgerKey(chartID, date)]
	return ok, nil
}

// Records returns a copy of every recorded ingestion.
func (l *Ledger) Records() []chart.Ingestion {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]chart.Ingestion, len(l.records))
	copy(out, l.records)
	return out
}

func ledgerKey(chartID string, date time.Time) string {
	return chartID + "|" + chart.FormatDate(date)
}
