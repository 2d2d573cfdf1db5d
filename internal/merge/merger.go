// Package merge folds weekly chart snapshots into their historical datasets.
//
// Merges are append-only: rows already in the historical dataset are never
// reordered, rewritten or deduplicated, so merging the same week twice
// duplicates its rows. Callers that run several weeks of the same chart
// concurrently must serialize merges per historical key (see Locks).
package merge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/billboard-chart-crawler/internal/chart"
	"github.com/JakeFAU/billboard-chart-crawler/internal/metrics"
)

// Merger performs the read-append-write cycle against a BlobStore.
type Merger struct {
	store  chart.BlobStore
	logger *zap.Logger
}

// New builds a Merger.
func New(store chart.BlobStore, logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{store: store, logger: logger}
}

// Merge appends the snapshot's entries to the dataset stored at historicalKey
// and writes the result back to the same key.
func (m *Merger) Merge(ctx context.Context, historicalKey string, snap chart.Snapshot) (chart.Dataset, error) {
	return m.MergeRows(ctx, snap.ChartID, historicalKey, snap.Rows())
}

// MergeFromKey appends the weekly snapshot previously stored at weeklyKey.
func (m *Merger) MergeFromKey(ctx context.Context, chartID, historicalKey, weeklyKey string) (chart.Dataset, error) {
	data, err := m.store.Get(ctx, weeklyKey)
	if err != nil {
		metrics.ObserveMerge(chartID, "read_error", 0)
		return chart.Dataset{}, &chart.MergeError{ChartID: chartID, Key: weeklyKey, Op: "read weekly", Err: err}
	}
	return m.MergeRows(ctx, chartID, historicalKey, chart.Decode(data))
}

// MergeRows appends weekly, whose first row is its header, to the dataset at
// historicalKey. Nothing is written unless the read and validation succeed.
func (m *Merger) MergeRows(ctx context.Context, chartID, historicalKey string, weekly [][]string) (chart.Dataset, error) {
	fail := func(op string, err error) (chart.Dataset, error) {
		metrics.ObserveMerge(chartID, op, 0)
		return chart.Dataset{}, &chart.MergeError{ChartID: chartID, Key: historicalKey, Op: op, Err: err}
	}

	incoming, err := chart.SplitHeader(weekly)
	if err != nil {
		return fail("validate weekly", err)
	}
	for i, row := range incoming {
		if err := chart.CheckRow(row); err != nil {
			return fail("validate weekly", fmt.Errorf("row %d %w", i+1, err))
		}
	}

	dataset, err := m.Load(ctx, historicalKey)
	if err != nil {
		if chart.IsCredentials(err) {
			metrics.ObserveMerge(chartID, "read", 0)
			return chart.Dataset{}, err
		}
		var mergeErr *chart.MergeError
		if errors.As(err, &mergeErr) {
			mergeErr.ChartID = chartID
			metrics.ObserveMerge(chartID, mergeErr.Op, 0)
			return chart.Dataset{}, mergeErr
		}
		return fail("read", err)
	}

	for _, row := range incoming {
		dataset.Rows = append(dataset.Rows, append([]string(nil), row...))
	}

	if err := m.store.Put(ctx, historicalKey, chart.Encode(dataset.Rows)); err != nil {
		if chart.IsCredentials(err) {
			metrics.ObserveMerge(chartID, "write", 0)
			return chart.Dataset{}, err
		}
		return fail("write", err)
	}

	metrics.ObserveMerge(chartID, "ok", len(incoming))
	m.logger.Info("merged weekly rows",
		zap.String("chart_id", chartID),
		zap.String("key", historicalKey),
		zap.Int("appended", len(incoming)),
		zap.Int("total_rows", dataset.DataRows()),
	)
	return dataset, nil
}

// Load reads the dataset at key. A missing or empty blob yields a dataset
// holding only the header row.
func (m *Merger) Load(ctx context.Context, key string) (chart.Dataset, error) {
	data, err := m.store.Get(ctx, key)
	if errors.Is(err, chart.ErrNotFound) {
		m.logger.Info("historical dataset not found, starting new", zap.String("key", key))
		return chart.NewDataset(key), nil
	}
	if err != nil {
		return chart.Dataset{}, err
	}
	rows := chart.Decode(data)
	if len(rows) == 0 {
		return chart.NewDataset(key), nil
	}
	if err := chart.ValidateHeader(rows[0]); err != nil {
		return chart.Dataset{}, &chart.MergeError{Key: key, Op: "validate header", Err: err}
	}
	return chart.Dataset{Key: key, Rows: rows}, nil
}
