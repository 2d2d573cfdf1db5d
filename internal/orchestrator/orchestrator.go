// Package orchestrator drives chart weeks through fetch, extract, merge,
// local materialization and publish.
package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"text/template"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/billboard-chart-crawler/internal/chart"
	"github.com/JakeFAU/billboard-chart-crawler/internal/extract"
	"github.com/JakeFAU/billboard-chart-crawler/internal/merge"
	"github.com/JakeFAU/billboard-chart-crawler/internal/metrics"
	"github.com/JakeFAU/billboard-chart-crawler/internal/scheduler"
	"github.com/JakeFAU/billboard-chart-crawler/internal/telemetry"
)

// DefaultVersionNote is used when no template is configured.
const DefaultVersionNote = "Updated on {{.Date}}"

// ChartSpec names a chart and the key of its historical dataset.
type ChartSpec struct {
	ID            string
	HistoricalKey string
}

// Key returns the historical key, defaulting to {id}/global/{id}.csv.
func (c ChartSpec) Key() string {
	if c.HistoricalKey != "" {
		return c.HistoricalKey
	}
	return chart.HistoricalKey(c.ID, "")
}

// Config controls a batch.
type Config struct {
	BaseURL string
	Charts  []ChartSpec
	// LocalDir receives a copy of every historical dataset; empty disables
	// materialization and publishing.
	LocalDir     string
	VersionNote  string
	SkipIngested bool
}

// Deps are the collaborators a batch runs against. Ledger and Publisher may be nil.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Extractor *extract.Extractor
	Store     chart.BlobStore
	Merger    *merge.Merger
	Ledger    chart.Ledger
	Publisher chart.Publisher
	Hasher    chart.Hasher
	Clock     chart.Clock
	IDs       chart.IDGenerator
	Logger    *zap.Logger
}

// Orchestrator runs batches. It is safe for concurrent use; merges into the
// same historical dataset are serialized across batches.
type Orchestrator struct {
	cfg      Config
	deps     Deps
	note     *template.Template
	locks    *merge.Locks
	duration metric.Float64Histogram
}

// noteData is the template context for version notes.
type noteData struct {
	Date  string
	RunID string
}

// New validates cfg and builds an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	if len(cfg.Charts) == 0 {
		return nil, errors.New("at least one chart is required")
	}
	if deps.Scheduler == nil || deps.Extractor == nil || deps.Store == nil || deps.Merger == nil {
		return nil, errors.New("scheduler, extractor, store and merger are required")
	}
	if deps.Hasher == nil || deps.Clock == nil || deps.IDs == nil {
		return nil, errors.New("hasher, clock and id generator are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	noteText := cfg.VersionNote
	if noteText == "" {
		noteText = DefaultVersionNote
	}
	note, err := template.New("version_note").Option("missingkey=error").Parse(noteText)
	if err != nil {
		return nil, fmt.Errorf("parse version note: %w", err)
	}
	duration, err := telemetry.Meter().Float64Histogram("chart.batch.duration",
		metric.WithDescription("Wall time of one ingestion batch."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create batch duration histogram: %w", err)
	}
	return &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		note:     note,
		locks:    merge.NewLocks(),
		duration: duration,
	}, nil
}

// Run ingests every configured chart for one logical date.
func (o *Orchestrator) Run(ctx context.Context, date time.Time) (Report, error) {
	return o.RunDates(ctx, []time.Time{date}, date)
}

// Backfill ingests every week from start to end. The version note carries end.
func (o *Orchestrator) Backfill(ctx context.Context, start, end time.Time) (Report, error) {
	if end.Before(start) {
		return Report{}, fmt.Errorf("backfill end %s is before start %s", chart.FormatDate(end), chart.FormatDate(start))
	}
	return o.RunDates(ctx, slices.Collect(Weekly(start, end)), end)
}

// RunDates ingests dates for every chart, materializes the historical
// datasets and publishes one version stamped with noteDate. Unit failures
// are reported, not returned; the error is non-nil only when the batch halts
// or publishing fails.
func (o *Orchestrator) RunDates(ctx context.Context, dates []time.Time, noteDate time.Time) (Report, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "chart.batch", trace.WithAttributes(
		attribute.Int("batch.dates", len(dates)),
		attribute.String("batch.note_date", chart.FormatDate(noteDate)),
	))
	defer span.End()
	start := time.Now()

	report, err := o.runDates(ctx, dates, noteDate)

	span.SetAttributes(
		attribute.String("run.id", report.RunID),
		attribute.Int("batch.succeeded", report.Succeeded()),
		attribute.Bool("batch.published", report.Published),
	)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch failed")
	}
	o.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
	return report, err
}

func (o *Orchestrator) runDates(ctx context.Context, dates []time.Time, noteDate time.Time) (Report, error) {
	runID, err := o.deps.IDs.NewID()
	if err != nil {
		return Report{}, fmt.Errorf("generate run id: %w", err)
	}
	report := Report{RunID: runID}
	logger := o.deps.Logger.With(zap.String("run_id", runID))

	dates = slices.Clone(dates)
	slices.SortFunc(dates, func(a, b time.Time) int { return a.Compare(b) })
	dates = slices.CompactFunc(dates, func(a, b time.Time) bool {
		return chart.FormatDate(a) == chart.FormatDate(b)
	})

	for _, spec := range o.cfg.Charts {
		units, haltErr := o.runChart(ctx, runID, spec, dates, logger)
		report.Units = append(report.Units, units...)
		if haltErr != nil {
			report.Halted = true
			logger.Error("Batch halted", zap.String("chart_id", spec.ID), zap.Error(haltErr))
			return report, haltErr
		}
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("batch canceled: %w", err)
		}

		path, err := o.materialize(ctx, spec, logger)
		if err != nil {
			if chart.IsCredentials(err) {
				report.Halted = true
				return report, err
			}
			logger.Error("Materialization failed", zap.String("chart_id", spec.ID), zap.Error(err))
			continue
		}
		if path != "" {
			report.Materialized = append(report.Materialized, path)
		}
	}

	if err := o.publish(ctx, &report, noteDate, logger); err != nil {
		return report, err
	}
	logger.Info("Batch finished",
		zap.Int("units", len(report.Units)),
		zap.Int("succeeded", report.Succeeded()),
		zap.Int("failed", len(report.Failed())),
		zap.Bool("published", report.Published),
	)
	return report, nil
}

// runChart processes every date of one chart. The returned error is set only
// for failures that must halt the batch.
func (o *Orchestrator) runChart(ctx context.Context, runID string, spec ChartSpec, dates []time.Time, logger *zap.Logger) ([]UnitOutcome, error) {
	logger = logger.With(zap.String("chart_id", spec.ID))
	var units []UnitOutcome

	pending := make([]time.Time, 0, len(dates))
	for _, date := range dates {
		skip, err := o.alreadyIngested(ctx, spec.ID, date)
		if err != nil {
			units = append(units, o.fail(spec.ID, date, "", StageLedger, err, logger))
			continue
		}
		if skip {
			logger.Info("Skipping ingested week", zap.String("date", chart.FormatDate(date)))
			metrics.ObserveUnit(spec.ID, StatusSkipped)
			units = append(units, UnitOutcome{ChartID: spec.ID, Date: date, Status: StatusSkipped})
			continue
		}
		pending = append(pending, date)
	}
	if len(pending) == 0 {
		return units, nil
	}

	for _, res := range o.deps.Scheduler.FetchAll(ctx, spec.ID, o.cfg.BaseURL, pending) {
		outcome := o.processUnit(ctx, runID, spec, res, logger)
		units = append(units, outcome)
		if chart.IsCredentials(outcome.Err) {
			return units, outcome.Err
		}
	}
	return units, nil
}

func (o *Orchestrator) alreadyIngested(ctx context.Context, chartID string, date time.Time) (bool, error) {
	if !o.cfg.SkipIngested || o.deps.Ledger == nil {
		return false, nil
	}
	return o.deps.Ledger.Has(ctx, chartID, date)
}

// processUnit runs one fetched week through extract, upload and merge.
func (o *Orchestrator) processUnit(ctx context.Context, runID string, spec ChartSpec, res scheduler.Result, logger *zap.Logger) UnitOutcome {
	dateStr := chart.FormatDate(res.Date)
	ctx, span := telemetry.Tracer().Start(ctx, "chart.unit", trace.WithAttributes(
		attribute.String("chart.id", spec.ID),
		attribute.String("chart.date", dateStr),
		attribute.String("run.id", runID),
	))
	defer span.End()

	weeklyKey := chart.WeeklyKey(spec.ID, res.Date)
	fail := func(stage string, err error) UnitOutcome {
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		return o.fail(spec.ID, res.Date, weeklyKey, stage, err, logger)
	}

	if res.Err != nil {
		return fail(StageFetch, res.Err)
	}

	extracted, err := o.deps.Extractor.Extract(res.Body, res.Date)
	if err != nil {
		return fail(StageExtract, err)
	}
	metrics.ObserveExtraction(spec.ID, len(extracted.Entries), len(extracted.Skipped))

	snap := chart.Snapshot{ChartID: spec.ID, Date: res.Date, Entries: extracted.Entries}
	weekly := chart.Encode(snap.Rows())
	if err := o.deps.Store.Put(ctx, weeklyKey, weekly); err != nil {
		return fail(StageUpload, err)
	}

	unlock := o.locks.Lock(spec.Key())
	_, err = o.deps.Merger.Merge(ctx, spec.Key(), snap)
	unlock()
	if err != nil {
		return fail(StageMerge, err)
	}

	outcome := UnitOutcome{
		ChartID:   spec.ID,
		Date:      res.Date,
		Status:    StatusOK,
		Rows:      len(snap.Entries),
		Skipped:   len(extracted.Skipped),
		WeeklyKey: weeklyKey,
	}
	o.record(ctx, runID, outcome, weekly, logger)
	metrics.ObserveUnit(spec.ID, StatusOK)
	span.SetAttributes(attribute.Int("chart.rows", outcome.Rows))
	logger.Info("Chart week ingested",
		zap.String("date", dateStr),
		zap.String("key", weeklyKey),
		zap.String("uri", o.location(weeklyKey)),
		zap.Int("rows", outcome.Rows),
		zap.Int("skipped_rows", outcome.Skipped),
	)
	return outcome
}

// record writes the ledger entry. The merge already happened, so a ledger
// failure is logged and does not fail the unit.
func (o *Orchestrator) record(ctx context.Context, runID string, u UnitOutcome, weekly []byte, logger *zap.Logger) {
	if o.deps.Ledger == nil {
		return
	}
	checksum, err := o.deps.Hasher.Hash(weekly)
	if err != nil {
		logger.Error("Failed to hash weekly snapshot", zap.String("key", u.WeeklyKey), zap.Error(err))
		return
	}
	err = o.deps.Ledger.Record(ctx, chart.Ingestion{
		RunID:      runID,
		ChartID:    u.ChartID,
		Date:       u.Date,
		WeeklyKey:  u.WeeklyKey,
		Rows:       u.Rows,
		Checksum:   checksum,
		IngestedAt: o.deps.Clock.Now(),
	})
	if err != nil {
		logger.Error("Failed to record ingestion",
			zap.String("date", chart.FormatDate(u.Date)),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) fail(chartID string, date time.Time, key, stage string, err error, logger *zap.Logger) UnitOutcome {
	metrics.ObserveUnit(chartID, StatusFailed)
	logger.Warn("Chart week failed",
		zap.String("date", chart.FormatDate(date)),
		zap.String("stage", stage),
		zap.String("key", key),
		zap.Error(err),
	)
	return UnitOutcome{
		ChartID:   chartID,
		Date:      date,
		Status:    StatusFailed,
		Stage:     stage,
		WeeklyKey: key,
		Err:       err,
	}
}

// materialize copies the chart's historical dataset into LocalDir and
// returns the local path, or "" when there is nothing to copy.
func (o *Orchestrator) materialize(ctx context.Context, spec ChartSpec, logger *zap.Logger) (string, error) {
	if o.cfg.LocalDir == "" {
		return "", nil
	}
	key := spec.Key()
	path := filepath.Join(o.cfg.LocalDir, chart.LocalName(key))
	if err := o.deps.Store.DownloadToLocal(ctx, key, path); err != nil {
		if errors.Is(err, chart.ErrNotFound) {
			logger.Info("No historical dataset to materialize", zap.String("key", key))
			return "", nil
		}
		return "", fmt.Errorf("materialize %s: %w", key, err)
	}
	logger.Info("Materialized historical dataset",
		zap.String("key", key),
		zap.String("source", o.location(key)),
		zap.String("path", path),
	)
	return path, nil
}

// locator is implemented by stores that can name the full location of a key.
type locator interface {
	URI(key string) string
}

func (o *Orchestrator) location(key string) string {
	if l, ok := o.deps.Store.(locator); ok {
		return l.URI(key)
	}
	return key
}

func (o *Orchestrator) publish(ctx context.Context, report *Report, noteDate time.Time, logger *zap.Logger) error {
	if o.deps.Publisher == nil || o.cfg.LocalDir == "" {
		return nil
	}
	if report.Succeeded() == 0 {
		logger.Info("Nothing merged, skipping publish")
		return nil
	}
	var buf bytes.Buffer
	if err := o.note.Execute(&buf, noteData{Date: chart.FormatDate(noteDate), RunID: report.RunID}); err != nil {
		return fmt.Errorf("render version note: %w", err)
	}
	report.Note = buf.String()

	if err := o.deps.Publisher.PublishVersion(ctx, o.cfg.LocalDir, report.Note); err != nil {
		metrics.ObservePublish("error")
		return fmt.Errorf("publish dataset version: %w", err)
	}
	metrics.ObservePublish("ok")
	report.Published = true
	logger.Info("Dataset version published", zap.String("note", report.Note))
	return nil
}
