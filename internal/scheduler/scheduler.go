// Package scheduler fetches many chart weeks under a fixed concurrency cap.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/billboard-chart-crawler/internal/chart"
	"github.com/JakeFAU/billboard-chart-crawler/internal/metrics"
)

// DefaultConcurrency is the in-flight fetch cap when none is configured.
const DefaultConcurrency = 6

// Pacer delays a request until the target host may be contacted again.
type Pacer interface {
	Wait(ctx context.Context, url string) error
}

// Config controls admission and per-fetch deadlines.
type Config struct {
	Concurrency int
	// Timeout bounds each fetch. Zero leaves only the caller's context.
	Timeout time.Duration
	Headers http.Header
}

// Result is the outcome of fetching one date. Exactly one of Body or Err is set.
type Result struct {
	Date time.Time
	URL  string
	Body []byte
	Err  *chart.FetchError
}

// Scheduler dispatches fetches in submission order with at most
// Concurrency in flight.
type Scheduler struct {
	fetcher chart.Fetcher
	pacer   Pacer
	cfg     Config
	logger  *zap.Logger
}

// New builds a Scheduler. pacer may be nil.
func New(fetcher chart.Fetcher, pacer Pacer, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		fetcher: fetcher,
		pacer:   pacer,
		cfg:     cfg,
		logger:  logger,
	}
}

// URL returns {baseURL}/{chartID}/{YYYY-MM-DD}.
func URL(baseURL, chartID string, date time.Time) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(baseURL, "/"), chartID, chart.FormatDate(date))
}

// FetchAll fetches every distinct date and returns one Result per date in
// the order first submitted. A failed date never cancels its siblings. When
// ctx ends before a date is admitted, that date fails with the context error.
func (s *Scheduler) FetchAll(ctx context.Context, chartID, baseURL string, dates []time.Time) []Result {
	dates = distinct(dates)
	results := make([]Result, len(dates))
	sem := semaphore.NewWeighted(int64(s.cfg.Concurrency))

	var wg sync.WaitGroup
	for i, date := range dates {
		// Acquire here, not in the goroutine: the semaphore queues waiters
		// FIFO, so admission follows submission order.
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(dates); j++ {
				results[j] = s.failure(chartID, baseURL, dates[j], 0, err)
			}
			break
		}
		wg.Add(1)
		go func(i int, date time.Time) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = s.fetchOne(ctx, chartID, baseURL, date)
		}(i, date)
	}
	wg.Wait()
	return results
}

func (s *Scheduler) fetchOne(ctx context.Context, chartID, baseURL string, date time.Time) Result {
	url := URL(baseURL, chartID, date)
	logger := s.logger.With(zap.String("chart_id", chartID), zap.String("date", chart.FormatDate(date)))

	if s.pacer != nil {
		if err := s.pacer.Wait(ctx, url); err != nil {
			return s.failure(chartID, baseURL, date, 0, err)
		}
	}

	fetchCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	metrics.IncFetchesInFlight()
	start := time.Now()
	resp, err := s.fetcher.Fetch(fetchCtx, chart.FetchRequest{URL: url, Headers: s.cfg.Headers})
	metrics.DecFetchesInFlight()
	elapsed := time.Since(start)

	if err != nil {
		res := s.failure(chartID, baseURL, date, resp.StatusCode, err)
		metrics.ObserveFetch(chartID, Classify(res.Err), elapsed)
		logger.Warn("Chart fetch failed", zap.String("url", url), zap.Error(err))
		return res
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		res := s.failure(chartID, baseURL, date, resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode))
		metrics.ObserveFetch(chartID, Classify(res.Err), elapsed)
		logger.Warn("Chart fetch returned error status", zap.String("url", url), zap.Int("status", resp.StatusCode))
		return res
	}

	metrics.ObserveFetch(chartID, "ok", elapsed)
	logger.Debug("Chart fetched",
		zap.String("url", url),
		zap.Int("bytes", len(resp.Body)),
		zap.Bool("cached", resp.FromCache),
		zap.Duration("duration", elapsed),
	)
	return Result{Date: date, URL: url, Body: resp.Body}
}

func (s *Scheduler) failure(chartID, baseURL string, date time.Time, status int, err error) Result {
	url := URL(baseURL, chartID, date)
	return Result{
		Date: date,
		URL:  url,
		Err: &chart.FetchError{
			ChartID:    chartID,
			Date:       date,
			URL:        url,
			StatusCode: status,
			Err:        err,
		},
	}
}

// Classify maps a fetch failure to a short metric label.
func Classify(err *chart.FetchError) string {
	if err == nil {
		return "ok"
	}
	switch {
	case err.Timeout():
		return "timeout"
	case errors.Is(err.Err, context.Canceled):
		return "canceled"
	}
	switch err.StatusCode {
	case 0:
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	default:
		return "http_status"
	}
	var opErr *net.OpError
	if errors.As(err.Err, &opErr) {
		return "connection"
	}
	return "error"
}

func distinct(dates []time.Time) []time.Time {
	seen := make(map[string]struct{}, len(dates))
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		key := chart.FormatDate(d)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, d)
	}
	return out
}
