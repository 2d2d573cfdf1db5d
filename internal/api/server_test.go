package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/billboard-chart-crawler/internal/chart"
	"github.com/JakeFAU/billboard-chart-crawler/internal/clock/system"
	"github.com/JakeFAU/billboard-chart-crawler/internal/config"
	"github.com/JakeFAU/billboard-chart-crawler/internal/orchestrator"
)

type fakeRunner struct {
	mu        sync.Mutex
	runs      []time.Time
	backfills [][2]time.Time
	report    orchestrator.Report
	err       error
	block     chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, date time.Time) (orchestrator.Report, error) {
	f.mu.Lock()
	f.runs = append(f.runs, date)
	f.mu.Unlock()
	return f.wait(ctx)
}

func (f *fakeRunner) Backfill(ctx context.Context, start, end time.Time) (orchestrator.Report, error) {
	f.mu.Lock()
	f.backfills = append(f.backfills, [2]time.Time{start, end})
	f.mu.Unlock()
	return f.wait(ctx)
}

func (f *fakeRunner) wait(ctx context.Context) (orchestrator.Report, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return orchestrator.Report{}, ctx.Err()
		}
	}
	return f.report, f.err
}

func (f *fakeRunner) calls() ([]time.Time, [][2]time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.runs...), append([][2]time.Time(nil), f.backfills...)
}

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if len(f.ids) == 0 {
		return "", errors.New("no ids left")
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

func newTestServer(t *testing.T, runner Runner, ids ...string) *Server {
	t.Helper()
	return newTestServerWithConfig(t, runner, config.Config{}, ids...)
}

func newTestServerWithConfig(t *testing.T, runner Runner, cfg config.Config, ids ...string) *Server {
	t.Helper()
	clock := system.Fixed(time.Date(2024, 1, 10, 2, 0, 0, 0, time.UTC))
	srv, err := NewServer(runner, &fakeIDGen{ids: ids}, clock, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func fetchRun(t *testing.T, srv *Server, id string) runView {
	t.Helper()
	rec := do(t, srv, http.MethodGet, "/v1/runs/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var v runView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeRunner{})
	rec := do(t, srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, srv, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ReadyzAfterClose(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeRunner{})
	srv.Close()
	rec := do(t, srv, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = do(t, srv, http.MethodPost, "/v1/runs", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeRunner{})
	rec := do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_SubmitRunDefaultsToToday(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{report: orchestrator.Report{
		RunID: "batch-1",
		Units: []orchestrator.UnitOutcome{
			{ChartID: "hot-100", Date: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), Status: orchestrator.StatusOK, Rows: 100},
		},
		Published: true,
		Note:      "Updated on 2024-01-10",
	}}
	srv := newTestServer(t, runner, "run-1")

	rec := do(t, srv, http.MethodPost, "/v1/runs", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "run-1")

	srv.Wait()
	runs, _ := runner.calls()
	require.Equal(t, []time.Time{time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)}, runs)

	v := fetchRun(t, srv, "run-1")
	assert.Equal(t, runSucceeded, v.Status)
	assert.Equal(t, "run", v.Kind)
	assert.Equal(t, "2024-01-10", v.Start)
	assert.Equal(t, "batch-1", v.BatchID)
	assert.Equal(t, 1, v.Succeeded)
	assert.True(t, v.Published)
	assert.NotNil(t, v.Finished)
	require.Len(t, v.Units, 1)
	assert.Equal(t, "hot-100", v.Units[0].ChartID)
	assert.Equal(t, 100, v.Units[0].Rows)
}

func TestServer_SubmitRunExplicitDate(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	srv := newTestServer(t, runner, "run-2")

	rec := do(t, srv, http.MethodPost, "/v1/runs", `{"date":"2023-12-30"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	srv.Wait()

	runs, _ := runner.calls()
	require.Len(t, runs, 1)
	require.Equal(t, "2023-12-30", chart.FormatDate(runs[0]))
}

func TestServer_SubmitRunValidation(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeRunner{}, "unused")

	rec := do(t, srv, http.MethodPost, "/v1/runs", `{"date":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/v1/runs", `{"date":"01/06/2024"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "YYYY-MM-DD")
}

func TestServer_SubmitRunIDFailure(t *testing.T) {
	t.Parallel()

	clock := system.Fixed(time.Unix(0, 0))
	srv, err := NewServer(&fakeRunner{}, &fakeIDGen{err: errors.New("entropy")}, clock, config.Config{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	rec := do(t, srv, http.MethodPost, "/v1/runs", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_RunReportsFailure(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: &chart.CredentialsError{Backend: "minio", Err: errors.New("access denied")}}
	srv := newTestServer(t, runner, "run-3")

	rec := do(t, srv, http.MethodPost, "/v1/runs", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	srv.Wait()

	v := fetchRun(t, srv, "run-3")
	assert.Equal(t, runFailed, v.Status)
	assert.Contains(t, v.Error, "access denied")
}

func TestServer_RunInProgress(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{block: make(chan struct{})}
	srv := newTestServer(t, runner, "run-4")

	rec := do(t, srv, http.MethodPost, "/v1/runs", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	v := fetchRun(t, srv, "run-4")
	require.Equal(t, runRunning, v.Status)
	require.Nil(t, v.Finished)

	close(runner.block)
	require.Eventually(t, func() bool {
		return fetchRun(t, srv, "run-4").Status == runSucceeded
	}, time.Second, 10*time.Millisecond)
}

func TestServer_CloseCancelsRuns(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{block: make(chan struct{})}
	srv := newTestServer(t, runner, "run-5")

	rec := do(t, srv, http.MethodPost, "/v1/runs", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	srv.Close()

	v := fetchRun(t, srv, "run-5")
	require.Equal(t, runFailed, v.Status)
	require.Contains(t, v.Error, context.Canceled.Error())
}

func TestServer_SubmitBackfill(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	srv := newTestServer(t, runner, "bf-1")

	rec := do(t, srv, http.MethodPost, "/v1/backfills", `{"start":"2024-01-06","end":"2024-01-20"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	srv.Wait()

	_, backfills := runner.calls()
	require.Len(t, backfills, 1)
	require.Equal(t, "2024-01-06", chart.FormatDate(backfills[0][0]))
	require.Equal(t, "2024-01-20", chart.FormatDate(backfills[0][1]))

	v := fetchRun(t, srv, "bf-1")
	require.Equal(t, "backfill", v.Kind)
	require.Equal(t, "2024-01-20", v.End)
}

func TestServer_SubmitBackfillValidation(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeRunner{}, "unused")
	cases := map[string]string{
		"bad json": `{`,
		"no start": `{"end":"2024-01-20"}`,
		"bad end":  `{"start":"2024-01-06","end":"soon"}`,
		"reversed": `{"start":"2024-01-20","end":"2024-01-06"}`,
	}
	for name, body := range cases {
		rec := do(t, srv, http.MethodPost, "/v1/backfills", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestServer_GetRunNotFound(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeRunner{})
	rec := do(t, srv, http.MethodGet, "/v1/runs/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Server: config.ServerConfig{APIKey: "secret"}}
	srv := newTestServerWithConfig(t, &fakeRunner{}, cfg, "run-6")

	rec := do(t, srv, http.MethodPost, "/v1/runs", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", nil)
	req.Header.Set("X-API-Key", "secret")
	ok := httptest.NewRecorder()
	srv.Handler().ServeHTTP(ok, req)
	require.Equal(t, http.StatusAccepted, ok.Code)

	// Probes stay open.
	rec = do(t, srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRunRegistryEvictsOldest(t *testing.T) {
	t.Parallel()

	reg, err := newRunRegistry(2)
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c"} {
		reg.add(&runState{id: id, status: runRunning})
	}
	_, ok := reg.get("a")
	require.False(t, ok)
	_, ok = reg.get("c")
	require.True(t, ok)
}
