package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/billboard-chart-crawler/internal/chart"
	"github.com/JakeFAU/billboard-chart-crawler/internal/id/uuid"
	"github.com/JakeFAU/billboard-chart-crawler/internal/orchestrator"
)

type fakeApp struct {
	today     time.Time
	report    orchestrator.Report
	err       error
	runDates  []time.Time
	backfills [][2]time.Time
	served    bool
	closed    bool
}

func (f *fakeApp) Run(_ context.Context, date time.Time) (orchestrator.Report, error) {
	f.runDates = append(f.runDates, date)
	return f.report, f.err
}

func (f *fakeApp) Backfill(_ context.Context, start, end time.Time) (orchestrator.Report, error) {
	f.backfills = append(f.backfills, [2]time.Time{start, end})
	return f.report, f.err
}

func (f *fakeApp) Serve(context.Context) error {
	f.served = true
	return nil
}

func (f *fakeApp) Today() time.Time    { return f.today }
func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }
func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

// execute runs the root command against fake. Not parallel: it swaps newApp.
func execute(t *testing.T, fake *fakeApp, args ...string) (string, error) {
	t.Helper()
	orig := newApp
	t.Cleanup(func() { newApp = orig })
	newApp = func(context.Context, string) (App, error) {
		return fake, nil
	}

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func okReport(date time.Time) orchestrator.Report {
	return orchestrator.Report{
		RunID:     "batch-1",
		Units:     []orchestrator.UnitOutcome{{ChartID: "hot-100", Date: date, Status: orchestrator.StatusOK, Rows: 100}},
		Published: true,
		Note:      "Updated on " + chart.FormatDate(date),
	}
}

func TestRunDefaultsToToday(t *testing.T) {
	today := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	fake := &fakeApp{today: today, report: okReport(today)}

	out, err := execute(t, fake, "run")
	require.NoError(t, err)
	require.Equal(t, []time.Time{today}, fake.runDates)
	require.True(t, fake.closed)
	require.Contains(t, out, "hot-100")
	require.Contains(t, out, "published: Updated on 2024-01-10")
}

func TestRunPrintsBatchStartTime(t *testing.T) {
	runID, err := uuid.New().NewID()
	require.NoError(t, err)
	started, err := uuid.StartedAt(runID)
	require.NoError(t, err)

	today := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	report := okReport(today)
	report.RunID = runID
	out, err := execute(t, &fakeApp{today: today, report: report}, "run")
	require.NoError(t, err)
	require.Contains(t, out, "batch "+runID+" started "+started.Format(time.RFC3339))
}

func TestRunWithDate(t *testing.T) {
	fake := &fakeApp{report: okReport(time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC))}

	_, err := execute(t, fake, "run", "--date", "2024-01-06")
	require.NoError(t, err)
	require.Len(t, fake.runDates, 1)
	require.Equal(t, "2024-01-06", chart.FormatDate(fake.runDates[0]))
}

func TestRunRejectsBadDate(t *testing.T) {
	fake := &fakeApp{}
	_, err := execute(t, fake, "run", "--date", "Jan 6")
	require.Error(t, err)
	require.Empty(t, fake.runDates)
}

func TestRunPropagatesBatchError(t *testing.T) {
	fake := &fakeApp{err: &chart.CredentialsError{Backend: "minio", Err: errors.New("denied")}}
	_, err := execute(t, fake, "run", "--date", "2024-01-06")
	require.Error(t, err)
	require.True(t, chart.IsCredentials(err))
}

func TestRunFailsWhenNothingIngested(t *testing.T) {
	date := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)
	fake := &fakeApp{report: orchestrator.Report{
		RunID: "batch-2",
		Units: []orchestrator.UnitOutcome{{
			ChartID: "hot-100",
			Date:    date,
			Status:  orchestrator.StatusFailed,
			Stage:   orchestrator.StageFetch,
			Err:     errors.New("status 503"),
		}},
	}}

	out, err := execute(t, fake, "run", "--date", "2024-01-06")
	require.ErrorIs(t, err, errNothingIngested)
	require.Contains(t, out, "stage=fetch")
}

func TestRunToleratesPartialFailure(t *testing.T) {
	date := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)
	report := okReport(date)
	report.Units = append(report.Units, orchestrator.UnitOutcome{
		ChartID: "billboard-200",
		Date:    date,
		Status:  orchestrator.StatusFailed,
		Stage:   orchestrator.StageExtract,
		Err:     errors.New("no rows"),
	})
	fake := &fakeApp{report: report}

	_, err := execute(t, fake, "run", "--date", "2024-01-06")
	require.NoError(t, err)
}

func TestBackfill(t *testing.T) {
	fake := &fakeApp{report: okReport(time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC))}

	_, err := execute(t, fake, "backfill", "--start", "2024-01-06", "--end", "2024-02-03")
	require.NoError(t, err)
	require.Len(t, fake.backfills, 1)
	require.Equal(t, "2024-01-06", chart.FormatDate(fake.backfills[0][0]))
	require.Equal(t, "2024-02-03", chart.FormatDate(fake.backfills[0][1]))
}

func TestBackfillRequiresRange(t *testing.T) {
	fake := &fakeApp{}
	_, err := execute(t, fake, "backfill", "--start", "2024-01-06")
	require.Error(t, err)
	require.Empty(t, fake.backfills)
}

func TestServe(t *testing.T) {
	fake := &fakeApp{}
	_, err := execute(t, fake, "serve")
	require.NoError(t, err)
	require.True(t, fake.served)
	require.True(t, fake.closed)
}

func TestInitFailure(t *testing.T) {
	orig := newApp
	t.Cleanup(func() { newApp = orig })
	newApp = func(context.Context, string) (App, error) {
		return nil, errors.New("bad config")
	}

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run"})
	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "bad config")
}
