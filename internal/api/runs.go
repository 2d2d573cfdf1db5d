package api

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/JakeFAU/billboard-chart-crawler/internal/chart"
	"github.com/JakeFAU/billboard-chart-crawler/internal/orchestrator"
)

// Run states.
const (
	runRunning   = "running"
	runSucceeded = "succeeded"
	runFailed    = "failed"
)

type runState struct {
	mu         sync.RWMutex
	id         string
	kind       string
	start      time.Time
	end        time.Time
	status     string
	submitted  time.Time
	finished   time.Time
	report     orchestrator.Report
	err        error
	isFinished bool
}

func (r *runState) finish(now time.Time, report orchestrator.Report, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = now
	r.report = report
	r.err = err
	r.isFinished = true
	if err != nil {
		r.status = runFailed
	} else {
		r.status = runSucceeded
	}
}

type unitView struct {
	ChartID string `json:"chart_id"`
	Date    string `json:"date"`
	Status  string `json:"status"`
	Stage   string `json:"stage,omitempty"`
	Rows    int    `json:"rows"`
	Error   string `json:"error,omitempty"`
}

type runView struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	Start     string     `json:"start"`
	End       string     `json:"end"`
	Status    string     `json:"status"`
	Submitted time.Time  `json:"submitted_at"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	BatchID   string     `json:"batch_id,omitempty"`
	Succeeded int        `json:"succeeded"`
	Units     []unitView `json:"units,omitempty"`
	Published bool       `json:"published"`
	Note      string     `json:"note,omitempty"`
	Halted    bool       `json:"halted"`
	Error     string     `json:"error,omitempty"`
}

func (r *runState) view() runView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v := runView{
		ID:        r.id,
		Kind:      r.kind,
		Start:     chart.FormatDate(r.start),
		End:       chart.FormatDate(r.end),
		Status:    r.status,
		Submitted: r.submitted,
	}
	if r.isFinished {
		finished := r.finished
		v.Finished = &finished
	}
	if r.err != nil {
		v.Error = r.err.Error()
	}
	if !r.isFinished {
		return v
	}
	v.BatchID = r.report.RunID
	v.Succeeded = r.report.Succeeded()
	v.Published = r.report.Published
	v.Note = r.report.Note
	v.Halted = r.report.Halted
	for _, u := range r.report.Units {
		uv := unitView{
			ChartID: u.ChartID,
			Date:    chart.FormatDate(u.Date),
			Status:  u.Status,
			Stage:   u.Stage,
			Rows:    u.Rows,
		}
		if u.Err != nil {
			uv.Error = u.Err.Error()
		}
		v.Units = append(v.Units, uv)
	}
	return v
}

// runRegistry keeps the most recent runs; the oldest are evicted first.
type runRegistry struct {
	runs *lru.Cache[string, *runState]
}

func newRunRegistry(size int) (*runRegistry, error) {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, *runState](size)
	if err != nil {
		return nil, err
	}
	return &runRegistry{runs: cache}, nil
}

func (r *runRegistry) add(run *runState) {
	r.runs.Add(run.id, run)
}

func (r *runRegistry) get(id string) (*runState, bool) {
	return r.runs.Get(id)
}
