package orchestrator

import "time"

// Unit statuses.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Stages a unit can fail in.
const (
	StageLedger  = "ledger"
	StageFetch   = "fetch"
	StageExtract = "extract"
	StageUpload  = "upload"
	StageMerge   = "merge"
)

// UnitOutcome describes what happened to one chart week.
type UnitOutcome struct {
	ChartID   string
	Date      time.Time
	Status    string
	Stage     string
	Rows      int
	Skipped   int
	WeeklyKey string
	Err       error
}

// Report summarizes one batch.
type Report struct {
	RunID        string
	Units        []UnitOutcome
	Materialized []string
	Note         string
	Published    bool
	// Halted is set when a credentials failure stopped the batch early.
	Halted bool
}

// Succeeded counts the units that merged.
func (r Report) Succeeded() int {
	n := 0
	for _, u := range r.Units {
		if u.Status == StatusOK {
			n++
		}
	}
	return n
}

// Failed returns the units that failed, in processing order.
func (r Report) Failed() []UnitOutcome {
	var out []UnitOutcome
	for _, u := range r.Units {
		if u.Status == StatusFailed {
			out = append(out, u)
		}
	}
	return out
}
