package tasks

import (
	"sync"
	"time"
)

// Outcome classifies how a task ended within a run.
type Outcome string

const (
	OutcomeDone    Outcome = "done"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// TaskReport is the record of one task within a run.
type TaskReport struct {
	Task     string        `json:"task"`
	Outcome  Outcome       `json:"outcome"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Report accumulates task outcomes in completion order.
type Report struct {
	mu      sync.RWMutex
	runID   string
	release string
	started time.Time
	entries []TaskReport
}

func newReport(runID, release string, started time.Time) *Report {
	return &Report{runID: runID, release: release, started: started}
}

func (r *Report) add(entry TaskReport) {
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
}

// RunID identifies the run.
func (r *Report) RunID() string {
	return r.runID
}

// Release names the release directory the run targets.
func (r *Report) Release() string {
	return r.release
}

// Started is when the runner was created.
func (r *Report) Started() time.Time {
	return r.started
}

// Entries returns a copy of every recorded task outcome.
func (r *Report) Entries() []TaskReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TaskReport, len(r.entries))
	copy(out, r.entries)
	return out
}

// Outcome returns the recorded outcome for task.
func (r *Report) Outcome(task string) (Outcome, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.Task == task {
			return e.Outcome, true
		}
	}
	return "", false
}

// Failed reports whether any task failed.
func (r *Report) Failed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.Outcome == OutcomeFailed {
			return true
		}
	}
	return false
}
