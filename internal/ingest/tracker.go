package ingest

import (
	"sync"
	"sync/atomic"
	"time"
)

// Summary tallies one run.
type Summary struct {
	RunID       string    `json:"run_id"`
	Kind        string    `json:"kind"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
	Running     bool      `json:"running"`
	Requested   int64     `json:"requested"`
	Fetched     int64     `json:"fetched"`
	Normalized  int64     `json:"normalized"`
	Failed      int64     `json:"failed"`
	Votes       int64     `json:"votes"`
	Memberships int64     `json:"memberships"`
}

// Tracker exposes the live tally of the current or last run. It is safe
// for concurrent use by the pipeline and the ops API.
type Tracker struct {
	mu         sync.RWMutex
	runID      string
	kind       string
	startedAt  time.Time
	finishedAt time.Time
	running    bool

	requested   atomic.Int64
	fetched     atomic.Int64
	normalized  atomic.Int64
	failed      atomic.Int64
	votes       atomic.Int64
	memberships atomic.Int64
}

// NewTracker returns an idle Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) start(runID, kind string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runID, t.kind, t.startedAt, t.finishedAt, t.running = runID, kind, at, time.Time{}, true
	t.requested.Store(0)
	t.fetched.Store(0)
	t.normalized.Store(0)
	t.failed.Store(0)
	t.votes.Store(0)
	t.memberships.Store(0)
}

func (t *Tracker) finish(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finishedAt, t.running = at, false
}

// Current returns the tally and false when no run has started yet.
func (t *Tracker) Current() (Summary, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.runID == "" {
		return Summary{}, false
	}
	return Summary{
		RunID:       t.runID,
		Kind:        t.kind,
		StartedAt:   t.startedAt,
		FinishedAt:  t.finishedAt,
		Running:     t.running,
		Requested:   t.requested.Load(),
		Fetched:     t.fetched.Load(),
		Normalized:  t.normalized.Load(),
		Failed:      t.failed.Load(),
		Votes:       t.votes.Load(),
		Memberships: t.memberships.Load(),
	}, true
}
