package lifecycle

import (
	"sync"
	"time"

	"github.com/gftdcojp/doc-tiering/internal/config"
	"github.com/gftdcojp/doc-tiering/internal/meta"
	"github.com/gftdcojp/doc-tiering/internal/tier"
)

// Pass triggers.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerAPI      = "api"
	TriggerNATS     = "nats"
)

// Skip reasons.
const (
	SkipInFlight      = "in_flight"
	SkipCopyPending   = "copy_pending"
	SkipSourceMissing = "source_missing"
	SkipInterrupted   = "interrupted"
)

// MoveEntry records a completed (or partially completed) tier move.
type MoveEntry struct {
	Name    string    `json:"name"`
	From    tier.Tier `json:"from"`
	To      tier.Tier `json:"to"`
	Reason  string    `json:"reason"`
	Partial bool      `json:"partial,omitempty"`
}

// ReconcileEntry records a duplicate copy removed from a tier.
type ReconcileEntry struct {
	Name   string    `json:"name"`
	Tier   tier.Tier `json:"tier"`
	Reason string    `json:"reason"`
}

type SkipEntry struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type ErrorEntry struct {
	Name      string `json:"name"`
	Operation string `json:"operation"`
	Error     string `json:"error"`
}

// Report is the result of one tiering pass. Workers append to it concurrently;
// once RunPass returns it is no longer written to.
type Report struct {
	mu sync.Mutex

	ID          string                  `json:"id"`
	Trigger     string                  `json:"trigger"`
	Now         time.Time               `json:"now"`
	StartedAt   time.Time               `json:"started_at"`
	FinishedAt  time.Time               `json:"finished_at"`
	Thresholds  config.ThresholdsConfig `json:"thresholds"`
	Moved       []MoveEntry             `json:"moved"`
	Archived    []MoveEntry             `json:"archived"`
	Deleted     []string                `json:"deleted"`
	Reconciled  []ReconcileEntry        `json:"reconciled"`
	Skipped     []SkipEntry             `json:"skipped"`
	Errors      []ErrorEntry            `json:"errors"`
	Kept        int                     `json:"kept"`
	Interrupted bool                    `json:"interrupted"`
}

func (r *Report) addMove(e MoveEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.To == tier.TierArchive {
		r.Archived = append(r.Archived, e)
		return
	}
	r.Moved = append(r.Moved, e)
}

func (r *Report) addDeleted(name string) {
	r.mu.Lock()
	r.Deleted = append(r.Deleted, name)
	r.mu.Unlock()
}

func (r *Report) addReconciled(e ReconcileEntry) {
	r.mu.Lock()
	r.Reconciled = append(r.Reconciled, e)
	r.mu.Unlock()
}

func (r *Report) addSkip(name, reason string) {
	r.mu.Lock()
	r.Skipped = append(r.Skipped, SkipEntry{Name: name, Reason: reason})
	r.mu.Unlock()
}

func (r *Report) addError(name, op string, err error) {
	r.mu.Lock()
	r.Errors = append(r.Errors, ErrorEntry{Name: name, Operation: op, Error: err.Error()})
	r.mu.Unlock()
}

func (r *Report) addKept() {
	r.mu.Lock()
	r.Kept++
	r.mu.Unlock()
}

// Record summarizes the report for the pass history.
func (r *Report) Record(passErr error) meta.PassRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := meta.PassRecord{
		ID:          r.ID,
		Trigger:     r.Trigger,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		Moved:       len(r.Moved),
		Archived:    len(r.Archived),
		Deleted:     len(r.Deleted),
		Reconciled:  len(r.Reconciled),
		Skipped:     len(r.Skipped),
		Kept:        r.Kept,
		Errors:      len(r.Errors),
		Interrupted: r.Interrupted,
	}
	if passErr != nil {
		rec.Err = passErr.Error()
	}
	return rec
}

// SkippedFor returns the skip reason recorded for name, if any.
func (r *Report) SkippedFor(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.Skipped {
		if s.Name == name {
			return s.Reason, true
		}
	}
	return "", false
}
