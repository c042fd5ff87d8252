package manager

import (
	"time"

	"mercator-hq/ilm/pkg/lifecycle/journal"
)

// CycleResult summarizes one lifecycle cycle.
type CycleResult struct {
	RunID    string          `json:"run_id"`
	At       time.Time       `json:"at"`
	Duration time.Duration   `json:"duration_ns"`
	Entries  []journal.Entry `json:"entries"`

	Applied int `json:"applied"`
	Already int `json:"already"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	DryRun  int `json:"dry_run"`
	Purged  int `json:"purged"`
}

func (r *CycleResult) add(e journal.Entry) {
	r.Entries = append(r.Entries, e)
	switch e.Status {
	case journal.StatusApplied:
		r.Applied++
	case journal.StatusAlreadyRolled, journal.StatusAlreadyDeleted:
		r.Already++
	case journal.StatusFailed:
		r.Failed++
	case journal.StatusSkipped:
		r.Skipped++
	case journal.StatusDryRun:
		r.DryRun++
	}
}

// Status is "success" when every action went through and "partial"
// otherwise.
func (r CycleResult) Status() string {
	if r.Failed > 0 || r.Skipped > 0 {
		return "partial"
	}
	return "success"
}
