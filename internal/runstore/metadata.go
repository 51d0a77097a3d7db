package runstore

import "time"

// Status is the Run Metadata status field (spec.md §3.1/§4.7), the single
// source of truth for whether a run is resumable.
type Status string

const (
	StatusRunning         Status = "RUNNING"
	StatusWaitingForInput Status = "WAITING_FOR_INPUT"
	StatusInterrupted     Status = "INTERRUPTED"
	StatusCompleted       Status = "COMPLETED"
	StatusFailed          Status = "FAILED"
)

// Metadata is the Run Metadata document (spec.md §3.1).
type Metadata struct {
	RunID               string     `json:"run_id"`
	StartTime           time.Time  `json:"start_time"`
	EndTime             *time.Time `json:"end_time,omitempty"`
	AgentRef            string     `json:"agent_ref"`
	Task                string     `json:"task"`
	Status              Status     `json:"status"`
	IterationsCompleted int        `json:"iterations_completed"`
	Hostname            string     `json:"hostname"`
	PID                 int        `json:"pid"`
}

// MetadataPatch carries a sparse update applied by update_metadata. Only
// non-nil fields are merged into the stored document, matching spec.md
// §4.1's "Reads current metadata, merges the patch, writes back."
type MetadataPatch struct {
	EndTime             *time.Time
	Status              *Status
	IterationsCompleted *int
	Hostname            *string
	PID                 *int
}

func (m *Metadata) applyPatch(p MetadataPatch) {
	if p.EndTime != nil {
		m.EndTime = p.EndTime
	}
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.IterationsCompleted != nil {
		m.IterationsCompleted = *p.IterationsCompleted
	}
	if p.Hostname != nil {
		m.Hostname = *p.Hostname
	}
	if p.PID != nil {
		m.PID = *p.PID
	}
}
