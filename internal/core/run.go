package core

import "time"

// RunPhase indicates the current stage of an import run.
type RunPhase string

const (
	PhaseIdle          RunPhase = "idle"
	PhaseConnecting    RunPhase = "connecting"
	PhaseAuthenticated RunPhase = "authenticated"
	PhaseIterating     RunPhase = "iterating"
	PhaseSubmitting    RunPhase = "submitting"
	PhaseAdvancing     RunPhase = "advancing"
	PhaseCompleted     RunPhase = "completed"
	PhaseAborted       RunPhase = "aborted"
	PhaseCancelled     RunPhase = "cancelled"
)

// Terminal reports whether no further transitions follow.
func (p RunPhase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseAborted || p == PhaseCancelled
}

// RunProgress represents the current state of a run.
type RunProgress struct {
	RunID    string   `json:"runId"`
	TargetID string   `json:"targetId"`
	Phase    RunPhase `json:"phase"`
	Current  int      `json:"current"`
	Total    int      `json:"total"`
	Ref      string   `json:"ref,omitempty"`

	// Cursor is the resume position after the current record.
	Cursor Cursor `json:"cursor"`

	Submitted int    `json:"submitted"`
	Skipped   int    `json:"skipped"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Percent returns the progress as a percentage (0-100).
func (p RunProgress) Percent() int {
	if p.Total > 0 {
		return (p.Current * 100) / p.Total
	}
	if p.Phase == PhaseCompleted {
		return 100
	}
	return 0
}

// RunResult contains the final result of a run.
type RunResult struct {
	RunID    string   `json:"runId"`
	TargetID string   `json:"targetId"`
	Phase    RunPhase `json:"phase"`
	DryRun   bool     `json:"dryRun"`

	// Range is the resolved range; Resume is the cursor a later run starts from.
	Range  Range  `json:"-"`
	Resume Cursor `json:"resume"`

	Total     int `json:"total"`
	Processed int `json:"processed"`
	Mapped    int `json:"mapped"`
	Submitted int `json:"submitted"`
	Skipped   int `json:"skipped"`

	// Failed is the reference of the record in flight when the run stopped.
	Failed string `json:"failed,omitempty"`

	NoData    bool          `json:"noData"`
	Summary   string        `json:"summary"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// ProgressFunc is called after every record and on phase changes.
type ProgressFunc func(RunProgress)

// StatusFunc receives human-readable status lines.
type StatusFunc func(message string)

// RunOptions controls a single run.
type RunOptions struct {
	RunID string

	// Range overrides the stored cursor (Start) and the source default (End).
	Range Range

	// DryRun reads and maps records without submitting or persisting progress.
	DryRun bool

	OnProgress ProgressFunc
	OnStatus   StatusFunc
}
