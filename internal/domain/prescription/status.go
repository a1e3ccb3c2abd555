package prescription

import (
	"errors"
	"fmt"
)

// AnalysisStatus tracks a prescription through upload and analysis. It only
// moves forward; any non-terminal status may fall to FAILED.
type AnalysisStatus string

const (
	StatusPending      AnalysisStatus = "PENDING"
	StatusUploaded     AnalysisStatus = "UPLOADED"
	StatusQueued       AnalysisStatus = "QUEUED"
	StatusProcessing   AnalysisStatus = "PROCESSING"
	StatusCompleted    AnalysisStatus = "COMPLETED"
	StatusRiskDetected AnalysisStatus = "RISK_DETECTED"
	StatusFailed       AnalysisStatus = "FAILED"
)

var (
	// ErrInvalidTransition is returned for a move the state machine forbids.
	ErrInvalidTransition = errors.New("invalid analysis status transition")
	// ErrTerminal is returned when work is requested on a finished record.
	ErrTerminal = errors.New("analysis already finished")
	// ErrStaleStatus is returned by guarded updates when another writer
	// moved the record first.
	ErrStaleStatus = errors.New("analysis status changed concurrently")
)

// rank orders the statuses. UPLOADED and QUEUED are optional labels
// between PENDING and PROCESSING.
var rank = map[AnalysisStatus]int{
	StatusPending:      0,
	StatusUploaded:     1,
	StatusQueued:       2,
	StatusProcessing:   3,
	StatusCompleted:    4,
	StatusRiskDetected: 4,
	StatusFailed:       4,
}

// Valid reports whether s is a known status.
func (s AnalysisStatus) Valid() bool {
	switch s {
	case StatusPending, StatusUploaded, StatusQueued, StatusProcessing,
		StatusCompleted, StatusRiskDetected, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether analysis has finished, successfully or not.
func (s AnalysisStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRiskDetected || s == StatusFailed
}

// CanTransitionTo reports whether s may move to next. Moves are strictly
// forward; a successful outcome is reached only from PROCESSING and FAILED
// from any non-terminal status.
func (s AnalysisStatus) CanTransitionTo(next AnalysisStatus) bool {
	if !s.Valid() || !next.Valid() || s.IsTerminal() {
		return false
	}
	switch next {
	case StatusFailed:
		return true
	case StatusCompleted, StatusRiskDetected:
		return s == StatusProcessing
	}
	return rank[next] > rank[s]
}

// Transition moves p to next, or returns ErrInvalidTransition leaving p
// untouched.
func (p *Prescription) Transition(next AnalysisStatus) error {
	if !p.AnalysisStatus.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.AnalysisStatus, next)
	}
	p.AnalysisStatus = next
	return nil
}
