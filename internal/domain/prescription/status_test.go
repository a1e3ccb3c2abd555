package prescription

import (
	"errors"
	"testing"
)

var allStatuses = []AnalysisStatus{
	StatusPending, StatusUploaded, StatusQueued, StatusProcessing,
	StatusCompleted, StatusRiskDetected, StatusFailed,
}

func TestCanTransitionTo(t *testing.T) {
	allowed := map[[2]AnalysisStatus]bool{
		{StatusPending, StatusUploaded}:        true,
		{StatusPending, StatusQueued}:          true,
		{StatusPending, StatusProcessing}:      true,
		{StatusUploaded, StatusQueued}:         true,
		{StatusUploaded, StatusProcessing}:     true,
		{StatusQueued, StatusProcessing}:       true,
		{StatusProcessing, StatusCompleted}:    true,
		{StatusProcessing, StatusRiskDetected}: true,
		{StatusPending, StatusFailed}:          true,
		{StatusUploaded, StatusFailed}:         true,
		{StatusQueued, StatusFailed}:           true,
		{StatusProcessing, StatusFailed}:       true,
	}
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := allowed[[2]AnalysisStatus{from, to}]
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestCanTransitionTo_Unknown(t *testing.T) {
	if AnalysisStatus("BOGUS").CanTransitionTo(StatusFailed) {
		t.Error("unknown status must not transition")
	}
	if StatusPending.CanTransitionTo("BOGUS") {
		t.Error("must not transition to an unknown status")
	}
}

func TestTransition(t *testing.T) {
	p := &Prescription{AnalysisStatus: StatusQueued}
	if err := p.Transition(StatusProcessing); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := p.Transition(StatusQueued); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if p.AnalysisStatus != StatusProcessing {
		t.Errorf("rejected transition changed status to %s", p.AnalysisStatus)
	}
}

func TestTransition_PendingStraightToProcessing(t *testing.T) {
	p := &Prescription{AnalysisStatus: StatusPending}
	if err := p.Transition(StatusProcessing); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := p.Transition(StatusUploaded); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition moving back to UPLOADED, got %v", err)
	}
	if err := p.Transition(StatusCompleted); err != nil {
		t.Fatalf("Transition: %v", err)
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range allStatuses {
		want := s == StatusCompleted || s == StatusRiskDetected || s == StatusFailed
		if s.IsTerminal() != want {
			t.Errorf("%s.IsTerminal() = %v", s, !want)
		}
	}
}
