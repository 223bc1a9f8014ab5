package schedule

import (
	"testing"
	"time"

	"github.com/hochfrequenz/phase-orchestrator/internal/logging"
)

func TestValidate(t *testing.T) {
	if err := Validate("0 2 * * *"); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if err := Validate(""); err == nil {
		t.Error("empty expression accepted")
	}
	if err := Validate("not a cron"); err == nil {
		t.Error("garbage expression accepted")
	}
}

func TestNextRunIsInFuture(t *testing.T) {
	s, err := New("*/5 * * * *", logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	next := s.NextRun()
	if !next.After(time.Now()) {
		t.Errorf("NextRun() = %s, want a future time", next)
	}
}

func TestShouldRun(t *testing.T) {
	s, err := New("* * * * *", logging.Discard())
	if err != nil {
		t.Fatal(err)
	}

	// Never ran: a due every-minute schedule fires.
	if !s.ShouldRun() {
		t.Error("ShouldRun() = false for an overdue schedule")
	}

	s.markRunning()
	if s.ShouldRun() {
		t.Error("ShouldRun() = true while a run is in progress")
	}

	s.markComplete()
	if s.ShouldRun() {
		t.Error("ShouldRun() = true immediately after completion")
	}
}
