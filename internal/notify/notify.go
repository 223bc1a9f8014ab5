// Package notify announces phase and run outcomes out of band, so an
// unattended run can be followed without tailing the log.
package notify

import (
	"fmt"

	"github.com/hochfrequenz/phase-orchestrator/internal/domain"
	"github.com/hochfrequenz/phase-orchestrator/internal/logging"
)

// Severity classifies a notification.
type Severity int

const (
	SeverityInfo Severity = iota
	SeveritySuccess
	SeverityWarning
	SeverityError
)

// Notification is one outbound message.
type Notification struct {
	Title    string
	Message  string
	Severity Severity
	PhaseID  string
	URL      string
}

// Sender delivers a notification over one channel.
type Sender interface {
	Send(n Notification) error
}

// Multi fans a notification out to every configured channel. Delivery
// is best-effort; a failed channel is logged and never fails the run.
type Multi struct {
	senders []Sender
	log     *logging.Logger
}

// NewMulti creates a fan-out sender.
func NewMulti(log *logging.Logger, senders ...Sender) *Multi {
	return &Multi{senders: senders, log: log}
}

// Send delivers to all channels.
func (m *Multi) Send(n Notification) {
	for _, s := range m.senders {
		if err := s.Send(n); err != nil {
			m.log.Warnf("notification delivery: %v", err)
		}
	}
}

// PhaseFinished announces one phase outcome.
func (m *Multi) PhaseFinished(res domain.RunResult) {
	n := Notification{PhaseID: res.PhaseID}
	if res.Completed() {
		n.Severity = SeveritySuccess
		n.Title = fmt.Sprintf("Phase %s completed", res.PhaseID)
		n.Message = fmt.Sprintf("%d/%d tasks, %d commits, review #%d", res.CompletedTasks, res.TotalTasks, res.CommitCount, res.PRNumber)
		if !res.CIPassed {
			n.Severity = SeverityWarning
			n.Message += " (merged with CI not passing)"
		}
	} else {
		n.Severity = SeverityError
		n.Title = fmt.Sprintf("Phase %s skipped", res.PhaseID)
		n.Message = res.SkipReason
	}
	m.Send(n)
}

// RunFinished announces the end of a run.
func (m *Multi) RunFinished(results []domain.RunResult) {
	completed, skipped := 0, 0
	for _, r := range results {
		if r.Completed() {
			completed++
		} else {
			skipped++
		}
	}
	sev := SeveritySuccess
	if completed == 0 && skipped > 0 {
		sev = SeverityError
	} else if skipped > 0 {
		sev = SeverityWarning
	}
	m.Send(Notification{
		Title:    "Run finished",
		Message:  fmt.Sprintf("%d phase(s) completed, %d skipped", completed, skipped),
		Severity: sev,
	})
}
