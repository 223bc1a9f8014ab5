package ciwatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hochfrequenz/phase-orchestrator/internal/domain"
)

// CheckRun is one named CI verification with its outcome bucket as
// reported by the review collaborator.
type CheckRun struct {
	Name   string `json:"name"`
	Bucket string `json:"bucket"` // pass, fail, pending, skipping, cancel
}

// Failed reports whether the check run ended in failure.
func (c CheckRun) Failed() bool { return c.Bucket == "fail" }

// ParseCheckRuns decodes the structured check-run listing.
func ParseCheckRuns(out []byte) ([]CheckRun, error) {
	var checks []CheckRun
	if err := json.Unmarshal(out, &checks); err != nil {
		return nil, fmt.Errorf("parsing check runs: %w", err)
	}
	return checks, nil
}

// Classify maps a CI failure to the auto-fixable failure classes. It
// prefers the structured check-run outcomes and falls back to probing
// the raw watch output where the external tool only offered text.
func Classify(checks []CheckRun, raw string) []domain.FailureClass {
	found := map[domain.FailureClass]bool{}

	for _, c := range checks {
		if !c.Failed() {
			continue
		}
		name := strings.ToLower(c.Name)
		switch {
		case containsAny(name, "format", "fmt"):
			found[domain.FailureFormat] = true
		case containsAny(name, "lint", "clippy", "vet"):
			found[domain.FailureLint] = true
		}
	}

	if len(found) == 0 && raw != "" {
		lower := strings.ToLower(raw)
		if containsAny(lower, "rustfmt", "gofmt", "formatting check failed", "not formatted") {
			found[domain.FailureFormat] = true
		}
		if containsAny(lower, "clippy", "lint failure", "golangci") {
			found[domain.FailureLint] = true
		}
	}

	var classes []domain.FailureClass
	for _, c := range []domain.FailureClass{domain.FailureFormat, domain.FailureLint} {
		if found[c] {
			classes = append(classes, c)
		}
	}
	return classes
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
