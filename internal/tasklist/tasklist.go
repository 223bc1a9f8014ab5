// Package tasklist reads the per-phase task list consumed by the
// coding agent. The file on disk is the source of truth for completion
// state; the agent's exit code is informational only.
package tasklist

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Task is one unit of agent work.
type Task struct {
	ID       string `yaml:"id"`
	Title    string `yaml:"title"`
	Priority string `yaml:"priority,omitempty"`
	Done     bool   `yaml:"done"`
}

// List is an ordered set of tasks for one phase.
type List struct {
	Tasks []Task `yaml:"tasks"`
}

// Load parses a task list file.
func Load(path string) (*List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading task list: %w", err)
	}
	var list List
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing task list: %w", err)
	}
	return &list, nil
}

// Counts returns completed and total task counts.
func (l *List) Counts() (done, total int) {
	for _, t := range l.Tasks {
		if t.Done {
			done++
		}
	}
	return done, len(l.Tasks)
}

// AllDone reports whether every task is complete.
func (l *List) AllDone() bool {
	done, total := l.Counts()
	return total > 0 && done == total
}

// Checklist renders the tasks as a markdown checklist with completion
// markers, for the review description.
func (l *List) Checklist() string {
	var b strings.Builder
	for _, t := range l.Tasks {
		marker := " "
		if t.Done {
			marker = "x"
		}
		fmt.Fprintf(&b, "- [%s] %s: %s\n", marker, t.ID, t.Title)
	}
	return b.String()
}
