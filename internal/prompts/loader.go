package prompts

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"text/template"
)

// Loader resolves prompt templates. Override directories are checked in
// order before falling back to the embedded copies; the first file found
// wins. Parsed templates are cached for the lifetime of the loader.
type Loader struct {
	overrideDirs []string
	mu           sync.RWMutex
	cache        map[string]*template.Template
}

// NewLoader creates a loader with the given override directories.
func NewLoader(overrideDirs ...string) *Loader {
	return &Loader{
		overrideDirs: overrideDirs,
		cache:        make(map[string]*template.Template),
	}
}

// DefaultLoader creates a loader with the standard override paths: the
// project-local .phase-orchestrator/prompts directory, then the user
// config directory.
func DefaultLoader(repoRoot string) *Loader {
	var dirs []string
	if repoRoot != "" {
		dirs = append(dirs, filepath.Join(repoRoot, ".phase-orchestrator", "prompts"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "phase-orchestrator", "prompts"))
	}
	return NewLoader(dirs...)
}

func (l *Loader) load(path string) ([]byte, error) {
	for _, dir := range l.overrideDirs {
		if data, err := os.ReadFile(filepath.Join(dir, path)); err == nil {
			return data, nil
		}
	}
	return fs.ReadFile(embeddedFS, path)
}

// Template returns the parsed template for path, e.g. "phase/iteration.md".
func (l *Loader) Template(path string) (*template.Template, error) {
	l.mu.RLock()
	tmpl, ok := l.cache[path]
	l.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	content, err := l.load(path)
	if err != nil {
		return nil, fmt.Errorf("prompts: load %s: %w", path, err)
	}
	tmpl, err = template.New(path).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("prompts: parse %s: %w", path, err)
	}

	l.mu.Lock()
	l.cache[path] = tmpl
	l.mu.Unlock()
	return tmpl, nil
}

// Execute renders the template at path with data.
func (l *Loader) Execute(path string, data any) (string, error) {
	tmpl, err := l.Template(path)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("prompts: execute %s: %w", path, err)
	}
	return buf.String(), nil
}

// IterationData fills the per-iteration work instruction.
type IterationData struct {
	TaskListPath  string
	Iteration     int
	MaxIterations int
	ProgressFile  string
}

// LintFixData fills the scoped lint remediation instruction.
type LintFixData struct {
	CheckSummary string
}

// Iteration renders the instruction for one agent work iteration.
func (l *Loader) Iteration(data IterationData) (string, error) {
	return l.Execute("phase/iteration.md", data)
}

// LintFix renders the instruction for a scoped lint remediation run.
func (l *Loader) LintFix(data LintFixData) (string, error) {
	return l.Execute("phase/lintfix.md", data)
}
