// Package execx abstracts subprocess execution so orchestration logic
// can be exercised in tests without git, gh or the coding agent
// installed.
package execx

import (
	"bytes"
	"os/exec"
	"sync"
)

// Runner executes external commands as discrete point-in-time
// operations.
type Runner interface {
	// Run executes a command in dir and returns its combined output.
	Run(dir, name string, args ...string) ([]byte, error)
	// Start launches a long-running command in dir and returns a
	// handle for supervising it.
	Start(dir, name string, args ...string) (Handle, error)
}

// Handle supervises a started process.
type Handle interface {
	// Wait blocks until the process exits.
	Wait() error
	// Kill forcibly terminates the process.
	Kill() error
	// CombinedOutput returns the output collected so far.
	CombinedOutput() []byte
}

// Local runs commands on the local machine.
type Local struct{}

// Run executes the command and returns combined stdout/stderr.
func (Local) Run(dir, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Start launches the command with output captured into a buffer.
func (Local) Start(dir, name string, args ...string) (Handle, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	buf := &lockedBuffer{}
	cmd.Stdout = buf
	cmd.Stderr = buf
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &localHandle{cmd: cmd, buf: buf}, nil
}

type localHandle struct {
	cmd *exec.Cmd
	buf *lockedBuffer
}

func (h *localHandle) Wait() error { return h.cmd.Wait() }

func (h *localHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

func (h *localHandle) CombinedOutput() []byte { return h.buf.Bytes() }

// lockedBuffer guards concurrent writes from the process pipes against
// reads from the supervising loop.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}

// LookPath reports whether a binary is available on PATH.
func LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
