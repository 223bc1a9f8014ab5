package execx

import (
	"fmt"
	"strings"
	"sync"
)

// Fake is a scriptable Runner for tests. Responses are matched by
// command prefix ("git push", "gh pr create", ...) in registration
// order; each response is consumed once unless Sticky is set.
type Fake struct {
	// StartFunc, when set, overrides Start entirely. Used to hand
	// out hanging handles for timeout tests.
	StartFunc func(dir, name string, args []string) (Handle, error)

	mu        sync.Mutex
	responses []*FakeResponse
	calls     []string
}

// FakeResponse scripts the result of one matched command.
type FakeResponse struct {
	Prefix string
	Output string
	Err    error
	Sticky bool

	used bool
}

// Respond registers a scripted response.
func (f *Fake) Respond(prefix, output string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, &FakeResponse{Prefix: prefix, Output: output, Err: err})
}

// RespondAlways registers a response that never gets consumed.
func (f *Fake) RespondAlways(prefix, output string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, &FakeResponse{Prefix: prefix, Output: output, Err: err, Sticky: true})
}

// Calls returns every command line seen so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns how many recorded commands start with prefix.
func (f *Fake) CallCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *Fake) lookup(line string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, line)
	for _, r := range f.responses {
		if r.used && !r.Sticky {
			continue
		}
		if strings.HasPrefix(line, r.Prefix) {
			r.used = true
			return r.Output, r.Err
		}
	}
	return "", nil
}

// Run implements Runner.
func (f *Fake) Run(dir, name string, args ...string) ([]byte, error) {
	line := name + " " + strings.Join(args, " ")
	out, err := f.lookup(line)
	return []byte(out), err
}

// Start implements Runner. The scripted error becomes the Wait result.
func (f *Fake) Start(dir, name string, args ...string) (Handle, error) {
	if f.StartFunc != nil {
		f.mu.Lock()
		f.calls = append(f.calls, name+" "+strings.Join(args, " "))
		f.mu.Unlock()
		return f.StartFunc(dir, name, args)
	}
	line := name + " " + strings.Join(args, " ")
	out, err := f.lookup(line)
	return &FakeHandle{output: []byte(out), waitErr: err, done: make(chan struct{})}, nil
}

// FakeHandle is a Handle whose exit is controlled by the test.
type FakeHandle struct {
	output  []byte
	waitErr error

	// Hang keeps Wait blocked until Kill is called, simulating a
	// watch process that never finishes.
	Hang bool

	once sync.Once
	done chan struct{}
}

// NewHangingHandle returns a handle whose Wait blocks until killed.
func NewHangingHandle(output string) *FakeHandle {
	return &FakeHandle{output: []byte(output), Hang: true, done: make(chan struct{}), waitErr: fmt.Errorf("killed")}
}

func (h *FakeHandle) Wait() error {
	if h.Hang {
		<-h.done
	}
	return h.waitErr
}

func (h *FakeHandle) Kill() error {
	h.once.Do(func() { close(h.done) })
	return nil
}

func (h *FakeHandle) CombinedOutput() []byte { return h.output }
