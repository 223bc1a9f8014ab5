package observer

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hochfrequenz/phase-orchestrator/internal/tasklist"
)

// TaskWatcher publishes task-progress events while the agent mutates
// the task list of the active workspace. It watches the containing
// directory because editors and the agent replace the file rather than
// writing it in place.
type TaskWatcher struct {
	bus      *Bus
	phaseID  string
	listPath string
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewTaskWatcher creates a watcher for one phase's task list.
func NewTaskWatcher(bus *Bus, phaseID, listPath string) *TaskWatcher {
	return &TaskWatcher{
		bus:      bus,
		phaseID:  phaseID,
		listPath: listPath,
		debounce: 500 * time.Millisecond,
	}
}

// Run watches until ctx is cancelled. An unwatchable path is not an
// error; progress events are a convenience, never load-bearing.
func (tw *TaskWatcher) Run(ctx context.Context) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(tw.listPath)); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Name != tw.listPath {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			tw.schedule()
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}

// schedule debounces rapid rewrites into one publish.
func (tw *TaskWatcher) schedule() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timer != nil {
		tw.timer.Stop()
	}
	tw.timer = time.AfterFunc(tw.debounce, tw.publish)
}

func (tw *TaskWatcher) publish() {
	list, err := tasklist.Load(tw.listPath)
	if err != nil {
		return
	}
	done, total := list.Counts()
	tw.bus.Publish(Event{
		Kind:    KindTasksUpdated,
		PhaseID: tw.phaseID,
		Done:    done,
		Total:   total,
	})
}
