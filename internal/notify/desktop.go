package notify

import (
	"os/exec"
	"runtime"
)

// Desktop sends OS-level notifications for attended runs.
type Desktop struct {
	enabled bool
}

// NewDesktop creates a desktop sender.
func NewDesktop(enabled bool) *Desktop {
	return &Desktop{enabled: enabled}
}

// Send shows the notification where the platform supports it.
func (d *Desktop) Send(n Notification) error {
	if !d.enabled {
		return nil
	}
	switch runtime.GOOS {
	case "darwin":
		script := `display notification "` + n.Message + `" with title "` + n.Title + `"`
		return exec.Command("osascript", "-e", script).Run()
	case "linux":
		return exec.Command("notify-send", n.Title, n.Message).Run()
	default:
		return nil
	}
}
