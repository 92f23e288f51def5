package display

import (
	"fmt"
	"io"
	"os/exec"
	"runtime"
)

// Notifier alerts the operator when a long run needs attention.
// It rings the terminal bell and, on macOS, posts an OS notification.
type Notifier struct {
	out     io.Writer
	enabled bool
}

// NewNotifier creates a Notifier writing the bell to out. A disabled
// Notifier does nothing.
func NewNotifier(out io.Writer, enabled bool) *Notifier {
	return &Notifier{out: out, enabled: enabled}
}

// NotificationReason represents why a notification is being sent.
type NotificationReason int

const (
	NotifyReasonDone NotificationReason = iota
	NotifyReasonFailed
	NotifyReasonStagnated
	NotifyReasonStepBackBudget
	NotifyReasonInterrupted
)

// String returns a human-readable title for the notification reason.
func (r NotificationReason) String() string {
	switch r {
	case NotifyReasonDone:
		return "Completed"
	case NotifyReasonFailed:
		return "Failed"
	case NotifyReasonStagnated:
		return "Stagnated"
	case NotifyReasonStepBackBudget:
		return "Step-back Budget Exhausted"
	case NotifyReasonInterrupted:
		return "Interrupted"
	default:
		return "cc-automator"
	}
}

// Message returns the notification body for a project.
func (r NotificationReason) Message(project string) string {
	switch r {
	case NotifyReasonDone:
		return fmt.Sprintf("All milestones for %s completed", project)
	case NotifyReasonFailed:
		return fmt.Sprintf("Run for %s failed", project)
	case NotifyReasonStagnated:
		return fmt.Sprintf("Run for %s stopped making progress", project)
	case NotifyReasonStepBackBudget:
		return fmt.Sprintf("Run for %s used all step-backs", project)
	case NotifyReasonInterrupted:
		return fmt.Sprintf("Run for %s was interrupted", project)
	default:
		return fmt.Sprintf("Run for %s needs attention", project)
	}
}

// Notify rings the bell and sends an OS notification where supported.
func (n *Notifier) Notify(reason NotificationReason, project string) error {
	if n == nil || !n.enabled {
		return nil
	}
	fmt.Fprint(n.out, "\a")
	if runtime.GOOS != "darwin" {
		return nil
	}
	script := fmt.Sprintf(`display notification %q with title %q`, reason.Message(project), "cc-automator: "+reason.String())
	return exec.Command("osascript", "-e", script).Run()
}
