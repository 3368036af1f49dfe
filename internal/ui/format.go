package ui

import (
	"fmt"
	"time"

	"github.com/studysync/studysync/internal/schema"
)

// DateLayout is used for due dates in listings.
const DateLayout = "Mon Jan 2 15:04"

// FormatDue renders a due date relative to now: overdue ones in red, those
// within a day in amber.
func FormatDue(due *schema.Millis, now time.Time) string {
	if due == nil {
		return RenderMuted("-")
	}
	t := due.Time().Local()
	until := t.Sub(now)
	label := t.Format(DateLayout)
	switch {
	case until < 0:
		return RenderFail(label + " (overdue)")
	case until < 24*time.Hour:
		return RenderWarn(fmt.Sprintf("%s (in %s)", label, roundDuration(until)))
	default:
		return label
	}
}

func roundDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "<1m"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
}

// FormatSize renders a byte count.
func FormatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}
