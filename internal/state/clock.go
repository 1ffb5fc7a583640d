package state

import (
	"fmt"
	"time"

	"github.com/fentz26/tempo/internal/models"
)

// Elapsed returns the display-only elapsed whole seconds for a timer's run
// fields. While the timer is paused the reference time is pinned to the
// pausedAt snapshot, so the display freezes instead of drifting as the
// current pause accumulates.
func Elapsed(t *models.Timer, now time.Time) int64 {
	if t == nil {
		return 0
	}

	start, err := t.StartedAt()
	if err != nil {
		return 0
	}

	ref := now
	if t.IsPaused {
		pausedAt, err := t.PausedSince()
		if err != nil || pausedAt.IsZero() {
			return 0
		}
		ref = pausedAt
	}

	elapsed := int64(ref.Sub(start)/time.Second) - t.TotalPausedTime
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// FormatElapsed renders whole seconds as zero-padded HH:MM:SS. Hours are
// unbounded.
func FormatElapsed(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}
