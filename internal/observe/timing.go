package observe

import "time"

// Timing records when the child started and when it was reaped.
type Timing struct {
	StartedAt   time.Time
	CompletedAt time.Time
}

// Start returns timing with the start set to now
func Start() *Timing {
	return &Timing{StartedAt: time.Now()}
}

// Complete records completion time. Later calls are ignored.
func (t *Timing) Complete() {
	if t.CompletedAt.IsZero() {
		t.CompletedAt = time.Now()
	}
}

// Duration returns the run time so far, or the final run time once complete
func (t *Timing) Duration() time.Duration {
	if t == nil || t.StartedAt.IsZero() {
		return 0
	}
	if t.CompletedAt.IsZero() {
		return time.Since(t.StartedAt)
	}
	return t.CompletedAt.Sub(t.StartedAt)
}
