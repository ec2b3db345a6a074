package admission

import (
	"strings"
	"sync"
	"time"
)

// Priority orders queued requests.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// ParsePriority maps a header value to a Priority. Anything but "high" is
// normal.
func ParsePriority(s string) Priority {
	if strings.EqualFold(strings.TrimSpace(s), string(PriorityHigh)) {
		return PriorityHigh
	}
	return PriorityNormal
}

// Slot is permission to run one upstream-bound operation.
type Slot struct {
	RequestID  string
	Priority   Priority
	EnqueuedAt time.Time
	AdmittedAt time.Time

	controller *Controller
	once       sync.Once
}

// Wait returns how long the request was queued.
func (s *Slot) Wait() time.Duration {
	return s.AdmittedAt.Sub(s.EnqueuedAt)
}

// Release returns the slot's capacity to the controller and lets the next
// queued request in. Calls after the first are no-ops.
func (s *Slot) Release() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.controller != nil {
			s.controller.release()
		}
	})
}
