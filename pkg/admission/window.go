package admission

import "time"

// window is a fixed wall-clock window counter. Counts reset when the clock
// crosses a multiple of size; a burst straddling a boundary may admit up
// to twice the limit within one window length.
type window struct {
	size  time.Duration
	limit int
	start time.Time
	count int
}

func (w *window) roll(now time.Time) {
	start := now.Truncate(w.size)
	if !start.Equal(w.start) {
		w.start = start
		w.count = 0
	}
}

func (w *window) allows(now time.Time) bool {
	if w.limit <= 0 {
		return true
	}
	w.roll(now)
	return w.count < w.limit
}

func (w *window) add(now time.Time) {
	if w.limit <= 0 {
		return
	}
	w.roll(now)
	w.count++
}

// boundary returns the start of the next window.
func (w *window) boundary() time.Time {
	return w.start.Add(w.size)
}
