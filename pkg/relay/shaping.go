package relay

import (
	"fmt"
	"regexp"
	"strings"
)

// Accumulator collects answer deltas. Chunks are only appended; the
// cumulative text is never rebuilt from scratch.
type Accumulator struct {
	b      strings.Builder
	chunks int
}

// Append adds one delta.
func (a *Accumulator) Append(chunk string) {
	if chunk == "" {
		return
	}
	a.b.WriteString(chunk)
	a.chunks++
}

// String returns the cumulative text.
func (a *Accumulator) String() string { return a.b.String() }

// Len returns the cumulative length in bytes.
func (a *Accumulator) Len() int { return a.b.Len() }

// Chunks returns the number of appended deltas.
func (a *Accumulator) Chunks() int { return a.chunks }

// Shaper removes boilerplate lines from answer text.
type Shaper struct {
	patterns []*regexp.Regexp
}

// NewShaper compiles patterns. Each pattern is matched against single lines.
func NewShaper(patterns []string) (*Shaper, error) {
	s := &Shaper{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid boilerplate pattern %q: %w", p, err)
		}
		s.patterns = append(s.patterns, re)
	}
	return s, nil
}

// Shape returns text without the lines matching any pattern.
func (s *Shaper) Shape(text string) string {
	if s == nil || len(s.patterns) == 0 || text == "" {
		return text
	}

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	removed := false
	for _, line := range lines {
		if s.matches(line) {
			removed = true
			continue
		}
		kept = append(kept, line)
	}
	if !removed {
		return text
	}
	return strings.TrimLeft(strings.Join(kept, "\n"), "\n")
}

func (s *Shaper) matches(line string) bool {
	for _, re := range s.patterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}
