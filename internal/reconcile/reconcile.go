// Package reconcile turns successive transcripts of a growing recording into
// the incremental text that has not been emitted yet.
package reconcile

import (
	"strings"
	"unicode/utf8"
)

// GrowthFactor bounds how much longer a transcript may be than its predecessor
// before it is treated as a rewritten hypothesis and re-emitted in full.
const GrowthFactor = 2

// Delta returns the part of current that is new relative to previous.
func Delta(previous, current string) string {
	switch {
	case previous == "":
		return current
	case strings.HasPrefix(current, previous):
		return current[len(previous):]
	case strings.HasPrefix(previous, current):
		// The engine dropped trailing words; nothing new to insert.
		return ""
	case len(current) > GrowthFactor*len(previous), !strings.Contains(current, previous):
		return current
	}

	i := commonPrefix(previous, current)
	if i == len(previous) && len(current) > i {
		return current[i:]
	}
	return ""
}

// commonPrefix returns the byte length of the longest rune-aligned common prefix.
func commonPrefix(a, b string) int {
	i := 0
	for i < len(a) && i < len(b) {
		ra, na := utf8.DecodeRuneInString(a[i:])
		rb, nb := utf8.DecodeRuneInString(b[i:])
		if ra != rb || na != nb {
			break
		}
		i += na
	}
	return i
}

// Reconciler remembers the last transcript seen during one recording.
type Reconciler struct {
	previous string
}

// Next computes the delta for current and records it as the new baseline,
// whichever rule produced the delta.
func (r *Reconciler) Next(current string) string {
	delta := Delta(r.previous, current)
	r.previous = current
	return delta
}

// Previous returns the last transcript passed to Next.
func (r *Reconciler) Previous() string { return r.previous }

func (r *Reconciler) Reset() { r.previous = "" }
