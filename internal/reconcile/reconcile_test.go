package reconcile

import (
	"strings"
	"testing"
)

func TestDeltaDocumentedCases(t *testing.T) {
	cases := []struct {
		previous, current, want string
	}{
		{"", "hello", "hello"},
		{"hello", "hello world", " world"},
		{"hello world", "hello", ""},
		{"cat", "dog", "dog"},
		{"hello", "hello", ""},
		{"", "", ""},
	}
	for _, tc := range cases {
		if got := Delta(tc.previous, tc.current); got != tc.want {
			t.Fatalf("Delta(%q, %q) = %q, want %q", tc.previous, tc.current, got, tc.want)
		}
	}
}

func TestDeltaRewrittenHypothesis(t *testing.T) {
	// Not a prefix, but previous still appears inside a much longer transcript.
	previous := "the cat"
	current := "so the cat sat on the mat"
	if len(current) <= GrowthFactor*len(previous) {
		t.Fatalf("fixture must exceed the growth factor")
	}
	if got := Delta(previous, current); got != current {
		t.Fatalf("expected full re-emit, got %q", got)
	}
}

func TestDeltaSuppressesUncertainEdit(t *testing.T) {
	// previous is contained in current, the growth is modest and current does
	// not extend previous: no confident delta exists.
	previous := "big dog"
	current := "a big dog!"
	if got := Delta(previous, current); got != "" {
		t.Fatalf("expected suppressed delta, got %q", got)
	}
}

func TestDeltaMultibytePrefix(t *testing.T) {
	if got := Delta("héllo", "héllo wörld"); got != " wörld" {
		t.Fatalf("unexpected delta %q", got)
	}
	if n := commonPrefix("héllo", "hélp"); n != len("hél") {
		t.Fatalf("common prefix = %d, want %d", n, len("hél"))
	}
}

func TestReconcilerIdempotentOnUnchangedInput(t *testing.T) {
	var r Reconciler
	if got := r.Next("good morning"); got != "good morning" {
		t.Fatalf("first delta = %q", got)
	}
	for i := 0; i < 5; i++ {
		if got := r.Next("good morning"); got != "" {
			t.Fatalf("repeat %d produced %q", i, got)
		}
	}
}

func TestReconcilerGrowingTranscriptConcatenates(t *testing.T) {
	words := strings.Fields("one two three four five six")
	var r Reconciler
	var out strings.Builder
	for n := 1; n <= len(words); n++ {
		out.WriteString(r.Next(strings.Join(words[:n], " ")))
	}
	if out.String() != strings.Join(words, " ") {
		t.Fatalf("concatenated deltas = %q", out.String())
	}
	r.Reset()
	if r.Previous() != "" {
		t.Fatalf("reset should clear previous")
	}
}

func TestReconcilerBaselineAdvancesAfterSuppression(t *testing.T) {
	var r Reconciler
	r.Next("hello world")
	if got := r.Next("hello"); got != "" {
		t.Fatalf("shrink produced %q", got)
	}
	if got := r.Next("hello there"); got != " there" {
		t.Fatalf("expected delta relative to the shrunk baseline, got %q", got)
	}
}
