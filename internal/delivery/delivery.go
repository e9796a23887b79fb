// Package delivery computes speech-delivery metrics from a stream of
// finalized utterances: cumulative word count, filler-word count,
// words-per-minute, and a clarity score. A Tracker accumulates state
// for exactly one session; it is never shared across sessions and is
// discarded when the session ends.
package delivery

import (
	"math"
	"strings"
	"time"
)

// fillerWords is the fixed set of tokens counted as fillers. Matching
// is per whitespace-split token, case-insensitive, after stripping
// trailing punctuation; the two-word entry "you know" is kept for
// parity with the classifier prompt vocabulary but can never match a
// single token.
var fillerWords = map[string]struct{}{
	"um":        {},
	"uh":        {},
	"like":      {},
	"so":        {},
	"you know":  {},
	"actually":  {},
	"basically": {},
	"literally": {},
	"well":      {},
	"right":     {},
}

// Tracker accumulates delivery metrics over one session's finalized
// utterances. Not safe for concurrent use; the owning session's
// pipeline is the only writer.
type Tracker struct {
	now func() time.Time

	start       time.Time
	wordCount   int
	fillerCount int
}

// Option configures a [Tracker].
type Option func(*Tracker)

// WithClock injects a clock for tests. The default is [time.Now].
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a Tracker whose session clock starts now.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{now: time.Now}
	for _, o := range opts {
		o(t)
	}
	t.start = t.now()
	return t
}

// AddTranscript ingests one finalized utterance into the cumulative
// counters.
func (t *Tracker) AddTranscript(text string) {
	tokens := tokenize(text)
	t.wordCount += len(tokens)
	for _, tok := range tokens {
		if _, ok := fillerWords[tok]; ok {
			t.fillerCount++
		}
	}
}

// WordCount returns the total words seen this session.
func (t *Tracker) WordCount() int { return t.wordCount }

// FillerCount returns the total filler tokens seen this session.
func (t *Tracker) FillerCount() int { return t.fillerCount }

// WordsPerMinute returns the rounded speaking rate since session start,
// or 0 when no time has elapsed.
func (t *Tracker) WordsPerMinute() int {
	elapsed := t.now().Sub(t.start).Minutes()
	if elapsed == 0 {
		return 0
	}
	return int(math.Round(float64(t.wordCount) / elapsed))
}

// ClarityScore returns 100 minus the filler percentage, floored at 0.
// With no words seen it returns 100: no evidence of poor clarity.
func (t *Tracker) ClarityScore() int {
	if t.wordCount == 0 {
		return 100
	}
	ratio := float64(t.fillerCount) / float64(t.wordCount)
	score := int(math.Round(100 - ratio*100))
	if score < 0 {
		return 0
	}
	return score
}

// CountFillers returns the filler-token count of a single utterance,
// independent of any Tracker. The pipeline uses it for the
// per-utterance figure stored on the Profile.
func CountFillers(text string) int {
	n := 0
	for _, tok := range tokenize(text) {
		if _, ok := fillerWords[tok]; ok {
			n++
		}
	}
	return n
}

// WordCount returns the naive whitespace-token count of one utterance.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// tokenize lowercases, splits on whitespace, and strips trailing
// sentence punctuation from each token.
func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	for i, f := range fields {
		fields[i] = strings.TrimRight(f, ".,!?")
	}
	return fields
}
