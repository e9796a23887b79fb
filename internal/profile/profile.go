// Package profile holds per-participant state: the Profile record that
// accumulates delivery and engagement metrics across sessions, and the
// process-wide Registry that maps identities to Profiles and to their
// currently active session.
package profile

import (
	"sync"
	"time"

	"github.com/nvollmar/backchannel/pkg/provider/reaction"
)

// Defaults applied when a Profile is created lazily on first contact.
const (
	DefaultProfession             = "Participant"
	DefaultComprehensionThreshold = 0.6
	DefaultInterest               = 0.7
	DefaultConfidence             = 0.6
)

// Bounds for the clamped integer metrics.
const (
	maxWordsPerSecond = 100
	maxFillerWords    = 50
)

// Profile is the mutable record of one participant's rolling speech and
// engagement state. All bounded fields are clamped before storage and
// current_emotion is always a member of the known label set.
//
// A Profile is safe for concurrent use, though under the sequential
// pipeline guarantee only one session writes to it at a time.
type Profile struct {
	mu sync.RWMutex

	identity               string
	profession             string
	memory                 map[string]string
	comprehensionThreshold float64
	wordsPerSecond         int
	fillerWords            int
	interest               float64
	confidence             float64
	emotion                reaction.Label

	lastMessage   string
	lastTimestamp time.Time
}

// New creates a Profile for identity with the documented defaults.
func New(identity string) *Profile {
	return &Profile{
		identity:               identity,
		profession:             DefaultProfession,
		memory:                 make(map[string]string),
		comprehensionThreshold: DefaultComprehensionThreshold,
		interest:               DefaultInterest,
		confidence:             DefaultConfidence,
		emotion:                reaction.LabelIdle,
	}
}

// Identity returns the stable identity key. Immutable after creation.
func (p *Profile) Identity() string { return p.identity }

// Profession returns the free-text profession label.
func (p *Profile) Profession() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.profession
}

// SetProfession updates the profession label. Empty values are ignored.
func (p *Profile) SetProfession(profession string) {
	if profession == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profession = profession
}

// Remember stores a free-form memory note under key.
func (p *Profile) Remember(key, note string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.memory == nil {
		p.memory = make(map[string]string)
	}
	p.memory[key] = note
}

// SetWordsPerSecond stores the latest speaking rate, clamped to [0,100].
func (p *Profile) SetWordsPerSecond(wps int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wordsPerSecond = clampInt(wps, 0, maxWordsPerSecond)
}

// WordsPerSecond returns the last stored speaking rate.
func (p *Profile) WordsPerSecond() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.wordsPerSecond
}

// SetFillerWords stores the most recent utterance's filler count,
// clamped to [0,50].
func (p *Profile) SetFillerWords(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fillerWords = clampInt(n, 0, maxFillerWords)
}

// FillerWords returns the most recent utterance's filler count.
func (p *Profile) FillerWords() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fillerWords
}

// SetEngagement updates interest and confidence, each clamped to [0,1].
func (p *Profile) SetEngagement(interest, confidence float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interest = clampFloat(interest, 0, 1)
	p.confidence = clampFloat(confidence, 0, 1)
}

// SetComprehensionThreshold updates the threshold, clamped to [0,1].
func (p *Profile) SetComprehensionThreshold(t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.comprehensionThreshold = clampFloat(t, 0, 1)
}

// SetEmotion stores the current emotion label. A label outside the
// known set resets the emotion to idle rather than storing junk.
func (p *Profile) SetEmotion(l reaction.Label) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !l.IsValid() {
		l = reaction.LabelIdle
	}
	p.emotion = l
}

// Emotion returns the current emotion label.
func (p *Profile) Emotion() reaction.Label {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.emotion
}

// CommitTurn records the utterance text and timestamp of the latest
// finalized turn, unconditionally. Timestamps are expected to be
// non-decreasing per Profile; a regression is a caller error and is
// stored as-is.
func (p *Profile) CommitTurn(text string, ts time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastMessage = text
	p.lastTimestamp = ts
}

// LastTurn returns the previous finalized utterance and its timestamp.
// ok is false until the first turn has been committed.
func (p *Profile) LastTurn() (text string, ts time.Time, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastMessage, p.lastTimestamp, !p.lastTimestamp.IsZero()
}

// Snapshot captures the Profile's current fields as an immutable
// classifier context. The memory map is copied.
func (p *Profile) Snapshot() reaction.Context {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var mem map[string]string
	if len(p.memory) > 0 {
		mem = make(map[string]string, len(p.memory))
		for k, v := range p.memory {
			mem[k] = v
		}
	}
	return reaction.Context{
		Version:                reaction.ContextVersion,
		Identity:               p.identity,
		Profession:             p.profession,
		Memory:                 mem,
		ComprehensionThreshold: p.comprehensionThreshold,
		WordsPerSecond:         p.wordsPerSecond,
		FillerWords:            p.fillerWords,
		Interest:               p.interest,
		Confidence:             p.confidence,
		CurrentEmotion:         p.emotion,
	}
}

// record converts the Profile to its persistent form. Session-scoped
// delivery counters are deliberately excluded.
func (p *Profile) record() Record {
	p.mu.RLock()
	defer p.mu.RUnlock()

	mem := make(map[string]string, len(p.memory))
	for k, v := range p.memory {
		mem[k] = v
	}
	return Record{
		Identity:               p.identity,
		Profession:             p.profession,
		Memory:                 mem,
		ComprehensionThreshold: p.comprehensionThreshold,
		Interest:               p.interest,
		Confidence:             p.confidence,
		Emotion:                string(p.emotion),
	}
}

// fromRecord builds a Profile from its persistent form, re-applying
// clamps and the emotion validity rule.
func fromRecord(r Record) *Profile {
	p := New(r.Identity)
	p.SetProfession(r.Profession)
	for k, v := range r.Memory {
		p.Remember(k, v)
	}
	p.SetComprehensionThreshold(r.ComprehensionThreshold)
	p.SetEngagement(r.Interest, r.Confidence)
	p.SetEmotion(reaction.Label(r.Emotion))
	return p
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
