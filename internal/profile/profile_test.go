package profile

import (
	"testing"
	"time"

	"github.com/nvollmar/backchannel/pkg/provider/reaction"
)

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	p := New("alice")
	if p.Identity() != "alice" {
		t.Errorf("Identity() = %q, want %q", p.Identity(), "alice")
	}
	if p.Profession() != DefaultProfession {
		t.Errorf("Profession() = %q, want %q", p.Profession(), DefaultProfession)
	}
	if p.Emotion() != reaction.LabelIdle {
		t.Errorf("Emotion() = %q, want %q", p.Emotion(), reaction.LabelIdle)
	}
	if p.WordsPerSecond() != 0 || p.FillerWords() != 0 {
		t.Errorf("delivery metrics = (%d, %d), want (0, 0)", p.WordsPerSecond(), p.FillerWords())
	}
	if _, _, ok := p.LastTurn(); ok {
		t.Error("LastTurn() ok = true on a fresh profile, want false")
	}

	snap := p.Snapshot()
	if snap.ComprehensionThreshold != DefaultComprehensionThreshold {
		t.Errorf("ComprehensionThreshold = %v, want %v", snap.ComprehensionThreshold, DefaultComprehensionThreshold)
	}
	if snap.Interest != DefaultInterest || snap.Confidence != DefaultConfidence {
		t.Errorf("engagement = (%v, %v), want (%v, %v)",
			snap.Interest, snap.Confidence, DefaultInterest, DefaultConfidence)
	}
	if snap.Version != reaction.ContextVersion {
		t.Errorf("Version = %d, want %d", snap.Version, reaction.ContextVersion)
	}
}

func TestClamping(t *testing.T) {
	t.Parallel()

	p := New("bob")

	p.SetWordsPerSecond(250)
	if got := p.WordsPerSecond(); got != 100 {
		t.Errorf("WordsPerSecond() = %d, want 100", got)
	}
	p.SetWordsPerSecond(-3)
	if got := p.WordsPerSecond(); got != 0 {
		t.Errorf("WordsPerSecond() = %d, want 0", got)
	}

	p.SetFillerWords(99)
	if got := p.FillerWords(); got != 50 {
		t.Errorf("FillerWords() = %d, want 50", got)
	}

	p.SetEngagement(1.5, -0.5)
	snap := p.Snapshot()
	if snap.Interest != 1 || snap.Confidence != 0 {
		t.Errorf("engagement = (%v, %v), want (1, 0)", snap.Interest, snap.Confidence)
	}

	p.SetComprehensionThreshold(7)
	if got := p.Snapshot().ComprehensionThreshold; got != 1 {
		t.Errorf("ComprehensionThreshold = %v, want 1", got)
	}
}

func TestSetEmotionRejectsUnknownLabels(t *testing.T) {
	t.Parallel()

	p := New("carol")
	p.SetEmotion(reaction.LabelExcited)
	if got := p.Emotion(); got != reaction.LabelExcited {
		t.Fatalf("Emotion() = %q, want %q", got, reaction.LabelExcited)
	}

	p.SetEmotion(reaction.Label("furious"))
	if got := p.Emotion(); got != reaction.LabelIdle {
		t.Errorf("Emotion() after invalid set = %q, want %q", got, reaction.LabelIdle)
	}
}

func TestCommitTurn(t *testing.T) {
	t.Parallel()

	p := New("dave")
	ts := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	p.CommitTurn("hello there", ts)

	text, got, ok := p.LastTurn()
	if !ok {
		t.Fatal("LastTurn() ok = false after commit")
	}
	if text != "hello there" || !got.Equal(ts) {
		t.Errorf("LastTurn() = (%q, %v), want (%q, %v)", text, got, "hello there", ts)
	}
}

func TestSnapshotCopiesMemory(t *testing.T) {
	t.Parallel()

	p := New("erin")
	p.Remember("team", "platform")

	snap := p.Snapshot()
	snap.Memory["team"] = "mutated"

	if got := p.Snapshot().Memory["team"]; got != "platform" {
		t.Errorf("memory note = %q after snapshot mutation, want %q", got, "platform")
	}
}

func TestRecordRoundTrip(t *testing.T) {
	t.Parallel()

	p := New("frank")
	p.SetProfession("Business Manager")
	p.Remember("project", "rollout")
	p.SetEngagement(0.9, 0.2)
	p.SetEmotion(reaction.LabelThinking)
	// Session-scoped metrics must not survive persistence.
	p.SetWordsPerSecond(4)
	p.SetFillerWords(3)

	q := fromRecord(p.record())
	if q.Profession() != "Business Manager" {
		t.Errorf("Profession() = %q, want %q", q.Profession(), "Business Manager")
	}
	if got := q.Snapshot().Memory["project"]; got != "rollout" {
		t.Errorf("memory note = %q, want %q", got, "rollout")
	}
	if q.Emotion() != reaction.LabelThinking {
		t.Errorf("Emotion() = %q, want %q", q.Emotion(), reaction.LabelThinking)
	}
	if q.WordsPerSecond() != 0 || q.FillerWords() != 0 {
		t.Errorf("delivery metrics survived persistence: (%d, %d)", q.WordsPerSecond(), q.FillerWords())
	}
}
