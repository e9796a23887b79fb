package session

import (
	"time"

	"github.com/nvollmar/backchannel/pkg/provider/reaction"
)

// Outbound event type discriminators.
const (
	eventPartial = "partial"
	eventFinal   = "final"
	eventPing    = "ping"
	eventError   = "error"
)

// PartialEvent carries an in-progress transcript hypothesis. Each
// partial replaces the previous one on the client.
type PartialEvent struct {
	Type       string  `json:"type"`
	Transcript string  `json:"transcript"`
	Timestamp  float64 `json:"timestamp"`
}

// Metrics is the per-session delivery summary attached to every final
// event.
type Metrics struct {
	WPM          int `json:"wpm"`
	FillerWords  int `json:"filler_words"`
	ClarityScore int `json:"clarity_score"`
	WordCount    int `json:"word_count"`
}

// FinalEvent carries one finalized utterance with its reaction label
// and the session's cumulative delivery metrics.
type FinalEvent struct {
	Type             string         `json:"type"`
	Transcript       string         `json:"transcript"`
	AnimationTrigger reaction.Label `json:"animation_trigger"`
	Metrics          Metrics        `json:"metrics"`
	Timestamp        float64        `json:"timestamp"`
	CurrentEmotion   reaction.Label `json:"current_emotion"`
}

// PingEvent is the outbound liveness heartbeat.
type PingEvent struct {
	Type string `json:"type"`
}

// ErrorEvent reports a session error to the peer.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// controlMessage is the shape of inbound text frames. Only the pong
// reply is recognised; everything else is ignored.
type controlMessage struct {
	Type string `json:"type"`
}

const controlPong = "pong"

func newPartialEvent(text string, ts time.Time) PartialEvent {
	return PartialEvent{Type: eventPartial, Transcript: text, Timestamp: epochSeconds(ts)}
}

func newPingEvent() PingEvent {
	return PingEvent{Type: eventPing}
}

func newErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: eventError, Message: message}
}

// epochSeconds renders a timestamp as fractional Unix seconds, the
// format clients expect on the wire.
func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
