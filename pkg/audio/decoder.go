// Package audio turns inbound socket payloads into the PCM the
// recognition engine consumes: little-endian 16-bit mono samples at
// 16 kHz. Clients send raw PCM16 by default or negotiate Opus at
// connection setup.
package audio

import (
	"errors"
	"fmt"
)

// Recognition input format: 16 kHz mono int16 PCM.
const (
	SampleRate = 16000
	Channels   = 1
)

// ErrBadFrame is returned when an inbound payload cannot be decoded.
// One bad frame is recoverable; callers report it and keep going.
var ErrBadFrame = errors.New("audio: malformed frame")

// Codec identifies the negotiated inbound payload encoding.
type Codec string

const (
	CodecPCM16 Codec = "pcm16"
	CodecOpus  Codec = "opus"
)

// ParseCodec maps the connection's codec parameter to a Codec. The
// empty string selects the PCM16 default.
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "", string(CodecPCM16):
		return CodecPCM16, nil
	case string(CodecOpus):
		return CodecOpus, nil
	default:
		return "", fmt.Errorf("audio: unknown codec %q", s)
	}
}

// FrameDecoder turns one inbound payload into PCM16 bytes. Decoders are
// stateful (Opus carries decoder state across packets) and belong to a
// single session; they are not safe for concurrent use.
type FrameDecoder interface {
	Decode(frame []byte) ([]byte, error)
}

// NewDecoder returns the FrameDecoder for the negotiated codec.
func NewDecoder(c Codec) (FrameDecoder, error) {
	switch c {
	case CodecPCM16:
		return PCM16Decoder{}, nil
	case CodecOpus:
		return newOpusDecoder()
	default:
		return nil, fmt.Errorf("audio: unknown codec %q", c)
	}
}

// PCM16Decoder passes raw PCM16 payloads through after validation.
type PCM16Decoder struct{}

var _ FrameDecoder = PCM16Decoder{}

// Decode validates that the payload is plausible int16 PCM: non-empty
// with an even byte count.
func (PCM16Decoder) Decode(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrBadFrame)
	}
	if len(frame)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrBadFrame, len(frame))
	}
	return frame, nil
}

// Int16sToBytes converts int16 PCM samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16s converts little-endian bytes to int16 PCM samples.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
