package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// maxOpusFrameSamples is the largest Opus frame we accept: 60 ms at
// 16 kHz mono.
const maxOpusFrameSamples = SampleRate * 60 / 1000

// OpusDecoder decodes Opus packets to 16 kHz mono PCM16. Decoder state
// carries across consecutive packets, so each session stream gets its
// own instance.
type OpusDecoder struct {
	dec *gopus.Decoder
}

var _ FrameDecoder = (*OpusDecoder)(nil)

func newOpusDecoder() (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec}, nil
}

// Decode decodes one Opus packet into little-endian PCM16 bytes.
func (d *OpusDecoder) Decode(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrBadFrame)
	}
	pcm, err := d.dec.Decode(frame, maxOpusFrameSamples, false)
	if err != nil {
		return nil, fmt.Errorf("%w: opus decode: %v", ErrBadFrame, err)
	}
	return Int16sToBytes(pcm), nil
}
