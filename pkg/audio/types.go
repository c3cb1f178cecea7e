package audio

import (
	"fmt"
	"strings"
)

// Format describes the sample rate and channel count of a 16-bit PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form, e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Validate reports whether f describes a usable PCM stream.
func (f Format) Validate() error {
	if f.SampleRate < 8000 || f.SampleRate > 192000 {
		return fmt.Errorf("audio: sample rate %d out of range [8000, 192000]", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 8 {
		return fmt.Errorf("audio: channel count %d out of range [1, 8]", f.Channels)
	}
	return nil
}

// Codec identifies the encoding of inbound client audio.
type Codec string

const (
	// CodecPCM16 is raw signed 16-bit little-endian PCM.
	CodecPCM16 Codec = "pcm16"

	// CodecWAV is a RIFF/WAVE container. One container carries one utterance.
	CodecWAV Codec = "wav"

	// CodecOpus is a sequence of Opus packets, each prefixed with its length
	// as a 2-byte big-endian integer.
	CodecOpus Codec = "opus"
)

// ParseCodec normalises a client-supplied codec hint. An empty hint yields
// [CodecPCM16].
func ParseCodec(hint string) (Codec, error) {
	switch c := Codec(strings.ToLower(strings.TrimSpace(hint))); c {
	case "", "pcm", "s16le", CodecPCM16:
		return CodecPCM16, nil
	case "wave", CodecWAV:
		return CodecWAV, nil
	case CodecOpus:
		return CodecOpus, nil
	default:
		return "", fmt.Errorf("audio: unsupported codec %q", hint)
	}
}
