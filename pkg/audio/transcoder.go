package audio

import (
	"fmt"
)

// Decoder turns inbound client audio into 16-bit mono PCM at a fixed target
// sample rate. A Decoder carries streaming state for one session and is not
// safe for concurrent use.
//
// Chunks may be split at arbitrary byte boundaries. Decode buffers incomplete
// samples or packets and returns only what could be fully decoded; it may
// return an empty slice. Flush returns whatever remains decodable at the end
// of an utterance. Both return a *DecodeError for malformed input, after which
// the caller should Reset before feeding the next utterance.
type Decoder interface {
	Decode(chunk []byte) ([]byte, error)
	Flush() ([]byte, error)
	Reset()
	Codec() Codec
}

// DecodeError reports malformed inbound audio.
type DecodeError struct {
	Codec  Codec
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audio: decode %s: %s: %v", e.Codec, e.Reason, e.Err)
	}
	return fmt.Sprintf("audio: decode %s: %s", e.Codec, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// NewDecoder returns a Decoder for codec. src describes the inbound stream for
// [CodecPCM16] and the channel count for [CodecOpus]; it is ignored for
// [CodecWAV], whose container carries its own format. Output is mono PCM at
// targetRate.
func NewDecoder(codec Codec, src Format, targetRate int) (Decoder, error) {
	if targetRate <= 0 {
		return nil, fmt.Errorf("audio: target sample rate must be positive, got %d", targetRate)
	}
	target := Format{SampleRate: targetRate, Channels: 1}
	switch codec {
	case CodecPCM16:
		if err := src.Validate(); err != nil {
			return nil, err
		}
		return &pcmDecoder{src: src, target: target}, nil
	case CodecWAV:
		return &wavDecoder{target: target, maxBytes: defaultMaxWAVBytes}, nil
	case CodecOpus:
		ch := src.Channels
		if ch == 0 {
			ch = 1
		}
		if ch != 1 && ch != 2 {
			return nil, fmt.Errorf("audio: opus supports 1 or 2 channels, got %d", ch)
		}
		return &opusDecoder{channels: ch, target: target}, nil
	default:
		return nil, fmt.Errorf("audio: unsupported codec %q", codec)
	}
}

// pcmDecoder passes raw PCM through, holding back any trailing bytes that do
// not make up a whole interleaved frame.
type pcmDecoder struct {
	src    Format
	target Format
	carry  []byte
}

func (d *pcmDecoder) Codec() Codec { return CodecPCM16 }

func (d *pcmDecoder) Decode(chunk []byte) ([]byte, error) {
	frameBytes := d.src.Channels * 2
	data := chunk
	if len(d.carry) > 0 {
		data = append(d.carry, chunk...)
		d.carry = nil
	}
	whole := len(data) - len(data)%frameBytes
	if whole < len(data) {
		d.carry = append([]byte(nil), data[whole:]...)
	}
	if whole == 0 {
		return nil, nil
	}
	return Convert(data[:whole], d.src, d.target), nil
}

// Flush drops an incomplete trailing frame; a single missing byte at the end
// of an utterance is not worth losing the utterance over.
func (d *pcmDecoder) Flush() ([]byte, error) {
	d.carry = nil
	return nil, nil
}

func (d *pcmDecoder) Reset() { d.carry = nil }
