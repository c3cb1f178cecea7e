package audio

import (
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"
)

const (
	opusSampleRate = 48000

	// opusMaxFrameSize is the largest frame gopus may return per channel
	// (120 ms at 48 kHz).
	opusMaxFrameSize = 5760

	// opusMaxPacket bounds a single length-prefixed packet. Real packets are
	// at most a few kilobytes; anything larger means the framing is broken.
	opusMaxPacket = 8000

	opusLenPrefix = 2
)

// opusDecoder decodes length-prefixed Opus packets. It keeps one gopus decoder
// for the lifetime of an utterance so inter-frame prediction state is kept.
type opusDecoder struct {
	channels int
	target   Format
	dec      *gopus.Decoder
	buf      []byte
}

func (d *opusDecoder) Codec() Codec { return CodecOpus }

func (d *opusDecoder) Decode(chunk []byte) ([]byte, error) {
	if d.dec == nil {
		dec, err := gopus.NewDecoder(opusSampleRate, d.channels)
		if err != nil {
			return nil, fmt.Errorf("audio: create opus decoder: %w", err)
		}
		d.dec = dec
	}
	d.buf = append(d.buf, chunk...)

	var pcm []byte
	for len(d.buf) >= opusLenPrefix {
		n := int(binary.BigEndian.Uint16(d.buf))
		if n == 0 || n > opusMaxPacket {
			d.buf = nil
			return nil, &DecodeError{Codec: CodecOpus, Reason: fmt.Sprintf("invalid packet length %d", n)}
		}
		if len(d.buf) < opusLenPrefix+n {
			break
		}
		packet := d.buf[opusLenPrefix : opusLenPrefix+n]
		samples, err := d.dec.Decode(packet, opusMaxFrameSize, false)
		if err != nil {
			d.buf = nil
			return nil, &DecodeError{Codec: CodecOpus, Reason: "corrupt packet", Err: err}
		}
		pcm = append(pcm, Int16sToBytes(samples)...)
		d.buf = d.buf[opusLenPrefix+n:]
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	if len(pcm) == 0 {
		return nil, nil
	}
	src := Format{SampleRate: opusSampleRate, Channels: d.channels}
	return Convert(pcm, src, d.target), nil
}

// Flush fails when a partial packet is still pending: the utterance ended in
// the middle of a frame.
func (d *opusDecoder) Flush() ([]byte, error) {
	if len(d.buf) > 0 {
		pending := len(d.buf)
		d.buf = nil
		return nil, &DecodeError{Codec: CodecOpus, Reason: fmt.Sprintf("truncated packet (%d bytes pending)", pending)}
	}
	return nil, nil
}

func (d *opusDecoder) Reset() {
	d.buf = nil
	d.dec = nil
}
