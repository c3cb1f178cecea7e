package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// defaultMaxWAVBytes bounds how much of a single WAV container is buffered.
// Ten minutes of 48 kHz stereo 16-bit audio fits comfortably.
const defaultMaxWAVBytes = 128 << 20

// wavFormatPCM is the RIFF format tag for integer PCM.
const wavFormatPCM = 1

// wavDecoder buffers one RIFF/WAVE container and decodes it on Flush.
type wavDecoder struct {
	target   Format
	maxBytes int
	buf      []byte
}

func (d *wavDecoder) Codec() Codec { return CodecWAV }

func (d *wavDecoder) Decode(chunk []byte) ([]byte, error) {
	if len(d.buf)+len(chunk) > d.maxBytes {
		d.buf = nil
		return nil, &DecodeError{Codec: CodecWAV, Reason: fmt.Sprintf("container exceeds %d bytes", d.maxBytes)}
	}
	d.buf = append(d.buf, chunk...)
	return nil, nil
}

func (d *wavDecoder) Flush() ([]byte, error) {
	if len(d.buf) == 0 {
		return nil, nil
	}
	data := d.buf
	d.buf = nil
	pcm, src, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}
	return Convert(pcm, src, d.target), nil
}

func (d *wavDecoder) Reset() { d.buf = nil }

// DecodeWAV parses a complete RIFF/WAVE container holding integer PCM and
// returns its samples as 16-bit little-endian PCM together with the source
// format.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, Format{}, &DecodeError{Codec: CodecWAV, Reason: "invalid RIFF/WAVE header", Err: dec.Err()}
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return nil, Format{}, &DecodeError{Codec: CodecWAV, Reason: fmt.Sprintf("unsupported format tag %d", dec.WavAudioFormat)}
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, &DecodeError{Codec: CodecWAV, Reason: "read PCM data", Err: err}
	}
	f := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	if err := f.Validate(); err != nil {
		return nil, Format{}, &DecodeError{Codec: CodecWAV, Reason: "bad header", Err: err}
	}
	return IntsToBytes(buf.Data, int(dec.BitDepth)), f, nil
}

// EncodeWAV wraps 16-bit PCM in a RIFF/WAVE container.
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	var ws memWriteSeeker
	w := NewWAVWriter(&ws, f)
	if err := w.Write(pcm); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return ws.buf, nil
}

// WAVWriter streams 16-bit PCM into a WAV container. The header sizes are
// patched on Close, so the destination must be seekable.
type WAVWriter struct {
	enc    *wav.Encoder
	format *goaudio.Format
}

// NewWAVWriter returns a WAVWriter that writes to ws. Close must be called to
// finalise the header; it does not close ws.
func NewWAVWriter(ws io.WriteSeeker, f Format) *WAVWriter {
	return &WAVWriter{
		enc:    wav.NewEncoder(ws, f.SampleRate, 16, f.Channels, wavFormatPCM),
		format: &goaudio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
	}
}

// Write appends pcm to the container.
func (w *WAVWriter) Write(pcm []byte) error {
	if len(pcm)%2 != 0 {
		return errors.New("audio: wav write: pcm payload not aligned")
	}
	if len(pcm) == 0 {
		return nil
	}
	buf := &goaudio.IntBuffer{Format: w.format, Data: BytesToInts(pcm), SourceBitDepth: 16}
	if err := w.enc.Write(buf); err != nil {
		return fmt.Errorf("audio: wav write: %w", err)
	}
	return nil
}

// Close finalises the WAV header.
func (w *WAVWriter) Close() error {
	if err := w.enc.Close(); err != nil {
		return fmt.Errorf("audio: wav close: %w", err)
	}
	return nil
}

// memWriteSeeker is an in-memory io.WriteSeeker for building small WAV
// payloads without a temp file.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		if end > cap(m.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, m.buf)
			m.buf = grown
		} else {
			m.buf = m.buf[:end]
		}
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(m.pos) + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("audio: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("audio: negative position")
	}
	m.pos = int(abs)
	return abs, nil
}
