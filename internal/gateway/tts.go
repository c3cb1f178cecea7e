package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/intervox/internal/observe"
	"github.com/MrWong99/intervox/pkg/audio"
	"github.com/MrWong99/intervox/pkg/provider/tts"
)

// ErrTTSUnavailable means synthesis failed to start, produced no first frame
// in time, or ended without any audio.
var ErrTTSUnavailable = errors.New("gateway: speech synthesis unavailable")

// ErrStreamStalled ends a stream whose provider stopped sending frames
// without closing it.
var ErrStreamStalled = errors.New("gateway: speech stream stalled")

const (
	defaultFirstFrameTimeout = 10 * time.Second
	defaultFrameIdleTimeout  = 5 * time.Second
)

// TTSOption configures a [TTS] gateway.
type TTSOption func(*TTS)

// WithFirstFrameTimeout sets how long Synthesize waits for the first frame.
func WithFirstFrameTimeout(d time.Duration) TTSOption {
	return func(g *TTS) { g.firstFrameTimeout = d }
}

// WithFrameIdleTimeout sets how long a started stream may go without a frame
// before it is cut off with [ErrStreamStalled].
func WithFrameIdleTimeout(d time.Duration) TTSOption {
	return func(g *TTS) { g.frameIdleTimeout = d }
}

// WithVoice sets the voice used for every request.
func WithVoice(v tts.VoiceProfile) TTSOption {
	return func(g *TTS) { g.voice = v }
}

// WithTTSMetrics records first-frame latency and outcomes to m.
func WithTTSMetrics(m *observe.Metrics) TTSOption {
	return func(g *TTS) { g.metrics = m }
}

// TTS is the text-to-speech gateway. Safe for concurrent use.
type TTS struct {
	provider          tts.Provider
	voice             tts.VoiceProfile
	outputRate        int
	firstFrameTimeout time.Duration
	frameIdleTimeout  time.Duration
	metrics           *observe.Metrics
	avail             *Availability
}

// NewTTS wraps p. outputRate is the PCM16 mono rate p produces.
func NewTTS(p tts.Provider, outputRate int, opts ...TTSOption) *TTS {
	g := &TTS{
		provider:          p,
		outputRate:        outputRate,
		firstFrameTimeout: defaultFirstFrameTimeout,
		frameIdleTimeout:  defaultFrameIdleTimeout,
		avail:             NewAvailability("tts"),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Availability returns the gateway's availability flag.
func (g *TTS) Availability() *Availability { return g.avail }

// OutputRate returns the sample rate of the frames Synthesize yields.
func (g *TTS) OutputRate() int { return g.outputRate }

// Stream is the audio of one synthesized fragment.
type Stream struct {
	// C yields PCM16 frames and is closed when synthesis ends, stalls or is
	// cancelled.
	C <-chan []byte

	err error
}

// Err reports why the stream ended before the provider finished: a wrapped
// [ErrStreamStalled] or the context error. It is nil for a complete stream
// and must only be called after C is closed.
func (s *Stream) Err() error { return s.err }

// Synthesize starts synthesis of text and waits for the first audio frame.
//
// On success the returned stream yields that frame followed by the rest of
// the audio. It must be read to completion or abandoned by cancelling ctx.
// Failures wrap [ErrTTSUnavailable].
func (g *TTS) Synthesize(ctx context.Context, text string) (*Stream, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrTTSUnavailable)
	}

	spanCtx, span := observe.StartSpan(ctx, observe.SpanTTS)
	defer span.End()

	start := time.Now()
	streamCtx, cancel := context.WithCancel(spanCtx)
	src, err := g.provider.Synthesize(streamCtx, text, g.voice)
	if err != nil {
		cancel()
		return nil, g.fail(ctx, "start", err)
	}

	first, err := g.firstFrame(streamCtx, src)
	if err != nil {
		cancel()
		go audio.Drain(src)
		return nil, g.fail(ctx, reasonOf(err), err)
	}

	g.avail.MarkAvailable()
	if g.metrics != nil {
		g.metrics.TTSFirstFrame.Record(ctx, time.Since(start).Seconds())
		g.metrics.RecordProviderRequest(ctx, "tts", "ok")
	}

	out := make(chan []byte, 16)
	st := &Stream{C: out}
	go func() {
		defer close(out)
		defer cancel()
		st.err = g.forward(streamCtx, src, out, first)
		if st.err != nil {
			go audio.Drain(src)
		}
		if errors.Is(st.err, ErrStreamStalled) {
			g.avail.MarkUnavailable(st.err)
			if g.metrics != nil {
				g.metrics.RecordProviderError(ctx, "tts", "stalled")
			}
		}
	}()
	return st, nil
}

// forward copies src to out until src closes. It gives up when no frame
// arrives within the idle timeout or ctx ends.
func (g *TTS) forward(ctx context.Context, src <-chan []byte, out chan<- []byte, first []byte) error {
	if !send(ctx, out, first) {
		return ctx.Err()
	}
	idle := time.NewTimer(g.frameIdleTimeout)
	defer idle.Stop()
	for {
		select {
		case frame, ok := <-src:
			if !ok {
				return nil
			}
			if len(frame) == 0 {
				continue
			}
			if !send(ctx, out, frame) {
				return ctx.Err()
			}
			idle.Reset(g.frameIdleTimeout)
		case <-idle.C:
			return fmt.Errorf("%w: no frame for %s", ErrStreamStalled, g.frameIdleTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var (
	errEmptyStream       = errors.New("stream ended without audio")
	errFirstFrameTimeout = errors.New("no audio before first-frame deadline")
)

func (g *TTS) firstFrame(ctx context.Context, src <-chan []byte) ([]byte, error) {
	timer := time.NewTimer(g.firstFrameTimeout)
	defer timer.Stop()
	for {
		select {
		case frame, ok := <-src:
			if !ok {
				return nil, errEmptyStream
			}
			if len(frame) > 0 {
				return frame, nil
			}
		case <-timer.C:
			return nil, errFirstFrameTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (g *TTS) fail(ctx context.Context, reason string, err error) error {
	if !errors.Is(err, context.Canceled) {
		g.avail.MarkUnavailable(err)
	}
	if g.metrics != nil {
		g.metrics.RecordProviderRequest(ctx, "tts", "error")
		g.metrics.RecordProviderError(ctx, "tts", reason)
	}
	return fmt.Errorf("%w: %w", ErrTTSUnavailable, err)
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, errEmptyStream):
		return "empty"
	case errors.Is(err, errFirstFrameTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "transient"
	}
}

func send(ctx context.Context, out chan<- []byte, frame []byte) bool {
	select {
	case out <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}
