// Package session drives one voice interview from the first audio chunk to
// the closing message.
//
// A [Session] is a state machine with exactly one writer: its [Session.Run]
// goroutine. The transport feeds client messages through a channel and
// receives outbound events through a [Sink]; every external call (speech
// recognition, generation, synthesis) runs on that goroutine under a context
// derived from the session context, so turns are strictly serialised and a
// disconnect abandons whatever is in flight.
//
// Only a dialogue failure terminates a session. Recognition failures ask the
// client to repeat the utterance, synthesis failures fall back to text-only
// replies, and transcript write failures are logged.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/intervox/internal/dialogue"
	"github.com/MrWong99/intervox/internal/gateway"
	"github.com/MrWong99/intervox/internal/interview"
	"github.com/MrWong99/intervox/internal/observe"
	"github.com/MrWong99/intervox/pkg/audio"
)

// DefaultClosingMessage is spoken when the interviewer turn cap is reached.
const DefaultClosingMessage = "Thanks for participating in the interview. We will get back to you regarding " +
	"the next steps. Please keep an eye on your email for further instructions."

// DefaultMaxInterviewerTurns caps the number of generated questions.
const DefaultMaxInterviewerTurns = 30

// Transcriber turns an utterance into text. *gateway.STT implements it.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, vocabulary ...string) (string, error)
}

// Generator produces the next interviewer utterance. *dialogue.Engine
// implements it.
type Generator interface {
	NextTurn(ctx context.Context, ic interview.Context, history []interview.Turn) (string, error)
}

// Synthesizer streams speech for text. *gateway.TTS implements it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*gateway.Stream, error)
	OutputRate() int
}

// Journal persists the session record and its turns. *transcript.Recorder
// implements it.
type Journal interface {
	Begin(ctx context.Context, rec interview.Record) error
	Append(ctx context.Context, sessionID string, turn interview.Turn) error
	Finish(ctx context.Context, id string, status interview.Status) error
}

// Archiver stores the audio of interviewer turns. *archive.Archive
// implements it.
type Archiver interface {
	Save(sessionID string, seq int, pcm []byte, f audio.Format) (string, error)
}

// Deps are the collaborators shared by all sessions. STT, Dialogue and TTS
// are required.
type Deps struct {
	STT      Transcriber
	Dialogue Generator
	TTS      Synthesizer
	Journal  Journal
	Archive  Archiver
	Metrics  *observe.Metrics
}

// Config holds per-session tunables.
type Config struct {
	// Codec and InputFormat describe the client's audio.
	Codec       audio.Codec
	InputFormat audio.Format

	// STTRate is the sample rate handed to the recognizer.
	STTRate int

	// MaxInterviewerTurns is the number of generated questions after which
	// the next candidate turn is answered with ClosingMessage.
	MaxInterviewerTurns int
	ClosingMessage      string

	// Greeting enables the opening line.
	Greeting bool

	// MaxUtterance bounds the buffered audio of one utterance. Zero means
	// unbounded.
	MaxUtterance time.Duration

	// Keywords are passed to the recognizer's vocabulary corrector together
	// with the candidate name.
	Keywords []string
}

func (c Config) withDefaults() Config {
	if c.Codec == "" {
		c.Codec = audio.CodecPCM16
	}
	if c.InputFormat.SampleRate == 0 {
		c.InputFormat.SampleRate = 16000
	}
	if c.InputFormat.Channels == 0 {
		c.InputFormat.Channels = 1
	}
	if c.STTRate == 0 {
		c.STTRate = 16000
	}
	if c.MaxInterviewerTurns <= 0 {
		c.MaxInterviewerTurns = DefaultMaxInterviewerTurns
	}
	if c.ClosingMessage == "" {
		c.ClosingMessage = DefaultClosingMessage
	}
	return c
}

// errFailed marks the terminal dialogue failure.
var errFailed = errors.New("session: failed")

// Session is one interview. Exported methods other than Run are safe for
// concurrent use.
type Session struct {
	id      string
	ic      interview.Context
	cfg     Config
	deps    Deps
	created time.Time

	// Owned by the Run goroutine.
	sink     Sink
	decoder  audio.Decoder
	pending  []byte
	discard  bool
	overflow bool
	maxBytes int
	vocab    []string

	mu       sync.RWMutex
	state    State
	turns    []interview.Turn
	cancel   context.CancelFunc
	stopped  bool
	running  bool
	finished bool
}

func newSession(id string, ic interview.Context, cfg Config, deps Deps) (*Session, error) {
	cfg = cfg.withDefaults()
	dec, err := audio.NewDecoder(cfg.Codec, cfg.InputFormat, cfg.STTRate)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	s := &Session{
		id:      id,
		ic:      ic,
		cfg:     cfg,
		deps:    deps,
		created: time.Now().UTC(),
		decoder: dec,
		state:   Created,
		turns:   []interview.Turn{},
	}
	if cfg.MaxUtterance > 0 {
		s.maxBytes = int(cfg.MaxUtterance.Seconds()*float64(cfg.STTRate)) * 2
	}
	s.vocab = append([]string{ic.CandidateName}, cfg.Keywords...)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Context returns the immutable interview context.
func (s *Session) Context() interview.Context { return s.ic }

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Transcript returns a copy of the turns appended so far.
func (s *Session) Transcript() []interview.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]interview.Turn(nil), s.turns...)
}

// Stop cancels a running session, or prevents a later Run from starting.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
}

// Run drives the session until the client disconnects (in is closed or ctx
// is cancelled), the interview closes, or generation fails. It returns nil
// for a normal close and an error wrapping [dialogue.ErrUnavailable] when
// the session failed. Run may be called once.
func (s *Session) Run(ctx context.Context, in <-chan Inbound, sink Sink) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("session: already running")
	}
	s.running = true
	s.cancel = cancel
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		s.mu.Lock()
		s.state, s.finished = Closed, true
		s.mu.Unlock()
		return nil
	}

	ctx, span := observe.StartSessionSpan(ctx, observe.SpanSessionRun, s.id)
	defer span.End()

	s.sink = sink
	if m := s.deps.Metrics; m != nil {
		m.ActiveSessions.Add(ctx, 1)
		defer m.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	}
	if j := s.deps.Journal; j != nil {
		rec := interview.Record{ID: s.id, Context: s.ic, Status: interview.StatusActive, CreatedAt: s.created}
		if err := j.Begin(ctx, rec); err != nil {
			slog.Warn("failed to create interview record", "session_id", s.id, "err", err)
		}
	}
	slog.Info("session started", "session_id", s.id, "candidate", s.ic.CandidateName, "codec", s.cfg.Codec)

	err := s.loop(ctx, in)
	switch {
	case errors.Is(err, errFailed):
		s.finish(ctx, Failed)
		return fmt.Errorf("session %s: %w", s.id, dialogue.ErrUnavailable)
	default:
		if err != nil && ctx.Err() == nil {
			slog.Debug("session ended by transport", "session_id", s.id, "err", err)
		}
		s.finish(ctx, Closed)
		return nil
	}
}

// loop returns nil when the client disconnects or the interview closes.
func (s *Session) loop(ctx context.Context, in <-chan Inbound) error {
	if err := s.send(ctx, Event{Type: EventSession, SessionID: s.id, SampleRate: s.deps.TTS.OutputRate()}); err != nil {
		return err
	}
	if s.cfg.Greeting {
		greeting := dialogue.Greeting(s.ic.CandidateName)
		if _, _, err := s.speak(ctx, Event{Type: EventGreeting, Text: greeting}, greeting, 0); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			done, err := s.handle(ctx, msg)
			if err != nil || done {
				return err
			}
		}
	}
}

func (s *Session) handle(ctx context.Context, msg Inbound) (bool, error) {
	switch msg.Kind {
	case InboundAudio:
		if s.State() == Created {
			if err := s.transition(ctx, AwaitingSpeech, "first audio"); err != nil {
				return false, nil
			}
		}
		s.buffer(msg.Audio)
		return false, nil
	case InboundStartUtterance:
		s.resetUtterance()
		return false, nil
	case InboundEndUtterance:
		return s.endUtterance(ctx)
	default:
		slog.Warn("unknown inbound message", "session_id", s.id, "kind", msg.Kind)
		return false, nil
	}
}

func (s *Session) buffer(chunk []byte) {
	if s.discard || len(chunk) == 0 {
		return
	}
	pcm, err := s.decoder.Decode(chunk)
	if err != nil {
		s.discard = true
		s.pending = nil
		slog.Warn("discarding utterance after decode error", "session_id", s.id, "err", err)
		return
	}
	s.appendPCM(pcm)
}

func (s *Session) appendPCM(pcm []byte) {
	if s.maxBytes > 0 && len(s.pending)+len(pcm) > s.maxBytes {
		if !s.overflow {
			slog.Warn("utterance exceeds maximum length, truncating", "session_id", s.id, "max", s.cfg.MaxUtterance)
			s.overflow = true
		}
		pcm = pcm[:max(s.maxBytes-len(s.pending), 0)]
		pcm = pcm[:len(pcm)&^1]
	}
	s.pending = append(s.pending, pcm...)
}

func (s *Session) resetUtterance() {
	s.pending = nil
	s.discard = false
	s.overflow = false
	s.decoder.Reset()
}

func (s *Session) endUtterance(ctx context.Context) (bool, error) {
	if !s.discard {
		tail, err := s.decoder.Flush()
		if err != nil {
			slog.Warn("discarding utterance after decode error", "session_id", s.id, "err", err)
			s.discard = true
		} else {
			s.appendPCM(tail)
		}
	}
	if s.discard {
		s.resetUtterance()
		return false, s.retry(ctx, ReasonDecodeError, "Sorry, I couldn't process that audio. Please repeat your answer.")
	}
	pcm := s.pending
	s.resetUtterance()
	if len(pcm) == 0 {
		return false, s.retry(ctx, ReasonNoAudio, "I didn't receive any audio. Please try again.")
	}
	return s.runTurn(ctx, pcm)
}

// runTurn handles one complete utterance. It returns done=true when the
// interview closed.
func (s *Session) runTurn(ctx context.Context, pcm []byte) (bool, error) {
	start := time.Now()
	ctx, span := observe.StartSessionSpan(ctx, observe.SpanSessionTurn, s.id)
	defer span.End()

	if err := s.transition(ctx, Transcribing, "end of utterance"); err != nil {
		return false, nil
	}
	text, err := s.deps.STT.Transcribe(ctx, pcm, s.vocab...)
	if err != nil {
		if ctx.Err() != nil {
			return true, nil
		}
		reason, msg := ReasonSTTUnavailable, "Sorry, I couldn't hear you clearly. Please repeat your answer."
		if errors.Is(err, gateway.ErrNoSpeech) {
			reason, msg = ReasonNoSpeech, "I didn't catch anything. Please try again."
		}
		s.degraded(ctx, reason, Transcribing, AwaitingSpeech, err)
		if err := s.transition(ctx, AwaitingSpeech, reason); err != nil {
			return false, nil
		}
		return false, s.retry(ctx, reason, msg)
	}

	seq := s.appendTurn(ctx, interview.Turn{Speaker: interview.Candidate, Text: text, Timestamp: time.Now().UTC()})
	if err := s.send(ctx, Event{Type: EventTranscript, Speaker: interview.Candidate, Text: text, Seq: seq}); err != nil {
		return false, err
	}

	if err := s.transition(ctx, Generating, "recognized"); err != nil {
		return false, nil
	}
	closing := interview.CountSpeaker(s.Transcript(), interview.Interviewer) >= s.cfg.MaxInterviewerTurns
	reply := s.cfg.ClosingMessage
	if !closing {
		reply, err = s.deps.Dialogue.NextTurn(ctx, s.ic, s.Transcript())
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			slog.Error("dialogue unavailable, failing session", "session_id", s.id,
				"from", Generating, "to", Failed, "err", err)
			if s.deps.Metrics != nil {
				s.deps.Metrics.RecordDegradedTurn(ctx, ReasonLLMUnavailable)
			}
			_ = s.transition(ctx, Failed, ReasonLLMUnavailable)
			_ = s.send(ctx, Event{Type: EventError, Reason: ReasonLLMUnavailable, Fatal: true,
				Message: "The interviewer is unavailable right now. Please try again later."})
			return true, errFailed
		}
	}

	if err := s.transition(ctx, Synthesizing, "generated"); err != nil {
		return false, nil
	}
	seq = s.nextSeq()
	ev := Event{Type: EventTranscript, Speaker: interview.Interviewer, Text: reply, Seq: seq}
	if closing {
		ev = Event{Type: EventClosing, Text: reply, Seq: seq}
	}
	pcmOut, audioOK, speakErr := s.speak(ctx, ev, reply, seq)

	// The reply is recorded even if the client left mid-speech.
	turn := interview.Turn{Speaker: interview.Interviewer, Text: reply, Timestamp: time.Now().UTC()}
	if audioOK && len(pcmOut) > 0 && s.deps.Archive != nil {
		ref, err := s.deps.Archive.Save(s.id, seq, pcmOut, audio.Format{SampleRate: s.deps.TTS.OutputRate(), Channels: 1})
		if err != nil {
			slog.Warn("failed to archive reply audio", "session_id", s.id, "seq", seq, "err", err)
		}
		turn.AudioRef = ref
	}
	s.appendTurn(context.WithoutCancel(ctx), turn)

	if s.deps.Metrics != nil {
		s.deps.Metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
	}
	if speakErr != nil || ctx.Err() != nil {
		return true, speakErr
	}
	if closing {
		slog.Info("interviewer turn cap reached, closing session", "session_id", s.id, "turns", s.cfg.MaxInterviewerTurns)
		return true, nil
	}
	if err := s.transition(ctx, AwaitingSpeech, "reply delivered"); err != nil {
		return false, nil
	}
	return false, nil
}

// speak sends ev and streams synthesized audio for text, one sentence at a
// time. It returns the streamed PCM when an archive is configured and
// whether audio reached the client. A synthesis failure before the first frame
// degrades to text only; a later failure ends the audio early with
// partial=true. The only returned errors come from the sink.
func (s *Session) speak(ctx context.Context, ev Event, text string, seq int) ([]byte, bool, error) {
	var (
		collected []byte
		started   bool
		partial   bool
	)
	for _, frag := range SplitSentences(text) {
		st, err := s.deps.TTS.Synthesize(ctx, frag)
		if err != nil {
			if ctx.Err() != nil {
				partial = started
				break
			}
			if !started {
				from, to := textOnlyEdge(s.State())
				s.degraded(ctx, ReasonTTSUnavailable, from, to, err)
			} else {
				slog.Warn("synthesis failed mid-reply, ending audio early", "session_id", s.id, "seq", seq, "err", err)
			}
			partial = started
			break
		}
		if !started {
			started = true
			if err := s.beginSpeaking(ctx, ev, true); err != nil {
				go audio.Drain(st.C)
				return nil, false, err
			}
		}
		for frame := range st.C {
			if sendErr := s.sink.SendAudio(ctx, frame); sendErr != nil {
				go audio.Drain(st.C)
				return nil, false, sendErr
			}
			if s.deps.Archive != nil {
				collected = append(collected, frame...)
			}
		}
		if ctx.Err() != nil {
			partial = true
			break
		}
		if err := st.Err(); err != nil {
			slog.Warn("synthesis stalled mid-reply, ending audio early", "session_id", s.id, "seq", seq, "err", err)
			partial = true
			break
		}
	}
	if !started {
		if err := s.beginSpeaking(ctx, ev, false); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	if err := s.send(ctx, Event{Type: EventAudioEnd, Seq: seq, Partial: partial}); err != nil {
		return collected, true, err
	}
	return collected, true, nil
}

// beginSpeaking moves a turn into Speaking and announces the reply.
func (s *Session) beginSpeaking(ctx context.Context, ev Event, withAudio bool) error {
	if s.State() == Synthesizing {
		_ = s.transition(ctx, Speaking, "synthesis resolved")
	}
	ev.Audio = withAudio
	if err := s.send(ctx, ev); err != nil {
		return err
	}
	if withAudio {
		return s.send(ctx, Event{Type: EventAudioStart, Seq: ev.Seq})
	}
	return nil
}

func (s *Session) retry(ctx context.Context, reason, msg string) error {
	return s.send(ctx, Event{Type: EventRetry, Reason: reason, Message: msg})
}

// degraded logs a fallback decision. from == to means the state holds.
func (s *Session) degraded(ctx context.Context, reason string, from, to State, err error) {
	if from == to {
		slog.Warn("degraded turn", "session_id", s.id, "reason", reason, "state", from, "err", err)
	} else {
		slog.Warn("degraded turn", "session_id", s.id, "reason", reason, "from", from, "to", to, "err", err)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordDegradedTurn(ctx, reason)
	}
}

// transition moves the session to `to`, announcing it to the client. An
// invalid transition is logged and leaves the state unchanged.
func (s *Session) transition(ctx context.Context, to State, cause string) error {
	s.mu.Lock()
	from := s.state
	if err := checkTransition(from, to); err != nil {
		s.mu.Unlock()
		slog.Error("rejected state transition", "session_id", s.id, "from", from, "to", to, "cause", cause, "err", err)
		return err
	}
	s.state = to
	s.mu.Unlock()
	slog.Debug("session transition", "session_id", s.id, "from", from, "to", to, "cause", cause)
	if s.sink != nil && !to.Terminal() {
		if err := s.sink.Send(ctx, Event{Type: EventState, State: to}); err != nil {
			slog.Debug("state event not delivered", "session_id", s.id, "err", err)
		}
	}
	return nil
}

// appendTurn adds turn to the in-memory transcript and the journal. It
// returns the 1-based position of the turn.
func (s *Session) appendTurn(ctx context.Context, turn interview.Turn) int {
	s.mu.Lock()
	s.turns = append(s.turns, turn)
	seq := len(s.turns)
	s.mu.Unlock()
	if s.deps.Journal != nil {
		if err := s.deps.Journal.Append(ctx, s.id, turn); err != nil {
			slog.Warn("transcript append failed", "session_id", s.id, "seq", seq, "speaker", turn.Speaker, "err", err)
		}
	}
	return seq
}

func (s *Session) nextSeq() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns) + 1
}

func (s *Session) send(ctx context.Context, ev Event) error {
	if err := s.sink.Send(ctx, ev); err != nil {
		return fmt.Errorf("session: send %s: %w", ev.Type, err)
	}
	return nil
}

// finish moves the session to its terminal state and records the outcome.
func (s *Session) finish(ctx context.Context, final State) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	from := s.state
	if from.Terminal() {
		final = from
	} else {
		s.state = final
	}
	s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	status := interview.StatusClosed
	if final == Failed {
		status = interview.StatusFailed
	}
	if j := s.deps.Journal; j != nil {
		if err := j.Finish(ctx, s.id, status); err != nil {
			slog.Warn("failed to finalise interview record", "session_id", s.id, "err", err)
		}
	}
	if m := s.deps.Metrics; m != nil {
		m.RecordSessionOutcome(ctx, final.String())
	}
	slog.Info("session finished", "session_id", s.id, "from", from, "state", final, "turns", len(s.Transcript()))
}
