package session_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/intervox/internal/dialogue"
	"github.com/MrWong99/intervox/internal/gateway"
	"github.com/MrWong99/intervox/internal/interview"
	"github.com/MrWong99/intervox/internal/observe"
	"github.com/MrWong99/intervox/internal/session"
	"github.com/MrWong99/intervox/internal/transcript"
	"github.com/MrWong99/intervox/internal/transcript/mock"
	"github.com/MrWong99/intervox/pkg/audio"
	llmmock "github.com/MrWong99/intervox/pkg/provider/llm/mock"
	"github.com/MrWong99/intervox/pkg/provider/stt"
	sttmock "github.com/MrWong99/intervox/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/intervox/pkg/provider/tts/mock"
)

var alex = interview.Context{JobDescription: "Backend Engineer", ExperienceYears: 3, CandidateName: "Alex"}

// ---- test doubles ----

type sinkItem struct {
	ev    session.Event
	frame []byte
}

func (i sinkItem) isAudio() bool { return i.frame != nil }

type recordingSink struct {
	mu    sync.Mutex
	items []sinkItem
	err   error

	// audioErr fails audio frames only.
	audioErr error
}

func (s *recordingSink) Send(_ context.Context, ev session.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.items = append(s.items, sinkItem{ev: ev})
	return nil
}

func (s *recordingSink) SendAudio(_ context.Context, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.audioErr != nil {
		return s.audioErr
	}
	s.items = append(s.items, sinkItem{frame: append([]byte{}, frame...)})
	return nil
}

func (s *recordingSink) snapshot() []sinkItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkItem(nil), s.items...)
}

// events returns the text events of type typ.
func (s *recordingSink) events(typ session.EventType) []session.Event {
	var out []session.Event
	for _, it := range s.snapshot() {
		if !it.isAudio() && it.ev.Type == typ {
			out = append(out, it.ev)
		}
	}
	return out
}

func (s *recordingSink) states() []session.State {
	var out []session.State
	for _, ev := range s.events(session.EventState) {
		out = append(out, ev.State)
	}
	return out
}

type savedClip struct {
	session string
	seq     int
	bytes   int
}

type fakeArchive struct {
	mu    sync.Mutex
	clips []savedClip
}

func (a *fakeArchive) Save(sessionID string, seq int, pcm []byte, _ audio.Format) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clips = append(a.clips, savedClip{sessionID, seq, len(pcm)})
	return sessionID + "/reply.wav", nil
}

// ---- harness ----

type harness struct {
	stt   *sttmock.Provider
	llm   *llmmock.Provider
	tts   *ttsmock.Provider
	store *mock.Store
	cfg   session.Config
	deps  session.Deps
	reg   *session.Registry
}

func newHarness(t *testing.T, cfg session.Config) *harness {
	t.Helper()
	h := &harness{
		stt:   &sttmock.Provider{},
		llm:   &llmmock.Provider{},
		tts:   &ttsmock.Provider{Frames: [][]byte{frame(1), frame(2), frame(3)}},
		store: &mock.Store{},
		cfg:   cfg,
	}
	h.deps = session.Deps{
		STT:      gateway.NewSTT(h.stt, gateway.WithSTTTimeout(time.Second), gateway.WithSTTAttemptTimeout(500*time.Millisecond)),
		Dialogue: dialogue.New(h.llm, dialogue.WithBackoff(time.Millisecond)),
		TTS:      gateway.NewTTS(h.tts, 24000, gateway.WithFirstFrameTimeout(time.Second)),
		Journal:  transcript.NewRecorder(h.store),
	}
	h.reg = session.NewRegistry(h.deps, cfg)
	return h
}

// run creates a session for ic, feeds msgs and runs it until the input is
// exhausted.
func (h *harness) run(t *testing.T, ic interview.Context, msgs ...session.Inbound) (*session.Session, *recordingSink, error) {
	t.Helper()
	id, err := h.reg.Create(ic)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s, err := h.reg.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	in := make(chan session.Inbound, len(msgs))
	for _, m := range msgs {
		in <- m
	}
	close(in)
	sink := &recordingSink{}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s, sink, s.Run(ctx, in, sink)
}

// speech returns n samples of a loud square wave.
func speech(n int) []byte {
	s := make([]int16, n)
	for i := range s {
		if (i/20)%2 == 0 {
			s[i] = 8000
		} else {
			s[i] = -8000
		}
	}
	return audio.Int16sToBytes(s)
}

func frame(marker byte) []byte {
	return []byte{marker, marker, marker, marker}
}

func utterance() []session.Inbound {
	return []session.Inbound{
		{Kind: session.InboundStartUtterance},
		{Kind: session.InboundAudio, Audio: speech(800)},
		{Kind: session.InboundAudio, Audio: speech(800)},
		{Kind: session.InboundEndUtterance},
	}
}

func utterances(n int) []session.Inbound {
	var out []session.Inbound
	for range n {
		out = append(out, utterance()...)
	}
	return out
}

func speakers(turns []interview.Turn) []interview.Speaker {
	out := make([]interview.Speaker, len(turns))
	for i, t := range turns {
		out[i] = t.Speaker
	}
	return out
}

// ---- scenarios ----

func TestSession_BackendEngineerScenario(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.stt.Transcript = stt.Transcript{Text: "I have three years of Go experience"}
	h.llm.Content = "Tell me about a challenging concurrency bug you fixed."

	s, sink, err := h.run(t, alex, utterance()...)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	turns := s.Transcript()
	if len(turns) != 2 {
		t.Fatalf("transcript = %d turns, want 2", len(turns))
	}
	if turns[0].Speaker != interview.Candidate || turns[0].Text != "I have three years of Go experience" {
		t.Errorf("turn 0 = %+v", turns[0])
	}
	if turns[1].Speaker != interview.Interviewer || turns[1].Text != "Tell me about a challenging concurrency bug you fixed." {
		t.Errorf("turn 1 = %+v", turns[1])
	}

	// The client sees the exact text, then the audio framed by start/end.
	items := sink.snapshot()
	idx := slices.IndexFunc(items, func(it sinkItem) bool {
		return !it.isAudio() && it.ev.Type == session.EventTranscript && it.ev.Speaker == interview.Interviewer
	})
	if idx < 0 {
		t.Fatal("no interviewer transcript event")
	}
	reply := items[idx].ev
	if reply.Text != "Tell me about a challenging concurrency bug you fixed." || !reply.Audio || reply.Seq != 2 {
		t.Errorf("reply event = %+v", reply)
	}
	rest := items[idx+1:]
	if len(rest) < 5 || rest[0].ev.Type != session.EventAudioStart {
		t.Fatalf("expected audio-start after reply, got %+v", rest)
	}
	for i := 1; i <= 3; i++ {
		if !rest[i].isAudio() || rest[i].frame[0] != byte(i) {
			t.Errorf("item %d = %+v, want frame %d", i, rest[i], i)
		}
	}
	if rest[4].ev.Type != session.EventAudioEnd || rest[4].ev.Partial {
		t.Errorf("item 4 = %+v, want complete audio-end", rest[4].ev)
	}

	want := []session.State{session.AwaitingSpeech, session.Transcribing, session.Generating,
		session.Synthesizing, session.Speaking, session.AwaitingSpeech}
	if got := sink.states(); !slices.Equal(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
	if s.State() != session.Closed {
		t.Errorf("final state = %v, want closed after disconnect", s.State())
	}

	// The engine saw the context, the greeting and the candidate turn.
	req, _ := h.llm.LastRequest()
	if !strings.Contains(req.SystemPrompt, "Backend Engineer") || !strings.Contains(req.SystemPrompt, "Alex") {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if last := req.Messages[len(req.Messages)-1]; last.Content != "I have three years of Go experience" {
		t.Errorf("last message = %+v", last)
	}

	if got := h.store.Turns(s.ID()); len(got) != 2 {
		t.Errorf("stored turns = %d, want 2", len(got))
	}
	if h.store.LastStatus() != interview.StatusClosed {
		t.Errorf("record status = %q", h.store.LastStatus())
	}
}

func TestSession_StrictAlternationAndMonotonicAppend(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.stt.Results = []sttmock.Result{
		{Transcript: stt.Transcript{Text: "I build APIs in Go."}},
		{Transcript: stt.Transcript{Text: "   "}}, // no speech
		{Transcript: stt.Transcript{Text: "Mostly with Postgres."}},
		{Transcript: stt.Transcript{Text: "Yes, with pgx."}},
	}
	h.llm.Responses = []llmmock.Response{
		{Content: "Which databases have you used?"},
		{Content: "Do you use an ORM?"},
		{Content: "How do you handle migrations?"},
	}

	s, sink, err := h.run(t, alex, utterances(4)...)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []interview.Speaker{interview.Candidate, interview.Interviewer, interview.Candidate,
		interview.Interviewer, interview.Candidate, interview.Interviewer}
	if got := speakers(s.Transcript()); !slices.Equal(got, want) {
		t.Fatalf("speakers = %v, want %v", got, want)
	}

	// Sequence numbers of transcript events grow by one with no gaps.
	var seqs []int
	for _, ev := range sink.events(session.EventTranscript) {
		seqs = append(seqs, ev.Seq)
	}
	if !slices.Equal(seqs, []int{1, 2, 3, 4, 5, 6}) {
		t.Errorf("seqs = %v", seqs)
	}
	retries := sink.events(session.EventRetry)
	if len(retries) != 1 || retries[0].Reason != session.ReasonNoSpeech {
		t.Errorf("retries = %+v", retries)
	}
}

func TestSession_STTUnavailableKeepsTranscript(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.stt.Results = []sttmock.Result{
		{Err: errors.New("connection reset")},
		{Err: errors.New("connection reset")}, // the retry
		{Transcript: stt.Transcript{Text: "Sorry, I said I know Go."}},
	}
	h.llm.Content = "Great, what did you build with it?"

	s, sink, err := h.run(t, alex, utterances(2)...)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	retries := sink.events(session.EventRetry)
	if len(retries) != 1 || retries[0].Reason != session.ReasonSTTUnavailable || retries[0].Message == "" {
		t.Fatalf("retries = %+v", retries)
	}
	// The failed utterance added nothing and the session accepted the next one.
	if got := speakers(s.Transcript()); !slices.Equal(got, []interview.Speaker{interview.Candidate, interview.Interviewer}) {
		t.Errorf("speakers = %v", got)
	}
	states := sink.states()
	if len(states) < 3 || states[1] != session.Transcribing || states[2] != session.AwaitingSpeech {
		t.Errorf("states = %v, want transcribing -> awaiting_speech after failure", states)
	}
	if h.llm.CallCount() != 1 {
		t.Errorf("llm calls = %d, want 1", h.llm.CallCount())
	}
}

func TestSession_DialogueExhaustionFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.stt.Transcript = stt.Transcript{Text: "Hello"}
	h.llm.Err = errors.New("503 overloaded")

	s, sink, err := h.run(t, alex, utterances(2)...)
	if !errors.Is(err, dialogue.ErrUnavailable) {
		t.Fatalf("Run err = %v, want dialogue.ErrUnavailable", err)
	}
	if s.State() != session.Failed {
		t.Errorf("state = %v, want failed", s.State())
	}
	if got := s.Transcript(); len(got) != 1 || got[0].Speaker != interview.Candidate {
		t.Errorf("transcript = %+v", got)
	}
	errs := sink.events(session.EventError)
	if len(errs) != 1 || !errs[0].Fatal || errs[0].Reason != session.ReasonLLMUnavailable {
		t.Errorf("error events = %+v", errs)
	}
	// The second utterance is never processed.
	if h.stt.CallCount() != 1 || h.llm.CallCount() != 3 {
		t.Errorf("stt calls = %d, llm calls = %d", h.stt.CallCount(), h.llm.CallCount())
	}
	if h.store.LastStatus() != interview.StatusFailed {
		t.Errorf("record status = %q", h.store.LastStatus())
	}
}

func TestSession_TTSUnavailableDeliversText(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.stt.Transcript = stt.Transcript{Text: "I have three years of Go experience"}
	h.llm.Content = "Tell me about a challenging concurrency bug you fixed."
	h.tts.Err = errors.New("voice service down")

	s, sink, err := h.run(t, alex, utterance()...)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := s.Transcript(); len(got) != 2 || got[1].Text != "Tell me about a challenging concurrency bug you fixed." || got[1].AudioRef != "" {
		t.Fatalf("transcript = %+v", got)
	}
	for _, it := range sink.snapshot() {
		if it.isAudio() || it.ev.Type == session.EventAudioStart || it.ev.Type == session.EventAudioEnd {
			t.Fatalf("unexpected audio item %+v", it)
		}
	}
	var reply session.Event
	for _, ev := range sink.events(session.EventTranscript) {
		if ev.Speaker == interview.Interviewer {
			reply = ev
		}
	}
	if reply.Text == "" || reply.Audio {
		t.Errorf("reply = %+v, want text without audio", reply)
	}
	states := sink.states()
	if n := len(states); n < 2 || states[n-2] != session.Speaking || states[n-1] != session.AwaitingSpeech {
		t.Errorf("states = %v, want ... speaking, awaiting_speech", states)
	}
}

func TestSession_AudioFramesNeverInterleave(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.stt.Transcript = stt.Transcript{Text: "answer"}
	h.llm.Responses = []llmmock.Response{
		{Content: "First question. It has two sentences!"},
		{Content: "Second question? Also two."},
	}

	_, sink, err := h.run(t, alex, utterances(2)...)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Every audio frame sits between the audio-start and audio-end of one
	// turn, and no turn opens before the previous one ended.
	open := 0
	var order []int
	for _, it := range sink.snapshot() {
		switch {
		case it.isAudio():
			if open == 0 {
				t.Fatal("audio frame outside a reply")
			}
		case it.ev.Type == session.EventAudioStart:
			if open != 0 {
				t.Fatalf("reply %d started while %d still open", it.ev.Seq, open)
			}
			open = it.ev.Seq
			order = append(order, open)
		case it.ev.Type == session.EventAudioEnd:
			if it.ev.Seq != open {
				t.Fatalf("audio-end %d while %d open", it.ev.Seq, open)
			}
			open = 0
		}
	}
	if !slices.Equal(order, []int{2, 4}) {
		t.Errorf("reply order = %v", order)
	}

	// Sentences are synthesized one at a time, in order.
	want := []string{"First question.", "It has two sentences!", "Second question?", "Also two."}
	if got := h.tts.Texts(); !slices.Equal(got, want) {
		t.Errorf("synthesized = %q, want %q", got, want)
	}
}

func TestSession_MidReplySynthesisFailureIsPartial(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.stt.Transcript = stt.Transcript{Text: "answer"}
	h.llm.Content = "One. Two. Three."
	h.tts.FailOnCall = 2

	s, sink, err := h.run(t, alex, utterance()...)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	ends := sink.events(session.EventAudioEnd)
	if len(ends) != 1 || !ends[0].Partial {
		t.Errorf("audio-end = %+v, want partial", ends)
	}
	if h.tts.CallCount() != 2 {
		t.Errorf("tts calls = %d, want 2 (stop after failure)", h.tts.CallCount())
	}
	if got := s.Transcript(); len(got) != 2 || got[1].Text != "One. Two. Three." {
		t.Errorf("transcript = %+v", got)
	}
}

func TestSession_TurnCapSendsClosing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{MaxInterviewerTurns: 1})
	h.stt.Transcript = stt.Transcript{Text: "answer"}
	h.llm.Content = "Only question?"

	s, sink, err := h.run(t, alex, utterances(3)...)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	closing := sink.events(session.EventClosing)
	if len(closing) != 1 || closing[0].Text != session.DefaultClosingMessage || !closing[0].Audio {
		t.Fatalf("closing = %+v", closing)
	}
	turns := s.Transcript()
	if len(turns) != 4 || turns[3].Text != session.DefaultClosingMessage {
		t.Errorf("transcript = %+v", turns)
	}
	if h.llm.CallCount() != 1 || h.stt.CallCount() != 2 {
		t.Errorf("llm calls = %d, stt calls = %d", h.llm.CallCount(), h.stt.CallCount())
	}
	if s.State() != session.Closed || h.store.LastStatus() != interview.StatusClosed {
		t.Errorf("state = %v, record = %q", s.State(), h.store.LastStatus())
	}
}

func TestSession_GreetingIsNotATurn(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{Greeting: true})
	s, sink, err := h.run(t, alex)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	items := sink.snapshot()
	if len(items) < 3 || items[0].ev.Type != session.EventSession || items[0].ev.SampleRate != 24000 {
		t.Fatalf("items = %+v", items)
	}
	if g := items[1].ev; g.Type != session.EventGreeting || g.Text != "Hi Alex, let's start the interview. Can you please introduce yourself?" || !g.Audio {
		t.Errorf("greeting = %+v", g)
	}
	if items[2].ev.Type != session.EventAudioStart {
		t.Errorf("item 2 = %+v", items[2])
	}
	if len(s.Transcript()) != 0 {
		t.Errorf("greeting was recorded as a turn")
	}
	if s.State() != session.Closed {
		t.Errorf("state = %v", s.State())
	}
}

func TestSession_RejectsBadAudio(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{Codec: audio.CodecWAV})
	s, sink, err := h.run(t, alex,
		session.Inbound{Kind: session.InboundEndUtterance}, // nothing buffered
		session.Inbound{Kind: session.InboundStartUtterance},
		session.Inbound{Kind: session.InboundAudio, Audio: []byte("definitely not a RIFF container")},
		session.Inbound{Kind: session.InboundEndUtterance},
	)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var reasons []string
	for _, ev := range sink.events(session.EventRetry) {
		reasons = append(reasons, ev.Reason)
	}
	if !slices.Equal(reasons, []string{session.ReasonNoAudio, session.ReasonDecodeError}) {
		t.Errorf("retry reasons = %v", reasons)
	}
	if h.stt.CallCount() != 0 || len(s.Transcript()) != 0 {
		t.Errorf("stt calls = %d, turns = %d", h.stt.CallCount(), len(s.Transcript()))
	}
}

func TestSession_ArchivesReplyAudio(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	arch := &fakeArchive{}
	h.deps.Archive = arch
	h.reg = session.NewRegistry(h.deps, h.cfg)
	h.stt.Transcript = stt.Transcript{Text: "answer"}
	h.llm.Content = "Question one?"

	s, _, err := h.run(t, alex, utterance()...)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(arch.clips) != 1 || arch.clips[0].seq != 2 || arch.clips[0].bytes != 12 {
		t.Fatalf("clips = %+v", arch.clips)
	}
	if ref := s.Transcript()[1].AudioRef; ref != s.ID()+"/reply.wav" {
		t.Errorf("audio ref = %q", ref)
	}
}

func TestSession_TranscriptWriteFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.store.AppendErr = errors.New("disk full")
	h.stt.Transcript = stt.Transcript{Text: "answer"}
	h.llm.Content = "Question?"

	s, _, err := h.run(t, alex, utterance()...)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(s.Transcript()) != 2 || h.store.AppendCount() != 2 {
		t.Errorf("turns = %d, append attempts = %d", len(s.Transcript()), h.store.AppendCount())
	}
}

func TestSession_RemoveAbandonsInFlightCall(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.stt.Block = true
	h.deps.STT = gateway.NewSTT(h.stt, gateway.WithSTTTimeout(time.Minute), gateway.WithSTTAttemptTimeout(time.Minute))
	h.reg = session.NewRegistry(h.deps, h.cfg)

	id, _ := h.reg.Create(alex)
	s, _ := h.reg.Get(id)
	in := make(chan session.Inbound, 8)
	for _, m := range utterance() {
		in <- m
	}
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), in, &recordingSink{}) }()

	deadline := time.Now().Add(5 * time.Second)
	for h.stt.CallCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("transcription never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.reg.Remove(id)
	h.reg.Remove(id)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Remove")
	}
	if s.State() != session.Closed || len(s.Transcript()) != 0 {
		t.Errorf("state = %v, turns = %d", s.State(), len(s.Transcript()))
	}
	if _, err := h.reg.Get(id); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Get after Remove: %v", err)
	}
}

func TestSession_SinkFailureCloses(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	id, _ := h.reg.Create(alex)
	s, _ := h.reg.Get(id)
	in := make(chan session.Inbound)
	err := s.Run(context.Background(), in, &recordingSink{err: errors.New("broken pipe")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.State() != session.Closed {
		t.Errorf("state = %v", s.State())
	}
}

func TestSession_StalledSynthesisIsPartial(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.tts.Stall = true
	h.deps.TTS = gateway.NewTTS(h.tts, 24000,
		gateway.WithFirstFrameTimeout(time.Second),
		gateway.WithFrameIdleTimeout(50*time.Millisecond),
	)
	h.reg = session.NewRegistry(h.deps, h.cfg)
	h.stt.Transcript = stt.Transcript{Text: "answer"}
	h.llm.Content = "One. Two."

	s, sink, err := h.run(t, alex, utterance()...)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	ends := sink.events(session.EventAudioEnd)
	if len(ends) != 1 || !ends[0].Partial {
		t.Errorf("audio-end = %+v, want partial", ends)
	}
	if h.tts.CallCount() != 1 {
		t.Errorf("tts calls = %d, want 1 (stop after the stall)", h.tts.CallCount())
	}
	if got := s.Transcript(); len(got) != 2 || got[1].Text != "One. Two." {
		t.Errorf("transcript = %+v", got)
	}
}

func TestSession_SinkFailureMidAudioSkipsArchive(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	arch := &fakeArchive{}
	h.deps.Archive = arch
	h.reg = session.NewRegistry(h.deps, h.cfg)
	h.stt.Transcript = stt.Transcript{Text: "answer"}
	h.llm.Content = "Question one?"

	id, _ := h.reg.Create(alex)
	s, _ := h.reg.Get(id)
	in := make(chan session.Inbound, 8)
	for _, m := range utterance() {
		in <- m
	}
	close(in)
	sink := &recordingSink{audioErr: errors.New("broken pipe")}
	if err := s.Run(context.Background(), in, sink); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(arch.clips) != 0 {
		t.Errorf("clips = %+v, want none after a failed delivery", arch.clips)
	}
	turns := s.Transcript()
	if len(turns) != 2 || turns[1].AudioRef != "" {
		t.Errorf("transcript = %+v, want the reply without an audio ref", turns)
	}
}

func TestSession_GreetingWithoutSynthesisKeepsState(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{Greeting: true})
	h.tts.Err = errors.New("voice service down")

	s, sink, err := h.run(t, alex)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	greetings := sink.events(session.EventGreeting)
	if len(greetings) != 1 || greetings[0].Audio {
		t.Fatalf("greeting = %+v, want text without audio", greetings)
	}
	if got := sink.states(); len(got) != 0 {
		t.Errorf("states = %v, want none before the first utterance", got)
	}
	if s.State() != session.Closed {
		t.Errorf("state = %v", s.State())
	}
}

// TestSession_TracesTurnStages swaps the global tracer provider and must not
// run in parallel.
func TestSession_TracesTurnStages(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	h := newHarness(t, session.Config{})
	h.stt.Transcript = stt.Transcript{Text: "answer"}
	h.llm.Content = "Question?"

	s, _, err := h.run(t, alex, utterance()...)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	byName := map[string]tracetest.SpanStub{}
	for _, span := range exp.GetSpans() {
		byName[span.Name] = span
	}
	turn, ok := byName[observe.SpanSessionTurn]
	if !ok {
		t.Fatalf("no %s span in %v", observe.SpanSessionTurn, exp.GetSpans())
	}
	var id string
	for _, kv := range turn.Attributes {
		if kv.Key == observe.AttrSessionID {
			id = kv.Value.AsString()
		}
	}
	if id != s.ID() {
		t.Errorf("turn session.id = %q, want %q", id, s.ID())
	}
	if run := byName[observe.SpanSessionRun]; turn.Parent.SpanID() != run.SpanContext.SpanID() {
		t.Error("turn span is not a child of the run span")
	}
	for _, stage := range []string{observe.SpanSTT, observe.SpanDialogue, observe.SpanTTS} {
		span, ok := byName[stage]
		if !ok {
			t.Errorf("no %s span", stage)
			continue
		}
		if span.Parent.SpanID() != turn.SpanContext.SpanID() {
			t.Errorf("%s span is not a child of the turn span", stage)
		}
	}
}
