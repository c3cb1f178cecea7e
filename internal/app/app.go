// Package app wires all intervox subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until its context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject test doubles via functional options (WithStore,
// WithPublisher). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/intervox/internal/archive"
	"github.com/MrWong99/intervox/internal/config"
	"github.com/MrWong99/intervox/internal/dialogue"
	"github.com/MrWong99/intervox/internal/evaluate"
	"github.com/MrWong99/intervox/internal/gateway"
	"github.com/MrWong99/intervox/internal/health"
	"github.com/MrWong99/intervox/internal/interview"
	"github.com/MrWong99/intervox/internal/observe"
	"github.com/MrWong99/intervox/internal/server"
	"github.com/MrWong99/intervox/internal/session"
	"github.com/MrWong99/intervox/internal/transcript"
	"github.com/MrWong99/intervox/internal/transcript/jsonfile"
	"github.com/MrWong99/intervox/internal/transcript/natspub"
	"github.com/MrWong99/intervox/internal/transcript/phonetic"
	"github.com/MrWong99/intervox/internal/transcript/postgres"
	"github.com/MrWong99/intervox/internal/transcript/sqlite"
	"github.com/MrWong99/intervox/pkg/audio"
	"github.com/MrWong99/intervox/pkg/provider/tts"
)

const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes and serves the interview API.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	store     transcript.Store
	publisher transcript.Publisher
	archive   *archive.Archive
	metrics   *observe.Metrics
	recorder  *transcript.Recorder
	stt       *gateway.STT
	tts       *gateway.TTS
	dialogue  *dialogue.Engine
	registry  *session.Registry
	evaluator *evaluate.Evaluator
	server    *server.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a transcript store instead of opening the configured
// backend. The App does not close an injected store.
func WithStore(s transcript.Store) Option {
	return func(a *App) { a.store = s }
}

// WithPublisher injects a turn event publisher instead of connecting to NATS.
func WithPublisher(p transcript.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithMetrics replaces the process-wide metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from [BuildProviders]. Use Option functions to inject test doubles.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil || providers.STT == nil || providers.TTS == nil {
		return nil, errors.New("app: llm, stt and tts providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Transcript store ──────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init transcript store: %w", err)
	}

	// ── 2. Turn event stream ─────────────────────────────────────────────
	if err := a.initPublisher(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init nats publisher: %w", err)
	}

	// ── 3. Audio archive ─────────────────────────────────────────────────
	if dir := cfg.Transcript.AudioArchiveDir; dir != "" {
		arc, err := archive.New(dir)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: init audio archive: %w", err)
		}
		a.archive = arc
		slog.Info("archiving interviewer audio", "dir", arc.Dir())
	}

	// ── 4. Recorder ──────────────────────────────────────────────────────
	recOpts := []transcript.RecorderOption{transcript.WithMetrics(a.metrics)}
	if a.publisher != nil {
		recOpts = append(recOpts, transcript.WithPublisher(a.publisher))
	}
	a.recorder = transcript.NewRecorder(a.store, recOpts...)

	// ── 5. Provider gateways + dialogue ──────────────────────────────────
	a.initPipeline()

	// ── 6. Session registry ──────────────────────────────────────────────
	if err := a.initRegistry(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init sessions: %w", err)
	}

	// ── 7. Evaluator + HTTP surface ──────────────────────────────────────
	a.evaluator = evaluate.New(providers.LLM, a.store)
	a.server = server.New(a.registry, a.evaluator, a.tts,
		server.WithMetrics(a.metrics),
		server.WithHealth(health.New(a.checkers()...)),
		server.WithContextDefaults(contextDefaults(cfg.Interview)),
		server.WithOriginPatterns(cfg.Server.AllowedOrigins...),
	)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured transcript backend unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	tc := a.cfg.Transcript
	var (
		store transcript.Store
		err   error
	)
	switch tc.Backend {
	case config.BackendSQLite:
		store, err = sqlite.Open(ctx, tc.Path)
	case config.BackendPostgres:
		store, err = postgres.NewStore(ctx, tc.DSN)
	case config.BackendJSONFile, "":
		path := tc.Path
		if path == "" {
			path = config.DefaultTranscriptPath
		}
		store, err = jsonfile.Open(path)
	default:
		return fmt.Errorf("unknown backend %q", tc.Backend)
	}
	if err != nil {
		return err
	}
	slog.Info("transcript store opened", "backend", tc.Backend)
	a.store = store
	a.closers = append(a.closers, store.Close)
	return nil
}

// initPublisher connects to NATS when a URL is configured.
func (a *App) initPublisher() error {
	if a.publisher != nil {
		return nil
	}
	nc := a.cfg.Transcript.NATS
	if nc.URL == "" {
		return nil
	}
	pub, err := natspub.Connect(natspub.Config{
		Servers:        []string{nc.URL},
		SubjectPrefix:  nc.Subject,
		Token:          nc.Token,
		ConnectTimeout: 5 * time.Second,
	})
	if err != nil {
		return err
	}
	slog.Info("publishing turn events", "url", nc.URL, "subject", nc.Subject)
	a.publisher = pub
	a.closers = append(a.closers, pub.Close)
	return nil
}

// initPipeline builds the recognizer and synthesizer gateways and the
// dialogue engine around the providers.
func (a *App) initPipeline() {
	sc := a.cfg.Session
	iv := a.cfg.Interview

	sttOpts := []gateway.STTOption{
		gateway.WithSampleRate(sc.STTSampleRate),
		gateway.WithCorrector(transcript.NewCorrector(phonetic.New())),
		gateway.WithSTTMetrics(a.metrics),
	}
	if sc.STTTimeout > 0 {
		sttOpts = append(sttOpts, gateway.WithSTTTimeout(sc.STTTimeout))
	}
	if sc.STTAttemptTimeout > 0 {
		sttOpts = append(sttOpts, gateway.WithSTTAttemptTimeout(sc.STTAttemptTimeout))
	}
	if sc.SilenceThreshold > 0 {
		sttOpts = append(sttOpts, gateway.WithSilenceThreshold(sc.SilenceThreshold))
	}
	if lang := a.cfg.Providers.STT.Option("language"); lang != "" {
		sttOpts = append(sttOpts, gateway.WithLanguage(lang))
	}
	a.stt = gateway.NewSTT(a.providers.STT, sttOpts...)

	ttsOpts := []gateway.TTSOption{
		gateway.WithVoice(tts.VoiceProfile{ID: a.cfg.Providers.TTS.Voice}),
		gateway.WithTTSMetrics(a.metrics),
	}
	if sc.TTSFirstFrameTimeout > 0 {
		ttsOpts = append(ttsOpts, gateway.WithFirstFrameTimeout(sc.TTSFirstFrameTimeout))
	}
	if sc.TTSFrameIdleTimeout > 0 {
		ttsOpts = append(ttsOpts, gateway.WithFrameIdleTimeout(sc.TTSFrameIdleTimeout))
	}
	a.tts = gateway.NewTTS(a.providers.TTS, sc.OutputSampleRate, ttsOpts...)

	dlgOpts := []dialogue.Option{
		dialogue.WithGreeting(iv.GreetingEnabled()),
		dialogue.WithMetrics(a.metrics),
	}
	if iv.Temperature != nil {
		dlgOpts = append(dlgOpts, dialogue.WithTemperature(*iv.Temperature))
	}
	if sc.LLMAttempts > 0 {
		dlgOpts = append(dlgOpts, dialogue.WithAttempts(sc.LLMAttempts))
	}
	if sc.LLMAttemptTimeout > 0 {
		dlgOpts = append(dlgOpts, dialogue.WithAttemptTimeout(sc.LLMAttemptTimeout))
	}
	a.dialogue = dialogue.New(a.providers.LLM, dlgOpts...)
}

// initRegistry creates the session registry from the session and interview
// settings.
func (a *App) initRegistry() error {
	sc := a.cfg.Session
	codec, err := audio.ParseCodec(sc.Codec)
	if err != nil {
		return err
	}

	deps := session.Deps{
		STT:      a.stt,
		Dialogue: a.dialogue,
		TTS:      a.tts,
		Journal:  a.recorder,
		Metrics:  a.metrics,
	}
	if a.archive != nil {
		deps.Archive = a.archive
	}

	cfg := session.Config{
		Codec:        codec,
		InputFormat:  audio.Format{SampleRate: sc.InputSampleRate, Channels: sc.InputChannels},
		STTRate:      sc.STTSampleRate,
		Greeting:     a.cfg.Interview.GreetingEnabled(),
		MaxUtterance: time.Duration(sc.MaxUtteranceSeconds) * time.Second,
	}
	applyInterview(&cfg, a.cfg.Interview)

	a.registry = session.NewRegistry(deps, cfg, session.WithMaxSessions(sc.MaxSessions))
	return nil
}

// checkers returns the readiness checks. Only the language model is
// required: without it no interview can progress.
func (a *App) checkers() []health.Checker {
	cs := []health.Checker{
		{Name: "llm", Check: a.dialogue.Availability().Check},
		{Name: "stt", Check: a.stt.Availability().Check, Optional: true},
		{Name: "tts", Check: a.tts.Availability().Check, Optional: true},
		{Name: "transcript", Check: a.store.Ping, Optional: true},
	}
	if pub, ok := a.publisher.(*natspub.Publisher); ok {
		cs = append(cs, health.Checker{Name: "nats", Check: pub.Check, Optional: true})
	}
	return cs
}

// applyInterview copies the hot-reloadable interview settings into cfg.
func applyInterview(cfg *session.Config, iv config.InterviewConfig) {
	cfg.MaxInterviewerTurns = iv.MaxInterviewerTurns
	cfg.ClosingMessage = iv.ClosingMessage
	cfg.Keywords = append([]string(nil), iv.Keywords...)
}

// contextDefaults returns the interview context used for fields a client
// leaves empty.
func contextDefaults(iv config.InterviewConfig) interview.Context {
	ic := interview.Context{
		JobDescription:  interview.DefaultJobDescription,
		ExperienceYears: interview.DefaultExperienceYears,
		CandidateName:   interview.DefaultCandidateName,
	}
	if iv.JobDescription != "" {
		ic.JobDescription = iv.JobDescription
	}
	if iv.ExperienceYears != nil {
		ic.ExperienceYears = *iv.ExperienceYears
	}
	if iv.CandidateName != "" {
		ic.CandidateName = iv.CandidateName
	}
	return ic
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving the interview API.
func (a *App) Handler() http.Handler { return a.server }

// Registry returns the live session registry.
func (a *App) Registry() *session.Registry { return a.registry }

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of next. Interview defaults, the
// turn cap, the closing message and the keyword list take effect for
// sessions created afterwards; everything else is logged as requiring a
// restart. diff is [config.Diff] of prev and next. The log level is the
// caller's concern.
func (a *App) Reload(prev, next *config.Config, diff config.ConfigDiff) {
	for _, section := range diff.RestartRequired {
		slog.Warn("config section changed; restart required to apply", "section", section)
	}
	if !diff.InterviewChanged {
		return
	}
	if prev.Interview.GreetingEnabled() != next.Interview.GreetingEnabled() {
		slog.Warn("interview.greeting changed; restart required to apply")
	}
	if !sameFloat(prev.Interview.Temperature, next.Interview.Temperature) {
		slog.Warn("interview.temperature changed; restart required to apply")
	}

	a.server.SetContextDefaults(contextDefaults(next.Interview))
	a.registry.Reconfigure(func(c *session.Config) { applyInterview(c, next.Interview) })
	slog.Info("interview settings reloaded")
}

func sameFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is cancelled, then stops every live
// session and drains open requests within the configured shutdown timeout.
// It returns nil after a clean shutdown.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.server,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = config.DefaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		// WebSocket connections are hijacked and not tracked by Shutdown;
		// stopping their sessions makes the handlers return.
		a.registry.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops all sessions and tears down subsystems in init order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.registry.Close()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers collected so far after a failed New.
func (a *App) closeAll() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
}
