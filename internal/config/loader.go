package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"openai", "deepgram", "whisper", "exec"},
	"tts": {"openai", "elevenlabs", "coqui", "piper"},
}

var validCodecs = []string{"", "pcm", "pcm16", "s16le", "wav", "wave", "opus"}

var validTraceExporters = []string{"", "none", "stdout", "otlp"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, validates it and applies
// defaults. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must not be negative"))
	}

	// Providers
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for kind, list := range map[string][]ProviderEntry{
		"llm": cfg.Providers.LLMFallbacks,
		"stt": cfg.Providers.STTFallbacks,
		"tts": cfg.Providers.TTSFallbacks,
	} {
		for i, e := range list {
			if e.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s_fallbacks[%d].name is required", kind, i))
				continue
			}
			validateProviderName(kind, e.Name)
		}
	}

	// Interview
	iv := cfg.Interview
	if iv.ExperienceYears != nil && *iv.ExperienceYears < 0 {
		errs = append(errs, fmt.Errorf("interview.experience_years must be >= 0, got %d", *iv.ExperienceYears))
	}
	if iv.MaxInterviewerTurns < 0 {
		errs = append(errs, fmt.Errorf("interview.max_interviewer_turns must be >= 0, got %d", iv.MaxInterviewerTurns))
	}
	if iv.Temperature != nil && (*iv.Temperature < 0 || *iv.Temperature > 2) {
		errs = append(errs, fmt.Errorf("interview.temperature %.2f is out of range [0, 2]", *iv.Temperature))
	}

	// Session
	s := cfg.Session
	if !slices.Contains(validCodecs, strings.ToLower(s.Codec)) {
		errs = append(errs, fmt.Errorf("session.codec %q is invalid; valid values: pcm16, wav, opus", s.Codec))
	}
	for name, v := range map[string]int{
		"session.input_sample_rate":     s.InputSampleRate,
		"session.input_channels":        s.InputChannels,
		"session.stt_sample_rate":       s.STTSampleRate,
		"session.output_sample_rate":    s.OutputSampleRate,
		"session.llm_attempts":          s.LLMAttempts,
		"session.max_sessions":          s.MaxSessions,
		"session.max_utterance_seconds": s.MaxUtteranceSeconds,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %d", name, v))
		}
	}
	if s.InputChannels > 2 {
		errs = append(errs, fmt.Errorf("session.input_channels must be 1 or 2, got %d", s.InputChannels))
	}
	if s.SilenceThreshold < 0 {
		errs = append(errs, errors.New("session.silence_threshold must not be negative"))
	}

	// Transcript
	t := cfg.Transcript
	switch t.Backend {
	case "", BackendJSONFile:
	case BackendSQLite:
		if t.Path == "" {
			errs = append(errs, errors.New("transcript.path is required for the sqlite backend"))
		}
	case BackendPostgres:
		if t.DSN == "" {
			errs = append(errs, errors.New("transcript.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("transcript.backend %q is invalid; valid values: jsonfile, sqlite, postgres", t.Backend))
	}
	if t.NATS.Subject != "" && t.NATS.URL == "" {
		slog.Warn("transcript.nats.subject is set but transcript.nats.url is empty; turn events will not be published")
	}

	// Telemetry
	if !slices.Contains(validTraceExporters, cfg.Telemetry.Traces) {
		errs = append(errs, fmt.Errorf("telemetry.traces %q is invalid; valid values: none, stdout, otlp", cfg.Telemetry.Traces))
	}
	if cfg.Telemetry.Traces == "otlp" && cfg.Telemetry.OTLPEndpoint == "" {
		errs = append(errs, errors.New("telemetry.otlp_endpoint is required when telemetry.traces is otlp"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
