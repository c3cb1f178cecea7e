// Package config provides the configuration schema, loader, watcher and
// provider registry for the intervox interview service.
package config

import "time"

// LogLevel controls log verbosity for the intervox server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Transcript store backends.
const (
	BackendJSONFile = "jsonfile"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultListenAddr          = ":8080"
	DefaultShutdownTimeout     = 15 * time.Second
	DefaultTemperature         = 0.3
	DefaultMaxInterviewerTurns = 30
	DefaultSTTSampleRate       = 16000
	DefaultOutputSampleRate    = 24000
	DefaultTranscriptPath      = "interviews.json"
	DefaultNATSSubject         = "intervox.transcript"
)

// Config is the root configuration structure for intervox.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Interview  InterviewConfig  `yaml:"interview"`
	Session    SessionConfig    `yaml:"session"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// ShutdownTimeout bounds graceful shutdown of open connections.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AllowedOrigins lists Origin host patterns accepted for cross-origin
	// WebSocket clients (e.g., "app.example.com", "*.example.com").
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each entry selects a named provider registered in the
// [Registry]. Fallback entries are tried in order when the primary fails.
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`

	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint. For local
	// recognizers and synthesizers it is the server URL.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "nova-2").
	Model string `yaml:"model"`

	// Voice is the TTS voice identifier. Ignored by other provider kinds.
	Voice string `yaml:"voice"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above (e.g., "command" for exec and piper, "language").
	Options map[string]any `yaml:"options"`
}

// Option returns Options[key] as a string, or "" when unset.
func (e ProviderEntry) Option(key string) string {
	v, ok := e.Options[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// IntOption returns Options[key] as an int, or def when unset or not a number.
func (e ProviderEntry) IntOption(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// InterviewConfig holds interview defaults and dialogue settings. The
// context defaults, turn cap, closing message and keywords are
// hot-reloadable. Greeting and Temperature are read at startup.
type InterviewConfig struct {
	// JobDescription, ExperienceYears and CandidateName are used when the
	// client leaves the corresponding context field empty.
	JobDescription  string `yaml:"job_description"`
	ExperienceYears *int   `yaml:"experience_years"`
	CandidateName   string `yaml:"candidate_name"`

	// MaxInterviewerTurns caps the number of generated questions.
	MaxInterviewerTurns int `yaml:"max_interviewer_turns"`

	// Temperature is the sampling temperature for question generation.
	Temperature *float64 `yaml:"temperature"`

	// Greeting enables the spoken opening line. Defaults to true.
	Greeting *bool `yaml:"greeting"`

	// ClosingMessage replaces the built-in closing message when set.
	ClosingMessage string `yaml:"closing_message"`

	// Keywords are domain terms fed to the vocabulary corrector.
	Keywords []string `yaml:"keywords"`
}

// GreetingEnabled reports whether the opening line is spoken.
func (c InterviewConfig) GreetingEnabled() bool {
	return c.Greeting == nil || *c.Greeting
}

// SessionConfig holds per-session audio and timing settings.
type SessionConfig struct {
	// Codec, InputSampleRate and InputChannels describe client audio when
	// the client does not announce its format.
	Codec           string `yaml:"codec"`
	InputSampleRate int    `yaml:"input_sample_rate"`
	InputChannels   int    `yaml:"input_channels"`

	// STTSampleRate is the rate audio is resampled to before recognition.
	STTSampleRate int `yaml:"stt_sample_rate"`

	// OutputSampleRate is the PCM16 rate of synthesized speech.
	OutputSampleRate int `yaml:"output_sample_rate"`

	STTTimeout           time.Duration `yaml:"stt_timeout"`
	STTAttemptTimeout    time.Duration `yaml:"stt_attempt_timeout"`
	LLMAttemptTimeout    time.Duration `yaml:"llm_attempt_timeout"`
	LLMAttempts          int           `yaml:"llm_attempts"`
	TTSFirstFrameTimeout time.Duration `yaml:"tts_first_frame_timeout"`

	// TTSFrameIdleTimeout cuts off a synthesis stream that stops sending
	// frames without ending.
	TTSFrameIdleTimeout time.Duration `yaml:"tts_frame_idle_timeout"`

	// SilenceThreshold is the RMS level below which an utterance is treated
	// as silence. Zero disables the check.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// MaxSessions limits concurrent interviews. Zero means no limit.
	MaxSessions int `yaml:"max_sessions"`

	// MaxUtteranceSeconds bounds one buffered utterance. Zero means unbounded.
	MaxUtteranceSeconds int `yaml:"max_utterance_seconds"`
}

// TranscriptConfig selects where interview records are persisted.
type TranscriptConfig struct {
	// Backend is one of "jsonfile", "sqlite" or "postgres".
	Backend string `yaml:"backend"`

	// Path is the file used by the jsonfile and sqlite backends.
	Path string `yaml:"path"`

	// DSN is the PostgreSQL connection string for the postgres backend.
	DSN string `yaml:"dsn"`

	// AudioArchiveDir enables archiving of interviewer audio when set.
	AudioArchiveDir string `yaml:"audio_archive_dir"`

	// NATS publishes every appended turn when URL is set.
	NATS NATSConfig `yaml:"nats"`
}

// NATSConfig configures the turn event stream.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Token   string `yaml:"token"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	// Traces is one of "none", "stdout" or "otlp".
	Traces       string `yaml:"traces"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	ServiceName  string `yaml:"service_name"`
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Interview.MaxInterviewerTurns <= 0 {
		c.Interview.MaxInterviewerTurns = DefaultMaxInterviewerTurns
	}
	if c.Interview.Temperature == nil {
		t := DefaultTemperature
		c.Interview.Temperature = &t
	}
	if c.Session.STTSampleRate <= 0 {
		c.Session.STTSampleRate = DefaultSTTSampleRate
	}
	if c.Session.OutputSampleRate <= 0 {
		c.Session.OutputSampleRate = DefaultOutputSampleRate
	}
	if c.Transcript.Backend == "" {
		c.Transcript.Backend = BackendJSONFile
	}
	if c.Transcript.Path == "" && c.Transcript.Backend == BackendJSONFile {
		c.Transcript.Path = DefaultTranscriptPath
	}
	if c.Transcript.NATS.URL != "" && c.Transcript.NATS.Subject == "" {
		c.Transcript.NATS.Subject = DefaultNATSSubject
	}
}
