package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/intervox/internal/config"
	"github.com/MrWong99/intervox/internal/observe"
	"github.com/MrWong99/intervox/internal/resilience"
	"github.com/MrWong99/intervox/pkg/provider/llm"
	"github.com/MrWong99/intervox/pkg/provider/stt"
	"github.com/MrWong99/intervox/pkg/provider/tts"
)

// Providers holds one interface value per pipeline stage. Each value is the
// primary provider wrapped in a fallback chain with per-entry circuit
// breakers.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider
}

// breakerConfig returns the circuit breaker settings shared by all fallback
// chains. Breaker transitions are logged and counted as provider errors.
func breakerConfig(kind string, m *observe.Metrics) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
			IsFailure: func(err error) bool {
				// A rejected request fails the same way on every backend.
				return !errors.Is(err, stt.ErrRejected)
			},
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("provider circuit breaker changed state",
					"kind", kind, "name", name, "from", from, "to", to)
				if m != nil && to == resilience.StateOpen {
					m.RecordProviderError(context.Background(), kind, "circuit_open")
				}
			},
		},
	}
}

// BuildProviders instantiates the providers named in cfg through reg and
// wraps each stage in its fallback chain. m may be nil.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	ps := &Providers{}
	pc := cfg.Providers

	primaryLLM, err := reg.CreateLLM(pc.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", pc.LLM.Name, err)
	}
	llmChain := resilience.NewLLMFallback(primaryLLM, pc.LLM.Name, breakerConfig("llm", m))
	for _, e := range pc.LLMFallbacks {
		p, err := reg.CreateLLM(e)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %q: %w", e.Name, err)
		}
		llmChain.AddFallback(e.Name, p)
	}
	ps.LLM = llmChain
	slog.Info("provider created", "kind", "llm", "chain", llmChain.Names())

	primarySTT, err := reg.CreateSTT(pc.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", pc.STT.Name, err)
	}
	sttChain := resilience.NewSTTFallback(primarySTT, pc.STT.Name, breakerConfig("stt", m))
	for _, e := range pc.STTFallbacks {
		p, err := reg.CreateSTT(e)
		if err != nil {
			return nil, fmt.Errorf("create stt fallback %q: %w", e.Name, err)
		}
		sttChain.AddFallback(e.Name, p)
	}
	ps.STT = sttChain
	slog.Info("provider created", "kind", "stt", "chain", sttChain.Names())

	primaryTTS, err := reg.CreateTTS(pc.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", pc.TTS.Name, err)
	}
	ttsChain := resilience.NewTTSFallback(primaryTTS, pc.TTS.Name, breakerConfig("tts", m))
	for _, e := range pc.TTSFallbacks {
		p, err := reg.CreateTTS(e)
		if err != nil {
			return nil, fmt.Errorf("create tts fallback %q: %w", e.Name, err)
		}
		ttsChain.AddFallback(e.Name, p)
	}
	ps.TTS = ttsChain
	slog.Info("provider created", "kind", "tts", "chain", ttsChain.Names())

	return ps, nil
}
