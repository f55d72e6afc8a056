package main

import (
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxcall/internal/config"
	"github.com/MrWong99/voxcall/internal/resilience"
	"github.com/MrWong99/voxcall/pkg/provider/llm"
	"github.com/MrWong99/voxcall/pkg/provider/llm/anyllm"
	"github.com/MrWong99/voxcall/pkg/provider/llm/openai"
	"github.com/MrWong99/voxcall/pkg/provider/stt"
	"github.com/MrWong99/voxcall/pkg/provider/stt/deepgram"
	"github.com/MrWong99/voxcall/pkg/provider/tts"
	"github.com/MrWong99/voxcall/pkg/provider/tts/coqui"
	"github.com/MrWong99/voxcall/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/voxcall/pkg/provider/tts/httpsynth"
)

// providers holds the backends shared by every call.
type providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider
}

// registerBuiltinProviders wires the built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry, synth config.SynthesisConfig) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		return openai.New(entry.APIKey, entry.Model,
			openai.WithBaseURL(entry.BaseURL),
			openai.WithOrganization(optString(entry.Options, "organization")),
			openai.WithTimeout(optDuration(entry.Options, "timeout")),
		)
	})

	// Every other chat backend goes through any-llm-go. ollama and the
	// llama servers are local and only need a base URL.
	for _, name := range anyllm.Supported {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if ms := optInt(entry.Options, "endpointing_ms"); ms > 0 {
			opts = append(opts, deepgram.WithEndpointing(ms))
		}
		if d := optDuration(entry.Options, "keep_alive"); d > 0 {
			opts = append(opts, deepgram.WithKeepAlive(d))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	// ElevenLabs synthesizes a whole text per request; the splitter turns it
	// into a two-part backend.
	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if f := optString(entry.Options, "output_format"); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		if v := optString(entry.Options, "default_voice"); v != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(v))
		}
		engine, err := elevenlabs.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return newSplitter(engine, synth), nil
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, coqui.WithTimeout(d))
		}
		engine, err := coqui.New(entry.BaseURL, opts...)
		if err != nil {
			return nil, err
		}
		return newSplitter(engine, synth), nil
	})

	reg.RegisterTTS("httpsynth", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []httpsynth.Option
		if entry.APIKey != "" {
			opts = append(opts, httpsynth.WithAPIKey(entry.APIKey))
		}
		return httpsynth.New(entry.BaseURL, opts...)
	})

	for kind, names := range reg.Names() {
		slog.Debug("registered providers", "kind", kind, "names", names)
	}
}

// newSplitter serves two-part synthesis over a single-shot engine.
func newSplitter(engine tts.Engine, synth config.SynthesisConfig) *tts.Splitter {
	var opts []tts.SplitterOption
	if synth.MinFirstChars > 0 {
		opts = append(opts, tts.WithMinFirstChars(synth.MinFirstChars))
	}
	if synth.Timeout > 0 {
		opts = append(opts, tts.WithPartTimeout(synth.Timeout))
	}
	return tts.NewSplitter(engine, opts...)
}

// buildProviders instantiates the providers named in cfg. Fallback entries
// are placed behind circuit breakers after the primary.
func buildProviders(cfg *config.Config, reg *config.Registry) (*providers, error) {
	ps := &providers{}
	fb := resilience.FallbackConfig{}

	primaryLLM, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	ps.LLM = primaryLLM
	if len(cfg.Providers.LLMFallbacks) > 0 {
		group := resilience.NewLLMFallback(primaryLLM, cfg.Providers.LLM.Name, fb)
		for _, entry := range cfg.Providers.LLMFallbacks {
			p, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
			}
			group.AddFallback(entry.Name, p)
		}
		ps.LLM = group
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "fallbacks", len(cfg.Providers.LLMFallbacks))

	ps.STT, err = reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	primaryTTS, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	ps.TTS = primaryTTS
	if len(cfg.Providers.TTSFallbacks) > 0 {
		group := resilience.NewTTSFallback(primaryTTS, cfg.Providers.TTS.Name, fb)
		for _, entry := range cfg.Providers.TTSFallbacks {
			p, err := reg.CreateTTS(entry)
			if err != nil {
				return nil, fmt.Errorf("create tts fallback %q: %w", entry.Name, err)
			}
			group.AddFallback(entry.Name, p)
		}
		ps.TTS = group
	}
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name, "fallbacks", len(cfg.Providers.TTSFallbacks))

	return ps, nil
}

// ── Option helpers ────────────────────────────────────────────────────────────

// optString extracts a string from a provider Options map. Missing keys and
// other types yield "".
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer. YAML decodes whole numbers as int.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// optDuration parses a duration string such as "5s".
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid duration option", "key", key, "value", s, "err", err)
		return 0
	}
	return d
}
