package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram"},
	"tts": {"elevenlabs", "coqui", "httpsynth"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
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

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandSecrets(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandSecrets substitutes ${VAR} references in provider API keys so keys
// can stay out of the file.
func expandSecrets(cfg *Config) {
	p := &cfg.Providers
	for _, e := range []*ProviderEntry{&p.LLM, &p.STT, &p.TTS} {
		e.APIKey = os.ExpandEnv(e.APIKey)
	}
	for i := range p.LLMFallbacks {
		p.LLMFallbacks[i].APIKey = os.ExpandEnv(p.LLMFallbacks[i].APIKey)
	}
	for i := range p.TTSFallbacks {
		p.TTSFallbacks[i].APIKey = os.ExpandEnv(p.TTSFallbacks[i].APIKey)
	}
}

// ApplyDefaults fills every zero-valued tunable with its default.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, ":8080")
	setDefault(&cfg.Server.LogLevel, LogInfo)

	e := &cfg.Endpointing
	setDefault(&e.SilenceTimeout, 1500*time.Millisecond)
	setDefault(&e.InterimCooldown, 1500*time.Millisecond)
	setDefault(&e.FinalCooldown, time.Second)
	setDefault(&e.MinChars, 4)
	setDefault(&e.SimilarityThreshold, 0.92)
	setDefault(&e.DuplicateWindow, 10*time.Second)

	setDefault(&cfg.Capture.ChunkInterval, 250*time.Millisecond)

	setDefault(&cfg.Transcription.ReconnectAttempts, 1)
	setDefault(&cfg.Transcription.ReconnectBackoff, 500*time.Millisecond)

	s := &cfg.Synthesis
	setDefault(&s.Timeout, 12*time.Second)
	setDefault(&s.SecondPart.Attempts, 5)
	setDefault(&s.SecondPart.BaseDelay, 500*time.Millisecond)
	setDefault(&s.SecondPart.Factor, 1.5)
	setDefault(&s.SecondPart.MaxDelay, 2*time.Second)

	setDefault(&cfg.Reply.HistoryTurns, 8)
	setDefault(&cfg.Reply.HistoryMaxAge, 10*time.Minute)
	setDefault(&cfg.Reply.Timeout, 20*time.Second)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxCalls < 0 {
		errs = append(errs, fmt.Errorf("server.max_calls must not be negative, got %d", cfg.Server.MaxCalls))
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
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	for i, fb := range cfg.Providers.TTSFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
		validateProviderName("tts", fb.Name)
	}

	// Endpointing
	e := cfg.Endpointing
	if e.SilenceTimeout < 0 || e.InterimCooldown < 0 || e.FinalCooldown < 0 {
		errs = append(errs, errors.New("endpointing: timeouts and cooldowns must not be negative"))
	}
	if e.MinChars < 0 {
		errs = append(errs, fmt.Errorf("endpointing.min_chars %d must not be negative", e.MinChars))
	}
	if e.SimilarityThreshold < 0 || e.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("endpointing.similarity_threshold %.2f is out of range [0, 1]", e.SimilarityThreshold))
	}

	if cfg.Capture.ChunkInterval < 0 {
		errs = append(errs, errors.New("capture.chunk_interval must not be negative"))
	}
	if cfg.Transcription.ReconnectAttempts < 0 {
		errs = append(errs, errors.New("transcription.reconnect_attempts must not be negative"))
	}

	// Synthesis
	sp := cfg.Synthesis.SecondPart
	if sp.Attempts < 0 {
		errs = append(errs, errors.New("synthesis.second_part.attempts must not be negative"))
	}
	if sp.Factor != 0 && sp.Factor < 1 {
		errs = append(errs, fmt.Errorf("synthesis.second_part.factor %.2f must be at least 1", sp.Factor))
	}
	if sp.MaxDelay != 0 && sp.BaseDelay > sp.MaxDelay {
		errs = append(errs, fmt.Errorf("synthesis.second_part.base_delay %s exceeds max_delay %s", sp.BaseDelay, sp.MaxDelay))
	}

	// Reply
	if cfg.Reply.Temperature < 0 || cfg.Reply.Temperature > 2 {
		errs = append(errs, fmt.Errorf("reply.temperature %.2f is out of range [0, 2]", cfg.Reply.Temperature))
	}
	if cfg.Reply.MaxTokens < 0 {
		errs = append(errs, errors.New("reply.max_tokens must not be negative"))
	}

	// Characters
	if len(cfg.Characters) == 0 {
		slog.Warn("no characters configured; every call will be rejected")
	}
	seen := make(map[string]int, len(cfg.Characters))
	for i, ch := range cfg.Characters {
		prefix := fmt.Sprintf("characters[%d]", i)
		if ch.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := seen[ch.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of characters[%d]", prefix, ch.ID, prev))
			}
			seen[ch.ID] = i
		}
		if ch.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if ch.Voice.SpeedFactor != 0 && (ch.Voice.SpeedFactor < 0.5 || ch.Voice.SpeedFactor > 2.0) {
			errs = append(errs, fmt.Errorf("%s.voice.speed_factor %.2f is out of range [0.5, 2.0]", prefix, ch.Voice.SpeedFactor))
		}
		if ch.Voice.Provider != "" && cfg.Providers.TTS.Name != "" && ch.Voice.Provider != cfg.Providers.TTS.Name {
			slog.Warn("character voice provider does not match configured TTS provider",
				"character", ch.ID,
				"voice_provider", ch.Voice.Provider,
				"tts_provider", cfg.Providers.TTS.Name,
			)
		}
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
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
