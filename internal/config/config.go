// Package config provides the configuration schema, loader, and provider
// registry for voxcall.
package config

import (
	"time"

	"github.com/MrWong99/voxcall/pkg/types"
)

// LogLevel controls log verbosity.
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

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Endpointing   EndpointingConfig   `yaml:"endpointing"`
	Capture       CaptureConfig       `yaml:"capture"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Synthesis     SynthesisConfig     `yaml:"synthesis"`
	Reply         ReplyConfig         `yaml:"reply"`
	Characters    []CharacterConfig   `yaml:"characters"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the host bridge listens on. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Default "info".
	LogLevel LogLevel `yaml:"log_level"`

	// MaxCalls caps concurrent calls. Zero means unlimited.
	MaxCalls int `yaml:"max_calls"`

	// AllowedOrigins lists host patterns of cross-origin browser clients.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ProvidersConfig selects the backend for each pipeline stage. Each entry is
// looked up by name in the [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`

	// LLMFallbacks are tried in order when the primary reply backend fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	// TTSFallbacks are tried in order when the primary synthesis backend fails.
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all providers.
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey authenticates against the backend, if it needs one.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the backend (e.g., "gpt-4o-mini", "nova-3").
	Model string `yaml:"model"`

	// Options holds backend-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// EndpointingConfig tunes when an utterance is considered finished.
type EndpointingConfig struct {
	SilenceTimeout      time.Duration `yaml:"silence_timeout"`
	InterimCooldown     time.Duration `yaml:"interim_cooldown"`
	FinalCooldown       time.Duration `yaml:"final_cooldown"`
	MinChars            int           `yaml:"min_chars"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`

	// DuplicateWindow is how long the last finalized text keeps suppressing
	// repeats. Negative means for the whole call.
	DuplicateWindow time.Duration `yaml:"duplicate_window"`
}

// CaptureConfig controls microphone chunking.
type CaptureConfig struct {
	ChunkInterval time.Duration `yaml:"chunk_interval"`
}

// TranscriptionConfig configures the speech-recognition link.
type TranscriptionConfig struct {
	Language          string          `yaml:"language"`
	Keywords          []KeywordConfig `yaml:"keywords"`
	ReconnectAttempts int             `yaml:"reconnect_attempts"`
	ReconnectBackoff  time.Duration   `yaml:"reconnect_backoff"`
}

// KeywordConfig is one recognition hint.
type KeywordConfig struct {
	Word  string  `yaml:"word"`
	Boost float64 `yaml:"boost"`
}

// SynthesisConfig configures speech synthesis.
type SynthesisConfig struct {
	// Timeout bounds every synthesis request.
	Timeout time.Duration `yaml:"timeout"`

	// SecondPart controls polling for the second part of a reply.
	SecondPart SecondPartConfig `yaml:"second_part"`

	// MinFirstChars is the shortest first part the splitter produces for
	// single-shot backends.
	MinFirstChars int `yaml:"min_first_chars"`
}

// SecondPartConfig is the retry policy for second-part requests.
type SecondPartConfig struct {
	Attempts  int           `yaml:"attempts"`
	BaseDelay time.Duration `yaml:"base_delay"`
	Factor    float64       `yaml:"factor"`
	MaxDelay  time.Duration `yaml:"max_delay"`
}

// ReplyConfig configures reply generation.
type ReplyConfig struct {
	HistoryTurns  int           `yaml:"history_turns"`
	HistoryMaxAge time.Duration `yaml:"history_max_age"`
	Temperature   float64       `yaml:"temperature"`
	MaxTokens     int           `yaml:"max_tokens"`
	Timeout       time.Duration `yaml:"timeout"`
}

// CharacterConfig is one entry of the persona catalog.
type CharacterConfig struct {
	ID       string      `yaml:"id"`
	Name     string      `yaml:"name"`
	Context  string      `yaml:"context"`
	Greeting string      `yaml:"greeting"`
	Voice    VoiceConfig `yaml:"voice"`
}

// VoiceConfig selects a character's synthesis voice.
type VoiceConfig struct {
	// Provider is the TTS provider the voice belongs to.
	Provider string `yaml:"provider"`

	// VoiceID is the provider-specific voice identifier.
	VoiceID string `yaml:"voice_id"`

	// SpeedFactor adjusts speaking rate in the range [0.5, 2.0]. 0 means default.
	SpeedFactor float64 `yaml:"speed_factor"`
}

// Character converts the entry to the shared character type.
func (c CharacterConfig) Character() types.Character {
	return types.Character{
		ID:       types.CharacterID(c.ID),
		Name:     c.Name,
		Context:  c.Context,
		Greeting: c.Greeting,
		Voice: types.VoiceProfile{
			ID:          c.Voice.VoiceID,
			Provider:    c.Voice.Provider,
			SpeedFactor: c.Voice.SpeedFactor,
		},
	}
}

// KeywordBoosts converts the transcription hints to the shared type.
func (t TranscriptionConfig) KeywordBoosts() []types.KeywordBoost {
	out := make([]types.KeywordBoost, 0, len(t.Keywords))
	for _, k := range t.Keywords {
		out = append(out, types.KeywordBoost{Keyword: k.Word, Boost: k.Boost})
	}
	return out
}

// Character returns the catalog entry with id.
func (c *Config) Character(id string) (types.Character, bool) {
	for _, ch := range c.Characters {
		if ch.ID == id {
			return ch.Character(), true
		}
	}
	return types.Character{}, false
}
