package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxcall/internal/config"
)

const minimalYAML = `
providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  stt:
    name: deepgram
  tts:
    name: httpsynth
    base_url: http://localhost:9000/synthesize
characters:
  - id: lumi
    name: Lumi
    context: A cheerful guide.
    greeting: Hi, I'm Lumi!
    voice:
      provider: httpsynth
      voice_id: v1
      speed_factor: 1.1
`

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"listen_addr", cfg.Server.ListenAddr, ":8080"},
		{"log_level", cfg.Server.LogLevel, config.LogInfo},
		{"silence_timeout", cfg.Endpointing.SilenceTimeout, 1500 * time.Millisecond},
		{"interim_cooldown", cfg.Endpointing.InterimCooldown, 1500 * time.Millisecond},
		{"final_cooldown", cfg.Endpointing.FinalCooldown, time.Second},
		{"min_chars", cfg.Endpointing.MinChars, 4},
		{"similarity_threshold", cfg.Endpointing.SimilarityThreshold, 0.92},
		{"duplicate_window", cfg.Endpointing.DuplicateWindow, 10 * time.Second},
		{"chunk_interval", cfg.Capture.ChunkInterval, 250 * time.Millisecond},
		{"reconnect_attempts", cfg.Transcription.ReconnectAttempts, 1},
		{"reconnect_backoff", cfg.Transcription.ReconnectBackoff, 500 * time.Millisecond},
		{"synthesis.timeout", cfg.Synthesis.Timeout, 12 * time.Second},
		{"second_part.attempts", cfg.Synthesis.SecondPart.Attempts, 5},
		{"second_part.base_delay", cfg.Synthesis.SecondPart.BaseDelay, 500 * time.Millisecond},
		{"second_part.factor", cfg.Synthesis.SecondPart.Factor, 1.5},
		{"second_part.max_delay", cfg.Synthesis.SecondPart.MaxDelay, 2 * time.Second},
		{"history_turns", cfg.Reply.HistoryTurns, 8},
		{"history_max_age", cfg.Reply.HistoryMaxAge, 10 * time.Minute},
		{"reply.timeout", cfg.Reply.Timeout, 20 * time.Second},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoadFromReader_KeepsExplicitValues(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + `
server:
  listen_addr: 127.0.0.1:9999
  log_level: debug
endpointing:
  silence_timeout: 800ms
  similarity_threshold: 1
  duplicate_window: -1s
transcription:
  language: de
  keywords:
    - word: Lumi
      boost: 2
synthesis:
  second_part:
    attempts: 3
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, "127.0.0.1:9999")
	}
	if cfg.Endpointing.SilenceTimeout != 800*time.Millisecond {
		t.Errorf("silence_timeout: got %v, want 800ms", cfg.Endpointing.SilenceTimeout)
	}
	if cfg.Endpointing.SimilarityThreshold != 1 {
		t.Errorf("similarity_threshold: got %v, want 1", cfg.Endpointing.SimilarityThreshold)
	}
	if cfg.Endpointing.DuplicateWindow != -time.Second {
		t.Errorf("duplicate_window: got %v, want -1s", cfg.Endpointing.DuplicateWindow)
	}
	if cfg.Synthesis.SecondPart.Attempts != 3 {
		t.Errorf("attempts: got %d, want 3", cfg.Synthesis.SecondPart.Attempts)
	}
	kw := cfg.Transcription.KeywordBoosts()
	if len(kw) != 1 || kw[0].Keyword != "Lumi" || kw[0].Boost != 2 {
		t.Errorf("keywords: got %+v, want [{Lumi 2}]", kw)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(minimalYAML + "npcs: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantSub string
	}{
		{
			name:    "missing providers",
			yaml:    "characters: [{id: a, name: A}]\n",
			wantSub: "providers.llm.name is required",
		},
		{
			name:    "invalid log level",
			yaml:    minimalYAML + "server:\n  log_level: bananas\n",
			wantSub: "server.log_level",
		},
		{
			name:    "negative max calls",
			yaml:    minimalYAML + "server:\n  max_calls: -1\n",
			wantSub: "server.max_calls",
		},
		{
			name: "duplicate character id",
			yaml: strings.Replace(minimalYAML, "characters:\n", "characters:\n  - id: lumi\n    name: Other\n", 1),
			wantSub: "duplicate",
		},
		{
			name:    "speed factor out of range",
			yaml:    strings.Replace(minimalYAML, "speed_factor: 1.1", "speed_factor: 3", 1),
			wantSub: "speed_factor",
		},
		{
			name:    "similarity out of range",
			yaml:    minimalYAML + "endpointing:\n  similarity_threshold: 1.5\n",
			wantSub: "similarity_threshold",
		},
		{
			name:    "backoff factor below one",
			yaml:    minimalYAML + "synthesis:\n  second_part:\n    factor: 0.5\n",
			wantSub: "factor",
		},
		{
			name:    "base delay above max",
			yaml:    minimalYAML + "synthesis:\n  second_part:\n    base_delay: 3s\n",
			wantSub: "base_delay",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error should mention %q, got: %v", tt.wantSub, err)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:     config.ServerConfig{LogLevel: "loud"},
		Characters: []config.CharacterConfig{{}},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"log_level", "providers.llm.name", "providers.stt.name", "providers.tts.name", "characters[0].id", "characters[0].name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_FallbackNameRequired(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Providers.TTSFallbacks = []config.ProviderEntry{{}}
	err = config.Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "providers.tts_fallbacks[0].name") {
		t.Errorf("got %v, want tts_fallbacks name error", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "voxcall.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ch, ok := cfg.Character("lumi")
	if !ok {
		t.Fatal("character lumi not found")
	}
	if ch.Name != "Lumi" || ch.Voice.ID != "v1" || ch.Voice.SpeedFactor != 1.1 {
		t.Errorf("character: got %+v", ch)
	}
	if _, ok := cfg.Character("nobody"); ok {
		t.Error("unexpected character for unknown id")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("got %v, want os.ErrNotExist", err)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error("trace should be invalid")
	}
}

func TestLoadFromReader_ExpandsAPIKeys(t *testing.T) {
	t.Setenv("VOXCALL_TEST_KEY", "sk-from-env")
	yaml := strings.Replace(minimalYAML, "api_key: sk-test", "api_key: ${VOXCALL_TEST_KEY}", 1)
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.Providers.LLM.APIKey; got != "sk-from-env" {
		t.Errorf("api_key = %q, want %q", got, "sk-from-env")
	}
	if got := cfg.Characters[0].Context; got != "A cheerful guide." {
		t.Errorf("context = %q, want it untouched", got)
	}
}
