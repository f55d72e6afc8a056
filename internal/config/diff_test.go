package config_test

import (
	"testing"
	"time"

	"github.com/MrWong99/voxcall/internal/config"
)

func TestCompare_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:     config.ServerConfig{LogLevel: config.LogInfo},
		Characters: []config.CharacterConfig{{ID: "lumi", Name: "Lumi", Context: "kind"}},
	}
	d := config.Compare(cfg, cfg)
	if d.CharactersChanged || d.LogLevelChanged || d.EndpointingChanged {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestCompare_LogLevelAndEndpointing(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{
		Server:      config.ServerConfig{LogLevel: config.LogDebug},
		Endpointing: config.EndpointingConfig{SilenceTimeout: time.Second},
	}
	d := config.Compare(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level: got changed=%v level=%q, want true debug", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.EndpointingChanged {
		t.Error("expected EndpointingChanged=true")
	}
}

func TestCompare_Characters(t *testing.T) {
	t.Parallel()
	old := &config.Config{Characters: []config.CharacterConfig{
		{ID: "a", Name: "A", Context: "old"},
		{ID: "b", Name: "B", Voice: config.VoiceConfig{VoiceID: "v1"}},
		{ID: "c", Name: "C"},
		{ID: "d", Name: "D", Greeting: "hi"},
	}}
	new := &config.Config{Characters: []config.CharacterConfig{
		{ID: "a", Name: "A", Context: "new"},
		{ID: "b", Name: "B", Voice: config.VoiceConfig{VoiceID: "v2"}},
		{ID: "d", Name: "D", Greeting: "hi"},
		{ID: "e", Name: "E"},
	}}

	d := config.Compare(old, new)
	if !d.CharactersChanged {
		t.Fatal("expected CharactersChanged=true")
	}
	want := []config.CharacterDiff{
		{ID: "a", ContextChanged: true},
		{ID: "b", VoiceChanged: true},
		{ID: "c", Removed: true},
		{ID: "e", Added: true},
	}
	if len(d.Characters) != len(want) {
		t.Fatalf("got %d character diffs %+v, want %d", len(d.Characters), d.Characters, len(want))
	}
	for i := range want {
		if d.Characters[i] != want[i] {
			t.Errorf("diff[%d]: got %+v, want %+v", i, d.Characters[i], want[i])
		}
	}
}
