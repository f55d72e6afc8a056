package config_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/voxcall/internal/config"
	"github.com/MrWong99/voxcall/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxcall/pkg/provider/llm/mock"
	"github.com/MrWong99/voxcall/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxcall/pkg/provider/stt/mock"
	"github.com/MrWong99/voxcall/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxcall/pkg/provider/tts/mock"
)

func TestRegistry_CreateRegistered(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()

	var gotEntry config.ProviderEntry
	r.RegisterLLM("fake", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return &llmmock.Provider{}, nil
	})
	r.RegisterSTT("fake", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
	r.RegisterTTS("fake", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })

	if _, err := r.CreateLLM(config.ProviderEntry{Name: "fake", Model: "m1"}); err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if gotEntry.Model != "m1" {
		t.Errorf("factory entry model: got %q, want %q", gotEntry.Model, "m1")
	}
	if _, err := r.CreateSTT(config.ProviderEntry{Name: "fake"}); err != nil {
		t.Errorf("CreateSTT: %v", err)
	}
	if _, err := r.CreateTTS(config.ProviderEntry{Name: "fake"}); err != nil {
		t.Errorf("CreateTTS: %v", err)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()

	if _, err := r.CreateLLM(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLLM: got %v, want ErrProviderNotRegistered", err)
	}
	if _, err := r.CreateSTT(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT: got %v, want ErrProviderNotRegistered", err)
	}
	if _, err := r.CreateTTS(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateTTS: got %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	boom := errors.New("boom")
	r.RegisterTTS("bad", func(config.ProviderEntry) (tts.Provider, error) { return nil, boom })

	if _, err := r.CreateTTS(config.ProviderEntry{Name: "bad"}); !errors.Is(err, boom) {
		t.Errorf("got %v, want %v", err, boom)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	r.RegisterLLM("openai", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	r.RegisterLLM("anthropic", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	r.RegisterTTS("coqui", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })

	names := r.Names()
	if got := names["llm"]; len(got) != 2 || got[0] != "anthropic" || got[1] != "openai" {
		t.Errorf("llm names = %v, want [anthropic openai]", got)
	}
	if got := names["stt"]; len(got) != 0 {
		t.Errorf("stt names = %v, want none", got)
	}
	if got := names["tts"]; len(got) != 1 || got[0] != "coqui" {
		t.Errorf("tts names = %v, want [coqui]", got)
	}
}
