package reply

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxcall/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxcall/pkg/provider/llm/mock"
	"github.com/MrWong99/voxcall/pkg/types"
)

var lumi = types.Character{ID: "lumi", Name: "Lumi", Context: "You are Lumi, a cheerful lighthouse keeper."}

func TestGenerate_PassesContextAndHistory(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  Ahoy there!  "}}
	h := NewHistory(4, time.Hour)
	h.Add("hello", "hi!")
	s := New(p, WithHistory(h), WithTemperature(0.6), WithMaxTokens(120))

	got, err := s.Generate(context.Background(), Request{Character: lumi, Utterance: "what do you do?"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "Ahoy there!" {
		t.Errorf("got %q, want %q", got, "Ahoy there!")
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	req := calls[0].Req
	if req.SystemPrompt != lumi.Context {
		t.Errorf("system prompt = %q, want character context", req.SystemPrompt)
	}
	if len(req.Messages) != 3 {
		t.Fatalf("got %d messages, want 3 (2 history + utterance)", len(req.Messages))
	}
	if last := req.Messages[2]; last.Role != "user" || last.Content != "what do you do?" {
		t.Errorf("last message = %+v, want user utterance", last)
	}
	if req.Temperature != 0.6 || req.MaxTokens != 120 {
		t.Errorf("got temperature %v max tokens %d, want 0.6/120", req.Temperature, req.MaxTokens)
	}
	if h.Len() != 2 {
		t.Errorf("history Len = %d, want 2", h.Len())
	}
}

func TestGenerate_ProviderError(t *testing.T) {
	t.Parallel()

	boom := errors.New("rate limited")
	h := NewHistory(4, time.Hour)
	s := New(&llmmock.Provider{CompleteErr: boom}, WithHistory(h))

	_, err := s.Generate(context.Background(), Request{Character: lumi, Utterance: "hello"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if h.Len() != 0 {
		t.Errorf("history recorded a failed exchange")
	}
}

func TestGenerate_EmptyReply(t *testing.T) {
	t.Parallel()

	s := New(&llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: " \n"}})
	if _, err := s.Generate(context.Background(), Request{Utterance: "hello"}); !errors.Is(err, ErrEmptyReply) {
		t.Errorf("err = %v, want ErrEmptyReply", err)
	}
}

func TestGenerate_Timeout(t *testing.T) {
	t.Parallel()

	s := New(&llmmock.Provider{Block: true}, WithTimeout(10*time.Millisecond))
	_, err := s.Generate(context.Background(), Request{Utterance: "hello"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestGenerate_EmptyUtterance(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{}
	s := New(p)
	if _, err := s.Generate(context.Background(), Request{Utterance: "   "}); err == nil {
		t.Fatal("expected error for blank utterance")
	}
	if p.CallCount() != 0 {
		t.Error("provider called for blank utterance")
	}
}

func TestSystemPrompt_FallsBackToName(t *testing.T) {
	t.Parallel()

	got := systemPrompt(types.Character{Name: "Ottavio"})
	if got == "" {
		t.Fatal("expected a persona line for a named character")
	}
	if systemPrompt(types.Character{}) != "" {
		t.Error("expected empty prompt for anonymous character")
	}
}

func TestGenerate_TrimsTruncatedReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		content   string
		truncated bool
		want      string
	}{
		{"complete reply kept", "Ahoy! The lamp is", false, "Ahoy! The lamp is"},
		{"partial sentence dropped", "Ahoy! The lamp is lit. Every night I climb the", true, "Ahoy! The lamp is lit."},
		{"no sentence end kept", "Well I suppose the", true, "Well I suppose the"},
		{"title is not a sentence end", "I met Mr. Smith today. He told me about Dr. Jones and", true, "I met Mr. Smith today."},
		{"latin abbreviation is not a sentence end", "Bring a light, e.g. a lamp or a", true, "Bring a light, e.g. a lamp or a"},
		{"decimal is not a sentence end", "It weighs 3.5 kilos. The other one weighs 2.", true, "It weighs 3.5 kilos. The other one weighs 2."},
		{"closing quote kept", "She said \"Go!\" and then we", true, "She said \"Go!\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: tt.content, Truncated: tt.truncated}}
			got, err := New(p).Generate(context.Background(), Request{Character: lumi, Utterance: "hello"})
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
