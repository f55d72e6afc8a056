// Package reply produces a character's answer to one user utterance.
//
// A [Service] wraps an [llm.Provider] and the per-call conversation
// [History]. Character context is passed through to the model as the system
// prompt without interpretation.
package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/voxcall/pkg/provider/llm"
	"github.com/MrWong99/voxcall/pkg/provider/tts"
	"github.com/MrWong99/voxcall/pkg/types"
)

// DefaultTimeout bounds a single reply request.
const DefaultTimeout = 20 * time.Second

// ErrEmptyReply is returned when the model answered with no text.
var ErrEmptyReply = errors.New("reply: model returned empty reply")

// Request is one reply request.
type Request struct {
	Character types.Character
	Utterance string
}

// Option is a functional option for configuring a Service.
type Option func(*Service)

// WithHistory attaches a conversation window. Without one every request is
// answered in isolation.
func WithHistory(h *History) Option {
	return func(s *Service) {
		s.history = h
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(s *Service) {
		s.temperature = t
	}
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) Option {
	return func(s *Service) {
		s.maxTokens = n
	}
}

// WithTimeout bounds each request. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Service generates replies. It is safe for concurrent use.
type Service struct {
	provider    llm.Provider
	history     *History
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

// New creates a Service backed by provider.
func New(provider llm.Provider, opts ...Option) *Service {
	s := &Service{
		provider: provider,
		timeout:  DefaultTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Generate asks the model for the character's reply to req.Utterance. On
// success the exchange is appended to the history.
func (s *Service) Generate(ctx context.Context, req Request) (string, error) {
	utterance := strings.TrimSpace(req.Utterance)
	if utterance == "" {
		return "", errors.New("reply: empty utterance")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var messages []types.Message
	if s.history != nil {
		messages = s.history.Messages(req.Character.Name)
	}
	messages = append(messages, types.Message{Role: "user", Content: utterance})

	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt(req.Character),
		Messages:     messages,
		Temperature:  s.temperature,
		MaxTokens:    s.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("reply: complete: %w", err)
	}

	text := strings.TrimSpace(resp.Content)
	if resp.Truncated {
		text = trimToSentence(text)
	}
	if text == "" {
		return "", ErrEmptyReply
	}
	if s.history != nil {
		s.history.Add(utterance, text)
	}
	return text, nil
}

// trimToSentence drops a trailing partial sentence so a reply cut by the
// token limit is not spoken mid-word. Text without a sentence end is kept.
// Boundaries follow the synthesis splitter, so abbreviations and decimals do
// not count.
func trimToSentence(text string) string {
	if i := tts.LastSentenceEnd(text); i > 0 {
		return strings.TrimSpace(text[:i])
	}
	return text
}

// systemPrompt returns the character context, or a minimal persona line when
// the catalog supplied none.
func systemPrompt(c types.Character) string {
	if c.Context != "" {
		return c.Context
	}
	if c.Name != "" {
		return "You are " + c.Name + ". You are talking with the user on a live voice call; answer briefly."
	}
	return ""
}
