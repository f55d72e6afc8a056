package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/MrWong99/voxcall/pkg/types"
)

const (
	defaultMinFirstChars = 12
	defaultPendingTTL    = 2 * time.Minute
	defaultPartTimeout   = 30 * time.Second
)

// SplitterOption is a functional option for configuring a Splitter.
type SplitterOption func(*Splitter)

// WithMinFirstChars sets the shortest opening fragment. Sentences shorter
// than n are merged with the following one.
func WithMinFirstChars(n int) SplitterOption {
	return func(s *Splitter) {
		if n > 0 {
			s.minFirst = n
		}
	}
}

// WithPendingTTL sets how long an uncollected second part is retained before
// it is dropped and its synthesis cancelled.
func WithPendingTTL(d time.Duration) SplitterOption {
	return func(s *Splitter) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithPartTimeout bounds the background synthesis of a second part.
func WithPartTimeout(d time.Duration) SplitterOption {
	return func(s *Splitter) {
		if d > 0 {
			s.partTimeout = d
		}
	}
}

// Splitter implements [Provider] over a single-shot [Engine]. A part-1 request
// synthesizes the first sentence synchronously and starts the remainder in the
// background; part-2 requests collect it.
type Splitter struct {
	engine      Engine
	minFirst    int
	ttl         time.Duration
	partTimeout time.Duration

	mu      sync.Mutex
	pending map[pendingKey]*pendingPart
}

type pendingKey struct {
	character types.CharacterID
	text      string
	token     string
}

func keyOf(req Request) pendingKey {
	return pendingKey{character: req.Character, text: req.Text, token: req.Token}
}

type pendingPart struct {
	done   chan struct{}
	audio  []byte
	err    error
	cancel context.CancelFunc
	expiry *time.Timer
}

// NewSplitter wraps engine.
func NewSplitter(engine Engine, opts ...SplitterOption) *Splitter {
	s := &Splitter{
		engine:      engine,
		minFirst:    defaultMinFirstChars,
		ttl:         defaultPendingTTL,
		partTimeout: defaultPartTimeout,
		pending:     make(map[pendingKey]*pendingPart),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Synthesize implements [Provider].
func (s *Splitter) Synthesize(ctx context.Context, req Request) (*Result, error) {
	switch req.Part {
	case PartFirst:
		return s.first(ctx, req)
	case PartSecond:
		return s.second(req)
	default:
		return nil, fmt.Errorf("tts: invalid part %d", req.Part)
	}
}

func (s *Splitter) first(ctx context.Context, req Request) (*Result, error) {
	head, tail := SplitFirst(req.Text, s.minFirst)
	if head == "" {
		return &Result{}, nil
	}

	audio, err := s.engine.SynthesizeText(ctx, head, req.Voice)
	if err != nil {
		return nil, fmt.Errorf("tts: synthesize first part: %w", err)
	}
	if tail == "" {
		return &Result{Audio: audio}, nil
	}

	// The remainder outlives the part-1 request. It ends with Discard, on
	// collection, or when the pending TTL expires.
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.partTimeout)
	p := &pendingPart{done: make(chan struct{}), cancel: cancel}
	key := keyOf(req)
	s.mu.Lock()
	if old, ok := s.pending[key]; ok {
		s.dropLocked(key, old)
	}
	s.pending[key] = p
	p.expiry = time.AfterFunc(s.ttl, func() { s.drop(key, p) })
	s.mu.Unlock()

	go func() {
		defer cancel()
		defer close(p.done)
		p.audio, p.err = s.engine.SynthesizeText(bctx, tail, req.Voice)
		if p.err != nil {
			if !errors.Is(bctx.Err(), context.Canceled) {
				slog.Warn("tts: second part synthesis failed", "character", req.Character, "err", p.err)
			}
		}
	}()

	return &Result{Audio: audio, HasSecondPart: true}, nil
}

func (s *Splitter) second(req Request) (*Result, error) {
	key := keyOf(req)
	s.mu.Lock()
	p, ok := s.pending[key]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNoSecondPart
	}

	select {
	case <-p.done:
	default:
		return nil, ErrPartNotReady
	}

	s.drop(key, p)
	if p.err != nil {
		return nil, fmt.Errorf("tts: synthesize second part: %w", p.err)
	}
	return &Result{Audio: p.audio}, nil
}

// Discard implements [Discarder].
func (s *Splitter) Discard(req Request) {
	key := keyOf(req)
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pending[key]; ok {
		s.dropLocked(key, p)
	}
}

// drop removes p if it is still the part pending under key.
func (s *Splitter) drop(key pendingKey, p *pendingPart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[key] == p {
		s.dropLocked(key, p)
	}
}

func (s *Splitter) dropLocked(key pendingKey, p *pendingPart) {
	delete(s.pending, key)
	p.expiry.Stop()
	p.cancel()
}

// Pending returns the number of second parts not yet collected.
func (s *Splitter) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// SplitFirst splits text after the first sentence that is at least minFirst
// characters long. tail is empty when text is a single sentence.
func SplitFirst(text string, minFirst int) (head, tail string) {
	txt := strings.TrimSpace(text)
	if txt == "" {
		return "", ""
	}
	runes := []rune(txt)
	for i, r := range runes {
		if i+1 < minFirst {
			continue
		}
		if r == '\n' {
			return strings.TrimSpace(string(runes[:i])), strings.TrimSpace(string(runes[i+1:]))
		}
		j, ok := sentenceEnd(runes, i)
		if !ok {
			continue
		}
		head = strings.TrimSpace(string(runes[:j]))
		tail = strings.TrimSpace(string(runes[j:]))
		return head, tail
	}
	return txt, ""
}

// LastSentenceEnd returns the byte offset just past the last complete
// sentence of text, or -1 if text has none.
func LastSentenceEnd(text string) int {
	runes := []rune(text)
	end := -1
	for i := range runes {
		if j, ok := sentenceEnd(runes, i); ok {
			end = len(string(runes[:j]))
		}
	}
	return end
}

// abbreviations never end a sentence when more text follows.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true,
	"sr": true, "jr": true, "st": true, "vs": true, "etc": true,
	"e.g": true, "i.e": true, "approx": true,
}

// sentenceEnd reports whether runes[i] terminates a sentence and, if so, the
// index just past it. Trailing punctuation such as "?!" or "..." and closing
// quotes are absorbed. The terminator must be followed by whitespace or the
// end of text, and a period after an abbreviation or an initial does not
// count unless it ends the text.
func sentenceEnd(runes []rune, i int) (int, bool) {
	r := runes[i]
	if r != '.' && r != '!' && r != '?' {
		return 0, false
	}
	j := i + 1
	for j < len(runes) && strings.ContainsRune(".!?\"')", runes[j]) {
		j++
	}
	if j == len(runes) {
		return j, true
	}
	if !unicode.IsSpace(runes[j]) {
		return 0, false
	}
	if r == '.' && j == i+1 && abbreviated(runes[:i]) {
		return 0, false
	}
	return j, true
}

// abbreviated reports whether the word ending prefix is a known abbreviation
// or a single-letter initial other than the pronoun I.
func abbreviated(prefix []rune) bool {
	start := len(prefix)
	for start > 0 && (unicode.IsLetter(prefix[start-1]) || prefix[start-1] == '.') {
		start--
	}
	word := prefix[start:]
	if len(word) == 1 && unicode.IsLetter(word[0]) && word[0] != 'I' {
		return true
	}
	return abbreviations[strings.ToLower(string(word))]
}

var (
	_ Provider  = (*Splitter)(nil)
	_ Discarder = (*Splitter)(nil)
)
