// Package mock provides test doubles for the tts package interfaces.
//
// Provider scripts the two-part synthesis protocol: set First for the part-1
// result and Second (or SecondErrs) for part-2 polls. Engine is a single-shot
// synthesizer that echoes the text as audio unless told otherwise.
//
// Example:
//
//	p := &mock.Provider{
//	    First:      &tts.Result{Audio: []byte("A"), HasSecondPart: true},
//	    SecondErr:  errors.New("backend down"),
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxcall/pkg/provider/tts"
	"github.com/MrWong99/voxcall/pkg/types"
)

// SynthesizeCall records a single invocation of Provider.Synthesize.
type SynthesizeCall struct {
	Ctx context.Context
	Req tts.Request
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// First is returned for part-1 requests. Nil yields an empty result.
	First *tts.Result

	// FirstErr, if non-nil, is returned for part-1 requests.
	FirstErr error

	// Second is returned for part-2 requests once SecondErrs is exhausted.
	Second *tts.Result

	// SecondErrs scripts per-poll part-2 failures: the n-th part-2 request
	// returns SecondErrs[n] while n < len(SecondErrs).
	SecondErrs []error

	// SecondErr, if non-nil, is returned for every part-2 request after
	// SecondErrs is exhausted.
	SecondErr error

	// Block, if true, makes every request wait for ctx cancellation.
	Block bool

	// Calls records every call to Synthesize.
	Calls []SynthesizeCall

	// Discarded records every call to Discard.
	Discarded []tts.Request

	secondCalls int
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, SynthesizeCall{Ctx: ctx, Req: req})
	block := p.Block
	var (
		res *tts.Result
		err error
	)
	if req.Part == tts.PartSecond {
		n := p.secondCalls
		p.secondCalls++
		switch {
		case n < len(p.SecondErrs):
			err = p.SecondErrs[n]
		case p.SecondErr != nil:
			err = p.SecondErr
		default:
			res = p.Second
		}
	} else {
		res, err = p.First, p.FirstErr
	}
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &tts.Result{}
	}
	out := *res
	return &out, nil
}

// PartCalls returns how many requests were made for part. Thread-safe.
func (p *Provider) PartCalls(part int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.Calls {
		if c.Req.Part == part {
			n++
		}
	}
	return n
}

// Discard implements tts.Discarder.
func (p *Provider) Discard(req tts.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Discarded = append(p.Discarded, req)
}

// DiscardCount returns how many times Discard was called. Thread-safe.
func (p *Provider) DiscardCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Discarded)
}

var (
	_ tts.Provider  = (*Provider)(nil)
	_ tts.Discarder = (*Provider)(nil)
)

// Engine is a mock implementation of tts.Engine. By default it returns the
// text itself as audio.
type Engine struct {
	mu sync.Mutex

	// Err, if non-nil, is returned for every text.
	Err error

	// ErrFor maps a text to the error returned for it.
	ErrFor map[string]error

	// Hold, if non-nil, delays every call until the channel is closed.
	Hold chan struct{}

	// Texts records every synthesized text, in call order.
	Texts []string
}

// SynthesizeText implements tts.Engine.
func (e *Engine) SynthesizeText(ctx context.Context, text string, _ types.VoiceProfile) ([]byte, error) {
	e.mu.Lock()
	e.Texts = append(e.Texts, text)
	err := e.Err
	if err == nil {
		err = e.ErrFor[text]
	}
	hold := e.Hold
	e.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return []byte(text), nil
}

// Calls returns a copy of the synthesized texts. Thread-safe.
func (e *Engine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.Texts...)
}

var _ tts.Engine = (*Engine)(nil)
