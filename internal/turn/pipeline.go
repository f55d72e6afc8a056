package turn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxcall/internal/fault"
	"github.com/MrWong99/voxcall/internal/observe"
	"github.com/MrWong99/voxcall/internal/reply"
	"github.com/MrWong99/voxcall/internal/resilience"
	"github.com/MrWong99/voxcall/pkg/provider/tts"
	"github.com/MrWong99/voxcall/pkg/types"
)

// Replier produces a character's reply to an utterance.
type Replier interface {
	Generate(ctx context.Context, req reply.Request) (string, error)
}

// Config holds the synthesis timing of a Pipeline.
type Config struct {
	// SynthesisTimeout bounds every single synthesis request.
	SynthesisTimeout time.Duration

	// SecondPartAttempts is the maximum number of part-2 requests.
	SecondPartAttempts int

	// SecondPartBaseDelay is the wait before the first part-2 request.
	SecondPartBaseDelay time.Duration

	// SecondPartFactor multiplies the delay after every attempt.
	SecondPartFactor float64

	// SecondPartMaxDelay caps the delay.
	SecondPartMaxDelay time.Duration
}

// DefaultConfig returns the default synthesis timing.
func DefaultConfig() Config {
	return Config{
		SynthesisTimeout:    12 * time.Second,
		SecondPartAttempts:  5,
		SecondPartBaseDelay: 500 * time.Millisecond,
		SecondPartFactor:    1.5,
		SecondPartMaxDelay:  2 * time.Second,
	}
}

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithConfig replaces the synthesis timing. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) {
		def := DefaultConfig()
		if cfg.SynthesisTimeout <= 0 {
			cfg.SynthesisTimeout = def.SynthesisTimeout
		}
		if cfg.SecondPartAttempts <= 0 {
			cfg.SecondPartAttempts = def.SecondPartAttempts
		}
		if cfg.SecondPartBaseDelay <= 0 {
			cfg.SecondPartBaseDelay = def.SecondPartBaseDelay
		}
		if cfg.SecondPartFactor < 1 {
			cfg.SecondPartFactor = def.SecondPartFactor
		}
		if cfg.SecondPartMaxDelay <= 0 {
			cfg.SecondPartMaxDelay = def.SecondPartMaxDelay
		}
		p.cfg = cfg
	}
}

// WithMetrics records pipeline metrics into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithProviderNames sets the provider labels used on error metrics.
func WithProviderNames(replyName, synthName string) Option {
	return func(p *Pipeline) {
		p.replyName = replyName
		p.synthName = synthName
	}
}

// Pipeline turns utterances into Turns. It is safe for concurrent use, but a
// call session runs at most one Turn at a time.
type Pipeline struct {
	replier Replier
	synth   tts.Provider
	cfg     Config
	metrics *observe.Metrics

	replyName string
	synthName string

	// wg tracks second-part collectors.
	wg sync.WaitGroup
}

// New creates a Pipeline.
func New(replier Replier, synth tts.Provider, opts ...Option) *Pipeline {
	p := &Pipeline{
		replier:   replier,
		synth:     synth,
		cfg:       DefaultConfig(),
		replyName: "reply",
		synthName: "tts",
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run produces the character's Turn for utterance. It always returns a
// non-nil Turn.
//
// If reply generation fails the Turn has StatusFailed and the error is a
// [fault.KindReplyGeneration] fault. If first-part synthesis fails the Turn
// is text-only, carries a [fault.KindSynthesis] fault in Notice, and Run
// returns a nil error.
//
// A second part is collected in the background under ctx; cancel ctx to abort
// it.
func (p *Pipeline) Run(ctx context.Context, character types.Character, utterance string) (*Turn, error) {
	t := &Turn{UserText: utterance, Status: StatusPending, started: time.Now()}
	t.onDone = p.recordTurn(ctx)

	ctx, span := observe.StartSpan(ctx, "turn.run", trace.WithAttributes(
		attribute.String("character", string(character.ID)),
	))
	defer span.End()
	log := observe.Logger(ctx).With("character", character.ID)

	text, err := p.generate(ctx, character, utterance)
	if err != nil {
		observe.SpanError(span, err)
		log.Warn("reply generation failed", "err", err)
		t.finish(StatusFailed)
		return t, fault.New(fault.KindReplyGeneration, "turn.reply", err)
	}
	t.ReplyText = text
	t.Status = StatusReplyDone
	log.Debug("reply generated", "chars", len(text))

	p.synthesize(ctx, log, t, character)
	return t, nil
}

// Greet produces a Turn that speaks the character's greeting. There is no
// user text and no reply generation. A character without a greeting yields a
// skipped, text-only Turn.
func (p *Pipeline) Greet(ctx context.Context, character types.Character) *Turn {
	t := &Turn{ReplyText: character.Greeting, Status: StatusReplyDone, started: time.Now()}
	if character.Greeting == "" {
		t.Status = StatusSkipped
		return t
	}
	ctx, span := observe.StartSpan(ctx, "turn.greet")
	defer span.End()
	p.synthesize(ctx, observe.Logger(ctx).With("character", character.ID), t, character)
	return t
}

// Wait blocks until every background second-part collector has returned.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) generate(ctx context.Context, character types.Character, utterance string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "turn.reply")
	defer span.End()

	start := time.Now()
	text, err := p.replier.Generate(ctx, reply.Request{Character: character, Utterance: utterance})
	if p.metrics != nil {
		p.metrics.ReplyDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil && ctx.Err() == nil {
			p.metrics.RecordProviderError(ctx, p.replyName, fault.KindReplyGeneration.String())
		}
	}
	observe.SpanError(span, err)
	return text, err
}

// synthesize fills in part 1 of t and, if announced, starts collecting part 2.
func (p *Pipeline) synthesize(ctx context.Context, log *slog.Logger, t *Turn, character types.Character) {
	spanCtx, span := observe.StartSpan(ctx, "turn.synthesize")
	req := tts.Request{
		Text:      t.ReplyText,
		Character: character.ID,
		Voice:     character.Voice,
		Part:      tts.PartFirst,
		Token:     uuid.NewString(),
	}
	res, err := p.synthesizePart(spanCtx, req)
	observe.SpanError(span, err)
	span.End()

	if err != nil {
		if ctx.Err() == nil && p.metrics != nil {
			p.metrics.RecordProviderError(ctx, p.synthName, fault.KindSynthesis.String())
		}
		log.Warn("first part synthesis failed, continuing text-only", "err", err)
		t.Notice = fault.New(fault.KindSynthesis, "turn.synthesize", err)
		t.finish(StatusSkipped)
		return
	}
	if len(res.Audio) == 0 {
		log.Debug("synthesis returned no audio, turn is text-only")
		t.finish(StatusSkipped)
		return
	}

	t.AudioParts = append(t.AudioParts, AudioPart{Sequence: 1, Payload: res.Audio})
	if !res.HasSecondPart {
		t.finish(StatusPart1Done)
		return
	}
	t.Status = StatusPart1Done

	ch := make(chan []byte, 1)
	t.second = ch
	req.Part = tts.PartSecond
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(ch)
		if payload := p.collectSecond(ctx, log, req); len(payload) > 0 {
			ch <- payload
		}
	}()
}

// collectSecond polls for part 2 until it is available or the retry budget is
// spent. Failures degrade to single-part playback and are only logged. A part
// that was not collected is discarded.
func (p *Pipeline) collectSecond(ctx context.Context, log *slog.Logger, req tts.Request) []byte {
	ctx, span := observe.StartSpan(ctx, "turn.second_part")
	defer span.End()

	policy := resilience.RetryPolicy{
		Attempts:  p.cfg.SecondPartAttempts,
		Delay:     resilience.ExponentialBackoff(p.cfg.SecondPartBaseDelay, p.cfg.SecondPartFactor, p.cfg.SecondPartMaxDelay),
		WaitFirst: true,
		OnRetry: func(attempt int, err error) {
			log.Debug("second part not available yet", "attempt", attempt, "err", err)
			if p.metrics != nil {
				p.metrics.SynthesisRetries.Add(ctx, 1)
			}
		},
	}

	var payload []byte
	err := resilience.Retry(ctx, policy, func(ctx context.Context, _ int) error {
		res, err := p.synthesizePart(ctx, req)
		if errors.Is(err, tts.ErrNoSecondPart) {
			return resilience.Permanent(err)
		}
		if err != nil {
			return err
		}
		payload = res.Audio
		return nil
	})
	if err != nil {
		tts.Discard(p.synth, req)
	}
	switch {
	case err == nil:
		span.SetAttributes(attribute.Int("bytes", len(payload)))
	case errors.Is(err, tts.ErrNoSecondPart), ctx.Err() != nil:
		observe.SpanError(span, err)
	default:
		observe.SpanError(span, err)
		log.Warn("second part unavailable, playing first part only", "err", err)
		if p.metrics != nil {
			p.metrics.RecordProviderError(ctx, p.synthName, "synthesis_second_part")
		}
	}
	return payload
}

func (p *Pipeline) synthesizePart(ctx context.Context, req tts.Request) (*tts.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.SynthesisTimeout)
	defer cancel()

	start := time.Now()
	res, err := p.synth.Synthesize(ctx, req)
	if p.metrics != nil && !errors.Is(err, tts.ErrPartNotReady) {
		p.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.Int("part", req.Part)))
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &tts.Result{}
	}
	return res, nil
}

// recordTurn returns the completion hook that records turn metrics.
func (p *Pipeline) recordTurn(ctx context.Context) func(*Turn) {
	if p.metrics == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	return func(t *Turn) {
		p.metrics.TurnDuration.Record(ctx, t.Duration().Seconds())
		p.metrics.RecordTurn(ctx, string(t.Status))
	}
}
