// Package playback plays the audio parts of a turn back to back.
//
// A [Sequencer] plays part 1 as soon as it is handed a Turn, then waits for
// part 2 if one is expected and plays it straight after. Playback errors are
// reported and treated as the part having finished, so a broken payload never
// stalls the call. Every call to [Sequencer.Play] produces exactly one
// completion callback.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MrWong99/voxcall/internal/turn"
	"github.com/MrWong99/voxcall/pkg/audio"
)

// Report summarises one Play.
type Report struct {
	// Played is the number of parts that finished playing without error.
	Played int

	// Errs holds the playback error of every failed part.
	Errs []error

	// Interrupted reports that playback was cut short by Stop or by
	// cancellation of the Play context.
	Interrupted bool
}

// Option is a functional option for configuring a Sequencer.
type Option func(*Sequencer)

// WithPartErrorHandler registers fn to be told about every part that failed
// to play.
func WithPartErrorHandler(fn func(sequence int, err error)) Option {
	return func(s *Sequencer) {
		s.onPartError = fn
	}
}

// Sequencer plays turns on one audio player.
type Sequencer struct {
	player      audio.Player
	onPartError func(sequence int, err error)

	mu      sync.Mutex
	current context.CancelFunc

	wg sync.WaitGroup
}

// New creates a Sequencer on player.
func New(player audio.Player, opts ...Option) *Sequencer {
	s := &Sequencer{player: player}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Play starts playing t in the background and returns immediately. done is
// called exactly once, from the playback goroutine, when t has fully played,
// was interrupted, or has nothing to play. A Turn passed to Play is owned by
// the sequencer until done is called.
func (s *Sequencer) Play(ctx context.Context, t *turn.Turn, done func(Report)) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.current = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		r := s.run(ctx, t)
		if done != nil {
			done(r)
		}
	}()
}

func (s *Sequencer) run(ctx context.Context, t *turn.Turn) Report {
	var r Report
	for i := range t.AudioParts {
		if s.playPart(ctx, &r, t.AudioParts[i]) {
			return r
		}
	}
	if t.ExpectsSecond() {
		payload, ok := t.AwaitSecond(ctx)
		if ctx.Err() != nil {
			r.Interrupted = true
			return r
		}
		if ok {
			s.playPart(ctx, &r, turn.AudioPart{Sequence: 2, Payload: payload})
		}
	}
	return r
}

// playPart plays one part and reports whether playback must stop.
func (s *Sequencer) playPart(ctx context.Context, r *Report, part turn.AudioPart) bool {
	if len(part.Payload) == 0 {
		return false
	}
	err := s.player.Play(ctx, part.Payload)
	switch {
	case err == nil:
		r.Played++
		return false
	case ctx.Err() != nil, errors.Is(err, audio.ErrPlaybackStopped):
		r.Interrupted = true
		return true
	default:
		slog.Warn("audio part failed to play", "sequence", part.Sequence, "err", err)
		r.Errs = append(r.Errs, err)
		if s.onPartError != nil {
			s.onPartError(part.Sequence, err)
		}
		return false
	}
}

// Stop interrupts the turn currently playing, if any. Its done callback still
// fires.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	cancel := s.current
	s.current = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if err := s.player.Stop(); err != nil {
		slog.Debug("player stop failed", "err", err)
	}
}

// Wait blocks until every playback goroutine has returned.
func (s *Sequencer) Wait() {
	s.wg.Wait()
}
