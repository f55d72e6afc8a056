// Package call runs one voice conversation between a user and a character.
//
// A [Session] owns the microphone capture, the transcription link, the
// endpoint detector, the turn pipeline and the playback sequencer of one call
// and drives them from a single event loop. The loop holds the only
// authoritative [State]; components never call each other directly but post
// events to it. At most one turn is in flight at any time.
//
// Host callbacks are delivered in order from a dedicated goroutine, one at a
// time, so a slow host never stalls the call. Ending a call from any
// goroutine, including from inside a callback, is always safe.
package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxcall/internal/capture"
	"github.com/MrWong99/voxcall/internal/endpoint"
	"github.com/MrWong99/voxcall/internal/fault"
	"github.com/MrWong99/voxcall/internal/observe"
	"github.com/MrWong99/voxcall/internal/playback"
	"github.com/MrWong99/voxcall/internal/transcribe"
	"github.com/MrWong99/voxcall/internal/turn"
	"github.com/MrWong99/voxcall/pkg/audio"
	"github.com/MrWong99/voxcall/pkg/provider/stt"
	"github.com/MrWong99/voxcall/pkg/types"
)

var (
	// ErrAlreadyStarted is returned by Start on a session that was started.
	ErrAlreadyStarted = errors.New("call: session already started")

	// ErrEnded is returned by Start on a session that was ended.
	ErrEnded = errors.New("call: session ended")
)

// Pipeline produces the turns of a call. [*turn.Pipeline] implements it.
type Pipeline interface {
	Run(ctx context.Context, character types.Character, utterance string) (*turn.Turn, error)
	Greet(ctx context.Context, character types.Character) *turn.Turn
	Wait()
}

// Callbacks are the host notifications of a Session. Every field is optional.
type Callbacks struct {
	// OnTranscriptUpdate receives live captions and every finalized utterance.
	OnTranscriptUpdate func(text string, final bool)

	// OnResponse receives each reply with its first audio part (nil when the
	// reply is text-only) and the utterance it answers (empty for the
	// greeting).
	OnResponse func(replyText string, audio []byte, userText string)

	// OnError receives every surfaced failure as a *fault.Error.
	OnError func(err error)

	// OnStateChange is told about every state transition.
	OnStateChange func(from, to State)
}

// Config holds the dependencies and settings of a Session.
type Config struct {
	// Character is the persona the user talks to.
	Character types.Character

	// Source grants microphone access.
	Source audio.Source

	// Player plays the character's audio.
	Player audio.Player

	// Recognizer is the speech-recognition backend.
	Recognizer stt.Provider

	// Stream configures recognition sessions.
	Stream stt.StreamConfig

	// Pipeline produces the character's turns. It should be dedicated to
	// this call, since it carries the conversation history.
	Pipeline Pipeline

	// Endpointing tunes utterance finalization. Zero fields take defaults.
	Endpointing endpoint.Config

	// ChunkInterval is the capture period. Zero selects the default.
	ChunkInterval time.Duration

	// ReconnectAttempts and ReconnectBackoff bound recovery of a dropped
	// recognition stream.
	ReconnectAttempts int
	ReconnectBackoff  time.Duration

	// Metrics records call metrics. Nil disables them.
	Metrics *observe.Metrics

	// Callbacks are the host notifications.
	Callbacks Callbacks

	// Clock replaces the wall clock of the endpoint detector. Used in tests.
	Clock endpoint.Clock
}

// Session is one call. Create it with [New], run it with [Session.Start] and
// stop it with [Session.End].
type Session struct {
	id  string
	cfg Config
	cb  Callbacks
	log *slog.Logger

	capturer  *capture.Capturer
	link      *transcribe.Link
	detector  *endpoint.Detector
	sequencer *playback.Sequencer
	pipeline  Pipeline

	state atomic.Int32

	mu      sync.Mutex
	started bool
	ending  bool
	cancel  context.CancelFunc
	err     error

	// Owned by Start until the loop runs.
	ctx    context.Context
	group  *errgroup.Group
	events chan any

	// Loop-owned.
	turnID uint64

	active   bool
	notes    *notifier
	doneOnce sync.Once
	done     chan struct{}
}

// Loop events.
type (
	transcriptEvent struct {
		text  string
		final bool
	}
	finalizedEvent struct{ text string }
	turnEvent      struct {
		id   uint64
		turn *turn.Turn
		err  error
	}
	playedEvent struct {
		id     uint64
		report playback.Report
	}
	linkFailedEvent struct{ err error }
)

// New creates a session in the connecting state. Nothing is opened until
// Start.
func New(cfg Config) *Session {
	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		cb:       cfg.Callbacks,
		pipeline: cfg.Pipeline,
		events:   make(chan any, 16),
		notes:    newNotifier(),
		done:     make(chan struct{}),
	}
	s.log = slog.With("call_id", s.id, "character", cfg.Character.ID)
	s.state.Store(int32(StateConnecting))

	s.capturer = capture.New(cfg.Source, capture.WithInterval(cfg.ChunkInterval))
	s.link = transcribe.New(cfg.Recognizer, cfg.Stream,
		transcribe.WithReconnect(cfg.ReconnectAttempts, cfg.ReconnectBackoff),
		transcribe.WithFailureHandler(func(err error) { s.post(linkFailedEvent{err: err}) }),
	)

	detOpts := []endpoint.Option{
		endpoint.WithUpdateHandler(func(text string, final bool) {
			s.post(transcriptEvent{text: text, final: final})
		}),
		endpoint.WithSuppressHandler(func(text, reason string) {
			s.log.Debug("transcript suppressed", "reason", reason, "text", text)
			if cfg.Metrics != nil {
				cfg.Metrics.RecordSuppressed(context.Background(), reason)
			}
		}),
	}
	if cfg.Clock != nil {
		detOpts = append(detOpts, endpoint.WithClock(cfg.Clock))
	}
	s.detector = endpoint.New(cfg.Endpointing, func(text string) {
		s.post(finalizedEvent{text: text})
	}, detOpts...)
	s.link.SetListener(s.detector.Handle)

	s.sequencer = playback.New(cfg.Player, playback.WithPartErrorHandler(func(int, error) {
		if cfg.Metrics != nil {
			cfg.Metrics.RecordProviderError(context.Background(), "player", "playback")
		}
	}))
	return s
}

// ID returns the unique call identifier.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session has ended and released every resource.
func (s *Session) Done() <-chan struct{} { return s.done }

// Drained is closed after Done, once the final OnStateChange to the ended
// state has returned. No callback runs after that.
func (s *Session) Drained() <-chan struct{} { return s.notes.drained }

// Err returns the fatal fault that ended the call, or nil if it was ended by
// End, by cancellation of the Start context, or is still running.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Start opens the microphone and the transcription link, then plays the
// character's greeting in the background. It returns once the call is set up.
//
// A setup failure is surfaced through OnError, ends the call, and is returned
// as a *fault.Error. Cancelling ctx ends the call.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.ending:
		s.mu.Unlock()
		return ErrEnded
	case s.started:
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.group, s.ctx = errgroup.WithContext(ctx)
	s.mu.Unlock()

	s.log.Info("call starting")

	// Nothing is forwarded until the greeting has played.
	s.capturer.Pause()
	if err := s.capturer.Start(s.ctx, func(c audio.Chunk) { s.link.Send(c.Data) }); err != nil {
		s.setupFailed(err)
		return err
	}
	if err := s.link.Connect(s.ctx); err != nil {
		s.setupFailed(err)
		return err
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActiveCalls.Add(context.Background(), 1)
	}
	s.active = true
	s.setState(StateGreeting)

	id := s.nextTurn()
	s.group.Go(s.loop)
	s.group.Go(func() error {
		t := s.pipeline.Greet(s.ctx, s.cfg.Character)
		s.post(turnEvent{id: id, turn: t})
		return nil
	})
	go s.supervise()
	return nil
}

// End terminates the call from any state. It cancels timers and in-flight
// requests, stops capture and playback, and closes the transcription link.
// It is idempotent and safe to call concurrently.
//
// End waits for teardown to finish, from any goroutine including a callback.
// Notifications still queued are dropped; only the change to the ended state
// is delivered afterwards. Use Drained to wait for it.
func (s *Session) End() {
	s.mu.Lock()
	first := !s.ending
	s.ending = true
	started := s.started
	cancel := s.cancel
	s.mu.Unlock()

	if first {
		s.log.Info("call ending", "state", s.State())
		s.notes.discard()
		if cancel != nil {
			cancel()
		}
		if !started {
			s.teardown()
			s.finish(nil)
		}
	}
	<-s.done
}

// setupFailed reports a setup fault and ends the call.
func (s *Session) setupFailed(err error) {
	if s.ctx.Err() != nil {
		// Ended during setup; not a fault.
		err = nil
	} else {
		s.log.Error("call setup failed", "err", err)
		s.notifyError(err)
	}
	s.cancel()
	s.teardown()
	s.finish(err)
}

// supervise waits for the loop and all turn workers to return, then releases
// the call's resources.
func (s *Session) supervise() {
	err := s.group.Wait()
	s.cancel()
	s.teardown()
	s.finish(err)
}

// teardown releases every owned resource. Every step is idempotent.
func (s *Session) teardown() {
	s.detector.Close()
	s.sequencer.Stop()
	if err := s.capturer.Stop(); err != nil {
		s.log.Warn("capture device close failed", "err", err)
	}
	if err := s.link.Disconnect(); err != nil {
		s.log.Debug("transcription link close failed", "err", err)
	}
	s.sequencer.Wait()
	s.pipeline.Wait()
}

// finish enters the terminal state, releases End waiters and queues the
// last host notification.
func (s *Session) finish(err error) {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		if s.active && s.cfg.Metrics != nil {
			s.cfg.Metrics.ActiveCalls.Add(context.Background(), -1)
		}
		from := State(s.state.Swap(int32(StateEnded)))
		s.log.Info("call ended", "from", from, "err", err)
		close(s.done)
		s.notes.stop(func() {
			if s.cb.OnStateChange != nil {
				s.cb.OnStateChange(from, StateEnded)
			}
		})
	})
}

// loop is the only writer of the call state once the call is set up. It
// returns a fatal fault or nil when the call context is done.
func (s *Session) loop() error {
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case ev := <-s.events:
			if err := s.handle(ev); err != nil {
				return err
			}
		}
	}
}

func (s *Session) handle(ev any) error {
	switch ev := ev.(type) {
	case transcriptEvent:
		s.dispatch(func() {
			if s.cb.OnTranscriptUpdate != nil {
				s.cb.OnTranscriptUpdate(ev.text, ev.final)
			}
		})

	case finalizedEvent:
		if s.State() != StateListening {
			// Trailing speech recognized after capture was paused.
			s.log.Debug("utterance dropped outside listening", "state", s.State(), "text", ev.text)
			s.detector.Release()
			return nil
		}
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.Finalizations.Add(s.ctx, 1)
		}
		s.setState(StateProcessing)
		id := s.nextTurn()
		s.group.Go(func() error {
			t, err := s.pipeline.Run(s.ctx, s.cfg.Character, ev.text)
			s.post(turnEvent{id: id, turn: t, err: err})
			return nil
		})

	case turnEvent:
		if ev.id != s.turnID {
			return nil
		}
		s.turnReady(ev)

	case playedEvent:
		if ev.id != s.turnID || s.State() != StateSpeaking {
			return nil
		}
		if len(ev.report.Errs) > 0 {
			s.log.Warn("turn played with errors", "parts_played", ev.report.Played, "errors", len(ev.report.Errs))
		}
		s.setState(StateListening)

	case linkFailedEvent:
		s.log.Error("transcription link lost", "err", ev.err)
		s.notifyError(ev.err)
		return ev.err
	}
	return nil
}

// turnReady hands a finished turn to the host and to playback.
func (s *Session) turnReady(ev turnEvent) {
	if s.ctx.Err() != nil {
		return
	}
	t := ev.turn
	if ev.err != nil {
		s.notifyError(ev.err)
		s.setState(StateListening)
		return
	}
	if t.Notice != nil {
		s.notifyError(t.Notice)
	}

	var first []byte
	if !t.TextOnly() {
		first = t.AudioParts[0].Payload
	}
	if t.ReplyText != "" {
		s.dispatch(func() {
			if s.cb.OnResponse != nil {
				s.cb.OnResponse(t.ReplyText, first, t.UserText)
			}
		})
	}

	if t.TextOnly() {
		s.setState(StateListening)
		return
	}
	s.setState(StateSpeaking)
	id := ev.id
	s.sequencer.Play(s.ctx, t, func(r playback.Report) {
		s.post(playedEvent{id: id, report: r})
	})
}

// setState moves to to, applying its entry actions, and notifies the host.
// Illegal transitions are logged and ignored.
func (s *Session) setState(to State) {
	from := s.State()
	if !canTransition(from, to) {
		if from != to {
			s.log.Warn("illegal state transition ignored", "from", from, "to", to)
		}
		return
	}
	s.state.Store(int32(to))
	s.log.Debug("state changed", "from", from, "to", to)

	switch to {
	case StateListening:
		s.detector.Release()
		s.capturer.Resume()
	case StateSpeaking:
		s.capturer.Pause()
	}

	s.dispatch(func() {
		if s.cb.OnStateChange != nil {
			s.cb.OnStateChange(from, to)
		}
	})
}

// notifyError passes a fault to the host.
func (s *Session) notifyError(err error) {
	s.log.Debug("surfacing fault", "kind", fault.KindOf(err), "err", err)
	s.dispatch(func() {
		if s.cb.OnError != nil {
			s.cb.OnError(err)
		}
	})
}

// dispatch queues a host callback.
func (s *Session) dispatch(fn func()) {
	s.notes.push(fn)
}

// post delivers ev to the loop, or drops it once the call is ending.
func (s *Session) post(ev any) {
	if s.ctx == nil {
		return
	}
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Session) nextTurn() uint64 {
	s.turnID++
	return s.turnID
}
