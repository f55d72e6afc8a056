// Package transcribe maintains the streaming connection between a call and its
// speech-recognition backend.
//
// A [Link] wraps an [stt.Provider]. [Link.Connect] opens a session and starts
// forwarding recognition events, in delivery order, to a single listener.
// [Link.Send] never blocks and never fails: chunks sent while the link is not
// open are dropped. When the backend drops the stream mid-call the link
// reconnects with exponential backoff, up to a bounded number of attempts;
// when those are exhausted the failure handler receives a
// [fault.KindConnection] error.
package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxcall/internal/fault"
	"github.com/MrWong99/voxcall/pkg/provider/stt"
	"github.com/MrWong99/voxcall/pkg/types"
)

// Default reconnection parameters.
const (
	defaultReconnectAttempts = 1
	defaultReconnectBackoff  = 500 * time.Millisecond
	defaultMaxBackoff        = 5 * time.Second
)

// ErrAlreadyConnected is returned by Connect on a link that has been connected.
var ErrAlreadyConnected = errors.New("transcribe: already connected")

// Option is a functional option for configuring a Link.
type Option func(*Link)

// WithReconnect sets how many times a dropped stream is re-established and
// the initial backoff between attempts (doubled per attempt). attempts of zero
// disables reconnection.
func WithReconnect(attempts int, backoff time.Duration) Option {
	return func(l *Link) {
		if attempts >= 0 {
			l.attempts = attempts
		}
		if backoff > 0 {
			l.backoff = backoff
		}
	}
}

// WithFailureHandler registers fn to be called, at most once, when the link
// gives up after a mid-stream disconnect. fn runs on the link's goroutine and
// must not call Disconnect synchronously.
func WithFailureHandler(fn func(error)) Option {
	return func(l *Link) {
		l.onFailure = fn
	}
}

// Link is a reconnecting transcription stream. All methods are safe for
// concurrent use.
type Link struct {
	provider  stt.Provider
	cfg       stt.StreamConfig
	attempts  int
	backoff   time.Duration
	onFailure func(error)

	open      atomic.Bool
	connected atomic.Bool

	mu       sync.Mutex
	sess     stt.SessionHandle
	listener func(types.Transcript)
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool
	stopOnce sync.Once
}

// New creates a Link that opens sessions on provider with cfg.
func New(provider stt.Provider, cfg stt.StreamConfig, opts ...Option) *Link {
	l := &Link{
		provider: provider,
		cfg:      cfg,
		attempts: defaultReconnectAttempts,
		backoff:  defaultReconnectBackoff,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// SetListener registers the single receiver of recognition events,
// replacing any previous one. fn is called on the link's goroutine in
// delivery order.
func (l *Link) SetListener(fn func(types.Transcript)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listener = fn
}

// Connect opens the stream and returns once it can accept audio. A rejected
// handshake is returned as a [fault.KindConnection] error.
func (l *Link) Connect(ctx context.Context) error {
	if !l.connected.CompareAndSwap(false, true) {
		return ErrAlreadyConnected
	}

	sess, err := l.provider.StartStream(ctx, l.cfg)
	if err != nil {
		close(l.done)
		return fault.New(fault.KindConnection, "transcribe.connect", err)
	}

	lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		cancel()
		close(l.done)
		_ = sess.Close()
		return fault.New(fault.KindConnection, "transcribe.connect", errors.New("link closed during connect"))
	}
	l.sess = sess
	l.cancel = cancel
	l.mu.Unlock()

	l.open.Store(true)
	go l.pump(lctx, sess)
	return nil
}

// Open reports whether the link currently accepts audio.
func (l *Link) Open() bool { return l.open.Load() }

// Send forwards one audio chunk. It silently drops the chunk when the link
// is not open or the backend refuses it.
func (l *Link) Send(chunk []byte) {
	if !l.open.Load() {
		return
	}
	l.mu.Lock()
	sess := l.sess
	l.mu.Unlock()
	if sess == nil {
		return
	}
	if err := sess.SendAudio(chunk); err != nil {
		slog.Debug("transcribe: chunk dropped", "err", err)
	}
}

// Disconnect closes the stream and stops event delivery. It waits for the
// delivery goroutine to exit, so the listener is not called after Disconnect
// returns. Safe to call multiple times and before Connect.
func (l *Link) Disconnect() error {
	var err error
	l.stopOnce.Do(func() {
		l.open.Store(false)

		l.mu.Lock()
		l.closed = true
		sess := l.sess
		l.sess = nil
		cancel := l.cancel
		l.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if sess != nil {
			err = sess.Close()
		}
		if l.connected.Load() {
			<-l.done
		}
	})
	return err
}

// pump delivers events from sess and re-establishes the stream when the
// backend drops it.
func (l *Link) pump(ctx context.Context, sess stt.SessionHandle) {
	defer close(l.done)

	for {
		for t := range sess.Transcripts() {
			l.deliver(t)
		}
		l.open.Store(false)

		if ctx.Err() != nil {
			return
		}
		cause := sess.Err()
		if cause == nil {
			cause = errors.New("stream closed by backend")
		}
		slog.Warn("transcribe: stream dropped", "err", cause)
		_ = sess.Close()

		next, err := l.reconnect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.fail(errors.Join(cause, err))
			return
		}

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			_ = next.Close()
			return
		}
		l.sess = next
		l.mu.Unlock()
		l.open.Store(true)
		sess = next
	}
}

// deliver passes t to the listener unless the link is closing.
func (l *Link) deliver(t types.Transcript) {
	l.mu.Lock()
	fn := l.listener
	closed := l.closed
	l.mu.Unlock()
	if fn == nil || closed {
		return
	}
	fn(t)
}

// reconnect tries to open a new session with exponential backoff.
func (l *Link) reconnect(ctx context.Context) (stt.SessionHandle, error) {
	if l.attempts == 0 {
		return nil, errors.New("reconnection disabled")
	}
	currentBackoff := l.backoff
	var lastErr error

	for attempt := 1; attempt <= l.attempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(currentBackoff):
		}

		slog.Info("transcribe: attempting reconnection",
			"attempt", attempt,
			"max_attempts", l.attempts,
		)
		sess, err := l.provider.StartStream(ctx, l.cfg)
		if err == nil {
			slog.Info("transcribe: reconnection successful", "attempt", attempt)
			return sess, nil
		}
		lastErr = err
		slog.Warn("transcribe: reconnection attempt failed",
			"attempt", attempt,
			"err", err,
		)

		currentBackoff *= 2
		if currentBackoff > defaultMaxBackoff {
			currentBackoff = defaultMaxBackoff
		}
	}
	return nil, lastErr
}

func (l *Link) fail(err error) {
	slog.Error("transcribe: link failed after reconnection attempts", "attempts", l.attempts, "err", err)
	if l.onFailure != nil {
		l.onFailure(fault.New(fault.KindConnection, "transcribe.reconnect", err))
	}
}
