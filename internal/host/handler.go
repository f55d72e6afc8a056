// Package host exposes voice calls to browser clients over WebSocket.
//
// A client opens GET /call?character=<id>. Binary frames it sends are
// microphone audio; JSON text frames are [ClientMessage] values. The server
// answers with JSON [Event] frames: call metadata, live captions, replies,
// state transitions, errors and base64 audio parts. Every audio part must be
// acknowledged with a played message before the next one is sent.
package host

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxcall/internal/call"
	"github.com/MrWong99/voxcall/pkg/audio"
	"github.com/MrWong99/voxcall/pkg/types"
)

// defaultReadLimit bounds a single client frame.
const defaultReadLimit = 256 << 10

// CharacterLookup resolves a character id from the persona catalog.
type CharacterLookup func(id string) (types.Character, bool)

// SessionFactory builds an unstarted call for one client. source and player
// are backed by the client connection; cb forwards notifications to it.
type SessionFactory func(character types.Character, source audio.Source, player audio.Player, cb call.Callbacks) (*call.Session, error)

// Option configures a Handler.
type Option func(*Handler)

// WithMaxCalls caps the number of concurrent calls. Zero means unlimited.
func WithMaxCalls(n int) Option {
	return func(h *Handler) { h.maxCalls = n }
}

// WithOriginPatterns allows cross-origin clients whose host matches one of
// the patterns (see websocket.AcceptOptions).
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.origins = patterns }
}

// WithReadLimit bounds the size of a single client frame in bytes.
func WithReadLimit(n int64) Option {
	return func(h *Handler) { h.readLimit = n }
}

// Handler serves the /call endpoint and tracks the calls it runs.
type Handler struct {
	lookup    CharacterLookup
	factory   SessionFactory
	maxCalls  int
	origins   []string
	readLimit int64

	mu       sync.Mutex
	reserved int
	draining bool
	calls    map[string]*call.Session
	wg       sync.WaitGroup
}

// NewHandler returns a Handler that resolves characters with lookup and
// builds calls with factory.
func NewHandler(lookup CharacterLookup, factory SessionFactory, opts ...Option) *Handler {
	h := &Handler{
		lookup:    lookup,
		factory:   factory,
		readLimit: defaultReadLimit,
		calls:     make(map[string]*call.Session),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds the /call route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /call", h)
}

// Active returns the number of calls in progress.
func (h *Handler) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

// MaxCalls returns the configured call limit, zero when unlimited.
func (h *Handler) MaxCalls() int { return h.maxCalls }

// ServeHTTP upgrades the request and runs one call until either side hangs up.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("character")
	if id == "" {
		http.Error(w, "missing character parameter", http.StatusBadRequest)
		return
	}
	character, ok := h.lookup(id)
	if !ok {
		http.Error(w, "unknown character", http.StatusNotFound)
		return
	}
	if !h.reserve() {
		http.Error(w, "no call capacity", http.StatusServiceUnavailable)
		return
	}
	defer h.release()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("host: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.readLimit)

	log := slog.With("character", character.ID)
	b := newBridge(conn, log)
	sess, err := h.factory(character, b, b, b.callbacks())
	if err != nil {
		log.Error("host: build call", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "call setup failed")
		return
	}
	if !h.track(sess) {
		_ = conn.Close(websocket.StatusTryAgainLater, "server shutting down")
		return
	}
	defer h.untrack(sess)

	h.serve(r.Context(), b, sess, character)
}

// serve runs the pumps of one connection. The call ends when the client
// leaves; the connection closes once the call has ended and every queued
// event was written.
func (h *Handler) serve(ctx context.Context, b *bridge, sess *call.Session, character types.Character) {
	log := b.log.With("call_id", sess.ID())
	flush := make(chan struct{})
	written := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(written)
		return b.writeLoop(gctx, flush)
	})
	g.Go(func() error {
		return b.readLoop(gctx, sess.End)
	})

	b.notify(Event{Type: EventCall, CallID: sess.ID(), Character: string(character.ID)})
	if err := sess.Start(gctx); err != nil && !errors.Is(err, call.ErrEnded) {
		log.Warn("host: call failed to start", "err", err)
	}
	log.Info("host: call connected")

	g.Go(func() error {
		select {
		case <-sess.Done():
		case <-gctx.Done():
			// Nothing can be written any more.
			b.markGone()
			sess.End()
		}
		<-sess.Drained()
		close(flush)
		<-written
		b.close("call ended")
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Warn("host: connection failed", "err", err)
	}
	log.Info("host: call disconnected", "err", sess.Err())
}

func (h *Handler) reserve() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining || (h.maxCalls > 0 && h.reserved >= h.maxCalls) {
		return false
	}
	h.reserved++
	return true
}

func (h *Handler) release() {
	h.mu.Lock()
	h.reserved--
	h.mu.Unlock()
}

func (h *Handler) track(s *call.Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining {
		return false
	}
	h.calls[s.ID()] = s
	h.wg.Add(1)
	return true
}

func (h *Handler) untrack(s *call.Session) {
	h.mu.Lock()
	delete(h.calls, s.ID())
	h.mu.Unlock()
	h.wg.Done()
}

// Shutdown refuses new calls, ends every active call and waits for their
// connections to close or ctx to expire.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	active := make([]*call.Session, 0, len(h.calls))
	for _, s := range h.calls {
		active = append(active, s)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range active {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.End()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
