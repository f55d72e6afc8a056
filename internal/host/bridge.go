package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxcall/internal/call"
	"github.com/MrWong99/voxcall/internal/fault"
	"github.com/MrWong99/voxcall/pkg/audio"
)

var errConnClosed = errors.New("host: connection closed")

const (
	outboxSize   = 64
	maxBuffered  = 1 << 20
	writeTimeout = 5 * time.Second
)

// pendingPlay is an audio event waiting for the client's acknowledgement.
type pendingPlay struct {
	ack  chan struct{}
	stop chan struct{}
}

// bridge adapts one WebSocket connection to the device interfaces of a call.
// Binary frames from the client accumulate as microphone audio; audio parts
// are sent as events and complete when the client reports them played.
//
// bridge implements audio.Source, audio.Device and audio.Player.
type bridge struct {
	conn *websocket.Conn
	log  *slog.Logger

	out      chan Event
	gone     chan struct{}
	goneOnce sync.Once
	closing  atomic.Bool

	mu     sync.Mutex
	buf    []byte
	nextID uint64
	plays  map[uint64]pendingPlay
}

func newBridge(conn *websocket.Conn, log *slog.Logger) *bridge {
	return &bridge{
		conn:  conn,
		log:   log,
		out:   make(chan Event, outboxSize),
		gone:  make(chan struct{}),
		plays: make(map[uint64]pendingPlay),
	}
}

// Open implements audio.Source. The open connection is the grant.
func (b *bridge) Open(_ context.Context) (audio.Device, error) {
	select {
	case <-b.gone:
		return nil, fmt.Errorf("host: open microphone: %w", audio.ErrDeviceUnavailable)
	default:
		return b, nil
	}
}

// Read implements audio.Device. It returns the audio received since the
// previous call.
func (b *bridge) Read() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data := b.buf
	b.buf = nil
	return data, nil
}

// Close implements audio.Device. The connection itself is owned by the
// handler; closing the device only discards buffered audio.
func (b *bridge) Close() error {
	b.mu.Lock()
	b.buf = nil
	b.mu.Unlock()
	return nil
}

// deliver buffers one microphone frame, keeping at most maxBuffered bytes.
func (b *bridge) deliver(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, frame...)
	if over := len(b.buf) - maxBuffered; over > 0 {
		b.buf = b.buf[over:]
	}
}

// Play implements audio.Player.
func (b *bridge) Play(ctx context.Context, payload []byte) error {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	p := pendingPlay{ack: make(chan struct{}), stop: make(chan struct{})}
	b.plays[id] = p
	b.mu.Unlock()
	defer b.forget(id)

	if err := b.send(ctx, Event{Type: EventAudio, ID: id, Audio: payload}); err != nil {
		return fmt.Errorf("host: play: %w", err)
	}
	select {
	case <-p.ack:
		return nil
	case <-p.stop:
		return audio.ErrPlaybackStopped
	case <-ctx.Done():
		return ctx.Err()
	case <-b.gone:
		return fmt.Errorf("host: play: %w", errConnClosed)
	}
}

// Stop implements audio.Player. The client is told to drop queued audio
// when something was playing.
func (b *bridge) Stop() error {
	b.mu.Lock()
	n := len(b.plays)
	for id, p := range b.plays {
		close(p.stop)
		delete(b.plays, id)
	}
	b.mu.Unlock()

	if n == 0 {
		return nil
	}
	select {
	case b.out <- Event{Type: EventStop}:
	default:
		b.log.Debug("host: outbox full, stop event dropped")
	}
	return nil
}

// ack completes the pending play with the given id. Unknown ids are ignored;
// they belong to parts that were already stopped.
func (b *bridge) ack(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.plays[id]; ok {
		close(p.ack)
		delete(b.plays, id)
	}
}

func (b *bridge) forget(id uint64) {
	b.mu.Lock()
	delete(b.plays, id)
	b.mu.Unlock()
}

// send queues ev for the write loop.
func (b *bridge) send(ctx context.Context, ev Event) error {
	select {
	case b.out <- ev:
		return nil
	case <-b.gone:
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// notify queues ev on behalf of a session callback. Events for a vanished
// client are discarded.
func (b *bridge) notify(ev Event) {
	if err := b.send(context.Background(), ev); err != nil {
		b.log.Debug("host: event dropped", "type", ev.Type, "err", err)
	}
}

func (b *bridge) markGone() {
	b.goneOnce.Do(func() { close(b.gone) })
}

// callbacks forwards the session notifications to the client.
func (b *bridge) callbacks() call.Callbacks {
	return call.Callbacks{
		OnTranscriptUpdate: func(text string, final bool) {
			b.notify(Event{Type: EventTranscript, Text: text, Final: final})
		},
		OnResponse: func(replyText string, payload []byte, userText string) {
			b.notify(Event{Type: EventResponse, Reply: replyText, User: userText, HasAudio: len(payload) > 0})
		},
		OnError: func(err error) {
			b.notify(Event{Type: EventError, Kind: fault.KindOf(err).String(), Message: err.Error()})
		},
		OnStateChange: func(from, to call.State) {
			b.notify(Event{Type: EventState, From: from.String(), To: to.String()})
		},
	}
}

// writeLoop sends queued events until ctx is done or flush is closed, in
// which case the events still queued are written first.
func (b *bridge) writeLoop(ctx context.Context, flush <-chan struct{}) error {
	for {
		select {
		case ev := <-b.out:
			if err := b.write(ctx, ev); err != nil {
				return err
			}
		case <-flush:
			for {
				select {
				case ev := <-b.out:
					if err := b.write(ctx, ev); err != nil {
						return err
					}
				default:
					return nil
				}
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (b *bridge) write(ctx context.Context, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, b.conn, ev); err != nil {
		b.markGone()
		return fmt.Errorf("host: write %s event: %w", ev.Type, err)
	}
	return nil
}

// readLoop consumes client frames until the connection fails or is closed.
// hangup is invoked when the client asks to end the call or goes away.
func (b *bridge) readLoop(ctx context.Context, hangup func()) error {
	defer hangup()
	for {
		typ, data, err := b.conn.Read(ctx)
		if err != nil {
			b.markGone()
			if b.closing.Load() || ctx.Err() != nil {
				return nil
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return fmt.Errorf("host: read: %w", err)
		}

		if typ == websocket.MessageBinary {
			b.deliver(data)
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			b.log.Warn("host: malformed client message", "err", err)
			continue
		}
		switch msg.Type {
		case MessagePlayed:
			b.ack(msg.ID)
		case MessageHangup:
			go hangup()
		default:
			b.log.Warn("host: unknown client message", "type", msg.Type)
		}
	}
}

// close ends the connection with a normal closure once the writer is done.
func (b *bridge) close(reason string) {
	b.closing.Store(true)
	b.markGone()
	if err := b.conn.Close(websocket.StatusNormalClosure, reason); err != nil {
		b.log.Debug("host: close connection", "err", err)
	}
}

var (
	_ audio.Source = (*bridge)(nil)
	_ audio.Device = (*bridge)(nil)
	_ audio.Player = (*bridge)(nil)
)
