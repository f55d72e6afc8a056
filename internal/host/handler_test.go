package host

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxcall/internal/call"
	"github.com/MrWong99/voxcall/internal/reply"
	"github.com/MrWong99/voxcall/internal/turn"
	"github.com/MrWong99/voxcall/pkg/audio"
	"github.com/MrWong99/voxcall/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxcall/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/voxcall/pkg/provider/stt/mock"
	"github.com/MrWong99/voxcall/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxcall/pkg/provider/tts/mock"
	"github.com/MrWong99/voxcall/pkg/types"
)

const waitTimeout = 3 * time.Second

// fixture builds calls backed by mock providers and remembers them.
type fixture struct {
	mu       sync.Mutex
	links    []*sttmock.Session
	sessions []*call.Session
}

func (f *fixture) lookup(id string) (types.Character, bool) {
	if id != "lumi" {
		return types.Character{}, false
	}
	return types.Character{ID: "lumi", Name: "Lumi"}, true
}

func (f *fixture) factory(character types.Character, source audio.Source, player audio.Player, cb call.Callbacks) (*call.Session, error) {
	link := sttmock.NewSession()
	replier := reply.New(&llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "General Kenobi."}})
	synth := &ttsmock.Provider{First: &tts.Result{Audio: []byte("A")}}
	s := call.New(call.Config{
		Character:     character,
		Source:        source,
		Player:        player,
		Recognizer:    &sttmock.Provider{Sessions: []*sttmock.Session{link}},
		Pipeline:      turn.New(replier, synth),
		ChunkInterval: 5 * time.Millisecond,
		Callbacks:     cb,
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, link)
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fixture) link(i int) *sttmock.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.links[i]
}

func (f *fixture) session(i int) *call.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[i]
}

func newServer(t *testing.T, opts ...Option) (*Handler, *fixture, *httptest.Server) {
	t.Helper()
	f := &fixture{}
	h := NewHandler(f.lookup, f.factory, opts...)
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = h.Shutdown(ctx)
		srv.Close()
	})
	return h, f, srv
}

func dial(t *testing.T, srv *httptest.Server, character string) *websocket.Conn {
	t.Helper()
	conn, resp, err := dialRaw(srv, character)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("Dial: %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func dialRaw(srv *httptest.Server, character string) (*websocket.Conn, *http.Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/call?character=" + character
	return websocket.Dial(ctx, url, nil)
}

// readUntil reads events until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(Event) bool) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	for {
		var ev Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if match(ev) {
			return ev
		}
	}
}

func stateTo(to string) func(Event) bool {
	return func(ev Event) bool { return ev.Type == EventState && ev.To == to }
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestServeHTTP_RejectsBadCharacter(t *testing.T) {
	t.Parallel()
	_, _, srv := newServer(t)

	tests := []struct {
		query string
		want  int
	}{
		{query: "", want: http.StatusBadRequest},
		{query: "?character=", want: http.StatusBadRequest},
		{query: "?character=vader", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		resp, err := http.Get(srv.URL + "/call" + tt.query)
		if err != nil {
			t.Fatalf("GET %q: %v", tt.query, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("GET %q: status = %d, want %d", tt.query, resp.StatusCode, tt.want)
		}
	}
}

func TestServeHTTP_Conversation(t *testing.T) {
	t.Parallel()
	h, f, srv := newServer(t)
	conn := dial(t, srv, "lumi")
	ctx := context.Background()

	ev := readUntil(t, conn, func(ev Event) bool { return true })
	if ev.Type != EventCall || ev.Character != "lumi" || ev.CallID == "" {
		t.Fatalf("first event = %+v, want call metadata", ev)
	}
	readUntil(t, conn, stateTo("listening"))
	if got := h.Active(); got != 1 {
		t.Errorf("Active = %d, want 1", got)
	}

	if err := conn.Write(ctx, websocket.MessageBinary, []byte("mic")); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	link := f.link(0)
	waitFor(t, "audio forwarded to recognizer", func() bool { return link.SendAudioCallCount() > 0 })

	link.Emit(types.Transcript{Text: "Hello there", IsFinal: true})
	readUntil(t, conn, func(ev Event) bool {
		return ev.Type == EventTranscript && ev.Final && ev.Text == "Hello there"
	})
	resp := readUntil(t, conn, func(ev Event) bool { return ev.Type == EventResponse })
	if resp.Reply != "General Kenobi." || resp.User != "Hello there" || !resp.HasAudio {
		t.Errorf("response = %+v, want reply to Hello there with audio", resp)
	}
	part := readUntil(t, conn, func(ev Event) bool { return ev.Type == EventAudio })
	if string(part.Audio) != "A" {
		t.Errorf("audio = %q, want %q", part.Audio, "A")
	}

	if err := wsjson.Write(ctx, conn, ClientMessage{Type: MessagePlayed, ID: part.ID}); err != nil {
		t.Fatalf("write played: %v", err)
	}
	readUntil(t, conn, stateTo("listening"))

	if err := wsjson.Write(ctx, conn, ClientMessage{Type: MessageHangup}); err != nil {
		t.Fatalf("write hangup: %v", err)
	}
	readUntil(t, conn, stateTo("ended"))

	rctx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()
	_, _, err := conn.Read(rctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusNormalClosure {
		t.Errorf("close status = %v (err %v), want %v", got, err, websocket.StatusNormalClosure)
	}
	waitFor(t, "call untracked", func() bool { return h.Active() == 0 })
	if err := f.session(0).Err(); err != nil {
		t.Errorf("session Err = %v, want nil", err)
	}
}

func TestServeHTTP_ClientDisconnectEndsCall(t *testing.T) {
	t.Parallel()
	h, f, srv := newServer(t)
	conn := dial(t, srv, "lumi")
	readUntil(t, conn, stateTo("listening"))

	if err := conn.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		t.Logf("client close: %v", err)
	}
	select {
	case <-f.session(0).Done():
	case <-time.After(waitTimeout):
		t.Fatal("call did not end after client disconnect")
	}
	waitFor(t, "call untracked", func() bool { return h.Active() == 0 })
	if got := f.link(0).CloseCallCount(); got == 0 {
		t.Error("recognition stream not closed")
	}
}

func TestServeHTTP_MaxCalls(t *testing.T) {
	t.Parallel()
	_, _, srv := newServer(t, WithMaxCalls(1))
	conn := dial(t, srv, "lumi")
	readUntil(t, conn, stateTo("listening"))

	_, resp, err := dialRaw(srv, "lumi")
	if err == nil {
		t.Fatal("second Dial succeeded, want rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("second Dial response = %v, want status 503", resp)
	}
}

func TestShutdown_EndsActiveCalls(t *testing.T) {
	t.Parallel()
	h, f, srv := newServer(t)
	conn := dial(t, srv, "lumi")
	readUntil(t, conn, stateTo("listening"))

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	closed := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				closed <- err
				return
			}
		}
	}()
	if err := h.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := f.session(0).State(); got != call.StateEnded {
		t.Errorf("state = %v, want ended", got)
	}
	if got := h.Active(); got != 0 {
		t.Errorf("Active = %d, want 0", got)
	}
	if err := <-closed; websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("client read error = %v, want normal closure", err)
	}

	_, resp, err := dialRaw(srv, "lumi")
	if err == nil {
		t.Fatal("Dial after Shutdown succeeded, want rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Dial after Shutdown response = %v, want status 503", resp)
	}
}
