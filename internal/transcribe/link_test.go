package transcribe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxcall/internal/fault"
	"github.com/MrWong99/voxcall/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxcall/pkg/provider/stt/mock"
	"github.com/MrWong99/voxcall/pkg/types"
)

type recorder struct {
	mu    sync.Mutex
	texts []string
}

func (r *recorder) add(t types.Transcript) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, t.Text)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestConnect_HandshakeRejected(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{StartStreamErr: errors.New("401 unauthorized")}
	l := New(p, stt.StreamConfig{})

	err := l.Connect(context.Background())
	if !errors.Is(err, fault.ErrConnection) {
		t.Fatalf("err = %v, want connection fault", err)
	}
	if l.Open() {
		t.Error("link open after failed connect")
	}
	if err := l.Disconnect(); err != nil {
		t.Errorf("Disconnect after failed Connect: %v", err)
	}
}

func TestSend_DropsWhenNotOpen(t *testing.T) {
	t.Parallel()

	sess := sttmock.NewSession()
	p := &sttmock.Provider{Sessions: []*sttmock.Session{sess}}
	l := New(p, stt.StreamConfig{})

	l.Send([]byte("early")) // before Connect
	if err := l.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	l.Send([]byte("a"))
	l.Send([]byte("b"))
	_ = l.Disconnect()
	l.Send([]byte("late"))

	if got := sess.SendAudioCallCount(); got != 2 {
		t.Errorf("SendAudio calls = %d, want 2", got)
	}
}

func TestListener_ReceivesInOrder(t *testing.T) {
	t.Parallel()

	sess := sttmock.NewSession()
	p := &sttmock.Provider{Sessions: []*sttmock.Session{sess}}
	rec := &recorder{}
	l := New(p, stt.StreamConfig{Language: "en"})
	l.SetListener(rec.add)

	if err := l.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer l.Disconnect()

	for _, s := range []string{"he", "hello", "hello there"} {
		sess.Emit(types.Transcript{Text: s})
	}
	waitFor(t, func() bool { return len(rec.snapshot()) == 3 })

	got := rec.snapshot()
	want := []string{"he", "hello", "hello there"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if p.StartStreamCalls[0].Cfg.Language != "en" {
		t.Errorf("StartStream language = %q, want en", p.StartStreamCalls[0].Cfg.Language)
	}
}

func TestDisconnect_IdempotentAndClosesSession(t *testing.T) {
	t.Parallel()

	sess := sttmock.NewSession()
	p := &sttmock.Provider{Sessions: []*sttmock.Session{sess}}
	l := New(p, stt.StreamConfig{})
	if err := l.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	for range 3 {
		if err := l.Disconnect(); err != nil {
			t.Fatalf("Disconnect: %v", err)
		}
	}
	if got := sess.CloseCallCount(); got != 1 {
		t.Errorf("Close calls = %d, want 1", got)
	}
	if l.Open() {
		t.Error("link still open after Disconnect")
	}
	if got := p.CallCount(); got != 1 {
		t.Errorf("StartStream calls = %d, want 1 (no reconnect on Disconnect)", got)
	}
}

func TestDisconnect_BeforeConnect(t *testing.T) {
	t.Parallel()

	l := New(&sttmock.Provider{}, stt.StreamConfig{})
	if err := l.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := l.Connect(context.Background()); !errors.Is(err, fault.ErrConnection) {
		t.Errorf("Connect after Disconnect: err = %v, want connection fault", err)
	}
}

func TestReconnect_AfterDrop(t *testing.T) {
	t.Parallel()

	first := sttmock.NewSession()
	second := sttmock.NewSession()
	p := &sttmock.Provider{Sessions: []*sttmock.Session{first, second}}
	rec := &recorder{}
	var failed error
	l := New(p, stt.StreamConfig{},
		WithReconnect(1, time.Millisecond),
		WithFailureHandler(func(err error) { failed = err }),
	)
	l.SetListener(rec.add)
	if err := l.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer l.Disconnect()

	first.Emit(types.Transcript{Text: "before"})
	first.Drop(errors.New("network reset"))
	waitFor(t, func() bool { return p.CallCount() == 2 && l.Open() })

	second.Emit(types.Transcript{Text: "after"})
	waitFor(t, func() bool { return len(rec.snapshot()) == 2 })

	l.Send([]byte("chunk"))
	if got := second.SendAudioCallCount(); got != 1 {
		t.Errorf("audio on new session = %d, want 1", got)
	}
	if failed != nil {
		t.Errorf("failure handler called after successful reconnect: %v", failed)
	}
}

func TestReconnect_ExhaustedReportsConnectionFault(t *testing.T) {
	t.Parallel()

	first := sttmock.NewSession()
	p := &sttmock.Provider{
		Sessions:        []*sttmock.Session{first},
		StartStreamErrs: []error{nil, errors.New("refused"), errors.New("refused")},
	}
	failures := make(chan error, 2)
	l := New(p, stt.StreamConfig{},
		WithReconnect(2, time.Millisecond),
		WithFailureHandler(func(err error) { failures <- err }),
	)
	if err := l.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer l.Disconnect()

	first.Drop(errors.New("network reset"))

	select {
	case err := <-failures:
		if !errors.Is(err, fault.ErrConnection) {
			t.Errorf("failure = %v, want connection fault", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("failure handler not called")
	}
	if got := p.CallCount(); got != 3 {
		t.Errorf("StartStream calls = %d, want 3 (connect + 2 retries)", got)
	}
	if l.Open() {
		t.Error("link open after giving up")
	}
	select {
	case err := <-failures:
		t.Errorf("failure handler called twice: %v", err)
	default:
	}
}

func TestDisconnect_DuringReconnectBackoff(t *testing.T) {
	t.Parallel()

	first := sttmock.NewSession()
	p := &sttmock.Provider{Sessions: []*sttmock.Session{first}}
	var failed bool
	l := New(p, stt.StreamConfig{},
		WithReconnect(3, time.Hour),
		WithFailureHandler(func(error) { failed = true }),
	)
	if err := l.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	first.Drop(errors.New("gone"))
	waitFor(t, func() bool { return !l.Open() })

	done := make(chan struct{})
	go func() {
		_ = l.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect blocked on reconnect backoff")
	}
	if failed {
		t.Error("failure handler called after Disconnect")
	}
}
