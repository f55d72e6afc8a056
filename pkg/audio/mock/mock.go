// Package mock provides in-memory mock implementations of the [audio.Source],
// [audio.Device], and [audio.Player] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	dev := &mock.Device{}
//	dev.Push([]byte("frame-1"))
//	src := &mock.Source{Device: dev}
//	got, err := src.Open(ctx)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxcall/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// Device is returned by Open. If nil, Open returns a fresh *Device.
	Device audio.Device

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCalls records how many times Open was called.
	OpenCalls int
}

// Open implements [audio.Source].
func (s *Source) Open(_ context.Context) (audio.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls++
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	if s.Device == nil {
		s.Device = &Device{}
	}
	return s.Device, nil
}

var _ audio.Source = (*Source)(nil)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device]. Queue payloads with Push;
// each Read returns the oldest queued payload or nil when the queue is empty.
type Device struct {
	mu sync.Mutex

	queue [][]byte

	// ReadErr, if non-nil, is returned by every Read.
	ReadErr error

	// ReadCalls records how many times Read was called.
	ReadCalls int

	// CloseCalls records how many times Close was called.
	CloseCalls int
}

// Push queues payload for a later Read.
func (d *Device) Push(payload []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, payload)
}

// Read implements [audio.Device].
func (d *Device) Read() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ReadCalls++
	if d.ReadErr != nil {
		return nil, d.ReadErr
	}
	if len(d.queue) == 0 {
		return nil, nil
	}
	p := d.queue[0]
	d.queue = d.queue[1:]
	return p, nil
}

// Close implements [audio.Device].
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCalls++
	return nil
}

// Closed reports whether Close has been called at least once.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CloseCalls > 0
}

var _ audio.Device = (*Device)(nil)

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock implementation of [audio.Player].
//
// By default Play returns immediately. Set Hold to a channel to make Play
// block until the channel is closed (or Stop / ctx cancellation).
type Player struct {
	mu sync.Mutex

	// Hold, if non-nil, makes Play block until it is closed.
	Hold chan struct{}

	// PlayErr maps a payload (as string) to the error Play returns for it.
	PlayErr map[string]error

	// Played records every payload passed to Play, in order.
	Played [][]byte

	// StopCalls records how many times Stop was called.
	StopCalls int

	stopCh chan struct{}
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, payload []byte) error {
	p.mu.Lock()
	p.Played = append(p.Played, append([]byte(nil), payload...))
	err := p.PlayErr[string(payload)]
	hold := p.Hold
	if p.stopCh == nil {
		p.stopCh = make(chan struct{})
	}
	stop := p.stopCh
	p.mu.Unlock()

	if err != nil {
		return err
	}
	if hold == nil {
		return nil
	}
	select {
	case <-hold:
		return nil
	case <-stop:
		return audio.ErrPlaybackStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop implements [audio.Player].
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StopCalls++
	if p.stopCh != nil {
		close(p.stopCh)
		p.stopCh = nil
	}
	return nil
}

// PlayedStrings returns the recorded payloads as strings. Thread-safe.
func (p *Player) PlayedStrings() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Played))
	for i, b := range p.Played {
		out[i] = string(b)
	}
	return out
}

// Stopped reports whether Stop has been called at least once.
func (p *Player) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.StopCalls > 0
}

var _ audio.Player = (*Player)(nil)
