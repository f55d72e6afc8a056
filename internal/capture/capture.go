// Package capture turns an [audio.Device] into a timed stream of audio chunks.
//
// A [Capturer] opens the device on [Capturer.Start] and polls it on a fixed
// interval (250 ms by default), handing every non-empty read to a sink as an
// [audio.Chunk]. [Capturer.Stop] is idempotent, always releases the device,
// and guarantees that no chunk is delivered after it returns.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxcall/internal/fault"
	"github.com/MrWong99/voxcall/pkg/audio"
)

// DefaultInterval is the chunk emission period.
const DefaultInterval = 250 * time.Millisecond

// ErrAlreadyStarted is returned by Start on a Capturer that has been started.
var ErrAlreadyStarted = errors.New("capture: already started")

// Option is a functional option for configuring a Capturer.
type Option func(*Capturer)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(c *Capturer) {
		if d > 0 {
			c.interval = d
		}
	}
}

// Capturer polls a capture device and forwards chunks to a sink.
// A Capturer is single-use: once stopped it cannot be restarted.
type Capturer struct {
	source   audio.Source
	interval time.Duration

	started atomic.Bool
	paused  atomic.Bool

	// emitMu is held while a chunk is handed to the sink so Stop can wait
	// for an in-flight emission to finish.
	emitMu  sync.Mutex
	stopped bool
	sink    func(audio.Chunk)

	dev      audio.Device
	seq      uint64
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates a Capturer for source.
func New(source audio.Source, opts ...Option) *Capturer {
	c := &Capturer{
		source:   source,
		interval: DefaultInterval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start opens the device and begins emitting chunks to sink every interval.
//
// Device refusals are returned as a [fault.KindDevice] error wrapping
// [audio.ErrPermissionDenied] or [audio.ErrDeviceUnavailable]. The sink is
// called from the capturer's goroutine and must not call Stop.
func (c *Capturer) Start(ctx context.Context, sink func(audio.Chunk)) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	dev, err := c.source.Open(ctx)
	if err != nil {
		close(c.done)
		if !errors.Is(err, audio.ErrPermissionDenied) && !errors.Is(err, audio.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
		}
		return fault.New(fault.KindDevice, "capture.start", err)
	}

	c.emitMu.Lock()
	if c.stopped {
		// Stop raced with Open; release the device we just acquired.
		c.emitMu.Unlock()
		close(c.done)
		_ = dev.Close()
		return fault.New(fault.KindDevice, "capture.start", errors.New("capture stopped during start"))
	}
	c.dev = dev
	c.sink = sink
	c.emitMu.Unlock()

	go c.loop()
	return nil
}

// Pause stops forwarding chunks without releasing the device. Audio captured
// while paused is read and discarded.
func (c *Capturer) Pause() { c.paused.Store(true) }

// Resume undoes Pause.
func (c *Capturer) Resume() { c.paused.Store(false) }

// Paused reports whether chunk forwarding is paused.
func (c *Capturer) Paused() bool { return c.paused.Load() }

// Stop halts chunk emission and releases the device. It waits for an
// in-flight emission to complete, so no chunk reaches the sink after Stop
// returns. Safe to call multiple times and before Start.
func (c *Capturer) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stopCh)

		c.emitMu.Lock()
		c.stopped = true
		dev := c.dev
		c.dev = nil
		c.emitMu.Unlock()

		if c.started.Load() {
			<-c.done
		}
		if dev != nil {
			err = dev.Close()
		}
	})
	return err
}

// loop polls the device until Stop.
func (c *Capturer) loop() {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.poll()
		}
	}
}

// poll reads one interval of audio and emits it unless paused or stopped.
func (c *Capturer) poll() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	if c.stopped || c.dev == nil {
		return
	}
	data, err := c.dev.Read()
	if err != nil {
		slog.Warn("capture: device read failed", "err", err)
		return
	}
	if len(data) == 0 || c.paused.Load() {
		return
	}
	c.seq++
	c.sink(audio.Chunk{Data: data, Seq: c.seq, CapturedAt: time.Now()})
}
