// Package endpoint decides when a user has finished speaking.
//
// A [Detector] consumes the interim and final recognition events of one call
// and emits exactly one finalization per utterance. Final events finalize
// immediately; a stream of interim events finalizes when no further event
// arrives within the silence timeout. Short fragments, repeats of the last
// finalized text and events arriving too soon after a finalization are
// suppressed. After a finalization the detector stays busy until
// [Detector.Release] is called, so at most one turn is in flight.
//
// All methods are safe for concurrent use. Callbacks are invoked outside the
// detector's state lock but serialized, in event order. A callback that blocks
// delays later callbacks only; it never blocks a caller of Release, Busy,
// Close or Pending.
package endpoint

import (
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/voxcall/pkg/types"
)

// Config holds the endpointing thresholds.
type Config struct {
	// SilenceTimeout is how long after the last interim event the current
	// text is finalized.
	SilenceTimeout time.Duration

	// InterimCooldown is the minimum time since the last finalization before
	// the silence timer may be armed.
	InterimCooldown time.Duration

	// FinalCooldown is the minimum time since the last finalization before a
	// final event may finalize.
	FinalCooldown time.Duration

	// MinChars is the shortest text, in characters, that may be finalized.
	MinChars int

	// SimilarityThreshold is the Jaro-Winkler score at or above which a text is
	// treated as a repeat of the last finalized text. 1 disables fuzzy matching.
	SimilarityThreshold float64

	// DuplicateWindow bounds how long the last finalized text suppresses
	// repeats. A negative value suppresses repeats for the whole call.
	DuplicateWindow time.Duration
}

// DefaultConfig returns the tuned default thresholds.
func DefaultConfig() Config {
	return Config{
		SilenceTimeout:      1500 * time.Millisecond,
		InterimCooldown:     1500 * time.Millisecond,
		FinalCooldown:       1000 * time.Millisecond,
		MinChars:            4,
		SimilarityThreshold: 0.92,
		DuplicateWindow:     10 * time.Second,
	}
}

// Suppression reasons passed to the suppress handler.
const (
	ReasonTooShort  = "too_short"
	ReasonDuplicate = "duplicate"
	ReasonTooSoon   = "too_soon"
	ReasonBusy      = "busy"
)

// Option is a functional option for configuring a Detector.
type Option func(*Detector)

// WithClock replaces the wall clock. Used in tests.
func WithClock(c Clock) Option {
	return func(d *Detector) {
		d.clock = c
	}
}

// WithUpdateHandler registers fn to receive live transcript updates: every
// interim text (final=false) and every finalized text (final=true).
func WithUpdateHandler(fn func(text string, final bool)) Option {
	return func(d *Detector) {
		d.onUpdate = fn
	}
}

// WithSuppressHandler registers fn to be told about every final event that
// was discarded, with one of the Reason constants.
func WithSuppressHandler(fn func(text, reason string)) Option {
	return func(d *Detector) {
		d.onSuppress = fn
	}
}

// Detector is the endpointing state machine for one call.
type Detector struct {
	cfg        Config
	clock      Clock
	onFinalize func(text string)
	onUpdate   func(text string, final bool)
	onSuppress func(text, reason string)

	mu              sync.Mutex
	currentText     string
	lastProcessed   string
	lastProcessTime time.Time
	silence         Timer
	gen             uint64
	busy            bool
	closed          bool

	// outbox holds callbacks in event order. The goroutine that finds it idle
	// runs them until it is empty.
	outbox   []func()
	draining bool
}

// New creates a Detector that calls onFinalize with every finalized utterance.
// Zero fields in cfg take their DefaultConfig values.
func New(cfg Config, onFinalize func(text string), opts ...Option) *Detector {
	def := DefaultConfig()
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = def.SilenceTimeout
	}
	if cfg.InterimCooldown <= 0 {
		cfg.InterimCooldown = def.InterimCooldown
	}
	if cfg.FinalCooldown <= 0 {
		cfg.FinalCooldown = def.FinalCooldown
	}
	if cfg.MinChars <= 0 {
		cfg.MinChars = def.MinChars
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if cfg.DuplicateWindow == 0 {
		cfg.DuplicateWindow = def.DuplicateWindow
	}
	d := &Detector{
		cfg:        cfg,
		clock:      realClock{},
		onFinalize: onFinalize,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Handle processes one recognition event.
func (d *Detector) Handle(t types.Transcript) {
	text := strings.TrimSpace(t.Text)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}

	if !t.Final() {
		d.handleInterim(text)
		return
	}
	d.handleFinal(text)
}

// handleInterim is called with d.mu held and releases it.
func (d *Detector) handleInterim(text string) {
	if text == "" {
		// Blank interims arrive during silence and must not reset the timer.
		d.mu.Unlock()
		return
	}
	if d.busy {
		d.emitLocked(func() { d.update(text, false) })
		return
	}

	d.currentText = text
	d.stopSilenceLocked()
	if _, ok := d.eligibleLocked(text, d.cfg.InterimCooldown); ok {
		gen := d.gen
		d.silence = d.clock.AfterFunc(d.cfg.SilenceTimeout, func() { d.silenceElapsed(gen) })
	}
	d.emitLocked(func() { d.update(text, false) })
}

// handleFinal is called with d.mu held and releases it.
func (d *Detector) handleFinal(text string) {
	d.stopSilenceLocked()
	if d.busy {
		d.emitLocked(func() { d.suppress(text, ReasonBusy) })
		return
	}
	if reason, ok := d.eligibleLocked(text, d.cfg.FinalCooldown); !ok {
		d.emitLocked(func() { d.suppress(text, reason) })
		return
	}
	d.finalizeLocked(text)
}

// silenceElapsed finalizes the current text if the timer that fired is still
// the armed one.
func (d *Detector) silenceElapsed(gen uint64) {
	d.mu.Lock()
	if d.closed || d.busy || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.silence = nil
	text := d.currentText
	if _, ok := d.eligibleLocked(text, d.cfg.InterimCooldown); !ok {
		d.mu.Unlock()
		return
	}
	d.finalizeLocked(text)
}

// finalizeLocked is called with d.mu held and releases it.
func (d *Detector) finalizeLocked(text string) {
	d.stopSilenceLocked()
	d.lastProcessed = text
	d.lastProcessTime = d.clock.Now()
	d.currentText = ""
	d.busy = true
	d.emitLocked(func() {
		d.update(text, true)
		if d.onFinalize != nil {
			d.onFinalize(text)
		}
	})
}

// eligibleLocked reports whether text may be finalized now given cooldown.
func (d *Detector) eligibleLocked(text string, cooldown time.Duration) (string, bool) {
	if len([]rune(text)) < d.cfg.MinChars {
		return ReasonTooShort, false
	}
	if d.lastProcessTime.IsZero() {
		return "", true
	}
	since := d.clock.Now().Sub(d.lastProcessTime)
	if d.isRepeatLocked(text, since) {
		return ReasonDuplicate, false
	}
	if since < cooldown {
		return ReasonTooSoon, false
	}
	return "", true
}

func (d *Detector) isRepeatLocked(text string, since time.Duration) bool {
	if d.lastProcessed == "" {
		return false
	}
	if d.cfg.DuplicateWindow > 0 && since >= d.cfg.DuplicateWindow {
		return false
	}
	a, b := normalize(text), normalize(d.lastProcessed)
	if a == b {
		return true
	}
	if d.cfg.SimilarityThreshold >= 1 {
		return false
	}
	return matchr.JaroWinkler(a, b, false) >= d.cfg.SimilarityThreshold
}

// normalize lower-cases s and strips punctuation so "Hello there." and
// "hello there" compare equal.
func normalize(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return strings.ContainsRune(" \t\n.,!?;:\"'", r)
	}), " ")
}

func (d *Detector) stopSilenceLocked() {
	d.gen++
	if d.silence != nil {
		d.silence.Stop()
		d.silence = nil
	}
}

// emitLocked is called with d.mu held and releases it. It queues fn and, if
// no other goroutine is draining the outbox, runs queued callbacks with the
// lock released.
func (d *Detector) emitLocked(fn func()) {
	d.outbox = append(d.outbox, fn)
	if d.draining {
		d.mu.Unlock()
		return
	}
	d.draining = true
	for len(d.outbox) > 0 {
		batch := d.outbox
		d.outbox = nil
		d.mu.Unlock()
		for _, f := range batch {
			f()
		}
		d.mu.Lock()
	}
	d.draining = false
	d.mu.Unlock()
}

func (d *Detector) update(text string, final bool) {
	if d.onUpdate != nil {
		d.onUpdate(text, final)
	}
}

func (d *Detector) suppress(text, reason string) {
	if d.onSuppress != nil {
		d.onSuppress(text, reason)
	}
}

// Busy reports whether a finalized utterance has not been released yet.
func (d *Detector) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy
}

// Release ends the in-flight turn so the next utterance can be finalized.
// Interim text received while busy is discarded.
func (d *Detector) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.busy = false
	d.currentText = ""
}

// Close cancels the silence timer and stops all further processing.
// Safe to call multiple times.
func (d *Detector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.currentText = ""
	d.stopSilenceLocked()
}

// Pending reports whether the silence timer is armed.
func (d *Detector) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.silence != nil
}
