// Package audio defines the device-facing interfaces of a voice call.
//
// The two primary abstractions are:
//
//   - [Source]: grants access to a capture device and returns a [Device]
//     that yields encoded microphone audio.
//   - [Player]: plays one encoded audio payload to the user and reports when
//     it has finished.
//
// Implementations are supplied by the host application, e.g. a browser bridge
// or a telephony adapter. No codec work happens behind them: payloads are
// opaque encoded bytes end to end.
//
// This package lives under pkg/ because external code is expected to
// implement [Source], [Device] and [Player].
package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied is returned by [Source.Open] when the user refused
	// microphone access.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrDeviceUnavailable is returned by [Source.Open] when no capture device
	// exists or it cannot be opened.
	ErrDeviceUnavailable = errors.New("audio: capture device unavailable")

	// ErrPlaybackStopped is returned by [Player.Play] when playback was cut
	// short by [Player.Stop].
	ErrPlaybackStopped = errors.New("audio: playback stopped")
)

// Chunk is one fixed-interval slice of encoded microphone audio.
type Chunk struct {
	// Data is the encoded audio captured during the interval.
	Data []byte

	// Seq is the 1-based position of the chunk within the capture session.
	Seq uint64

	// CapturedAt is when the chunk was collected from the device.
	CapturedAt time.Time
}

// Device is an open capture device.
//
// Read is polled on a timer and must not block: it returns whatever encoded
// audio accumulated since the previous call (possibly none). Close releases
// the device; it must be safe to call more than once.
type Device interface {
	Read() ([]byte, error)
	Close() error
}

// Source is the entry point for microphone access.
type Source interface {
	// Open requests access to the capture device. It returns an error
	// wrapping [ErrPermissionDenied] or [ErrDeviceUnavailable] on refusal.
	Open(ctx context.Context) (Device, error)
}

// Player plays encoded audio to the user.
//
// Implementations must be safe for concurrent use: Stop is called from a
// different goroutine than the one blocked in Play.
type Player interface {
	// Play starts playback of payload and blocks until it has finished, ctx
	// is cancelled, or Stop is called. It returns [ErrPlaybackStopped] when
	// stopped and a non-nil error if the payload could not be played.
	Play(ctx context.Context, payload []byte) error

	// Stop interrupts any playback in progress. Stop with nothing playing is a
	// no-op. Safe to call more than once.
	Stop() error
}
