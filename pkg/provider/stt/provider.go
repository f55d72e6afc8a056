// Package stt defines the Provider interface for streaming speech-recognition
// backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram)
// and exposes a uniform streaming interface. The central abstraction is
// SessionHandle: once opened, a session accepts encoded audio chunks and
// emits a single, delivery-ordered stream of Transcript events carrying both
// interim and final results.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/MrWong99/voxcall/pkg/types"
)

// StreamConfig describes recognition parameters for a new STT session.
type StreamConfig struct {
	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string selects the provider default.
	Language string

	// Model selects a provider model. Empty selects the provider default.
	Model string

	// Encoding names the audio container/codec of the chunks (e.g., "opus",
	// "linear16"). Empty lets the provider sniff the container.
	Encoding string

	// SampleRate is required by providers for raw encodings; zero otherwise.
	SampleRate int

	// Keywords is a list of vocabulary hints that increase recognition
	// probability for uncommon words such as character names.
	Keywords []types.KeywordBoost
}

// SessionHandle represents an open STT streaming session. It is an interface so
// that test code can provide mock implementations without requiring a live
// provider connection.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers one encoded audio chunk to the provider. It must not
	// block on the network. Calling SendAudio after the session ended returns
	// an error.
	SendAudio(chunk []byte) error

	// Transcripts returns a read-only channel of recognition events in the
	// order the provider produced them. The channel is closed when the
	// session ends, whether by Close or by a backend disconnect.
	Transcripts() <-chan types.Transcript

	// Err reports why the session ended. It returns nil while the session is
	// open and after a clean Close; a non-nil value after Transcripts closed
	// means the backend dropped the stream.
	Err() error

	// Close terminates the session and releases all associated resources.
	// After Close returns, the Transcripts channel will be closed. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. It returns
	// once the backend handshake completed and the session can accept audio.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, rejected handshake, or ctx already cancelled).
	// The caller owns the SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
