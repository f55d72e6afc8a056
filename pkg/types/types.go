// Package types defines the shared types used across all voxcall packages.
//
// Types that cross package boundaries between providers, the call session and
// the host application live here to avoid circular imports.
package types

import "time"

// Transcript is a single recognition event emitted by the speech-recognition
// backend. Interim and final events share this type; every event carries the
// full current phrase, never a delta.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal reports that the backend has committed to this text for the
	// current audio segment.
	IsFinal bool

	// SpeechFinal reports that the backend detected the end of the utterance
	// (endpointing on the backend side). Some backends never set it.
	SpeechFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64

	// Timestamp is when the event was received.
	Timestamp time.Time
}

// Final reports whether the event closes a segment, either because the
// backend marked the text final or because it detected end of speech.
func (t Transcript) Final() bool {
	return t.IsFinal || t.SpeechFinal
}

// KeywordBoost represents a keyword to boost in speech recognition.
// Used to improve recognition of character names and domain vocabulary.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "Lumi").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

// Message represents a single message in a reply-model conversation.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name.
	Name string
}

// VoiceProfile describes how a character sounds.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default).
	SpeedFactor float64
}

// CharacterID identifies a character in the external persona catalog.
type CharacterID string

// Character is the persona a call is held with. The catalog that produces it
// is external; Context is passed through to the reply service unmodified.
type Character struct {
	// ID is the catalog identifier.
	ID CharacterID

	// Name is the display name of the character.
	Name string

	// Context is the opaque persona prompt sent with every reply request.
	Context string

	// Greeting is spoken when the call connects. Empty skips the greeting.
	Greeting string

	// Voice selects the synthesis voice.
	Voice VoiceProfile
}
