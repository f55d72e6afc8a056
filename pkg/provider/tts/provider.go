// Package tts defines the interfaces for speech-synthesis backends.
//
// The call pipeline speaks to a [Provider], which synthesizes a reply in up to
// two parts: part 1 is a short opening fragment returned as fast as possible,
// and part 2 is the remainder, generated in the background and collected with
// a later request. Backends that synthesize natively in two parts implement
// Provider directly (see httpsynth). Single-shot backends implement [Engine]
// and are adapted with [Splitter].
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/MrWong99/voxcall/pkg/types"
)

// Part numbers for Request.Part.
const (
	PartFirst  = 1
	PartSecond = 2
)

var (
	// ErrPartNotReady is returned for a part-2 request while the remainder is
	// still being synthesized. Callers poll again later.
	ErrPartNotReady = errors.New("tts: part not ready")

	// ErrNoSecondPart is returned for a part-2 request when no remainder is
	// pending for the given text.
	ErrNoSecondPart = errors.New("tts: no second part pending")
)

// Request asks for one part of a reply's audio.
type Request struct {
	// Text is the full reply text. Part-2 requests must repeat the part-1 text.
	Text string

	// Character identifies the speaking character.
	Character types.CharacterID

	// Voice selects the voice to synthesize with.
	Voice types.VoiceProfile

	// Part is PartFirst or PartSecond.
	Part int

	// Token tells apart replies with the same text and character, such as
	// the greetings of concurrent calls. Part-2 requests must repeat the
	// part-1 token.
	Token string
}

// Result is the outcome of a synthesis request.
type Result struct {
	// Audio is the encoded audio of the requested part. Empty audio on a
	// part-1 request means the reply is text-only.
	Audio []byte

	// HasSecondPart reports, on a part-1 result, whether a part-2 request
	// will yield more audio.
	HasSecondPart bool
}

// Provider is the two-part synthesis service.
type Provider interface {
	// Synthesize returns the audio for req.Part. Part-2 requests return
	// ErrPartNotReady until the remainder is available.
	Synthesize(ctx context.Context, req Request) (*Result, error)
}

// Discarder is implemented by providers that hold a second part until it is
// collected. Discard abandons the remainder announced for req, cancelling its
// synthesis if it is still running.
type Discarder interface {
	Discard(req Request)
}

// Discard abandons the second part of req if p supports it.
func Discard(p Provider, req Request) {
	if d, ok := p.(Discarder); ok {
		d.Discard(req)
	}
}

// Engine is a single-shot synthesizer: the whole text in, the whole audio out.
type Engine interface {
	SynthesizeText(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error)
}
