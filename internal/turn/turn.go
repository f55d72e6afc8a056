// Package turn runs one request/response cycle of a call: the user's
// utterance goes to the reply service, the reply text goes to speech
// synthesis, and the result is a [Turn] holding the text and up to two audio
// parts.
//
// Synthesis is split in two for latency. [Pipeline.Run] returns as soon as the
// first part is synthesized; when the backend reports a second part, a
// background routine collects it with bounded retries and hands it over
// through the Turn, where the playback side picks it up with
// [Turn.AwaitSecond].
package turn

import (
	"context"
	"time"
)

// Status is the progress of a Turn.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReplyDone Status = "llm_done"
	StatusPart1Done Status = "tts_part1_done"
	StatusPart2Done Status = "tts_part2_done"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// AudioPart is one synthesized fragment of a reply.
type AudioPart struct {
	// Sequence is 1 or 2.
	Sequence int

	// Payload is the encoded audio.
	Payload []byte
}

// Turn is one user utterance and the character's answer to it.
//
// A Turn returned by [Pipeline.Run] is owned by the caller. Its fields must
// only be read and [Turn.AwaitSecond] only called from the owning goroutine.
type Turn struct {
	// UserText is the finalized utterance. Empty for a greeting.
	UserText string

	// ReplyText is the character's answer. Empty if reply generation failed.
	ReplyText string

	// AudioParts holds the synthesized parts received so far, in sequence.
	AudioParts []AudioPart

	// Status is the current progress.
	Status Status

	// Notice is a synthesis fault that left the turn text-only. The turn is
	// still usable; the host should be told that voice is unavailable.
	Notice error

	started time.Time
	second  <-chan []byte
	onDone  func(*Turn)
}

// TextOnly reports whether the turn has no audio to play.
func (t *Turn) TextOnly() bool {
	return len(t.AudioParts) == 0
}

// ExpectsSecond reports whether a second part may still arrive.
func (t *Turn) ExpectsSecond() bool {
	return t.second != nil
}

// AwaitSecond blocks until the second part is available, has been given up
// on, or ctx is done. It returns the payload and true if a second part was
// received, which is then also appended to AudioParts. Calling it when no
// second part is expected returns immediately.
func (t *Turn) AwaitSecond(ctx context.Context) ([]byte, bool) {
	if t.second == nil {
		return nil, false
	}
	select {
	case payload, ok := <-t.second:
		t.second = nil
		if ok && len(payload) > 0 {
			t.AudioParts = append(t.AudioParts, AudioPart{Sequence: 2, Payload: payload})
			t.finish(StatusPart2Done)
			return payload, true
		}
		t.finish(StatusSkipped)
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// finish sets the terminal status and reports the turn once.
func (t *Turn) finish(s Status) {
	t.Status = s
	if t.onDone != nil {
		fn := t.onDone
		t.onDone = nil
		fn(t)
	}
}

// Duration returns the time since the turn started.
func (t *Turn) Duration() time.Duration {
	if t.started.IsZero() {
		return 0
	}
	return time.Since(t.started)
}
