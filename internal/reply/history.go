package reply

import (
	"sync"
	"time"

	"github.com/MrWong99/voxcall/pkg/types"
)

// Exchange is one completed user/character round trip.
type Exchange struct {
	User      string
	Reply     string
	Timestamp time.Time
}

// History keeps the recent exchanges of one call so each reply request sees
// the conversation so far.
//
// The window enforces both a maximum exchange count and a maximum age.
// Exchanges that exceed either limit are evicted on every [History.Add] call
// and skipped by [History.Messages].
//
// All methods are safe for concurrent use.
type History struct {
	mu      sync.RWMutex
	entries []Exchange
	maxSize int
	maxAge  time.Duration
	now     func() time.Time
}

// NewHistory creates a window that retains at most maxSize exchanges and
// forgets exchanges older than maxAge. A non-positive maxAge disables age
// eviction.
func NewHistory(maxSize int, maxAge time.Duration) *History {
	if maxSize < 0 {
		maxSize = 0
	}
	return &History{
		entries: make([]Exchange, 0, maxSize),
		maxSize: maxSize,
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Add records an exchange and evicts what no longer fits the window.
func (h *History) Add(user, reply string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.maxSize == 0 {
		return
	}
	h.entries = append(h.entries, Exchange{User: user, Reply: reply, Timestamp: h.now()})
	h.evict()
}

// Messages returns the live exchanges as alternating user/assistant messages,
// oldest first. speaker names the assistant messages.
func (h *History) Messages(speaker string) []types.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cutoff := h.cutoff()
	out := make([]types.Message, 0, 2*len(h.entries))
	for _, e := range h.entries {
		if !cutoff.IsZero() && e.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out,
			types.Message{Role: "user", Content: e.User},
			types.Message{Role: "assistant", Content: e.Reply, Name: speaker},
		)
	}
	return out
}

// Len returns the number of retained exchanges.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Clear drops all exchanges.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = h.entries[:0]
}

func (h *History) cutoff() time.Time {
	if h.maxAge <= 0 {
		return time.Time{}
	}
	return h.now().Add(-h.maxAge)
}

// evict removes exchanges that are too old or exceed maxSize.
// Must be called with h.mu held.
func (h *History) evict() {
	start := 0
	if cutoff := h.cutoff(); !cutoff.IsZero() {
		for start < len(h.entries) && h.entries[start].Timestamp.Before(cutoff) {
			start++
		}
	}
	keep := h.entries[start:]
	if len(keep) > h.maxSize {
		keep = keep[len(keep)-h.maxSize:]
	}

	// Copy to a fresh slice so evicted entries can be garbage collected.
	if len(keep) < len(h.entries) {
		fresh := make([]Exchange, len(keep), h.maxSize)
		copy(fresh, keep)
		h.entries = fresh
	}
}
