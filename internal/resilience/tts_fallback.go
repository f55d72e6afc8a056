package resilience

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/voxcall/pkg/provider/tts"
	"github.com/MrWong99/voxcall/pkg/types"
)

// maxRoutes bounds the number of remembered part-1 routes.
const maxRoutes = 64

// TTSFallback implements [tts.Provider] with failover across several
// synthesis backends.
//
// Only the first part fails over. A second part can only come from the backend
// that produced the first, so part-2 requests are routed to it directly and
// [tts.ErrPartNotReady] is not counted against its breaker. A route is kept
// across failed part-2 attempts until the part is delivered, the backend
// reports [tts.ErrNoSecondPart], or the caller discards it.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]

	mu     sync.Mutex
	routes map[routeKey]int
	order  []routeKey
}

type routeKey struct {
	character types.CharacterID
	text      string
	token     string
}

func routeOf(req tts.Request) routeKey {
	return routeKey{character: req.Character, text: req.Text, token: req.Token}
}

var (
	_ tts.Provider  = (*TTSFallback)(nil)
	_ tts.Discarder = (*TTSFallback)(nil)
)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group:  NewFallbackGroup(primary, primaryName, cfg),
		routes: make(map[routeKey]int),
	}
}

// AddFallback registers an additional backend.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize implements tts.Provider.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	key := routeOf(req)
	if req.Part == tts.PartSecond {
		return f.second(ctx, key, req)
	}

	res, idx, err := executeIndexed(ctx, f.group, 0, func(ctx context.Context, p tts.Provider) (*tts.Result, error) {
		return p.Synthesize(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if res.HasSecondPart {
		f.remember(key, idx)
	}
	return res, nil
}

func (f *TTSFallback) second(ctx context.Context, key routeKey, req tts.Request) (*tts.Result, error) {
	f.mu.Lock()
	idx, ok := f.routes[key]
	f.mu.Unlock()
	if !ok {
		return nil, tts.ErrNoSecondPart
	}
	entry := &f.group.entries[idx]

	var (
		res     *tts.Result
		callErr error
	)
	err := entry.breaker.Execute(ctx, func(ctx context.Context) error {
		res, callErr = entry.value.Synthesize(ctx, req)
		if errors.Is(callErr, tts.ErrPartNotReady) {
			return nil
		}
		return callErr
	})
	if err != nil && callErr == nil {
		// Rejected by the breaker.
		callErr = err
	}
	if callErr == nil || errors.Is(callErr, tts.ErrNoSecondPart) {
		f.forget(key)
	}
	if callErr != nil {
		return nil, callErr
	}
	return res, nil
}

// Discard implements [tts.Discarder]. It forgets the route of req and passes
// the discard on to the backend that holds the part.
func (f *TTSFallback) Discard(req tts.Request) {
	key := routeOf(req)
	f.mu.Lock()
	idx, ok := f.routes[key]
	f.mu.Unlock()
	if !ok {
		return
	}
	f.forget(key)
	tts.Discard(f.group.entries[idx].value, req)
}

func (f *TTSFallback) remember(key routeKey, idx int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.routes[key]; !ok {
		f.order = append(f.order, key)
	}
	f.routes[key] = idx
	for len(f.order) > maxRoutes {
		delete(f.routes, f.order[0])
		f.order = f.order[1:]
	}
}

func (f *TTSFallback) forget(key routeKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.routes[key]; !ok {
		return
	}
	delete(f.routes, key)
	for i, k := range f.order {
		if k == key {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}
