package call

import "sync"

// notifier delivers host callbacks in order from its own goroutine, so a
// slow or re-entrant host never holds up the event loop or teardown.
type notifier struct {
	once sync.Once
	wake chan struct{}

	mu      sync.Mutex
	queue   []func()
	refuse  bool
	stopped bool
	last    func()

	drained chan struct{}
}

func newNotifier() *notifier {
	return &notifier{
		wake:    make(chan struct{}, 1),
		drained: make(chan struct{}),
	}
}

// push queues fn. It is a no-op after discard or stop.
func (n *notifier) push(fn func()) {
	n.mu.Lock()
	if n.refuse || n.stopped {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, fn)
	n.mu.Unlock()
	n.kick()
}

// discard drops every queued callback and refuses new ones. A callback that
// is already running is not interrupted.
func (n *notifier) discard() {
	n.mu.Lock()
	n.refuse = true
	n.queue = nil
	n.mu.Unlock()
}

// stop schedules last to run after the queue, even a discarded one. The
// notifier exits once it has run, closing drained.
func (n *notifier) stop(last func()) {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	n.last = last
	n.mu.Unlock()
	n.kick()
}

func (n *notifier) kick() {
	n.once.Do(func() { go n.run() })
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.drained)
	for range n.wake {
		for {
			n.mu.Lock()
			if len(n.queue) == 0 {
				stopped, last := n.stopped, n.last
				n.mu.Unlock()
				if !stopped {
					break
				}
				if last != nil {
					last()
				}
				return
			}
			fn := n.queue[0]
			n.queue = n.queue[1:]
			n.mu.Unlock()
			fn()
		}
	}
}
