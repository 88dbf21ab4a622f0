package broadcast

import (
	"sync"

	bnet "github.com/carbonforge/broadcast/src/net"
)

// reactor serialises readiness events of all the connections of a session
// onto a single goroutine. Streams call notify from their own goroutines; the
// events of one connection are merged until the reactor gets to them.
type reactor struct {
	mu    sync.Mutex
	queue []*Connection
	ready map[*Connection]bnet.Event

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newReactor() *reactor {
	return &reactor{
		ready: make(map[*Connection]bnet.Event),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (r *reactor) notify(c *Connection, ev bnet.Event) {
	r.mu.Lock()
	if _, queued := r.ready[c]; !queued {
		r.queue = append(r.queue, c)
	}
	r.ready[c] |= ev
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// watcher returns the readiness callback to register on c's stream.
func (r *reactor) watcher(c *Connection) func(bnet.Event) {
	return func(ev bnet.Event) {
		r.notify(c, ev)
	}
}

func (r *reactor) run(handle func(*Connection, bnet.Event)) {
	for {
		select {
		case <-r.done:
			return
		case <-r.wake:
		}

		r.mu.Lock()
		queue, ready := r.queue, r.ready
		r.queue, r.ready = nil, make(map[*Connection]bnet.Event)
		r.mu.Unlock()

		for _, c := range queue {
			select {
			case <-r.done:
				return
			default:
			}
			handle(c, ready[c])
		}
	}
}

func (r *reactor) stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *reactor) stopped() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}
