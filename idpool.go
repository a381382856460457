package otelpipe

import (
	"sync"

	"github.com/rs/xid"
)

// requestIDPoolSize bounds the number of pre-generated request IDs held
// ready for bursts.
const requestIDPoolSize = 64

// IDPool hands out request IDs for inbound requests that arrive without
// one, keeping a buffer of pre-generated IDs to take generation off the
// request path.
type IDPool struct {
	ids    chan string
	stopCh chan struct{}
	mu     sync.Mutex
	closed bool
}

// NewIDPool creates a pool with the specified capacity and starts its
// background refill goroutine.
func NewIDPool(capacity int) *IDPool {
	pool := &IDPool{
		ids:    make(chan string, capacity),
		stopCh: make(chan struct{}),
	}
	go pool.refill()
	return pool
}

// Get retrieves an ID from the pool, generating one directly if the pool
// is drained by a burst.
func (p *IDPool) Get() string {
	select {
	case id := <-p.ids:
		return id
	default:
		return xid.New().String()
	}
}

// refill keeps the pool topped up in the background.
func (p *IDPool) refill() {
	for {
		select {
		case <-p.stopCh:
			return
		case p.ids <- xid.New().String():
		}
	}
}

// Close shuts down the pool's refill goroutine. Safe to call more than
// once.
func (p *IDPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		close(p.stopCh)
		p.closed = true
	}
}
