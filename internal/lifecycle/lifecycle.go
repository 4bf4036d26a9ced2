package lifecycle

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var shuttingDown atomic.Bool

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// Closers releases infrastructure (cache clients, db pool, amqp connection) in
// reverse registration order during shutdown.
type Closers struct {
	mu    sync.Mutex
	items []namedCloser
}

type namedCloser struct {
	name string
	fn   func() error
}

// Add registers fn under name. A nil fn is ignored.
func (c *Closers) Add(name string, fn func() error) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, namedCloser{name: name, fn: fn})
}

// CloseAll runs every closer once, newest first, and joins their errors.
func (c *Closers) CloseAll() error {
	c.mu.Lock()
	items := c.items
	c.items = nil
	c.mu.Unlock()

	var errs []error
	for i := len(items) - 1; i >= 0; i-- {
		if err := items[i].fn(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", items[i].name, err))
		}
	}
	return errors.Join(errs...)
}
