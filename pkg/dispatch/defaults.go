package dispatch

import (
	"sync"

	"github.com/litesync/litesync.go/pkg/constants"
)

// Defaults holds the executor used by listeners registered without one. The value
// is resolved each time a change is delivered, so replacing it affects existing
// subscriptions too.
type Defaults struct {
	mu      sync.Mutex
	current Executor
	owned   *Queue
	workers int
}

// NewDefaults returns a Defaults whose own pool, once created, has the given
// number of workers.
func NewDefaults(workers int) *Defaults {
	return &Defaults{workers: workers}
}

var global = NewDefaults(constants.DefaultWorkers)

// Global is the library-wide fallback used when a Config does not carry its own.
func Global() *Defaults {
	return global
}

// Get returns the current default executor, creating a worker pool on first use.
// The pool is created once and reused after Set(nil) until Shutdown.
func (d *Defaults) Get() Executor {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		if d.owned == nil {
			d.owned = NewPool(d.workers, WithName("default"))
		}
		d.current = d.owned
	}
	return d.current
}

// Set replaces the default executor and returns the previous one. Passing nil
// reverts to a lazily created pool.
func (d *Defaults) Set(e Executor) Executor {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev := d.current
	d.current = e
	return prev
}

// Shutdown closes the pool Defaults created itself, if any. Executors installed
// with Set belong to the caller.
func (d *Defaults) Shutdown() {
	d.mu.Lock()
	owned := d.owned
	if d.current == owned {
		d.current = nil
	}
	d.owned = nil
	d.mu.Unlock()

	if owned != nil {
		owned.Close()
	}
}
