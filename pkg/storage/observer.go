package storage

import (
	"sync"

	"github.com/litesync/litesync.go/pkg/engine"
)

type observer struct {
	sel    engine.Selector
	onFire func()

	mu        sync.Mutex
	pending   []string
	seen      map[string]struct{}
	scheduled bool
	released  bool
}

func (o *observer) Selector() engine.Selector {
	return o.sel
}

func (o *observer) Changes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := o.pending
	o.pending = nil
	o.seen = nil
	return ids
}

// record queues id and reports whether a fire has to be scheduled.
func (o *observer) record(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.released {
		return false
	}
	if o.seen == nil {
		o.seen = make(map[string]struct{})
	}
	if _, dup := o.seen[id]; !dup {
		o.seen[id] = struct{}{}
		o.pending = append(o.pending, id)
	}
	if o.scheduled {
		return false
	}
	o.scheduled = true
	return true
}

func (o *observer) fire() {
	o.mu.Lock()
	o.scheduled = false
	released := o.released
	o.mu.Unlock()
	if !released {
		o.onFire()
	}
}

func (o *observer) release() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	already := o.released
	o.released = true
	o.pending = nil
	return !already
}
