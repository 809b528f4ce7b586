package notify

import (
	"errors"
	"sync"

	"github.com/litesync/litesync.go/pkg/engine"
)

type fakeObserver struct {
	sel    engine.Selector
	onFire func()

	mu      sync.Mutex
	pending []string
}

func (o *fakeObserver) Selector() engine.Selector {
	return o.sel
}

func (o *fakeObserver) Changes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := o.pending
	o.pending = nil
	return ids
}

// fakeSource fires callbacks synchronously on the goroutine calling Fire, standing
// in for an engine thread.
type fakeSource struct {
	mu         sync.Mutex
	observers  map[*fakeObserver]struct{}
	registered int
	released   int
	failNext   error
	// fireOnRegister makes RegisterObserver fire before returning the handle.
	fireOnRegister []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{observers: make(map[*fakeObserver]struct{})}
}

func (s *fakeSource) RegisterObserver(sel engine.Selector, onFire func()) (engine.Observer, error) {
	s.mu.Lock()
	if err := s.failNext; err != nil {
		s.failNext = nil
		s.mu.Unlock()
		return nil, err
	}
	obs := &fakeObserver{sel: sel, onFire: onFire}
	s.observers[obs] = struct{}{}
	s.registered++
	early := s.fireOnRegister
	s.mu.Unlock()

	if len(early) > 0 {
		obs.mu.Lock()
		obs.pending = append(obs.pending, early...)
		obs.mu.Unlock()
		onFire()
	}
	return obs, nil
}

func (s *fakeSource) ReleaseObserver(obs engine.Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fo, ok := obs.(*fakeObserver)
	if !ok {
		panic(errors.New("foreign observer"))
	}
	delete(s.observers, fo)
	s.released++
}

func (s *fakeSource) Fire(collection, id string) {
	s.mu.Lock()
	var targets []*fakeObserver
	for obs := range s.observers {
		if obs.sel.Matches(collection, id) {
			targets = append(targets, obs)
		}
	}
	s.mu.Unlock()

	for _, obs := range targets {
		obs.mu.Lock()
		obs.pending = append(obs.pending, id)
		obs.mu.Unlock()
		obs.onFire()
	}
}

func (s *fakeSource) counts() (registered, released, live int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered, s.released, len(s.observers)
}
