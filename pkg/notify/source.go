package notify

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/litesync/litesync.go/pkg/constants"
	"github.com/litesync/litesync.go/pkg/engine"
)

// State is the lifecycle stage of a SourceNotifier.
type State int32

const (
	StateUnstarted State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Translator turns one engine callback into a change. Returning false drops the
// callback, e.g. when the observer reports nothing new.
type Translator[T any] func(obs engine.Observer) (T, bool)

// SourceNotifier is a ChangeNotifier fed by one engine observer.
//
// Start and Close must be called with the owning database's lock held: that lock
// serializes observer registration with the database shutting down.
type SourceNotifier[T any] struct {
	*ChangeNotifier[T]

	sel       engine.Selector
	source    engine.ObserverSource
	translate Translator[T]

	state atomic.Int32
	reg   *registration // guarded by the database lock
}

// registration bridges the engine callback and Start: the engine may fire before
// RegisterObserver has returned the handle.
type registration struct {
	mu       sync.Mutex
	obs      engine.Observer
	missed   bool
	released bool
}

// NewSource returns an unstarted notifier for the changes source reports on sel.
func NewSource[T any](source engine.ObserverSource, sel engine.Selector, translate Translator[T], opts ...Option) *SourceNotifier[T] {
	return &SourceNotifier[T]{
		ChangeNotifier: New[T](opts...),
		sel:            sel,
		source:         source,
		translate:      translate,
	}
}

func (s *SourceNotifier[T]) Selector() engine.Selector {
	return s.sel
}

func (s *SourceNotifier[T]) State() State {
	return State(s.state.Load())
}

// Start registers the engine observer. On failure the notifier stays unstarted.
// Starting an active notifier replaces its registration.
func (s *SourceNotifier[T]) Start() error {
	if s.State() == StateClosed {
		return fmt.Errorf("%w: %s", constants.ErrNotifierClosed, s.sel)
	}

	reg := &registration{}
	obs, err := s.source.RegisterObserver(s.sel, func() { s.fire(reg) })
	if err != nil {
		return fmt.Errorf("registering observer for %s: %w", s.sel, err)
	}

	reg.mu.Lock()
	reg.obs = obs
	missed := reg.missed
	reg.missed = false
	reg.mu.Unlock()

	prev := s.reg
	s.reg = reg
	s.state.Store(int32(StateActive))
	if prev != nil {
		s.release(prev)
	}
	s.opts.logger.Debug("observer started", "notifier", s.opts.name, "source", s.sel.String())

	if missed {
		s.post(obs)
	}
	return nil
}

// Close releases the observer and revokes every token. Only the first call has
// an effect.
func (s *SourceNotifier[T]) Close() {
	if State(s.state.Swap(int32(StateClosed))) == StateClosed {
		return
	}
	if s.reg != nil {
		s.release(s.reg)
		s.reg = nil
	}
	s.ChangeNotifier.Close()
	s.opts.logger.Debug("observer closed", "notifier", s.opts.name, "source", s.sel.String())
}

func (s *SourceNotifier[T]) release(reg *registration) {
	reg.mu.Lock()
	obs := reg.obs
	already := reg.released
	reg.released = true
	reg.mu.Unlock()

	if obs != nil && !already {
		s.source.ReleaseObserver(obs)
	}
}

// fire runs on the engine's goroutine and only schedules deliveries.
func (s *SourceNotifier[T]) fire(reg *registration) {
	reg.mu.Lock()
	obs := reg.obs
	if obs == nil {
		reg.missed = true
	}
	released := reg.released
	reg.mu.Unlock()

	if obs == nil || released {
		return
	}
	s.post(obs)
}

func (s *SourceNotifier[T]) post(obs engine.Observer) {
	change, ok := s.translate(obs)
	if !ok {
		return
	}
	s.PostChange(change)
}
