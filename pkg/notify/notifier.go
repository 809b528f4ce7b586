// Package notify implements the listener registry behind every change listener in
// litesync.
//
// A [ChangeNotifier] fans a change out to the tokens registered with it. Delivery
// always goes through a [dispatch.Executor], never inline, so a listener may remove
// its own token (or register new ones) without deadlocking the notifier.
// A [SourceNotifier] binds a ChangeNotifier to an engine observer.
package notify

import (
	"fmt"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/litesync/litesync.go/pkg/constants"
	"github.com/litesync/litesync.go/pkg/dispatch"
	"github.com/litesync/litesync.go/pkg/logger"
)

type options struct {
	name     string
	logger   logger.Logger
	defaults func() dispatch.Executor
	metrics  *Metrics
	onRemove func(remaining int)
}

// Option configures a ChangeNotifier or SourceNotifier.
type Option func(o *options)

// WithName labels log lines and metrics.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithLogger sets the logger for listener panics and lifecycle events.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithDefaultExecutor sets the accessor consulted at delivery time for tokens
// registered without an executor.
func WithDefaultExecutor(get func() dispatch.Executor) Option {
	return func(o *options) {
		o.defaults = get
	}
}

// WithMetrics records listener counts and deliveries in m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithRemoveHook is called, outside the notifier lock, every time a token is
// removed through Remove or RemoveListener. It receives the number of tokens left.
// Tokens revoked by Close do not trigger it.
func WithRemoveHook(hook func(remaining int)) Option {
	return func(o *options) {
		o.onRemove = hook
	}
}

// ChangeNotifier fans changes of type T out to its registered tokens, each on
// its own executor.
type ChangeNotifier[T any] struct {
	opts options

	mu     sync.Mutex
	tokens map[*Token[T]]struct{}
	closed bool
}

// New returns an empty notifier.
func New[T any](opts ...Option) *ChangeNotifier[T] {
	o := options{
		name:     "notifier",
		logger:   logger.Nop(),
		defaults: dispatch.Global().Get,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &ChangeNotifier[T]{
		opts:   o,
		tokens: make(map[*Token[T]]struct{}),
	}
}

// AddListener registers listener. A nil exec means the default executor. The
// token receives every change posted after AddListener returns.
func (n *ChangeNotifier[T]) AddListener(exec dispatch.Executor, listener func(T)) (*Token[T], error) {
	if listener == nil {
		return nil, constants.ErrNilListener
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("generating token id: %w", err)
	}
	tok := &Token[T]{
		id:       id,
		owner:    n,
		executor: exec,
		listener: listener,
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", constants.ErrNotifierClosed, n.opts.name)
	}
	n.tokens[tok] = struct{}{}
	n.mu.Unlock()

	n.opts.metrics.listenerAdded(n.opts.name)
	n.opts.logger.Debug("listener added", "notifier", n.opts.name, "token", id.String())
	return tok, nil
}

// RemoveListener revokes tok and returns the number of tokens left. Removing a
// token that was already removed, or that belongs to another notifier, is a no-op.
func (n *ChangeNotifier[T]) RemoveListener(tok *Token[T]) (int, error) {
	if tok == nil {
		return 0, constants.ErrNilToken
	}
	if tok.owner != n || !tok.revoked.CompareAndSwap(false, true) {
		return n.Len(), nil
	}
	return n.detach(tok), nil
}

func (n *ChangeNotifier[T]) detach(tok *Token[T]) int {
	n.mu.Lock()
	_, present := n.tokens[tok]
	delete(n.tokens, tok)
	remaining := len(n.tokens)
	n.mu.Unlock()

	if !present {
		// Close already dropped it.
		return remaining
	}
	n.opts.metrics.listenerRemoved(n.opts.name, 1)
	n.opts.logger.Debug("listener removed", "notifier", n.opts.name, "token", tok.id.String(), "remaining", remaining)
	if n.opts.onRemove != nil {
		n.opts.onRemove(remaining)
	}
	return remaining
}

// PostChange hands change to every registered token. Holding the lock while
// scheduling keeps each token's deliveries in PostChange order.
func (n *ChangeNotifier[T]) PostChange(change T) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.opts.metrics.posted(n.opts.name)
	for tok := range n.tokens {
		tok.deliver(change)
	}
}

// PostChangeFunc calls build at most once and shares the result with every token.
// build is not called when nothing is listening.
func (n *ChangeNotifier[T]) PostChangeFunc(build func() T) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || len(n.tokens) == 0 {
		return
	}
	change := build()
	n.opts.metrics.posted(n.opts.name)
	for tok := range n.tokens {
		tok.deliver(change)
	}
}

// Len returns the number of live tokens.
func (n *ChangeNotifier[T]) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.tokens)
}

func (n *ChangeNotifier[T]) Closed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// Close revokes every token without running the remove hook. Later
// AddListener calls fail with ErrNotifierClosed.
func (n *ChangeNotifier[T]) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	count := len(n.tokens)
	for tok := range n.tokens {
		tok.revoked.Store(true)
	}
	n.tokens = make(map[*Token[T]]struct{})
	n.mu.Unlock()

	n.opts.metrics.listenerRemoved(n.opts.name, count)
	n.opts.logger.Debug("notifier closed", "notifier", n.opts.name, "revoked", count)
}
