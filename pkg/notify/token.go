package notify

import (
	"fmt"
	"sync/atomic"

	"github.com/gofrs/uuid"
	"github.com/litesync/litesync.go/pkg/dispatch"
)

// ListenerToken is the handle returned by every AddListener style call.
// Remove may be called any number of times from any goroutine.
type ListenerToken interface {
	Remove()
	Removed() bool
}

// Token is the ListenerToken of a ChangeNotifier[T].
type Token[T any] struct {
	id       uuid.UUID
	owner    *ChangeNotifier[T]
	executor dispatch.Executor
	listener func(T)
	revoked  atomic.Bool
}

var _ ListenerToken = (*Token[struct{}])(nil)

func (t *Token[T]) ID() uuid.UUID {
	return t.id
}

func (t *Token[T]) String() string {
	return fmt.Sprintf("%s[%s]", t.owner.opts.name, t.id)
}

// Remove revokes the token. Only the call that flips the token from live to
// revoked detaches it from its notifier; later calls return immediately.
// Once Remove has returned no new listener invocation starts, although one that
// is already running is not interrupted.
func (t *Token[T]) Remove() {
	if !t.revoked.CompareAndSwap(false, true) {
		return
	}
	t.owner.detach(t)
}

func (t *Token[T]) Removed() bool {
	return t.revoked.Load()
}

// deliver schedules the listener. It is called with the owner's lock held and
// must not run the listener inline.
func (t *Token[T]) deliver(change T) {
	if t.revoked.Load() {
		return
	}
	exec := t.executor
	if exec == nil {
		exec = t.owner.opts.defaults()
	}
	exec.Execute(func() {
		t.invoke(change)
	})
}

func (t *Token[T]) invoke(change T) {
	if t.revoked.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.owner.opts.metrics.panicked(t.owner.opts.name)
			t.owner.opts.logger.Error("change listener panicked",
				"notifier", t.owner.opts.name,
				"token", t.id.String(),
				"panic", fmt.Sprint(r))
		}
	}()
	t.owner.opts.metrics.delivered(t.owner.opts.name)
	t.listener(change)
}
