package notify

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/litesync/litesync.go/internal/testenv"
	"github.com/litesync/litesync.go/pkg/constants"
	"github.com/litesync/litesync.go/pkg/dispatch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a change")
	}
	var zero T
	return zero
}

// flush waits until everything queued on q before the call has run.
func flush(t *testing.T, q dispatch.Executor) {
	t.Helper()
	done := make(chan struct{})
	q.Execute(func() { close(done) })
	recv(t, done)
}

func TestAddListenerRejectsNil(t *testing.T) {
	n := New[int]()

	tok, err := n.AddListener(nil, nil)
	require.ErrorIs(t, err, constants.ErrNilListener)
	assert.Nil(t, tok)
	assert.Equal(t, 0, n.Len())
}

func TestRemoveListenerRejectsNil(t *testing.T) {
	n := New[int]()

	_, err := n.RemoveListener(nil)
	require.ErrorIs(t, err, constants.ErrNilToken)
}

func TestPostChangeReachesEveryListener(t *testing.T) {
	q := dispatch.NewPool(2)
	defer q.Close()
	n := New[string]()

	a := make(chan string, 1)
	b := make(chan string, 1)
	_, err := n.AddListener(q, func(s string) { a <- s })
	require.NoError(t, err)
	_, err = n.AddListener(q, func(s string) { b <- s })
	require.NoError(t, err)

	n.PostChange("doc-1")

	assert.Equal(t, "doc-1", recv(t, a))
	assert.Equal(t, "doc-1", recv(t, b))
}

func TestPerTokenOrderOnSerialQueue(t *testing.T) {
	q := dispatch.NewSerialQueue()
	n := New[int]()

	var got []int
	_, err := n.AddListener(q, func(v int) { got = append(got, v) })
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		n.PostChange(i)
	}
	q.Close()

	require.Len(t, got, 200)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestNoDeliveryAfterRemoveReturns(t *testing.T) {
	q := dispatch.NewSerialQueue()
	defer q.Close()
	n := New[int]()

	gate := make(chan struct{})
	q.Execute(func() { <-gate })

	got := make(chan int, 10)
	tok, err := n.AddListener(q, func(v int) { got <- v })
	require.NoError(t, err)

	// Scheduled while the queue is blocked, so still pending when Remove runs.
	n.PostChange(1)
	tok.Remove()
	close(gate)
	n.PostChange(2)
	flush(t, q)

	assert.Empty(t, got)
	assert.True(t, tok.Removed())
	assert.Equal(t, 0, n.Len())
}

func TestConcurrentRemoveRunsHookOnce(t *testing.T) {
	var hooks atomic.Int64
	n := New[int](WithRemoveHook(func(int) { hooks.Add(1) }))

	tok, err := n.AddListener(nil, func(int) {})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				tok.Remove()
				return
			}
			_, err := n.RemoveListener(tok)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), hooks.Load())
	assert.Equal(t, 0, n.Len())
}

func TestRemoveHookSeesRemainingCount(t *testing.T) {
	var remaining []int
	n := New[int](WithRemoveHook(func(r int) { remaining = append(remaining, r) }))

	a, err := n.AddListener(nil, func(int) {})
	require.NoError(t, err)
	b, err := n.AddListener(nil, func(int) {})
	require.NoError(t, err)

	a.Remove()
	left, err := n.RemoveListener(b)
	require.NoError(t, err)

	assert.Equal(t, 0, left)
	assert.Equal(t, []int{1, 0}, remaining)
}

func TestRemoveForeignTokenIsNoop(t *testing.T) {
	n1 := New[int]()
	n2 := New[int]()

	tok, err := n1.AddListener(nil, func(int) {})
	require.NoError(t, err)
	_, err = n2.AddListener(nil, func(int) {})
	require.NoError(t, err)

	left, err := n2.RemoveListener(tok)
	require.NoError(t, err)
	assert.Equal(t, 1, left)
	assert.False(t, tok.Removed())
	assert.Equal(t, 1, n1.Len())
}

func TestConcurrentAddRemovePost(t *testing.T) {
	q := dispatch.NewPool(4)
	defer q.Close()
	n := New[int]()

	const total = 100
	tokens := make([]*Token[int], total)

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := n.AddListener(q, func(int) {})
			assert.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()
	require.Equal(t, total, n.Len())

	for i := 0; i < total/2; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			tokens[i].Remove()
		}(i)
		go func(i int) {
			defer wg.Done()
			n.PostChange(i)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, total/2, n.Len())
	for i, tok := range tokens {
		assert.Equal(t, i < total/2, tok.Removed(), "token %d", i)
	}
}

func TestPostChangeFuncBuildsOnce(t *testing.T) {
	q := dispatch.NewPool(3)
	defer q.Close()

	type event struct{ id string }
	n := New[*event]()

	builds := 0
	build := func() *event {
		builds++
		return &event{id: "x"}
	}

	n.PostChangeFunc(build)
	assert.Equal(t, 0, builds, "nothing is listening")

	got := make(chan *event, 3)
	for i := 0; i < 3; i++ {
		_, err := n.AddListener(q, func(e *event) { got <- e })
		require.NoError(t, err)
	}

	n.PostChangeFunc(build)
	assert.Equal(t, 1, builds)

	first := recv(t, got)
	assert.Same(t, first, recv(t, got))
	assert.Same(t, first, recv(t, got))
}

func TestDefaultExecutorResolvedAtDelivery(t *testing.T) {
	d := dispatch.NewDefaults(1)
	defer d.Shutdown()
	n := New[string](WithDefaultExecutor(d.Get))

	got := make(chan string, 1)
	_, err := n.AddListener(nil, func(s string) { got <- s })
	require.NoError(t, err)

	var used atomic.Bool
	d.Set(dispatch.ExecutorFunc(func(task func()) {
		used.Store(true)
		go task()
	}))

	n.PostChange("after swap")
	assert.Equal(t, "after swap", recv(t, got))
	assert.True(t, used.Load())
}

func TestListenerPanicIsIsolated(t *testing.T) {
	rec := testenv.NewLogRecorder()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")
	q := dispatch.NewSerialQueue()

	n := New[int](WithName("doc"), WithLogger(rec.Logger()), WithMetrics(m))
	_, err := n.AddListener(q, func(int) { panic("bad listener") })
	require.NoError(t, err)
	got := make(chan int, 1)
	_, err = n.AddListener(q, func(v int) { got <- v })
	require.NoError(t, err)

	n.PostChange(7)
	q.Close()

	assert.Equal(t, 7, recv(t, got))
	assert.True(t, rec.Contains("ERROR: change listener panicked"), rec.Lines())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.panicsTotal.WithLabelValues("doc")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.deliveredTotal.WithLabelValues("doc")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.postedTotal.WithLabelValues("doc")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.listeners.WithLabelValues("doc")))
	assert.Equal(t, 2, n.Len())
}

func TestMetricsShareRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m1 := NewMetrics(reg, "test")
	m2 := NewMetrics(reg, "test")

	assert.Same(t, m1.listeners, m2.listeners)
	var nilMetrics *Metrics
	nilMetrics.posted("x")
}

func TestCloseRevokesEverything(t *testing.T) {
	var hooks atomic.Int64
	q := dispatch.NewSerialQueue()
	defer q.Close()
	n := New[int](WithRemoveHook(func(int) { hooks.Add(1) }))

	got := make(chan int, 1)
	tok, err := n.AddListener(q, func(v int) { got <- v })
	require.NoError(t, err)

	n.Close()
	n.Close()
	assert.True(t, tok.Removed())
	assert.True(t, n.Closed())

	n.PostChange(1)
	tok.Remove()
	flush(t, q)

	assert.Empty(t, got)
	assert.Equal(t, int64(0), hooks.Load())

	_, err = n.AddListener(q, func(int) {})
	require.ErrorIs(t, err, constants.ErrNotifierClosed)
}
