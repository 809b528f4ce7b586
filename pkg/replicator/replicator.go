// Package replicator synchronises a local store with a peer over a WebSocket
// connection carrying CBOR frames.
//
// A Client pulls revisions the peer sends, resolving conflicts with the
// configured [conflict.Resolver], and pushes local revisions as collection
// observers report them. Status and per-document outcomes are reported through
// [Callbacks]; they are invoked from the client's own serial queue.
package replicator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"
	gorilla "github.com/gorilla/websocket"
	"github.com/litesync/litesync.go/internal/codec"
	"github.com/litesync/litesync.go/pkg/conflict"
	"github.com/litesync/litesync.go/pkg/constants"
	"github.com/litesync/litesync.go/pkg/dispatch"
	"github.com/litesync/litesync.go/pkg/engine"
	"github.com/litesync/litesync.go/pkg/logger"
	"github.com/litesync/litesync.go/pkg/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// LocalStore is the part of the storage engine the replicator drives.
type LocalStore interface {
	engine.ObserverSource
	Lookup(ctx context.Context, collection, id string) (*models.Document, error)
	IDs(ctx context.Context, collection string) ([]string, error)
	PutRevision(ctx context.Context, doc *models.Document) error
	NextRevision(parent *models.Document, body map[string]any, deleted bool) (*models.Document, error)
}

// Callbacks are the hooks a Client reports through. Either may be nil.
type Callbacks struct {
	OnStatus    func(status models.ReplicatorStatus)
	OnDocuments func(push bool, docs []models.ReplicatedDocument)
}

type docKey struct {
	collection string
	id         string
}

type revKey struct {
	docKey
	rev string
}

type Client struct {
	id     uuid.UUID
	cfg    Config
	store  LocalStore
	cb     Callbacks
	codec  *codec.CBOR
	tracer trace.Tracer
	logger logger.Logger

	mu     sync.Mutex
	status models.ReplicatorStatus
	sess   *session
}

// session is the state of one connection, from Start to stop or failure.
// Everything but shutdown runs on thread.
type session struct {
	conn     *gorilla.Conn
	thread   *dispatch.Queue
	readDone chan struct{}
	stopping atomic.Bool
	once     sync.Once

	obsMu     sync.Mutex
	observers []engine.Observer

	caughtUp bool
	// revisions awaiting an ack from the peer
	inFlight map[revKey]*models.Document
	// last revision received from the peer, never pushed back
	pulled map[docKey]string
}

func New(store LocalStore, cfg Config, cb Callbacks) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, constants.ErrNoEndpoint
	}
	if !strings.HasPrefix(cfg.Endpoint, constants.WebsocketScheme+"://") &&
		!strings.HasPrefix(cfg.Endpoint, constants.WebsocketSecureScheme+"://") {
		return nil, fmt.Errorf("%w: unsupported endpoint %q", constants.ErrNoEndpoint, cfg.Endpoint)
	}
	if cfg.ConflictResolver == nil {
		cfg.ConflictResolver = conflict.Default
	}
	if cfg.Dialer == nil {
		cfg.Dialer = DefaultDialer
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	return &Client{
		id:     id,
		cfg:    cfg,
		store:  store,
		cb:     cb,
		codec:  codec.NewCBOR(),
		tracer: otel.Tracer("github.com/litesync/litesync.go/pkg/replicator"),
		logger: cfg.Logger,
		status: models.ReplicatorStatus{Activity: models.ActivityStopped},
	}, nil
}

func (c *Client) ID() uuid.UUID {
	return c.id
}

func (c *Client) Config() Config {
	return c.cfg
}

func (c *Client) Status() models.ReplicatorStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Start dials the peer and begins replicating. It returns once the connection
// is established; progress is reported through the callbacks.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		return constants.ErrReplicatorRunning
	}
	c.setStatusLocked(models.ReplicatorStatus{Activity: models.ActivityConnecting})
	c.mu.Unlock()

	conn, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.Endpoint, c.cfg.Headers)
	if err != nil {
		err = fmt.Errorf("dialing %s: %w", c.cfg.Endpoint, err)
		c.mu.Lock()
		c.setStatusLocked(models.ReplicatorStatus{Activity: models.ActivityStopped, Error: err})
		c.mu.Unlock()
		return err
	}

	s := &session{
		conn:     conn,
		thread:   dispatch.NewSerialQueue(dispatch.WithName("replicator"), dispatch.WithLogger(c.logger)),
		readDone: make(chan struct{}),
		caughtUp: !c.cfg.Type.pulls(),
		inFlight: make(map[revKey]*models.Document),
		pulled:   make(map[docKey]string),
	}

	// The hello frame goes out before any observer can trigger a push.
	hello := Frame{
		Type:        FrameHello,
		Collections: c.cfg.collections(),
		Pull:        c.cfg.Type.pulls(),
		Continuous:  c.cfg.Continuous,
	}
	if err := c.send(s, hello); err != nil {
		c.abandon(s, err)
		return err
	}

	if c.cfg.Type.pushes() {
		for _, name := range c.cfg.collections() {
			obs, err := c.store.RegisterObserver(engine.Selector{Collection: name}, c.onLocalChange(s))
			if err != nil {
				err = fmt.Errorf("observing %s: %w", name, err)
				c.abandon(s, err)
				return err
			}
			s.obsMu.Lock()
			s.observers = append(s.observers, obs)
			s.obsMu.Unlock()
		}
	}

	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		c.abandon(s, nil)
		return constants.ErrReplicatorRunning
	}
	c.sess = s
	c.setStatusLocked(models.ReplicatorStatus{Activity: models.ActivityBusy})
	c.mu.Unlock()
	go c.read(s)

	if c.cfg.Type.pushes() {
		s.thread.Execute(func() { c.pushAll(context.Background(), s) })
	} else {
		s.thread.Execute(func() { c.settle(s) })
	}
	return nil
}

// Stop closes the connection and waits for in-progress work. The final status
// is Stopped.
func (c *Client) Stop() {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return
	}
	c.shutdown(s, nil, true)
}

// abandon undoes a session that was never published.
func (c *Client) abandon(s *session, cause error) {
	c.releaseObservers(s)
	s.thread.Close()
	_ = s.conn.Close()
	if cause != nil {
		c.mu.Lock()
		c.setStatusLocked(models.ReplicatorStatus{Activity: models.ActivityStopped, Error: cause})
		c.mu.Unlock()
	}
}

func (c *Client) releaseObservers(s *session) {
	s.obsMu.Lock()
	observers := s.observers
	s.observers = nil
	s.obsMu.Unlock()
	for _, obs := range observers {
		c.store.ReleaseObserver(obs)
	}
}

// shutdown ends s once. waitReader is false when called from the read loop.
func (c *Client) shutdown(s *session, cause error, waitReader bool) {
	s.once.Do(func() {
		s.stopping.Store(true)
		c.releaseObservers(s)

		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(gorilla.CloseMessage,
			gorilla.FormatCloseMessage(constants.CloseMessageCode, ""), deadline)
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.logger.Debug("closing replicator connection", "error", err)
		}
		s.thread.Close()
		if waitReader {
			<-s.readDone
		}

		status := models.ReplicatorStatus{Activity: models.ActivityStopped, Error: cause}
		if cause != nil && c.cfg.Continuous {
			status.Activity = models.ActivityOffline
		}

		c.mu.Lock()
		if c.sess == s {
			c.sess = nil
		}
		status.Progress = c.status.Progress
		c.setStatusLocked(status)
		c.mu.Unlock()
	})
}

func (c *Client) read(s *session) {
	defer close(s.readDone)
	for {
		_, r, err := s.conn.NextReader()
		if err != nil {
			if s.stopping.Load() {
				return
			}
			if gorilla.IsCloseError(err, constants.CloseMessageCode) {
				err = errors.New("peer closed the connection")
			}
			c.logger.Error("replicator read failed", "endpoint", c.cfg.Endpoint, "error", err)
			c.shutdown(s, err, false)
			return
		}

		var f Frame
		if err := c.codec.NewDecoder(r).Decode(&f); err != nil {
			c.logger.Error("failed to decode frame", "error", err)
			continue
		}
		s.thread.Execute(func() { c.handle(s, f) })
	}
}

func (c *Client) handle(s *session, f Frame) {
	ctx := context.Background()
	switch f.Type {
	case FrameRev:
		if f.Doc != nil {
			c.addTotal(1)
			c.pull(ctx, s, f.Doc)
			c.addCompleted(1)
		}
	case FrameAck:
		c.acked(ctx, s, f)
	case FrameCaughtUp:
		s.caughtUp = true
	case FrameRemoved:
		c.report(false, models.ReplicatedDocument{
			Collection: f.Collection,
			ID:         f.ID,
			Flags:      models.DocumentFlagAccessRemoved,
		})
	default:
		c.logger.Warn("unknown frame", "type", f.Type)
	}
	c.settle(s)
}

// settle recomputes the activity level and ends a one-shot run once there is
// nothing left to do.
func (c *Client) settle(s *session) {
	if s.stopping.Load() {
		return
	}
	idle := s.caughtUp && len(s.inFlight) == 0

	c.mu.Lock()
	if c.sess == s {
		st := c.status
		st.Activity = models.ActivityBusy
		if idle {
			st.Activity = models.ActivityIdle
		}
		if st.Activity != c.status.Activity {
			c.setStatusLocked(st)
		}
	}
	c.mu.Unlock()

	if idle && !c.cfg.Continuous {
		go c.shutdown(s, nil, true)
	}
}

func (c *Client) onLocalChange(s *session) func() {
	return func() {
		s.thread.Execute(func() {
			c.pushPending(context.Background(), s)
		})
	}
}

func (c *Client) send(s *session, f Frame) error {
	w, err := s.conn.NextWriter(gorilla.BinaryMessage)
	if err != nil {
		return fmt.Errorf("sending %s frame: %w", f.Type, err)
	}
	if err := c.codec.NewEncoder(w).Encode(f); err != nil {
		_ = w.Close()
		return fmt.Errorf("encoding %s frame: %w", f.Type, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("sending %s frame: %w", f.Type, err)
	}
	return nil
}

func (c *Client) setStatusLocked(st models.ReplicatorStatus) {
	c.status = st
	if c.cb.OnStatus != nil {
		c.cb.OnStatus(st)
	}
}

func (c *Client) addTotal(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.status
	st.Progress.Total += n
	c.setStatusLocked(st)
}

func (c *Client) addCompleted(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.status
	st.Progress.Completed += n
	c.setStatusLocked(st)
}

func (c *Client) report(push bool, docs ...models.ReplicatedDocument) {
	if c.cb.OnDocuments != nil && len(docs) > 0 {
		c.cb.OnDocuments(push, docs)
	}
}
