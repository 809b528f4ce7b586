// Package storage is a small document engine: it keeps the current revision of
// every document in a [Store] and raises observer callbacks after each write.
//
// Callbacks run one at a time on a goroutine owned by the engine. Several writes
// that happen before an observer's callback runs are coalesced into one call;
// the observer's Changes lists every affected document.
package storage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/litesync/litesync.go/internal/codec"
	"github.com/litesync/litesync.go/pkg/constants"
	"github.com/litesync/litesync.go/pkg/dispatch"
	"github.com/litesync/litesync.go/pkg/engine"
	"github.com/litesync/litesync.go/pkg/logger"
	"github.com/litesync/litesync.go/pkg/models"
)

type Engine struct {
	store  Store
	codec  *codec.CBOR
	logger logger.Logger
	thread *dispatch.Queue

	// writeMu serializes read-modify-write cycles on the store.
	writeMu sync.Mutex

	mu        sync.Mutex
	observers map[*observer]struct{}
	closed    bool
}

var _ engine.ObserverSource = (*Engine)(nil)

type Option func(e *Engine)

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		codec:     codec.NewCBOR(),
		logger:    logger.Nop(),
		observers: make(map[*observer]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.thread = dispatch.NewSerialQueue(dispatch.WithName("engine"), dispatch.WithLogger(e.logger))
	return e
}

// NewMemory returns an engine over a fresh MemoryStore.
func NewMemory(opts ...Option) *Engine {
	return New(NewMemoryStore(), opts...)
}

func (e *Engine) RegisterObserver(sel engine.Selector, onFire func()) (engine.Observer, error) {
	if sel.Collection == "" {
		return nil, fmt.Errorf("%w: empty collection", constants.ErrInvalidName)
	}
	if onFire == nil {
		return nil, constants.ErrNilListener
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, constants.ErrEngineClosed
	}
	obs := &observer{sel: sel, onFire: onFire}
	e.observers[obs] = struct{}{}
	e.logger.Debug("observer registered", "source", sel.String())
	return obs, nil
}

func (e *Engine) ReleaseObserver(obs engine.Observer) {
	o, ok := obs.(*observer)
	if !ok || o == nil {
		return
	}
	e.mu.Lock()
	delete(e.observers, o)
	e.mu.Unlock()

	if o.release() {
		e.logger.Debug("observer released", "source", o.sel.String())
	}
}

// ObserverCount reports the registered observers.
func (e *Engine) ObserverCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.observers)
}

// Get returns the current revision, or ErrNotFound for missing and deleted
// documents.
func (e *Engine) Get(ctx context.Context, collection, id string) (*models.Document, error) {
	doc, err := e.Lookup(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if doc.Deleted {
		return nil, fmt.Errorf("%w: %s/%s", constants.ErrNotFound, collection, id)
	}
	return doc, nil
}

// Lookup returns the current revision, tombstones included.
func (e *Engine) Lookup(ctx context.Context, collection, id string) (*models.Document, error) {
	if err := validName(collection, id); err != nil {
		return nil, err
	}
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.store.Load(ctx, collection, id)
}

func (e *Engine) IDs(ctx context.Context, collection string) ([]string, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.store.IDs(ctx, collection)
}

// Save writes body as a new revision of the document.
func (e *Engine) Save(ctx context.Context, collection, id string, body map[string]any) (*models.Document, error) {
	return e.write(ctx, collection, id, body, false)
}

// Delete writes a tombstone revision.
func (e *Engine) Delete(ctx context.Context, collection, id string) (*models.Document, error) {
	return e.write(ctx, collection, id, nil, true)
}

func (e *Engine) write(ctx context.Context, collection, id string, body map[string]any, deleted bool) (*models.Document, error) {
	if err := validName(collection, id); err != nil {
		return nil, err
	}
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	e.writeMu.Lock()
	current, err := e.store.Load(ctx, collection, id)
	if err != nil && !errors.Is(err, constants.ErrNotFound) {
		e.writeMu.Unlock()
		return nil, err
	}
	if deleted && (current == nil || current.Deleted) {
		e.writeMu.Unlock()
		return nil, fmt.Errorf("%w: %s/%s", constants.ErrNotFound, collection, id)
	}

	doc := &models.Document{
		Collection: collection,
		ID:         id,
		Generation: 1,
		Deleted:    deleted,
		Body:       body,
	}
	if current != nil {
		doc.ParentRevID = current.RevID
		doc.History = current.Lineage()
		doc.Generation = current.Generation + 1
	}
	doc.RevID, err = e.revID(doc)
	if err == nil {
		err = e.store.Store(ctx, doc)
	}
	e.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("saving %s/%s: %w", collection, id, err)
	}

	e.notify(collection, id)
	return doc.Clone(), nil
}

// PutRevision stores doc exactly as given, typically a revision received from a
// peer or the outcome of conflict resolution.
func (e *Engine) PutRevision(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return fmt.Errorf("%w: nil document", constants.ErrInvalidName)
	}
	if err := validName(doc.Collection, doc.ID); err != nil {
		return err
	}
	if doc.RevID == "" || doc.Generation == 0 {
		return fmt.Errorf("%w: revision %q of %s has no generation", constants.ErrInvalidName, doc.RevID, doc.ID)
	}
	if err := e.checkOpen(); err != nil {
		return err
	}

	e.writeMu.Lock()
	err := e.store.Store(ctx, doc)
	e.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("storing revision %s: %w", doc, err)
	}

	e.notify(doc.Collection, doc.ID)
	return nil
}

// NextRevision derives a child revision of parent carrying body, without
// storing it.
func (e *Engine) NextRevision(parent *models.Document, body map[string]any, deleted bool) (*models.Document, error) {
	doc := &models.Document{
		Collection:  parent.Collection,
		ID:          parent.ID,
		ParentRevID: parent.RevID,
		History:     parent.Lineage(),
		Generation:  parent.Generation + 1,
		Deleted:     deleted,
		Body:        body,
	}
	var err error
	doc.RevID, err = e.revID(doc)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (e *Engine) revID(doc *models.Document) (string, error) {
	encoded, err := e.codec.Marshal(doc.Body)
	if err != nil {
		return "", fmt.Errorf("encoding body of %s/%s: %w", doc.Collection, doc.ID, err)
	}
	h := sha1.New()
	h.Write([]byte(doc.ParentRevID))
	if doc.Deleted {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(encoded)
	return models.FormatRevID(doc.Generation, hex.EncodeToString(h.Sum(nil))), nil
}

func (e *Engine) notify(collection, id string) {
	e.mu.Lock()
	var due []*observer
	for o := range e.observers {
		if o.sel.Matches(collection, id) && o.record(id) {
			due = append(due, o)
		}
	}
	e.mu.Unlock()

	for _, o := range due {
		e.thread.Execute(o.fire)
	}
}

func (e *Engine) checkOpen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return constants.ErrEngineClosed
	}
	return nil
}

// Close releases every observer, waits for pending callbacks and closes the
// store. Calling it again is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for o := range e.observers {
		o.release()
	}
	e.observers = make(map[*observer]struct{})
	e.mu.Unlock()

	e.thread.Close()
	return e.store.Close()
}

func validName(collection, id string) error {
	if collection == "" || id == "" {
		return fmt.Errorf("%w: collection %q, id %q", constants.ErrInvalidName, collection, id)
	}
	return nil
}
