package litesync

import (
	"context"
	"fmt"

	"github.com/litesync/litesync.go/pkg/constants"
	"github.com/litesync/litesync.go/pkg/dispatch"
	"github.com/litesync/litesync.go/pkg/engine"
	"github.com/litesync/litesync.go/pkg/models"
	"github.com/litesync/litesync.go/pkg/notify"
)

type Collection struct {
	db   *Database
	name string

	changes   *sources[CollectionChange]
	documents *sources[DocumentChange]
}

func newCollection(db *Database, name string) *Collection {
	c := &Collection{db: db, name: name}
	c.changes = newSources(db, "collection", func(sel engine.Selector) notify.Translator[CollectionChange] {
		return func(obs engine.Observer) (CollectionChange, bool) {
			ids := obs.Changes()
			if len(ids) == 0 {
				return CollectionChange{}, false
			}
			return CollectionChange{Collection: sel.Collection, DocumentIDs: ids}, true
		}
	})
	c.documents = newSources(db, "document", func(sel engine.Selector) notify.Translator[DocumentChange] {
		return func(obs engine.Observer) (DocumentChange, bool) {
			if len(obs.Changes()) == 0 {
				return DocumentChange{}, false
			}
			return DocumentChange{Collection: sel.Collection, DocumentID: sel.DocumentID}, true
		}
	})
	return c
}

func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) Database() *Database {
	return c.db
}

// Get returns the current revision of a document, or ErrNotFound.
func (c *Collection) Get(ctx context.Context, id string) (*models.Document, error) {
	if err := c.db.checkOpen(); err != nil {
		return nil, err
	}
	return c.db.engine.Get(ctx, c.name, id)
}

// Save writes body as a new revision of the document.
func (c *Collection) Save(ctx context.Context, id string, body map[string]any) (*models.Document, error) {
	if err := c.db.checkOpen(); err != nil {
		return nil, err
	}
	return c.db.engine.Save(ctx, c.name, id, body)
}

// Delete writes a tombstone. Deleting a missing document returns ErrNotFound.
func (c *Collection) Delete(ctx context.Context, id string) (*models.Document, error) {
	if err := c.db.checkOpen(); err != nil {
		return nil, err
	}
	return c.db.engine.Delete(ctx, c.name, id)
}

// AddChangeListener is notified with the ids of documents changed in the
// collection. A nil exec means the database's default executor.
func (c *Collection) AddChangeListener(exec dispatch.Executor, listener func(CollectionChange)) (notify.ListenerToken, error) {
	return c.changes.add(engine.Selector{Collection: c.name}, exec, listener)
}

// AddDocumentChangeListener is notified when the given document changes.
func (c *Collection) AddDocumentChangeListener(id string, exec dispatch.Executor, listener func(DocumentChange)) (notify.ListenerToken, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty document id", constants.ErrInvalidName)
	}
	return c.documents.add(engine.Selector{Collection: c.name, DocumentID: id}, exec, listener)
}

// RemoveChangeListener is the same as tok.Remove().
func (c *Collection) RemoveChangeListener(tok notify.ListenerToken) error {
	return removeToken(tok)
}

// closeNotifiers runs under the database lock.
func (c *Collection) closeNotifiers() {
	c.changes.closeAll()
	c.documents.closeAll()
}

// listeners reports the live per-source notifiers, for tests.
func (c *Collection) listeners() (collection, document int) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	return len(c.changes.notifiers), len(c.documents.notifiers)
}

// sources holds the per-selector notifiers of one kind. They are created by the
// first listener and dropped with the last.
type sources[T any] struct {
	db        *Database
	kind      string
	translate func(engine.Selector) notify.Translator[T]
	notifiers map[engine.Selector]*notify.SourceNotifier[T] // guarded by db.mu
}

func newSources[T any](db *Database, kind string, translate func(engine.Selector) notify.Translator[T]) *sources[T] {
	return &sources[T]{
		db:        db,
		kind:      kind,
		translate: translate,
		notifiers: make(map[engine.Selector]*notify.SourceNotifier[T]),
	}
}

func (s *sources[T]) add(sel engine.Selector, exec dispatch.Executor, listener func(T)) (notify.ListenerToken, error) {
	if listener == nil {
		return nil, constants.ErrNilListener
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.closed {
		return nil, constants.ErrDatabaseClosed
	}

	n, ok := s.notifiers[sel]
	if !ok {
		var created *notify.SourceNotifier[T]
		created = notify.NewSource(s.db.engine, sel, s.translate(sel), s.db.notifyOptions(
			s.kind,
			notify.WithRemoveHook(func(remaining int) { s.removed(sel, created, remaining) }),
		)...)
		if err := created.Start(); err != nil {
			created.Close()
			return nil, err
		}
		s.notifiers[sel] = created
		n = created
	}

	tok, err := n.AddListener(exec, listener)
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// removed runs after a token of n was removed. The last one closes n, unless a
// listener was added in the meantime.
func (s *sources[T]) removed(sel engine.Selector, n *notify.SourceNotifier[T], remaining int) {
	if remaining > 0 {
		return
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.notifiers[sel] != n || n.Len() > 0 {
		return
	}
	n.Close()
	delete(s.notifiers, sel)
}

func (s *sources[T]) closeAll() {
	for sel, n := range s.notifiers {
		n.Close()
		delete(s.notifiers, sel)
	}
}
