package replicator

import (
	"context"
	"errors"
	"fmt"

	"github.com/litesync/litesync.go/pkg/constants"
	"github.com/litesync/litesync.go/pkg/engine"
	"github.com/litesync/litesync.go/pkg/models"
)

// pushAll sends the current revision of every document in the replicated
// collections. The peer ignores revisions it already has.
func (c *Client) pushAll(ctx context.Context, s *session) {
	for _, name := range c.cfg.collections() {
		ids, err := c.store.IDs(ctx, name)
		if err != nil {
			c.logger.Error("failed to list documents", "collection", name, "error", err)
			continue
		}
		for _, id := range ids {
			c.push(ctx, s, name, id)
		}
	}
	c.settle(s)
}

// pushPending drains the observers' pending changes and pushes them.
func (c *Client) pushPending(ctx context.Context, s *session) {
	if s.stopping.Load() {
		return
	}
	s.obsMu.Lock()
	observers := append([]engine.Observer(nil), s.observers...)
	s.obsMu.Unlock()

	for _, obs := range observers {
		name := obs.Selector().Collection
		for _, id := range obs.Changes() {
			c.push(ctx, s, name, id)
		}
	}
	c.settle(s)
}

func (c *Client) push(ctx context.Context, s *session, collection, id string) {
	key := docKey{collection, id}
	doc, err := c.store.Lookup(ctx, collection, id)
	if err != nil {
		if !errors.Is(err, constants.ErrNotFound) {
			c.logger.Error("failed to load document for push", "collection", collection, "id", id, "error", err)
		}
		return
	}
	if s.pulled[key] == doc.RevID {
		return
	}
	pending := revKey{key, doc.RevID}
	if _, ok := s.inFlight[pending]; ok {
		return
	}

	if err := c.send(s, Frame{Type: FrameRev, Doc: doc}); err != nil {
		c.logger.Error("failed to push revision", "doc", doc.String(), "error", err)
		c.report(true, replicated(doc, err))
		return
	}
	s.inFlight[pending] = doc
	c.addTotal(1)
}

func (c *Client) acked(ctx context.Context, s *session, f Frame) {
	key := docKey{f.Collection, f.ID}
	doc, ok := s.inFlight[revKey{key, f.RevID}]
	if !ok {
		c.logger.Debug("ack for unknown revision", "collection", f.Collection, "id", f.ID, "rev", f.RevID)
		return
	}
	delete(s.inFlight, revKey{key, f.RevID})
	c.addCompleted(1)

	var err error
	if f.Error != "" {
		err = fmt.Errorf("%w: %s", constants.ErrConflict, f.Error)
	} else {
		// the peer now holds this revision
		s.pulled[key] = doc.RevID
	}
	c.report(true, replicated(doc, err))

	// A newer local revision may have been written while this one was in flight.
	if err == nil {
		if current, lerr := c.store.Lookup(ctx, f.Collection, f.ID); lerr == nil && current.RevID != doc.RevID {
			c.push(ctx, s, f.Collection, f.ID)
		}
	}
}

func replicated(doc *models.Document, err error) models.ReplicatedDocument {
	r := models.ReplicatedDocument{Collection: doc.Collection, ID: doc.ID, Error: err}
	if doc.Deleted {
		r.Flags |= models.DocumentFlagDeleted
	}
	return r
}
