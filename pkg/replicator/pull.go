package replicator

import (
	"context"
	"errors"
	"fmt"

	"github.com/litesync/litesync.go/pkg/conflict"
	"github.com/litesync/litesync.go/pkg/constants"
	"github.com/litesync/litesync.go/pkg/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Outcomes of applying a pulled revision.
const (
	outcomeInserted    = "inserted"
	outcomeFastForward = "fast-forward"
	outcomeKnown       = "known"
	outcomeLocalAhead  = "local-ahead"
	outcomeRemoteWins  = "remote-wins"
	outcomeLocalWins   = "local-wins"
	outcomeDeleted     = "deleted"
	outcomeFailed      = "failed"
)

func (c *Client) pull(ctx context.Context, s *session, remote *models.Document) {
	ctx, span := c.tracer.Start(ctx, "replicator.pull")
	defer span.End()
	span.SetAttributes(
		attribute.String("litesync.collection", remote.Collection),
		attribute.String("litesync.document", remote.ID),
		attribute.String("litesync.rev", remote.RevID),
	)

	outcome, err := c.apply(ctx, s, remote)
	span.SetAttributes(attribute.String("litesync.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("failed to apply pulled revision", "doc", remote.String(), "error", err)
	} else {
		c.logger.Debug("pulled revision", "doc", remote.String(), "outcome", outcome)
	}

	doc := models.ReplicatedDocument{Collection: remote.Collection, ID: remote.ID, Error: err}
	if remote.Deleted {
		doc.Flags |= models.DocumentFlagDeleted
	}
	c.report(false, doc)
}

func (c *Client) apply(ctx context.Context, s *session, remote *models.Document) (string, error) {
	key := docKey{remote.Collection, remote.ID}
	local, err := c.store.Lookup(ctx, remote.Collection, remote.ID)
	if err != nil && !errors.Is(err, constants.ErrNotFound) {
		return outcomeFailed, err
	}

	switch {
	case local == nil:
		return outcomeInserted, c.accept(ctx, s, key, remote)
	case local.RevID == remote.RevID:
		s.pulled[key] = remote.RevID
		return outcomeKnown, nil
	case remote.DescendsFrom(local.RevID):
		return outcomeFastForward, c.accept(ctx, s, key, remote)
	case local.DescendsFrom(remote.RevID):
		return outcomeLocalAhead, nil
	case local.Deleted && remote.Deleted:
		if remote.Generation > local.Generation {
			return outcomeRemoteWins, c.accept(ctx, s, key, remote)
		}
		return outcomeLocalAhead, nil
	}

	winner, err := conflict.SafeResolve(c.cfg.ConflictResolver, conflict.NewConflict(local, remote))
	if err != nil {
		return outcomeFailed, err
	}

	switch {
	case winner == nil:
		if remote.Deleted {
			return outcomeDeleted, c.accept(ctx, s, key, remote)
		}
		return outcomeDeleted, c.descend(ctx, s, local, remote, nil, true)
	case winner == remote || winner.RevID == remote.RevID:
		return outcomeRemoteWins, c.accept(ctx, s, key, remote)
	default:
		return outcomeLocalWins, c.descend(ctx, s, local, remote, winner.Body, false)
	}
}

// accept stores the peer's revision as is. It is remembered so the resulting
// local change is not pushed back.
func (c *Client) accept(ctx context.Context, s *session, key docKey, remote *models.Document) error {
	s.pulled[key] = remote.RevID
	if err := c.store.PutRevision(ctx, remote); err != nil {
		delete(s.pulled, key)
		return err
	}
	return nil
}

// descend stores the resolution as a child of the remote revision and pushes
// it, so the peer can fast-forward. The resolution outranks both sides.
func (c *Client) descend(ctx context.Context, s *session, local, remote *models.Document, body map[string]any, deleted bool) error {
	parent := remote
	if local.Generation > remote.Generation {
		parent = remote.Clone()
		parent.Generation = local.Generation
	}
	next, err := c.store.NextRevision(parent, body, deleted)
	if err != nil {
		return fmt.Errorf("deriving resolved revision of %s: %w", remote, err)
	}
	if err := c.store.PutRevision(ctx, next); err != nil {
		return err
	}
	if c.cfg.Type.pushes() {
		c.push(ctx, s, next.Collection, next.ID)
	}
	return nil
}
