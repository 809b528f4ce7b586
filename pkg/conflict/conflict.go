// Package conflict decides which revision survives when the local and the remote
// copy of a document have diverged during replication.
package conflict

import (
	"fmt"

	"github.com/litesync/litesync.go/pkg/constants"
	"github.com/litesync/litesync.go/pkg/models"
)

// Conflict carries both candidates. A nil side means the document is deleted or
// missing on that side.
type Conflict struct {
	DocumentID string
	Local      *models.Document
	Remote     *models.Document
}

// NewConflict builds a Conflict, mapping tombstones to nil. The document id is
// taken from whichever revision is present.
func NewConflict(local, remote *models.Document) Conflict {
	c := Conflict{Local: live(local), Remote: live(remote)}
	switch {
	case local != nil:
		c.DocumentID = local.ID
	case remote != nil:
		c.DocumentID = remote.ID
	}
	return c
}

func live(d *models.Document) *models.Document {
	if d == nil || d.Deleted {
		return nil
	}
	return d
}

// Resolver returns the winning revision, or nil to delete the document.
// Implementations must be deterministic: both peers resolve the same conflict
// independently and have to agree.
type Resolver interface {
	Resolve(c Conflict) *models.Document
}

type ResolverFunc func(c Conflict) *models.Document

func (f ResolverFunc) Resolve(c Conflict) *models.Document {
	return f(c)
}

// Default is the resolver used when a replicator is not given one.
var Default Resolver = ResolverFunc(resolveDefault)

func resolveDefault(c Conflict) *models.Document {
	local, remote := c.Local, c.Remote
	if local == nil || remote == nil {
		return nil
	}
	// a local revision without an id cannot be ordered
	if local.RevID == "" {
		return remote
	}

	if local.Generation > remote.Generation {
		return local
	}
	if local.Generation < remote.Generation {
		return remote
	}

	if remote.RevID != "" && local.RevID > remote.RevID {
		return local
	}
	return remote
}

// SafeResolve runs r, turning a panic into ErrResolverPanic. A winner whose id
// differs from the conflict's is rejected.
func SafeResolve(r Resolver, c Conflict) (winner *models.Document, err error) {
	if r == nil {
		r = Default
	}
	defer func() {
		if p := recover(); p != nil {
			winner = nil
			err = fmt.Errorf("%w: %v", constants.ErrResolverPanic, p)
		}
	}()

	winner = r.Resolve(c)
	if winner != nil && c.DocumentID != "" && winner.ID != c.DocumentID {
		return nil, fmt.Errorf("%w: resolver returned document %q for conflict on %q",
			constants.ErrConflict, winner.ID, c.DocumentID)
	}
	return winner, nil
}
