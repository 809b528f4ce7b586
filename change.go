package litesync

import "github.com/litesync/litesync.go/pkg/models"

// CollectionChange lists the documents of a collection changed since the
// previous notification.
type CollectionChange struct {
	Collection  string
	DocumentIDs []string
}

// DocumentChange reports that a document changed. Fetch it to see how.
type DocumentChange struct {
	Collection string
	DocumentID string
}

// ReplicatorChange carries a replicator's new status.
type ReplicatorChange struct {
	Replicator *Replicator
	Status     models.ReplicatorStatus
}

// DocumentReplication reports documents a replicator finished pushing or
// pulling.
type DocumentReplication struct {
	Replicator *Replicator
	IsPush     bool
	Documents  []models.ReplicatedDocument
}
