package litesync

import (
	"context"
	"sync/atomic"

	"github.com/gofrs/uuid"
	"github.com/litesync/litesync.go/pkg/constants"
	"github.com/litesync/litesync.go/pkg/dispatch"
	"github.com/litesync/litesync.go/pkg/models"
	"github.com/litesync/litesync.go/pkg/notify"
	"github.com/litesync/litesync.go/pkg/replicator"
)

type (
	ReplicatorConfig = replicator.Config
	ReplicatorType   = replicator.Type
)

const (
	PushAndPull = replicator.PushAndPull
	Push        = replicator.Push
	Pull        = replicator.Pull
)

// Replicator syncs a database with a peer. Its status and document events are
// delivered through change notifiers fed by the underlying client.
type Replicator struct {
	db     *Database
	client *replicator.Client

	status    *notify.ChangeNotifier[ReplicatorChange]
	documents *notify.ChangeNotifier[DocumentReplication]
	// set on close; client callbacks arriving later are dropped
	detached atomic.Bool
}

// NewReplicator creates a stopped replicator. A nil ConflictResolver selects
// conflict.Default.
func (db *Database) NewReplicator(cfg ReplicatorConfig) (*Replicator, error) {
	if cfg.Logger == nil {
		cfg.Logger = db.logger
	}

	r := &Replicator{db: db}
	r.status = notify.New[ReplicatorChange](db.notifyOptions("replicator")...)
	r.documents = notify.New[DocumentReplication](db.notifyOptions("replication")...)

	client, err := replicator.New(db.engine, cfg, replicator.Callbacks{
		OnStatus:    r.onStatus,
		OnDocuments: r.onDocuments,
	})
	if err != nil {
		return nil, err
	}
	r.client = client

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		r.status.Close()
		r.documents.Close()
		return nil, constants.ErrDatabaseClosed
	}
	db.replicators[r] = struct{}{}
	return r, nil
}

func (r *Replicator) ID() uuid.UUID {
	return r.client.ID()
}

func (r *Replicator) Config() ReplicatorConfig {
	return r.client.Config()
}

func (r *Replicator) Database() *Database {
	return r.db
}

// Start connects to the peer. It fails when the database or the replicator was
// closed, or when it is already running.
func (r *Replicator) Start(ctx context.Context) error {
	if r.detached.Load() {
		return constants.ErrDatabaseClosed
	}
	if err := r.db.checkOpen(); err != nil {
		return err
	}
	r.db.logger.Info("starting replicator", "id", r.ID().String(), "endpoint", r.client.Config().Endpoint)
	return r.client.Start(ctx)
}

// Stop disconnects. Listeners stay registered and see the Stopped status.
func (r *Replicator) Stop() {
	r.client.Stop()
}

func (r *Replicator) Status() models.ReplicatorStatus {
	return r.client.Status()
}

// AddChangeListener is notified of every status change.
func (r *Replicator) AddChangeListener(exec dispatch.Executor, listener func(ReplicatorChange)) (notify.ListenerToken, error) {
	tok, err := r.status.AddListener(exec, listener)
	if err != nil {
		return nil, r.listenErr(err)
	}
	return tok, nil
}

// AddDocumentReplicationListener is notified as documents finish replicating.
func (r *Replicator) AddDocumentReplicationListener(exec dispatch.Executor, listener func(DocumentReplication)) (notify.ListenerToken, error) {
	tok, err := r.documents.AddListener(exec, listener)
	if err != nil {
		return nil, r.listenErr(err)
	}
	return tok, nil
}

func (r *Replicator) RemoveChangeListener(tok notify.ListenerToken) error {
	return removeToken(tok)
}

// Close stops the replicator and revokes its listeners.
func (r *Replicator) Close() {
	r.db.mu.Lock()
	delete(r.db.replicators, r)
	r.db.mu.Unlock()
	r.close()
}

func (r *Replicator) close() {
	if r.detached.Swap(true) {
		return
	}
	r.client.Stop()
	r.status.Close()
	r.documents.Close()
}

func (r *Replicator) listenErr(err error) error {
	if r.detached.Load() {
		return constants.ErrDatabaseClosed
	}
	return err
}

func (r *Replicator) onStatus(st models.ReplicatorStatus) {
	if r.detached.Load() {
		return
	}
	r.status.PostChange(ReplicatorChange{Replicator: r, Status: st})
}

func (r *Replicator) onDocuments(push bool, docs []models.ReplicatedDocument) {
	if r.detached.Load() {
		return
	}
	r.documents.PostChangeFunc(func() DocumentReplication {
		return DocumentReplication{Replicator: r, IsPush: push, Documents: docs}
	})
}
