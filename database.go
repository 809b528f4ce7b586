package litesync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/litesync/litesync.go/pkg/constants"
	"github.com/litesync/litesync.go/pkg/dispatch"
	"github.com/litesync/litesync.go/pkg/logger"
	"github.com/litesync/litesync.go/pkg/models"
	"github.com/litesync/litesync.go/pkg/notify"
	"github.com/litesync/litesync.go/pkg/replicator"
	"github.com/litesync/litesync.go/pkg/storage"
	"github.com/litesync/litesync.go/pkg/storage/sqlite"
)

// Engine is the storage engine a Database runs on. *storage.Engine implements
// it.
type Engine interface {
	replicator.LocalStore
	Get(ctx context.Context, collection, id string) (*models.Document, error)
	Save(ctx context.Context, collection, id string, body map[string]any) (*models.Document, error)
	Delete(ctx context.Context, collection, id string) (*models.Document, error)
	Close() error
}

type Database struct {
	name      string
	engine    Engine
	logger    logger.Logger
	executors *dispatch.Defaults
	ownsPool  bool
	metrics   *notify.Metrics

	// mu is the database lock. It guards the maps below and serializes
	// observer registration with Close.
	mu          sync.Mutex
	closed      bool
	collections map[string]*Collection
	replicators map[*Replicator]struct{}
}

// Open opens or creates the named database. A nil cfg means NewConfig().
func Open(name string, cfg *Config) (*Database, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = NewConfig()
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	eng := cfg.Engine
	if eng == nil {
		var err error
		if eng, err = openEngine(name, cfg.Directory, log); err != nil {
			return nil, err
		}
	}

	db := &Database{
		name:        name,
		engine:      eng,
		logger:      log,
		executors:   cfg.Executors,
		collections: make(map[string]*Collection),
		replicators: make(map[*Replicator]struct{}),
	}
	if db.executors == nil {
		workers := cfg.DefaultWorkers
		if workers <= 0 {
			workers = constants.DefaultWorkers
		}
		db.executors = dispatch.NewDefaults(workers)
		db.ownsPool = true
	}
	if cfg.Registerer != nil {
		db.metrics = notify.NewMetrics(cfg.Registerer, "litesync")
	}
	return db, nil
}

func openEngine(name, dir string, log logger.Logger) (*storage.Engine, error) {
	if dir == "" {
		return storage.NewMemory(storage.WithLogger(log)), nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	store, err := sqlite.Open(filepath.Join(dir, name+".sqlite3"))
	if err != nil {
		return nil, err
	}
	return storage.New(store, storage.WithLogger(log)), nil
}

func (db *Database) Name() string {
	return db.name
}

// Close stops the replicators, revokes every listener token and closes the
// engine. Calling it again is a no-op.
func (db *Database) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	for _, c := range db.collections {
		c.closeNotifiers()
	}
	reps := make([]*Replicator, 0, len(db.replicators))
	for r := range db.replicators {
		reps = append(reps, r)
	}
	db.replicators = make(map[*Replicator]struct{})
	db.mu.Unlock()

	for _, r := range reps {
		r.close()
	}
	err := db.engine.Close()
	if db.ownsPool {
		db.executors.Shutdown()
	}
	db.logger.Debug("database closed", "name", db.name)
	return err
}

// Collection returns the named collection, creating the handle on first use.
func (db *Database) Collection(name string) (*Collection, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, constants.ErrDatabaseClosed
	}
	c, ok := db.collections[name]
	if !ok {
		c = newCollection(db, name)
		db.collections[name] = c
	}
	return c, nil
}

func (db *Database) DefaultCollection() (*Collection, error) {
	return db.Collection(constants.DefaultCollection)
}

// AddChangeListener listens to the default collection.
func (db *Database) AddChangeListener(exec dispatch.Executor, listener func(CollectionChange)) (notify.ListenerToken, error) {
	c, err := db.DefaultCollection()
	if err != nil {
		return nil, err
	}
	return c.AddChangeListener(exec, listener)
}

// RemoveChangeListener removes any token returned by this database, its
// collections or its replicators.
func (db *Database) RemoveChangeListener(tok notify.ListenerToken) error {
	return removeToken(tok)
}

func (db *Database) checkOpen() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return constants.ErrDatabaseClosed
	}
	return nil
}

// notifyOptions configures a notifier owned by this database.
func (db *Database) notifyOptions(name string, opts ...notify.Option) []notify.Option {
	return append([]notify.Option{
		notify.WithName(name),
		notify.WithLogger(db.logger),
		notify.WithDefaultExecutor(db.executors.Get),
		notify.WithMetrics(db.metrics),
	}, opts...)
}

func removeToken(tok notify.ListenerToken) error {
	if tok == nil {
		return constants.ErrNilToken
	}
	tok.Remove()
	return nil
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: %q", constants.ErrInvalidName, name)
	}
	return nil
}
