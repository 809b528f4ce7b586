package constants

import "errors"

// Caller misuse
var (
	ErrNilListener = errors.New("listener must not be nil")
	ErrNilToken    = errors.New("listener token must not be nil")
	ErrInvalidName = errors.New("invalid name")
	ErrNoEndpoint  = errors.New("replicator endpoint not set")
)

// Lifecycle
var (
	ErrNotifierClosed    = errors.New("change notifier is closed")
	ErrDatabaseClosed    = errors.New("database is closed")
	ErrEngineClosed      = errors.New("engine is closed")
	ErrReplicatorRunning = errors.New("replicator is already running")
)

// Documents and replication
var (
	ErrNotFound      = errors.New("document not found")
	ErrConflict      = errors.New("revision conflict")
	ErrResolverPanic = errors.New("conflict resolver panicked")
)
