// Package litesync is an embedded document database with change notifications
// and WebSocket replication.
//
// # Change listeners
//
// Listeners are registered on a [Collection] (every document, or a single one)
// or on a [Replicator], and receive changes on a [dispatch.Executor] of the
// caller's choosing. A nil executor means the database's default pool, see
// [Config.Executors]. Every registration returns a [notify.ListenerToken];
// removing it is idempotent and, once Remove has returned, the listener is not
// called again.
//
// Engine observers are registered lazily: the first listener on a source starts
// its observer and removing the last one releases it. Closing the [Database]
// revokes every token.
//
// # Replication
//
// [Database.NewReplicator] creates a [Replicator] syncing collections with a
// peer. Pull conflicts are decided by [ReplicatorConfig.ConflictResolver], which
// defaults to [conflict.Default]: a deletion wins, then the higher generation,
// then the greater revision id.
package litesync
