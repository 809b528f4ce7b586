package constants

import "time"

var (
	WebsocketScheme       = "ws"
	WebsocketSecureScheme = "wss"
)

const (
	// DefaultCollection is the name of the collection every database owns.
	DefaultCollection = "_default"

	DefaultWorkers = 4

	// DefaultDialTimeout bounds the WebSocket handshake of a replicator.
	DefaultDialTimeout = 10 * time.Second

	// CloseMessageCode is sent to the peer when a replicator stops.
	CloseMessageCode = 1000
)
