package replicator

import (
	"net/http"

	gorilla "github.com/gorilla/websocket"
	"github.com/litesync/litesync.go/pkg/conflict"
	"github.com/litesync/litesync.go/pkg/constants"
	"github.com/litesync/litesync.go/pkg/logger"
)

// DefaultDialer is the gorilla dialer used when Config.Dialer is nil.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  constants.DefaultDialTimeout,
	EnableCompression: true,
	Subprotocols:      []string{"cbor"},
}

type Type int

const (
	PushAndPull Type = iota
	Push
	Pull
)

func (t Type) String() string {
	switch t {
	case Push:
		return "push"
	case Pull:
		return "pull"
	default:
		return "push-and-pull"
	}
}

func (t Type) pushes() bool { return t != Pull }
func (t Type) pulls() bool  { return t != Push }

type Config struct {
	// Endpoint is the peer's WebSocket URL, e.g. "ws://localhost:4984/db".
	Endpoint string
	// Collections to replicate; the default collection when empty.
	Collections []string
	Type        Type
	// Continuous keeps the replicator running after it has caught up.
	Continuous bool
	// ConflictResolver decides pull conflicts; conflict.Default when nil.
	ConflictResolver conflict.Resolver
	Headers          http.Header
	Dialer           *gorilla.Dialer
	Logger           logger.Logger
}

func (c *Config) collections() []string {
	if len(c.Collections) == 0 {
		return []string{constants.DefaultCollection}
	}
	return c.Collections
}
