package replicator

import "github.com/litesync/litesync.go/pkg/models"

// Frame types exchanged with the peer, one CBOR frame per binary message.
const (
	FrameHello    = "hello"
	FrameRev      = "rev"
	FrameAck      = "ack"
	FrameCaughtUp = "caught-up"
	FrameRemoved  = "removed"
)

// Frame is exported for peers written in Go (see internal/fakepeer).
type Frame struct {
	Type        string           `cbor:"type"`
	Collections []string         `cbor:"collections,omitempty"`
	Pull        bool             `cbor:"pull,omitempty"`
	Continuous  bool             `cbor:"continuous,omitempty"`
	Doc         *models.Document `cbor:"doc,omitempty"`
	Collection  string           `cbor:"collection,omitempty"`
	ID          string           `cbor:"id,omitempty"`
	RevID       string           `cbor:"rev,omitempty"`
	Error       string           `cbor:"error,omitempty"`
}
