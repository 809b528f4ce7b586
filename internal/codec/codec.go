// Package codec wraps the binary encoding shared by revision digests, stored
// rows and replication frames.
package codec

import "io"

// Encoder writes values to a stream, such as a WebSocket message writer.
type Encoder interface {
	Encode(v any) error
}

// Decoder reads values from a stream.
type Decoder interface {
	Decode(v any) error
}

// Codec encodes whole values and streams.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, dst any) error
	NewEncoder(w io.Writer) Encoder
	NewDecoder(r io.Reader) Decoder
}
