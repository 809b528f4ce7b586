// Package models holds the value types shared by the engine, the notifiers and the
// replicator.
package models

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxHistory bounds the number of ancestor revision ids a document carries.
const MaxHistory = 20

// Document is one revision of a document. A Document value handed to listeners or
// resolvers is never mutated afterwards.
type Document struct {
	Collection string `cbor:"collection" json:"collection"`
	ID         string `cbor:"id" json:"id"`
	// RevID is "<generation>-<digest>". It is empty for a document that has never
	// been saved.
	RevID       string `cbor:"rev" json:"rev"`
	ParentRevID string `cbor:"parent,omitempty" json:"parent,omitempty"`
	// History lists ancestor revision ids, newest first, starting with ParentRevID.
	History    []string       `cbor:"history,omitempty" json:"history,omitempty"`
	Generation uint64         `cbor:"gen" json:"gen"`
	Deleted    bool           `cbor:"deleted,omitempty" json:"deleted,omitempty"`
	Body       map[string]any `cbor:"body,omitempty" json:"body,omitempty"`
}

func (d *Document) String() string {
	if d == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s/%s@%s", d.Collection, d.ID, d.RevID)
}

// Clone copies the document and the top level of its body.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.History = append([]string(nil), d.History...)
	if d.Body != nil {
		c.Body = make(map[string]any, len(d.Body))
		for k, v := range d.Body {
			c.Body[k] = v
		}
	}
	return &c
}

// Lineage returns the history of a child of d: d's revision followed by its own
// ancestors, bounded by MaxHistory.
func (d *Document) Lineage() []string {
	if d == nil || d.RevID == "" {
		return nil
	}
	lineage := make([]string, 0, min(len(d.History)+1, MaxHistory))
	lineage = append(lineage, d.RevID)
	for _, rev := range d.History {
		if len(lineage) == MaxHistory {
			break
		}
		lineage = append(lineage, rev)
	}
	return lineage
}

// DescendsFrom reports whether revID is a known ancestor of d.
func (d *Document) DescendsFrom(revID string) bool {
	if d == nil || revID == "" {
		return false
	}
	if d.ParentRevID == revID {
		return true
	}
	for _, rev := range d.History {
		if rev == revID {
			return true
		}
	}
	return false
}

// FormatRevID joins a generation and a digest into a revision id.
func FormatRevID(generation uint64, digest string) string {
	return strconv.FormatUint(generation, 10) + "-" + digest
}

// ParseGeneration extracts the generation prefix of a revision id.
func ParseGeneration(revID string) (uint64, error) {
	prefix, _, ok := strings.Cut(revID, "-")
	if !ok {
		return 0, fmt.Errorf("malformed revision id %q", revID)
	}
	gen, err := strconv.ParseUint(prefix, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed revision id %q: %w", revID, err)
	}
	return gen, nil
}
