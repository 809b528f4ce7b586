// Package engine declares what litesync consumes from a storage engine in order to
// learn about changes. Any engine that can call back when a document or a
// collection changes can back the notifiers in package notify.
package engine

import "fmt"

// Selector names an observable source: a whole collection when DocumentID is
// empty, a single document otherwise.
type Selector struct {
	Collection string
	DocumentID string
}

func (s Selector) IsDocument() bool {
	return s.DocumentID != ""
}

func (s Selector) Matches(collection, documentID string) bool {
	if s.Collection != collection {
		return false
	}
	return s.DocumentID == "" || s.DocumentID == documentID
}

func (s Selector) String() string {
	if s.DocumentID == "" {
		return s.Collection
	}
	return fmt.Sprintf("%s/%s", s.Collection, s.DocumentID)
}

// Observer is a registration handle returned by an ObserverSource.
type Observer interface {
	Selector() Selector
	// Changes drains the ids of the documents changed since the previous call.
	Changes() []string
}

// ObserverSource is the narrow capability the notifiers need from an engine.
//
// onFire may be called zero or more times from a goroutine owned by the engine
// until the observer is released. ReleaseObserver may be called from any
// goroutine; callers release each observer at most once.
type ObserverSource interface {
	RegisterObserver(sel Selector, onFire func()) (Observer, error)
	ReleaseObserver(obs Observer)
}
