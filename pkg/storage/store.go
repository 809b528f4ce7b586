package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/litesync/litesync.go/pkg/constants"
	"github.com/litesync/litesync.go/pkg/models"
)

// Store persists the current revision of each document, tombstones included.
type Store interface {
	Load(ctx context.Context, collection, id string) (*models.Document, error)
	Store(ctx context.Context, doc *models.Document) error
	IDs(ctx context.Context, collection string) ([]string, error)
	Close() error
}

type docKey struct {
	collection string
	id         string
}

type MemoryStore struct {
	mu   sync.RWMutex
	docs map[docKey]*models.Document
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[docKey]*models.Document)}
}

func (m *MemoryStore) Load(_ context.Context, collection, id string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[docKey{collection, id}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", constants.ErrNotFound, collection, id)
	}
	return doc.Clone(), nil
}

func (m *MemoryStore) Store(_ context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[docKey{doc.Collection, doc.ID}] = doc.Clone()
	return nil
}

func (m *MemoryStore) IDs(_ context.Context, collection string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for k := range m.docs {
		if k.collection == collection {
			ids = append(ids, k.id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
