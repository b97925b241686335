// Copyright 2024-2026 Aiku AI

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store. It is used by tests and by the
// command when no database path is configured.
type MemoryStore struct {
	users *MemoryCollection
	rooms *MemoryCollection
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: NewMemoryCollection(),
		rooms: NewMemoryCollection(),
	}
}

func (m *MemoryStore) Users() Collection { return m.users }
func (m *MemoryStore) Rooms() Collection { return m.rooms }
func (m *MemoryStore) Close() error      { return nil }

// MemoryCollection is a mutex-guarded map of documents.
type MemoryCollection struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

var _ Collection = (*MemoryCollection)(nil)

// NewMemoryCollection creates an empty MemoryCollection.
func NewMemoryCollection() *MemoryCollection {
	return &MemoryCollection{docs: make(map[string]*Document)}
}

func (c *MemoryCollection) Get(_ context.Context, id string) (*Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return doc.Clone(), nil
}

func (c *MemoryCollection) Put(_ context.Context, doc *Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var current int64
	if existing, ok := c.docs[doc.ID]; ok {
		current = existing.Version
	}
	if current != doc.Version {
		return fmt.Errorf("%w: %s at version %d, stored %d", ErrConflict, doc.ID, doc.Version, current)
	}
	stored := doc.Clone()
	stored.Version++
	c.docs[doc.ID] = stored
	doc.Version = stored.Version
	return nil
}

func (c *MemoryCollection) Query(_ context.Context, filter map[string]any) ([]string, error) {
	want := make(map[string][]byte, len(filter))
	for key, value := range filter {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode filter value for %q: %w", key, err)
		}
		want[key] = raw
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	var ids []string
	for id, doc := range c.docs {
		if matchDocument(doc, want) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func matchDocument(doc *Document, want map[string][]byte) bool {
	for key, expected := range want {
		path := strings.Split(key, ".")
		raw, ok := doc.Data[path[0]]
		if !ok {
			return false
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return false
		}
		for _, part := range path[1:] {
			obj, ok := value.(map[string]any)
			if !ok {
				return false
			}
			if value, ok = obj[part]; !ok {
				return false
			}
		}
		got, err := json.Marshal(value)
		if err != nil || !bytes.Equal(got, expected) {
			return false
		}
	}
	return true
}
