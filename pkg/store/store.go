// Copyright 2024-2026 Aiku AI

// Package store persists the per-user and per-room documents the appservice
// manager keeps its bookkeeping in.
//
// A [Document] is a free-form JSON object keyed by a Matrix user or room ID.
// Callers own individual top-level keys (namespaces) inside it and must leave
// the keys they don't own untouched. Writes are compare-and-swap on
// [Document.Version] so two concurrent read-modify-write cycles on the same
// ID cannot silently discard each other.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get when no document exists for the ID.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned by Put when the stored version no longer
	// matches the version the document was read at.
	ErrConflict = errors.New("document version conflict")
)

// Document is the blob stored under a single user or room ID.
type Document struct {
	ID   string
	Data map[string]json.RawMessage
	// Version is zero for a document that has never been stored.
	Version int64
}

// NewDocument returns an empty, never-stored document.
func NewDocument(id string) *Document {
	return &Document{ID: id, Data: make(map[string]json.RawMessage)}
}

// Decode unmarshals the value stored under key into into. It reports false
// if the key is absent.
func (d *Document) Decode(key string, into any) (bool, error) {
	raw, ok := d.Data[key]
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return true, fmt.Errorf("failed to decode %q of %s: %w", key, d.ID, err)
	}
	return true, nil
}

// Encode replaces the value stored under key. Other keys are preserved.
func (d *Document) Encode(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %q of %s: %w", key, d.ID, err)
	}
	if d.Data == nil {
		d.Data = make(map[string]json.RawMessage)
	}
	d.Data[key] = raw
	return nil
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	cp := &Document{ID: d.ID, Version: d.Version, Data: make(map[string]json.RawMessage, len(d.Data))}
	for k, v := range d.Data {
		cp.Data[k] = append(json.RawMessage(nil), v...)
	}
	return cp
}

// Collection is a keyed set of documents.
type Collection interface {
	// Get returns the document stored under id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Document, error)
	// Put stores doc if the stored version equals doc.Version, and bumps
	// doc.Version on success. A zero version means the document must not
	// exist yet. Returns ErrConflict otherwise.
	Put(ctx context.Context, doc *Document) error
	// Query returns the IDs of every document matching all of the dotted
	// "<namespace>.<field>" equality filters.
	Query(ctx context.Context, filter map[string]any) ([]string, error)
}

// Store groups the user and room collections.
type Store interface {
	Users() Collection
	Rooms() Collection
	Close() error
}
