// Package sidestore persists dashboard-only field values.
//
// The side store is a single JSON document on disk mapping
// tableID -> rowID -> columnName -> value. Values stored here are never
// mirrored to the external spreadsheet; they exist only for the
// dashboard and win over synced data when rows are merged for reading.
//
// All access is serialized through one mutex and writes go through an
// atomic temp-file rename, so concurrent saves to different rows cannot
// lose updates the way a naive whole-file read-modify-write would.
package sidestore

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Document is the persisted shape: tableID -> rowID -> fields.
type Document map[string]map[string]map[string]any

// Store provides durable storage for dashboard-only row fields.
type Store struct {
	path   string
	logger *log.Logger

	mu     sync.Mutex
	cache  Document
	loaded bool

	// lastSelfWrite lets the file watcher distinguish our own saves
	// from external edits to the document.
	lastSelfWrite time.Time

	watcher *fileWatcher
}

// Open creates a side store backed by the document at path. The file is
// created lazily on first save. If logger is nil, a default logger
// writing to stderr is used.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[sidestore] ", log.LstdFlags)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create side store directory: %w", err)
	}
	return &Store{path: path, logger: logger}, nil
}

// Path returns the location of the persisted document.
func (s *Store) Path() string {
	return s.path
}

// Save merges the given dashboard fields into the entry for
// (tableID, rowID) and persists the document.
func (s *Store) Save(tableID, rowID string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	if doc[tableID] == nil {
		doc[tableID] = make(map[string]map[string]any)
	}
	entry := doc[tableID][rowID]
	if entry == nil {
		entry = make(map[string]any)
	}
	for k, v := range fields {
		entry[k] = v
	}
	doc[tableID][rowID] = entry

	return s.persist(doc)
}

// Get returns the dashboard fields for one row, or nil if the row has
// no entry. A corrupt document degrades to nil; it never fails a read.
func (s *Store) Get(tableID, rowID string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.load()[tableID][rowID]
	if entry == nil {
		return nil
	}
	out := make(map[string]any, len(entry))
	for k, v := range entry {
		out[k] = v
	}
	return out
}

// GetAll returns every entry for a table keyed by row id. The result is
// a copy; mutating it does not affect the store.
func (s *Store) GetAll(tableID string) map[string]map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.load()[tableID]
	out := make(map[string]map[string]any, len(entries))
	for rowID, fields := range entries {
		cp := make(map[string]any, len(fields))
		for k, v := range fields {
			cp[k] = v
		}
		out[rowID] = cp
	}
	return out
}

// Delete removes the entry for one row. Deleting an absent entry is a
// no-op: the row-delete path calls this unconditionally so that no
// dashboard projection can outlive its row.
func (s *Store) Delete(tableID, rowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	entries, ok := doc[tableID]
	if !ok {
		return nil
	}
	if _, ok := entries[rowID]; !ok {
		return nil
	}
	delete(entries, rowID)
	if len(entries) == 0 {
		delete(doc, tableID)
	}
	return s.persist(doc)
}

// DeleteTable removes every entry for a table. Called when the table
// itself is deleted.
func (s *Store) DeleteTable(tableID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	if _, ok := doc[tableID]; !ok {
		return nil
	}
	delete(doc, tableID)
	return s.persist(doc)
}

// load returns the in-memory document, reading it from disk on first
// use. Corruption is logged and degrades to an empty document so read
// paths never fail; the corrupt file is preserved until the next save.
func (s *Store) load() Document {
	if s.loaded {
		return s.cache
	}

	s.cache = make(Document)
	s.loaded = true

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s.cache
	}
	if err != nil {
		s.logger.Printf("WARNING: cannot read %s, starting empty: %v", s.path, err)
		return s.cache
	}

	if err := json.Unmarshal(data, &s.cache); err != nil {
		s.logger.Printf("WARNING: %s: %v (falling back to empty document)", s.path, corruptionError(err))
		s.cache = make(Document)
	}
	return s.cache
}

// persist writes the document atomically: marshal, write to a temp file
// in the same directory, rename over the original.
func (s *Store) persist(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal side store document: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write side store document: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace side store document: %w", err)
	}

	s.cache = doc
	s.lastSelfWrite = time.Now()
	return nil
}

// invalidate drops the in-memory cache so the next read reloads from
// disk. Called by the file watcher on external edits.
func (s *Store) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	s.cache = nil
}

// wroteRecently reports whether the store itself wrote the document
// within the given window.
func (s *Store) wroteRecently(window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastSelfWrite) < window
}
