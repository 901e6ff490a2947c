package sidestore

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "dashboard.json")
	s, err := Open(path, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("failed to open side store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := setupTestStore(t)

	if err := s.Save("tbl-1", "row-1", map[string]any{"Notes": "x"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got := s.Get("tbl-1", "row-1")
	if got == nil || got["Notes"] != "x" {
		t.Fatalf("expected {Notes:x}, got %v", got)
	}

	if got := s.Get("tbl-1", "row-missing"); got != nil {
		t.Errorf("expected nil for missing row, got %v", got)
	}
	if got := s.Get("tbl-missing", "row-1"); got != nil {
		t.Errorf("expected nil for missing table, got %v", got)
	}
}

func TestSaveMergesFields(t *testing.T) {
	s := setupTestStore(t)

	if err := s.Save("tbl-1", "row-1", map[string]any{"Notes": "x"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Save("tbl-1", "row-1", map[string]any{"Flag": true}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got := s.Get("tbl-1", "row-1")
	if got["Notes"] != "x" || got["Flag"] != true {
		t.Fatalf("fields not merged: %v", got)
	}
}

func TestGetAll(t *testing.T) {
	s := setupTestStore(t)

	_ = s.Save("tbl-1", "row-1", map[string]any{"Notes": "a"})
	_ = s.Save("tbl-1", "row-2", map[string]any{"Notes": "b"})
	_ = s.Save("tbl-2", "row-9", map[string]any{"Notes": "other"})

	all := s.GetAll("tbl-1")
	if len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(all))
	}
	if all["row-2"]["Notes"] != "b" {
		t.Errorf("wrong entry: %v", all["row-2"])
	}

	// The result is a copy: mutating it must not affect the store.
	all["row-1"]["Notes"] = "mutated"
	if s.Get("tbl-1", "row-1")["Notes"] != "a" {
		t.Error("GetAll returned a live reference into the store")
	}
}

func TestDelete(t *testing.T) {
	s := setupTestStore(t)

	_ = s.Save("tbl-1", "row-1", map[string]any{"Notes": "x"})
	if err := s.Delete("tbl-1", "row-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if got := s.Get("tbl-1", "row-1"); got != nil {
		t.Fatalf("entry not deleted: %v", got)
	}

	// Deleting an absent entry is a no-op.
	if err := s.Delete("tbl-1", "row-1"); err != nil {
		t.Fatalf("deleting absent entry should be a no-op: %v", err)
	}
}

func TestDeleteTable(t *testing.T) {
	s := setupTestStore(t)

	_ = s.Save("tbl-1", "row-1", map[string]any{"Notes": "x"})
	_ = s.Save("tbl-1", "row-2", map[string]any{"Notes": "y"})

	if err := s.DeleteTable("tbl-1"); err != nil {
		t.Fatalf("DeleteTable failed: %v", err)
	}
	if all := s.GetAll("tbl-1"); len(all) != 0 {
		t.Fatalf("table entries not removed: %v", all)
	}
}

func TestDurableAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dashboard.json")
	logger := log.New(io.Discard, "", 0)

	s1, err := Open(path, logger)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := s1.Save("tbl-1", "row-1", map[string]any{"Notes": "persisted"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	_ = s1.Close()

	s2, err := Open(path, logger)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	if got := s2.Get("tbl-1", "row-1"); got == nil || got["Notes"] != "persisted" {
		t.Fatalf("data lost across reopen: %v", got)
	}
}

func TestCorruptDocumentDegradesToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dashboard.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("failed to write corrupt file: %v", err)
	}

	s, err := Open(path, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer s.Close()

	// Reads never fail on corruption; they degrade to empty.
	if got := s.Get("tbl-1", "row-1"); got != nil {
		t.Fatalf("expected nil from corrupt store, got %v", got)
	}

	// A save starts fresh and persists valid JSON again.
	if err := s.Save("tbl-1", "row-1", map[string]any{"Notes": "recovered"}); err != nil {
		t.Fatalf("Save after corruption failed: %v", err)
	}
	if got := s.Get("tbl-1", "row-1"); got == nil || got["Notes"] != "recovered" {
		t.Fatalf("store did not recover: %v", got)
	}
}

func TestWatchReloadsOnExternalEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dashboard.json")
	s, err := Open(path, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer s.Close()

	if err := s.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	// invalidate is what the watcher calls; verify it forces a reload.
	_ = s.Save("tbl-1", "row-1", map[string]any{"Notes": "v1"})
	if err := os.WriteFile(path, []byte(`{"tbl-1":{"row-1":{"Notes":"v2"}}}`), 0644); err != nil {
		t.Fatalf("external write failed: %v", err)
	}
	s.invalidate()

	if got := s.Get("tbl-1", "row-1"); got == nil || got["Notes"] != "v2" {
		t.Fatalf("cache not reloaded after invalidate: %v", got)
	}
}
