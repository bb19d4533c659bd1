package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpen_EmptyWhenMissing(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if len(s.Records()) != 0 {
		t.Error("expected no records for a fresh store")
	}
}

func TestAppend_MostRecentFirst(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	first := Record{Timestamp: time.Unix(1, 0), PeerName: "a", Status: StatusCompleted}
	second := Record{Timestamp: time.Unix(2, 0), PeerName: "b", Status: StatusCompleted}

	if err := s.Append(first); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := s.Append(second); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	records := s.Records()
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].PeerName != "b" || records[1].PeerName != "a" {
		t.Errorf("records not most-recent-first: %+v", records)
	}
}

func TestAppend_CapsAtMaxRecords(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	for i := 0; i < MaxRecords+10; i++ {
		if err := s.Append(Record{PeerName: "x", Status: StatusCompleted}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	if got := len(s.Records()); got != MaxRecords {
		t.Errorf("len(records) = %d, want %d", got, MaxRecords)
	}
}

func TestAppend_Persists(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Append(Record{PeerName: "a", Status: StatusError, ErrorMsg: "boom"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, fileName)); err != nil {
		t.Fatalf("transfer_history.json not written: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("re-Open() error = %v", err)
	}
	records := s2.Records()
	if len(records) != 1 || records[0].ErrorMsg != "boom" {
		t.Errorf("reloaded records = %+v", records)
	}
}

func TestOpen_RejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, fileName), []byte("not json"), 0600); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if _, err := Open(dir); err == nil {
		t.Error("Open() with malformed history file should error")
	}
}
