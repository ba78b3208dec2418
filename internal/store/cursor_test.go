package store

import "testing"

func TestCursorRoundTrip(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetCursor("graph_cursor:work:folder-1")
	if err != nil {
		t.Fatalf("GetCursor: %v", err)
	}
	if got != "" {
		t.Errorf("missing cursor = %q, want empty", got)
	}

	if err := s.SetCursor("graph_cursor:work:folder-1", "delta-1"); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}
	if err := s.SetCursor("graph_cursor:work:folder-1", "delta-2"); err != nil {
		t.Fatalf("SetCursor overwrite: %v", err)
	}

	got, err = s.GetCursor("graph_cursor:work:folder-1")
	if err != nil {
		t.Fatal(err)
	}
	if got != "delta-2" {
		t.Errorf("cursor = %q, want delta-2", got)
	}

	if err := s.ClearCursor("graph_cursor:work:folder-1"); err != nil {
		t.Fatalf("ClearCursor: %v", err)
	}
	got, err = s.GetCursor("graph_cursor:work:folder-1")
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("cursor after clear = %q, want empty", got)
	}
}

func TestCursorLegacyMigration(t *testing.T) {
	s := newTestStore(t)

	// Two generations of legacy keys: display-name scoped and un-scoped.
	if err := s.SetSyncState("graph_cursor:work", "oldest"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSyncState("graph_cursor:work:Inbox", "older"); err != nil {
		t.Fatal(err)
	}

	// The first legacy key that matches wins.
	got, err := s.GetCursor("graph_cursor:work:folder-1", "graph_cursor:work:Inbox", "graph_cursor:work")
	if err != nil {
		t.Fatalf("GetCursor: %v", err)
	}
	if got != "older" {
		t.Errorf("migrated cursor = %q, want older", got)
	}

	// The value now lives under the new key; the used legacy key is gone.
	direct, err := s.GetSyncState("graph_cursor:work:folder-1")
	if err != nil {
		t.Fatal(err)
	}
	if direct != "older" {
		t.Errorf("new key = %q, want older", direct)
	}
	stale, err := s.GetSyncState("graph_cursor:work:Inbox")
	if err != nil {
		t.Fatal(err)
	}
	if stale != "" {
		t.Errorf("legacy key not removed: %q", stale)
	}

	// A second read no longer consults legacy keys.
	got, err = s.GetCursor("graph_cursor:work:folder-1", "graph_cursor:work")
	if err != nil {
		t.Fatal(err)
	}
	if got != "older" {
		t.Errorf("second read = %q, want older", got)
	}
}

func TestCursorMigrationDoesNotOverwrite(t *testing.T) {
	s := newTestStore(t)

	if err := s.SetCursor("graph_cursor:work:folder-1", "current"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSyncState("graph_cursor:work", "legacy"); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetCursor("graph_cursor:work:folder-1", "graph_cursor:work")
	if err != nil {
		t.Fatal(err)
	}
	if got != "current" {
		t.Errorf("cursor = %q, want current (legacy must not shadow)", got)
	}
}
