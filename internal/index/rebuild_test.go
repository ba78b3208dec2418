package index

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/esslab/ess/internal/store"
)

func TestRebuildMatchesIncremental(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "ess.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()
	if err := st.InitSchema(); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertAccount(&store.Account{
		AccountID:    "work",
		EmailAddress: "me@corp.example.com",
		AccountType:  "professional",
		Enabled:      true,
	}); err != nil {
		t.Fatal(err)
	}

	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	emails := []*store.Email{
		{
			AccountID: "work", SourceMessageID: "m1",
			Subject: "Kickoff notes", FromAddress: "alice@example.com", FromName: "Alice",
			BodyText: "agenda attached", ReceivedAt: base,
		},
		{
			AccountID: "work", SourceMessageID: "m2",
			Subject: "Weekly digest", FromAddress: "bob@example.com", FromName: "Bob",
			BodyHTML: "<p>the kickoff moved to <b>Tuesday</b></p>", ReceivedAt: base.Add(time.Hour),
		},
	}
	for _, e := range emails {
		if _, err := st.UpsertEmail(e); err != nil {
			t.Fatal(err)
		}
	}

	// Incrementally built index.
	ix := newTestIndex(t)
	w, err := ix.AcquireWriter()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	for _, e := range emails {
		w.Upsert(DocumentFromEmail(e, "professional"))
	}
	mustCommit(t, w)

	incrementalHits, err := ix.Search("kickoff", Filters{}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}

	// Rebuild from the store alone into the same index.
	if err := w.Rebuild(StoreSource{Store: st}); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	rebuiltHits, err := ix.Search("kickoff", Filters{}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(incrementalHits, rebuiltHits); diff != "" {
		t.Errorf("rebuild hits differ from incremental (-incremental +rebuilt):\n%s", diff)
	}

	stats, err := ix.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	count, err := st.CountEmails("")
	if err != nil {
		t.Fatal(err)
	}
	if stats.DocCount != count {
		t.Errorf("doc count = %d, email count = %d", stats.DocCount, count)
	}

	// HTML body was indexed as text.
	hits, err := ix.Search("Tuesday", Filters{}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].EmailID != "work/m2" {
		t.Errorf("html body hits = %+v", hits)
	}
}
