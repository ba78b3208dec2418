package search

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/esslab/ess/internal/index"
	"github.com/esslab/ess/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store, *index.Index) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "ess.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatal(err)
	}

	ix, err := index.Open(filepath.Join(t.TempDir(), "index"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ix.Close() })

	for _, a := range []*store.Account{
		{AccountID: "work", EmailAddress: "me@corp.example.com", AccountType: "professional"},
		{AccountID: "home", EmailAddress: "me@gmail.example.com", AccountType: "personal"},
	} {
		if err := st.UpsertAccount(a); err != nil {
			t.Fatal(err)
		}
	}
	return New(st, ix), st, ix
}

func addEmail(t *testing.T, st *store.Store, ix *index.Index, accountID, accountType, id, subject, body string, received time.Time) *store.Email {
	t.Helper()
	e := &store.Email{
		AccountID:       accountID,
		SourceMessageID: id,
		ConversationID:  "conv-" + id,
		Subject:         subject,
		FromAddress:     "alice@example.com",
		FromName:        "Alice",
		ToAddresses:     []string{"me@corp.example.com"},
		BodyText:        body,
		Folder:          "inbox",
		ReceivedAt:      received,
	}
	if _, err := st.UpsertEmail(e); err != nil {
		t.Fatal(err)
	}

	w, err := ix.AcquireWriter()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	w.Upsert(index.DocumentFromEmail(e, accountType))
	if err := w.Commit(); err != nil {
		t.Fatal(err)
	}
	return e
}

func TestSearchHydratesFromStore(t *testing.T) {
	svc, st, ix := newTestService(t)
	at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	addEmail(t, st, ix, "work", "professional", "m1", "Budget Review", "numbers attached", at)

	results, err := svc.Search("budget", Filters{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	r := results[0]
	if r.Email.ID != "work/m1" || r.Email.Subject != "Budget Review" {
		t.Errorf("hydrated email = %+v", r.Email)
	}
	if r.Email.BodyText != "numbers attached" {
		t.Errorf("store fields missing: %+v", r.Email)
	}
	if r.Snippet == "" {
		t.Error("no snippet built")
	}
}

func TestSearchScopeFilter(t *testing.T) {
	svc, st, ix := newTestService(t)
	at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	addEmail(t, st, ix, "work", "professional", "m1", "Budget Review", "work budget", at)
	addEmail(t, st, ix, "home", "personal", "m2", "Household Budget", "home budget", at)

	for _, tc := range []struct {
		scope string
		want  string
	}{
		{"professional", "work/m1"},
		{"pro", "work/m1"},
		{"personal", "home/m2"},
	} {
		scope, err := ParseScope(tc.scope)
		if err != nil {
			t.Fatalf("ParseScope(%q): %v", tc.scope, err)
		}
		results, err := svc.Search("budget", Filters{Scope: scope})
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 1 || results[0].Email.ID != tc.want {
			t.Errorf("scope %q results = %+v, want only %s", tc.scope, results, tc.want)
		}
	}

	all, err := svc.Search("budget", Filters{Scope: ScopeAll})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("all-scope results = %d, want 2", len(all))
	}

	if _, err := ParseScope("bogus"); err == nil {
		t.Error("bogus scope accepted")
	}
}

func TestSearchLimitIsTopOfFilteredSet(t *testing.T) {
	svc, st, ix := newTestService(t)
	at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	// Many professional matches that would fill any small limit.
	for i := range 10 {
		addEmail(t, st, ix, "work", "professional",
			fmt.Sprintf("m%d", i), "Budget Review", "budget details", at.Add(time.Duration(i)*time.Minute))
	}
	addEmail(t, st, ix, "home", "personal", "p1", "Household Budget", "budget details", at)

	results, err := svc.Search("budget", Filters{Scope: ScopePersonal, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Email.ID != "home/p1" {
		t.Errorf("results = %+v, want the single personal match", results)
	}
}

func TestSearchDropsVanishedEmails(t *testing.T) {
	svc, st, ix := newTestService(t)
	at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	addEmail(t, st, ix, "work", "professional", "m1", "Budget Review", "details", at)

	// Remove from the store but not the index, simulating an index that
	// lags behind a deletion.
	if _, err := st.DeleteEmail("work", "m1"); err != nil {
		t.Fatal(err)
	}

	results, err := svc.Search("budget", Filters{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %+v, want vanished hit dropped", results)
	}
}

func TestSearchToPostFilter(t *testing.T) {
	svc, st, ix := newTestService(t)
	at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	addEmail(t, st, ix, "work", "professional", "m1", "Budget Review", "details", at)
	other := addEmail(t, st, ix, "work", "professional", "m2", "Budget Addendum", "details", at)
	other.ToAddresses = []string{"bob@example.com"}
	if _, err := st.UpsertEmail(other); err != nil {
		t.Fatal(err)
	}

	results, err := svc.Search("budget", Filters{To: "bob@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Email.ID != "work/m2" {
		t.Errorf("to-filtered results = %+v", results)
	}
}

func TestThreadFromAnyMember(t *testing.T) {
	svc, st, ix := newTestService(t)
	at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	for i := range 3 {
		e := &store.Email{
			AccountID:       "work",
			SourceMessageID: fmt.Sprintf("t%d", i),
			ConversationID:  "conv-shared",
			Subject:         fmt.Sprintf("Re: Planning %d", i),
			ReceivedAt:      at.Add(time.Duration(i) * time.Hour),
		}
		if _, err := st.UpsertEmail(e); err != nil {
			t.Fatal(err)
		}
	}
	_ = ix

	thread, err := svc.Thread("work/t1")
	if err != nil {
		t.Fatalf("Thread: %v", err)
	}
	if len(thread) != 3 {
		t.Fatalf("thread = %d messages, want 3", len(thread))
	}
	if !thread[0].ReceivedAt.Before(thread[2].ReceivedAt) {
		t.Error("thread not oldest-first")
	}
}

func TestThreadWithoutConversationReturnsSelf(t *testing.T) {
	svc, st, _ := newTestService(t)
	e := &store.Email{
		AccountID:       "work",
		SourceMessageID: "solo",
		Subject:         "Standalone",
		ReceivedAt:      time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
	}
	if _, err := st.UpsertEmail(e); err != nil {
		t.Fatal(err)
	}

	thread, err := svc.Thread("work/solo")
	if err != nil {
		t.Fatal(err)
	}
	if len(thread) != 1 || thread[0].ID != "work/solo" {
		t.Errorf("thread = %+v", thread)
	}
}

func TestShowUnknownIDReturnsNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.Show("work/missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStatsCombinesStoreAndIndex(t *testing.T) {
	svc, st, ix := newTestService(t)
	at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	addEmail(t, st, ix, "work", "professional", "m1", "Budget Review", "details", at)

	stats, err := svc.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Store.EmailCount != 1 || stats.Index.DocCount != 1 {
		t.Errorf("stats = %+v / %+v", stats.Store, stats.Index)
	}
}
