package store

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ess.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.InitSchema(); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	if err := s.UpsertAccount(&Account{
		AccountID:    "work",
		EmailAddress: "me@corp.example.com",
		AccountType:  "professional",
		Enabled:      true,
	}); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}
	return s
}

func testEmail(srcID, subject string, received time.Time) *Email {
	return &Email{
		AccountID:       "work",
		SourceMessageID: srcID,
		ConversationID:  "conv-1",
		Subject:         subject,
		FromAddress:     "alice@example.com",
		FromName:        "Alice",
		ToAddresses:     []string{"me@corp.example.com"},
		BodyText:        "Body of " + subject,
		ReceivedAt:      received,
	}
}

func TestUpsertEmailEffects(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	e := testEmail("msg-1", "Hello", base)
	eff, err := s.UpsertEmail(e)
	if err != nil {
		t.Fatalf("UpsertEmail: %v", err)
	}
	if eff != EffectInserted {
		t.Errorf("first upsert = %v, want inserted", eff)
	}

	// Same content again: unchanged, no duplicate row.
	eff, err = s.UpsertEmail(testEmail("msg-1", "Hello", base))
	if err != nil {
		t.Fatalf("UpsertEmail repeat: %v", err)
	}
	if eff != EffectUnchanged {
		t.Errorf("repeat upsert = %v, want unchanged", eff)
	}

	// Changed content: update in place.
	changed := testEmail("msg-1", "Hello", base)
	changed.IsRead = true
	eff, err = s.UpsertEmail(changed)
	if err != nil {
		t.Fatalf("UpsertEmail changed: %v", err)
	}
	if eff != EffectUpdated {
		t.Errorf("changed upsert = %v, want updated", eff)
	}

	n, err := s.CountEmails("work")
	if err != nil {
		t.Fatalf("CountEmails: %v", err)
	}
	if n != 1 {
		t.Errorf("email count = %d, want 1", n)
	}

	got, err := s.GetEmailBySource("work", "msg-1")
	if err != nil {
		t.Fatalf("GetEmailBySource: %v", err)
	}
	if !got.IsRead {
		t.Error("IsRead not updated")
	}
}

func TestUpsertPreservesRowID(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	e := testEmail("msg-1", "Hello", base)
	if _, err := s.UpsertEmail(e); err != nil {
		t.Fatal(err)
	}
	firstID := e.ID

	changed := testEmail("msg-1", "Hello again", base)
	if _, err := s.UpsertEmail(changed); err != nil {
		t.Fatal(err)
	}
	if changed.ID != firstID {
		t.Errorf("update changed ID from %q to %q", firstID, changed.ID)
	}
}

func TestDeleteEmail(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	e := testEmail("msg-1", "Hello", base)
	if _, err := s.UpsertEmail(e); err != nil {
		t.Fatal(err)
	}

	id, err := s.DeleteEmail("work", "msg-1")
	if err != nil {
		t.Fatalf("DeleteEmail: %v", err)
	}
	if id != e.ID {
		t.Errorf("deleted ID = %q, want %q", id, e.ID)
	}

	// Deleting again is a no-op, not an error.
	id, err = s.DeleteEmail("work", "msg-1")
	if err != nil {
		t.Fatalf("DeleteEmail repeat: %v", err)
	}
	if id != "" {
		t.Errorf("second delete returned ID %q", id)
	}

	if _, err := s.GetEmailBySource("work", "msg-1"); err != ErrNotFound {
		t.Errorf("GetEmailBySource after delete: err = %v, want ErrNotFound", err)
	}
}

func TestListEmailsFilters(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertAccount(&Account{
		AccountID:    "home",
		EmailAddress: "me@gmail.example.com",
		AccountType:  "personal",
		Enabled:      true,
	}); err != nil {
		t.Fatal(err)
	}

	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	emails := []*Email{
		testEmail("msg-1", "Standup", base),
		testEmail("msg-2", "Planning", base.Add(time.Hour)),
	}
	emails[1].FromAddress = "bob@example.com"
	emails[1].Folder = "sent"

	personal := testEmail("msg-3", "Groceries", base.Add(2*time.Hour))
	personal.AccountID = "home"
	personal.IsRead = true
	emails = append(emails, personal)

	for _, e := range emails {
		if _, err := s.UpsertEmail(e); err != nil {
			t.Fatal(err)
		}
	}

	// Newest first, no filter.
	all, err := s.ListEmails(Filter{Limit: 10})
	if err != nil {
		t.Fatalf("ListEmails: %v", err)
	}
	var subjects []string
	for _, e := range all {
		subjects = append(subjects, e.Subject)
	}
	want := []string{"Groceries", "Planning", "Standup"}
	if diff := cmp.Diff(want, subjects); diff != "" {
		t.Errorf("subjects mismatch (-want +got):\n%s", diff)
	}

	// Account type filter.
	pro, err := s.ListEmails(Filter{AccountType: "professional", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(pro) != 2 {
		t.Errorf("professional count = %d, want 2", len(pro))
	}

	// Sender filter.
	fromBob, err := s.ListEmails(Filter{From: "Bob@Example.com", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(fromBob) != 1 || fromBob[0].Subject != "Planning" {
		t.Errorf("from filter got %d results", len(fromBob))
	}

	// Unread filter.
	unread, err := s.ListEmails(Filter{UnreadOnly: true, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != 2 {
		t.Errorf("unread count = %d, want 2", len(unread))
	}

	// Time window.
	windowed, err := s.ListEmails(Filter{Since: base.Add(30 * time.Minute), Until: base.Add(90 * time.Minute), Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(windowed) != 1 || windowed[0].Subject != "Planning" {
		t.Errorf("window filter got %d results", len(windowed))
	}
}

func TestGetThreadOrdering(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	for i, subject := range []string{"Re: Plan", "Plan", "Re: Re: Plan"} {
		e := testEmail("msg-"+subject, subject, base.Add(time.Duration(i)*time.Minute))
		if _, err := s.UpsertEmail(e); err != nil {
			t.Fatal(err)
		}
	}
	// Reorder: make "Plan" the earliest.
	plan := testEmail("msg-Plan", "Plan", base.Add(-time.Hour))
	if _, err := s.UpsertEmail(plan); err != nil {
		t.Fatal(err)
	}

	thread, err := s.GetThread("conv-1")
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if len(thread) != 3 {
		t.Fatalf("thread length = %d, want 3", len(thread))
	}
	if thread[0].Subject != "Plan" {
		t.Errorf("thread not ordered oldest first: %q", thread[0].Subject)
	}
}

func TestRoundTripPreservesFields(t *testing.T) {
	s := newTestStore(t)

	e := testEmail("msg-1", "Round trip", time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))
	e.CcAddresses = []string{"cc@example.com"}
	e.Categories = []string{"project-x", "urgent"}
	e.SentAt = e.ReceivedAt.Add(-time.Minute)
	e.BodyHTML = "<p>Round trip</p>"
	e.Importance = "high"
	e.HasAttachments = true
	e.WebLink = "https://outlook.example.com/msg-1"

	if _, err := s.UpsertEmail(e); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetEmail(e.ID)
	if err != nil {
		t.Fatalf("GetEmail: %v", err)
	}
	if diff := cmp.Diff(e, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteAccountCascades(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	if _, err := s.UpsertEmail(testEmail("msg-1", "Hello", base)); err != nil {
		t.Fatal(err)
	}
	if err := s.SetCursor("graph_cursor:work:folder-1", "delta-token"); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteAccount("work"); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}

	n, err := s.CountEmails("")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("emails remaining after account delete: %d", n)
	}

	cursor, err := s.GetCursor("graph_cursor:work:folder-1")
	if err != nil {
		t.Fatal(err)
	}
	if cursor != "" {
		t.Errorf("cursor remaining after account delete: %q", cursor)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	wantErr := sql.ErrTxDone // arbitrary sentinel for the test
	err := s.WithTx(func(tx *sql.Tx) error {
		if _, err := UpsertEmailTx(tx, testEmail("msg-1", "Doomed", base)); err != nil {
			return err
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("WithTx err = %v, want %v", err, wantErr)
	}

	n, err := s.CountEmails("work")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("rolled back tx left %d rows", n)
	}
}

func TestGetStats(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	if err := s.UpsertAccount(&Account{
		AccountID:    "home",
		EmailAddress: "me@gmail.example.com",
		AccountType:  "personal",
		Enabled:      true,
	}); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := s.UpsertEmail(testEmail(fmt.Sprintf("msg-%d", i), "Subject", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}
	personal := testEmail("msg-p1", "Personal", base)
	personal.AccountID = "home"
	if _, err := s.UpsertEmail(personal); err != nil {
		t.Fatal(err)
	}

	stats, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.EmailCount != 4 {
		t.Errorf("EmailCount = %d, want 4", stats.EmailCount)
	}
	if stats.AccountCount != 2 {
		t.Errorf("AccountCount = %d, want 2", stats.AccountCount)
	}
	if stats.PerAccount["work"] != 3 || stats.PerAccount["home"] != 1 {
		t.Errorf("PerAccount = %v", stats.PerAccount)
	}
	if stats.DatabaseSize == 0 {
		t.Error("DatabaseSize = 0")
	}
}
