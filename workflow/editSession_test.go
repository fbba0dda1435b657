package workflow

import (
	"context"
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/storefront_backend/events"
	"bitbucket.org/mmdatafocus/storefront_backend/locking"
	"bitbucket.org/mmdatafocus/storefront_backend/models"
	"github.com/sirupsen/logrus"
)

func newTestEditSessions(store DraftStore) (*EditSessions, *locking.Registry) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	sessions := locking.NewSessionRegistry()
	locks := locking.NewRegistry(sessions, events.NewLocalNotifier(), logger)
	drafts := NewDraftLifecycle(store, nil, logger)
	return NewEditSessions(sessions, locks, drafts, logger), locks
}

func TestBeginEdit_UnknownTokenIsRejected(t *testing.T) {
	edits, _ := newTestEditSessions(newFakeDraftStore())

	err := edits.BeginEdit(context.Background(), "no-such-token", "product", 1)
	if !errors.Is(err, ErrSessionNotOpen) {
		t.Fatalf("expected ErrSessionNotOpen, got %v", err)
	}
}

func TestBeginEdit_ConflictReportsTheHoldersLabel(t *testing.T) {
	edits, _ := newTestEditSessions(newFakeDraftStore())
	alice := edits.Begin("alice")
	bob := edits.Begin("bob")

	if err := edits.BeginEdit(context.Background(), alice, "product", 1); err != nil {
		t.Fatalf("alice's edit should start: %v", err)
	}

	err := edits.BeginEdit(context.Background(), bob, "product", 1)
	var lockedErr *locking.AlreadyLockedError
	if !errors.As(err, &lockedErr) || lockedErr.HolderLabel != "alice" {
		t.Fatalf("expected conflict naming alice, got %v", err)
	}
}

func TestEnd_FreesEveryLockTheSessionHeld(t *testing.T) {
	edits, locks := newTestEditSessions(newFakeDraftStore())
	alice := edits.Begin("alice")
	bob := edits.Begin("bob")

	for i := 1; i <= 2; i++ {
		if err := edits.BeginEdit(context.Background(), alice, "product", i); err != nil {
			t.Fatalf("edit %d: %v", i, err)
		}
	}
	edits.End(alice)

	for i := 1; i <= 2; i++ {
		if err := edits.BeginEdit(context.Background(), bob, "product", i); err != nil {
			t.Fatalf("lock %d should be free after End: %v", i, err)
		}
	}
	if n := len(locks.Holders()); n != 2 {
		t.Fatalf("expected bob's 2 locks, got %d", n)
	}
}

func TestTerminateAbnormally_AutosavesAndFreesLocks(t *testing.T) {
	store := newFakeDraftStore()
	store.products[5] = &models.Product{ID: 5, Name: "A5 Notebook"}
	edits, locks := newTestEditSessions(store)
	alice := edits.Begin("alice")

	if err := edits.BeginEdit(context.Background(), alice, "product", 5); err != nil {
		t.Fatalf("edit should start: %v", err)
	}

	baseId := 5
	fieldValues := map[string]string{models.FieldProductName: "A5 Notebook (dotted)"}
	originals := map[string]string{models.FieldProductName: "A5 Notebook"}
	if err := edits.TerminateAbnormally(context.Background(), alice, 1, &baseId, 0, fieldValues, originals); err != nil {
		t.Fatalf("terminate failed: %v", err)
	}

	if _, ok := store.drafts[1]; !ok {
		t.Fatal("expected an autosaved draft for owner 1")
	}
	if n := len(locks.Holders()); n != 0 {
		t.Fatalf("locks must be freed on termination, %d remain", n)
	}
}

func TestTerminateAbnormally_NoUnsavedChangesLeavesNoDraft(t *testing.T) {
	store := newFakeDraftStore()
	edits, locks := newTestEditSessions(store)
	alice := edits.Begin("alice")

	if err := edits.BeginEdit(context.Background(), alice, "product", 5); err != nil {
		t.Fatalf("edit should start: %v", err)
	}
	if err := edits.TerminateAbnormally(context.Background(), alice, 1, nil, 0, nil, nil); err != nil {
		t.Fatalf("terminate failed: %v", err)
	}

	if _, ok := store.drafts[1]; ok {
		t.Fatal("no draft expected when nothing was typed")
	}
	if n := len(locks.Holders()); n != 0 {
		t.Fatalf("locks must be freed, %d remain", n)
	}
}
