package locking

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"bitbucket.org/mmdatafocus/storefront_backend/events"
	"github.com/sirupsen/logrus"
)

func newTestRegistry() (*Registry, *SessionRegistry) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	sessions := NewSessionRegistry()
	return NewRegistry(sessions, events.NewLocalNotifier(), logger), sessions
}

func TestAcquire_SecondHolderIsRejectedWithLabel(t *testing.T) {
	registry, sessions := newTestRegistry()
	alice := sessions.Open("alice")
	bob := sessions.Open("bob")

	if err := registry.Acquire("product", 7, alice, "alice"); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	err := registry.Acquire("product", 7, bob, "bob")
	var lockedErr *AlreadyLockedError
	if !errors.As(err, &lockedErr) {
		t.Fatalf("expected AlreadyLockedError, got %v", err)
	}
	if lockedErr.HolderLabel != "alice" {
		t.Fatalf("expected holder label alice, got %q", lockedErr.HolderLabel)
	}
}

func TestAcquire_IsReentrantForSameHolder(t *testing.T) {
	registry, sessions := newTestRegistry()
	alice := sessions.Open("alice")

	if err := registry.Acquire("product", 7, alice, "alice"); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if err := registry.Acquire("product", 7, alice, "alice"); err != nil {
		t.Fatalf("re-acquire by same holder failed: %v", err)
	}
}

func TestAcquire_SameIdDifferentEntityTypesDoNotCollide(t *testing.T) {
	registry, sessions := newTestRegistry()
	alice := sessions.Open("alice")
	bob := sessions.Open("bob")

	if err := registry.Acquire("product", 1, alice, "alice"); err != nil {
		t.Fatalf("product acquire failed: %v", err)
	}
	if err := registry.Acquire("category", 1, bob, "bob"); err != nil {
		t.Fatalf("category acquire should not collide with product: %v", err)
	}
}

func TestAcquire_NegativeEntityIdIsRejected(t *testing.T) {
	registry, sessions := newTestRegistry()
	alice := sessions.Open("alice")

	if err := registry.Acquire("product", -1, alice, "alice"); err == nil {
		t.Fatal("expected error for negative entity id")
	}
}

func TestAcquire_ReclaimsLockFromClosedSession(t *testing.T) {
	registry, sessions := newTestRegistry()
	alice := sessions.Open("alice")
	bob := sessions.Open("bob")

	if err := registry.Acquire("product", 7, alice, "alice"); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	// alice's browser is gone; no unlock ever arrives.
	sessions.Close(alice)

	if err := registry.Acquire("product", 7, bob, "bob"); err != nil {
		t.Fatalf("expected stale lock to be reclaimed, got %v", err)
	}
	holder, locked := registry.IsLocked("product", 7)
	if !locked || holder != "bob" {
		t.Fatalf("expected bob to hold the lock, got %q locked=%v", holder, locked)
	}
}

func TestIsLocked_SweepsStaleEntryOnProbe(t *testing.T) {
	registry, sessions := newTestRegistry()
	alice := sessions.Open("alice")

	if err := registry.Acquire("product", 7, alice, "alice"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	sessions.Close(alice)

	if _, locked := registry.IsLocked("product", 7); locked {
		t.Fatal("probe should report a dead holder's lock as free")
	}
	// The probe must have removed the entry, not just hidden it.
	if n := len(registry.Holders()); n != 0 {
		t.Fatalf("expected no live locks after sweep, got %d", n)
	}
}

func TestRelease_RequiresTheHoldersToken(t *testing.T) {
	registry, sessions := newTestRegistry()
	alice := sessions.Open("alice")
	bob := sessions.Open("bob")

	if err := registry.Acquire("product", 7, alice, "alice"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	registry.Release("product", 7, bob)
	if holder, locked := registry.IsLocked("product", 7); !locked || holder != "alice" {
		t.Fatalf("release with wrong token must not unlock; holder=%q locked=%v", holder, locked)
	}

	registry.Release("product", 7, alice)
	if _, locked := registry.IsLocked("product", 7); locked {
		t.Fatal("lock should be free after the holder releases")
	}
	// Releasing again is a no-op.
	registry.Release("product", 7, alice)
}

func TestHolders_ListsOnlyLiveLocks(t *testing.T) {
	registry, sessions := newTestRegistry()
	alice := sessions.Open("alice")
	bob := sessions.Open("bob")

	if err := registry.Acquire("product", 1, alice, "alice"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := registry.Acquire("product", 2, bob, "bob"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	sessions.Close(alice)

	holders := registry.Holders()
	if len(holders) != 1 {
		t.Fatalf("expected 1 live lock, got %d", len(holders))
	}
	if holders[0].HolderLabel != "bob" || holders[0].EntityId != 2 {
		t.Fatalf("unexpected survivor: %+v", holders[0])
	}
}

func TestReleaseAllHeldBy_DropsEverySessionLock(t *testing.T) {
	registry, sessions := newTestRegistry()
	alice := sessions.Open("alice")
	bob := sessions.Open("bob")

	for i := 1; i <= 3; i++ {
		if err := registry.Acquire("product", i, alice, "alice"); err != nil {
			t.Fatalf("acquire failed: %v", err)
		}
	}
	if err := registry.Acquire("category", 9, bob, "bob"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	registry.ReleaseAllHeldBy(alice)

	holders := registry.Holders()
	if len(holders) != 1 || holders[0].HolderLabel != "bob" {
		t.Fatalf("expected only bob's lock to survive, got %+v", holders)
	}
}

func TestAcquire_ConcurrentRacersYieldExactlyOneWinner(t *testing.T) {
	registry, sessions := newTestRegistry()

	const racers = 32
	var wg sync.WaitGroup
	winners := make(chan string, racers)
	for i := 0; i < racers; i++ {
		label := fmt.Sprintf("user-%d", i)
		token := sessions.Open(label)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := registry.Acquire("product", 42, token, label); err == nil {
				winners <- label
			}
		}()
	}
	wg.Wait()
	close(winners)

	var won []string
	for label := range winners {
		won = append(won, label)
	}
	if len(won) != 1 {
		t.Fatalf("expected exactly one winner, got %d: %v", len(won), won)
	}
	holder, locked := registry.IsLocked("product", 42)
	if !locked || holder != won[0] {
		t.Fatalf("registry holder %q does not match winner %q", holder, won[0])
	}
}

func TestSessionRegistry_OpenCloseLifecycle(t *testing.T) {
	sessions := NewSessionRegistry()
	token := sessions.Open("alice")

	if !sessions.IsOpen(token) {
		t.Fatal("session should be open after Open")
	}
	if label, ok := sessions.Label(token); !ok || label != "alice" {
		t.Fatalf("expected label alice, got %q ok=%v", label, ok)
	}

	sessions.Close(token)
	if sessions.IsOpen(token) {
		t.Fatal("session should be closed after Close")
	}
	// Close is idempotent.
	sessions.Close(token)
}
