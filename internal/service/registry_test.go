package service

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Strob0t/chathub/internal/domain"
	"github.com/Strob0t/chathub/internal/domain/chat"
)

var (
	alice = chat.Identity{UserID: "u-alice", Name: "alice"}
	bob   = chat.Identity{UserID: "u-bob", Name: "bob"}
)

func TestRegistry_RegisterAssignsUniqueIDs(t *testing.T) {
	r := NewRegistry()
	seen := make(map[string]bool)
	for range 100 {
		id := r.Register(alice, newMockHandle())
		if id == "" {
			t.Fatal("expected non-empty id")
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
	if r.Len() != 100 {
		t.Fatalf("Len = %d, want 100", r.Len())
	}
}

func TestRegistry_SnapshotInsertionOrder(t *testing.T) {
	n := 0
	r := NewRegistry(WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("c-%02d", n)
	}))

	// Register in an order that differs from lexical id order after removal.
	a := r.Register(alice, newMockHandle())
	b := r.Register(bob, newMockHandle())
	c := r.Register(alice, newMockHandle())
	r.Unregister(b)
	d := r.Register(bob, newMockHandle())

	snap := r.Snapshot()
	want := []string{a, c, d}
	if len(snap) != len(want) {
		t.Fatalf("snapshot len = %d, want %d", len(snap), len(want))
	}
	for i, conn := range snap {
		if conn.ID != want[i] {
			t.Errorf("snapshot[%d] = %s, want %s", i, conn.ID, want[i])
		}
	}
	if snap[0].Identity != alice || snap[2].Identity != bob {
		t.Errorf("identities not carried: %+v", snap)
	}
	if snap[0].ConnectedAt.IsZero() {
		t.Error("expected ConnectedAt to be set")
	}
}

func TestRegistry_SnapshotIsCopy(t *testing.T) {
	r := NewRegistry()
	id := r.Register(alice, newMockHandle())

	snap := r.Snapshot()
	r.Unregister(id)
	r.Register(bob, newMockHandle())

	if len(snap) != 1 || snap[0].ID != id {
		t.Fatalf("snapshot changed after mutation: %+v", snap)
	}
}

func TestRegistry_UnregisterIdempotent(t *testing.T) {
	r := NewRegistry()
	h := newMockHandle()
	id := r.Register(alice, h)
	other := r.Register(bob, newMockHandle())

	if !r.Unregister(id) {
		t.Fatal("first Unregister should report removal")
	}
	if r.Unregister(id) {
		t.Fatal("second Unregister should be a no-op")
	}
	if r.Unregister("never-registered") {
		t.Fatal("Unregister of unknown id should be a no-op")
	}

	if r.Len() != 1 || !r.Contains(other) || r.Contains(id) {
		t.Fatalf("unexpected end state: len=%d", r.Len())
	}
	if got := h.closes.Load(); got != 1 {
		t.Fatalf("handle closed %d times, want 1", got)
	}
}

func TestRegistry_DuplicateIDPanics(t *testing.T) {
	r := NewRegistry(WithIDGenerator(func() string { return "fixed" }))
	r.Register(alice, newMockHandle())

	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic on duplicate id")
		}
		err, ok := rec.(error)
		if !ok || !errors.Is(err, domain.ErrRegistryInvariant) {
			t.Fatalf("panic value = %v, want ErrRegistryInvariant", rec)
		}
		if r.Len() != 1 {
			t.Fatalf("registry mutated by failed insert: len=%d", r.Len())
		}
	}()
	r.Register(bob, newMockHandle())
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry()
	handles := []*mockHandle{newMockHandle(), newMockHandle(), newMockHandle()}
	for _, h := range handles {
		r.Register(alice, h)
	}

	if n := r.CloseAll(); n != 3 {
		t.Fatalf("CloseAll = %d, want 3", n)
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d after CloseAll", r.Len())
	}
	for i, h := range handles {
		if h.closes.Load() != 1 {
			t.Errorf("handle %d not closed", i)
		}
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				id := r.Register(alice, newMockHandle())
				_ = r.Snapshot()
				r.Unregister(id)
			}
		}()
	}
	wg.Wait()

	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
}
