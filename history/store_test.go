package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/pflow-xyz/go-market/event"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAppendAssignsSequence(t *testing.T) {
	store := openTestStore(t)

	events := []event.Event{
		event.NewListed(1, "alice", uint256.NewInt(100), "v1"),
		event.NewEvolved(1, 2, "v2"),
		event.NewPurchased(1, "alice", "bob", uint256.NewInt(100), uint256.NewInt(120)),
	}
	for i := range events {
		if err := store.Append(&events[i]); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if events[i].Seq != int64(i+1) {
			t.Errorf("seq = %d, want %d", events[i].Seq, i+1)
		}
	}

	n, err := store.Count()
	if err != nil || n != 3 {
		t.Errorf("count = %d (%v), want 3", n, err)
	}
}

func TestAllReturnsAppendOrder(t *testing.T) {
	store := openTestStore(t)

	first := event.NewListed(1, "alice", uint256.NewInt(10), "m1")
	second := event.NewListed(2, "bob", uint256.NewInt(20), "m2")
	for _, e := range []*event.Event{&first, &second} {
		if err := store.Append(e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	all, err := store.All()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 2 || all[0].Token != 1 || all[1].Token != 2 {
		t.Fatalf("unexpected order: %+v", all)
	}
}

func TestByTokenFilters(t *testing.T) {
	store := openTestStore(t)

	for _, e := range []event.Event{
		event.NewListed(1, "alice", uint256.NewInt(10), "m"),
		event.NewListed(2, "bob", uint256.NewInt(20), "m"),
		event.NewEvolved(1, 2, "m2"),
	} {
		ev := e
		if err := store.Append(&ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	trace, err := store.ByToken(1)
	if err != nil {
		t.Fatalf("byToken: %v", err)
	}
	if len(trace) != 2 {
		t.Fatalf("trace len = %d, want 2", len(trace))
	}
	if trace[0].Kind != event.KindListed || trace[1].Kind != event.KindEvolved {
		t.Errorf("trace kinds = %q,%q", trace[0].Kind, trace[1].Kind)
	}
}

func TestRoundTripPreservesFields(t *testing.T) {
	store := openTestStore(t)

	orig := event.NewPurchased(7, "alice", "bob", uint256.NewInt(100), uint256.NewInt(130))
	if err := store.Append(&orig); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := store.ByToken(7)
	if err != nil || len(got) != 1 {
		t.Fatalf("byToken: %v (%d events)", err, len(got))
	}

	e := got[0]
	if e.ID != orig.ID || e.Kind != event.KindPurchased {
		t.Errorf("id/kind = %q/%q", e.ID, e.Kind)
	}
	if e.Seller != "alice" || e.Buyer != "bob" || e.Price != "100" || e.Paid != "130" {
		t.Errorf("payload = %+v", e)
	}
	if d := e.At.Sub(orig.At); d < -time.Second || d > time.Second {
		t.Errorf("timestamp drifted by %v", d)
	}
}

func TestRecorderAppends(t *testing.T) {
	store := openTestStore(t)
	rec := NewRecorder(store, nil)

	rec.Emit(event.NewListed(1, "alice", uint256.NewInt(5), "m"))

	n, err := store.Count()
	if err != nil || n != 1 {
		t.Errorf("count = %d (%v), want 1", n, err)
	}
}

func TestRecorderSwallowsAppendFailure(t *testing.T) {
	store := openTestStore(t)
	store.Close()
	rec := NewRecorder(store, nil)

	rec.Emit(event.NewListed(1, "alice", uint256.NewInt(5), "m"))
}
