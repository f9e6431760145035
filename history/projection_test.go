package history

import (
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"

	"github.com/pflow-xyz/go-market/bank"
	"github.com/pflow-xyz/go-market/event"
	"github.com/pflow-xyz/go-market/ledger"
	"github.com/pflow-xyz/go-market/market"
)

func TestProjectionFoldsLifecycle(t *testing.T) {
	p := NewProjection()
	events := []event.Event{
		event.NewListed(1, "alice", uint256.NewInt(100), "v1"),
		event.NewEvolved(1, 2, "v2"),
		event.NewListed(1, "alice", uint256.NewInt(80), "v2"),
		event.NewPurchased(1, "alice", "bob", uint256.NewInt(80), uint256.NewInt(95)),
	}

	if err := p.Replay(events); err != nil {
		t.Fatalf("replay: %v", err)
	}

	state, ok := p.Token(1)
	if !ok {
		t.Fatal("token 1 missing from projection")
	}
	if state.Owner != "bob" {
		t.Errorf("owner = %q, want bob", state.Owner)
	}
	if state.Price != "0" {
		t.Errorf("price = %q, want 0 after purchase", state.Price)
	}
	if state.Stage != 2 || state.Metadata != "v2" {
		t.Errorf("stage/metadata = %d/%q, want 2/v2", state.Stage, state.Metadata)
	}
	if state.Stages[1] != "v1" || state.Stages[2] != "v2" {
		t.Errorf("stages = %v", state.Stages)
	}
	if state.Sales != 1 || !state.Volume.Eq(uint256.NewInt(80)) {
		t.Errorf("sales/volume = %d/%s, want 1/80", state.Sales, state.Volume.Dec())
	}
}

func TestProjectionRejectsOrphanEvents(t *testing.T) {
	p := NewProjection()

	if err := p.Apply(event.NewPurchased(9, "a", "b", uint256.NewInt(1), uint256.NewInt(1))); err == nil {
		t.Error("purchase for unknown token accepted")
	}
	if err := p.Apply(event.NewEvolved(9, 2, "m")); err == nil {
		t.Error("evolve for unknown token accepted")
	}
	if err := p.Apply(event.Event{Kind: "bogus", Token: 1}); err == nil {
		t.Error("unknown kind accepted")
	}
}

func TestRelistAfterSaleKeepsOwner(t *testing.T) {
	p := NewProjection()
	events := []event.Event{
		event.NewListed(1, "alice", uint256.NewInt(100), "v1"),
		event.NewPurchased(1, "alice", "bob", uint256.NewInt(100), uint256.NewInt(100)),
		event.NewListed(1, "bob", uint256.NewInt(300), "v1"),
	}

	if err := p.Replay(events); err != nil {
		t.Fatalf("replay: %v", err)
	}

	state, _ := p.Token(1)
	if state.Owner != "bob" || state.Price != "300" {
		t.Errorf("owner/price = %q/%q, want bob/300", state.Owner, state.Price)
	}
}

func TestReplayFromStoreMatchesLiveEngine(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "replay.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	l := ledger.New()
	b := bank.New()
	eng, err := market.New(l, b, NewRecorder(store, nil))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	first, err := eng.CreateAndList("alice", "ipfs://a", uint256.NewInt(100))
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := eng.CreateAndList("carol", "ipfs://c", uint256.NewInt(900))
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if err := eng.Evolve("alice", first, "ipfs://b"); err != nil {
		t.Fatalf("evolve: %v", err)
	}
	if err := eng.UpdateListingPrice("alice", first, uint256.NewInt(150)); err != nil {
		t.Fatalf("reprice: %v", err)
	}
	if err := eng.Purchase("bob", first, uint256.NewInt(175)); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	events, err := store.All()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	p := NewProjection()
	if err := p.Replay(events); err != nil {
		t.Fatalf("replay: %v", err)
	}

	if p.Len() != 2 {
		t.Fatalf("projection tokens = %d, want 2", p.Len())
	}
	for _, id := range []market.TokenID{first, second} {
		state, ok := p.Token(uint64(id))
		if !ok {
			t.Fatalf("token %d missing from projection", id)
		}
		owner, _ := l.OwnerOf(id)
		if state.Owner != string(owner) {
			t.Errorf("token %d owner = %q, want %q", id, state.Owner, owner)
		}
		price, _ := eng.ListingPrice(id)
		if state.Price != price.Dec() {
			t.Errorf("token %d price = %q, want %q", id, state.Price, price.Dec())
		}
		stage, _ := eng.GetEvolutionStage(id)
		if state.Stage != stage {
			t.Errorf("token %d stage = %d, want %d", id, state.Stage, stage)
		}
		current, _ := eng.CurrentMetadata(id)
		if state.Metadata != current {
			t.Errorf("token %d metadata = %q, want %q", id, state.Metadata, current)
		}
		for s := uint64(1); s <= stage; s++ {
			want, _ := eng.StageMetadata(id, s)
			if state.Stages[s] != want {
				t.Errorf("token %d stage %d metadata = %q, want %q", id, s, state.Stages[s], want)
			}
		}
	}
}
