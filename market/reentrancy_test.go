package market_test

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"github.com/pflow-xyz/go-market/bank"
	"github.com/pflow-xyz/go-market/event"
	"github.com/pflow-xyz/go-market/market"
)

func TestPayoutFailureRollsBackAtomically(t *testing.T) {
	eng, l, b, sink := newMarket(t)
	id, err := eng.CreateAndList("alice", "m", u(100))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sink.Reset()

	b.SetHook("alice", func(*uint256.Int) error {
		return errors.New("wallet rejects transfers")
	})

	err = eng.Purchase("bob", id, u(150))
	if !errors.Is(err, bank.ErrReceiveFailed) {
		t.Fatalf("err = %v, want wrapped ErrReceiveFailed", err)
	}

	owner, _ := l.OwnerOf(id)
	if owner != "alice" {
		t.Errorf("owner = %q, want alice restored", owner)
	}
	price, _ := eng.ListingPrice(id)
	if !price.Eq(u(100)) {
		t.Errorf("price = %s, want 100 restored", price.Dec())
	}
	if got := eng.Retained(); !got.IsZero() {
		t.Errorf("retained = %s, want 0 after rollback", got.Dec())
	}
	if got := b.BalanceOf("alice"); !got.IsZero() {
		t.Errorf("seller balance = %s, want 0 after rollback", got.Dec())
	}
	if sink.Len() != 0 {
		t.Errorf("failed purchase emitted %d events", sink.Len())
	}
	if err := eng.Check(); err != nil {
		t.Errorf("invariants after rollback: %v", err)
	}
}

func TestReentrantCallerObservesSettledState(t *testing.T) {
	eng, _, b, _ := newMarket(t)
	id, err := eng.CreateAndList("mallory", "m", u(100))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var sawOwner market.Identity
	var sawListed bool
	b.SetHook("mallory", func(*uint256.Int) error {
		sawOwner, _ = eng.OwnerOf(id)
		sawListed, _ = eng.IsListed(id)
		return nil
	})

	if err := eng.Purchase("bob", id, u(100)); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if sawOwner != "bob" {
		t.Errorf("hook saw owner %q, want bob already committed", sawOwner)
	}
	if sawListed {
		t.Error("hook saw the token still listed during payout")
	}
}

func TestReentrantRepurchaseBlocked(t *testing.T) {
	eng, l, b, _ := newMarket(t)
	id, err := eng.CreateAndList("mallory", "m", u(100))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var reentrant error
	b.SetHook("mallory", func(*uint256.Int) error {
		reentrant = eng.Purchase("mallory", id, u(100))
		return nil
	})

	if err := eng.Purchase("bob", id, u(100)); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	if !errors.Is(reentrant, market.ErrNotListed) {
		t.Errorf("re-entrant purchase err = %v, want ErrNotListed", reentrant)
	}
	owner, _ := l.OwnerOf(id)
	if owner != "bob" {
		t.Errorf("owner = %q, want bob", owner)
	}
	if got := b.BalanceOf("mallory"); !got.Eq(u(100)) {
		t.Errorf("seller paid %s, want exactly 100 once", got.Dec())
	}
}

func TestReentrantCommitsUnwoundByOuterFailure(t *testing.T) {
	eng, l, b, sink := newMarket(t)
	listed, err := eng.CreateAndList("mallory", "m", u(100))
	if err != nil {
		t.Fatalf("create listed: %v", err)
	}
	side, err := eng.CreateAndList("mallory", "side-v1", u(500))
	if err != nil {
		t.Fatalf("create side: %v", err)
	}
	sink.Reset()

	b.SetHook("mallory", func(*uint256.Int) error {
		if err := eng.Evolve("mallory", side, "side-v2"); err != nil {
			t.Errorf("inner evolve: %v", err)
		}
		return errors.New("reject after inner work")
	})

	if err := eng.Purchase("bob", listed, u(100)); !errors.Is(err, bank.ErrReceiveFailed) {
		t.Fatalf("err = %v, want wrapped ErrReceiveFailed", err)
	}

	stage, _ := eng.GetEvolutionStage(side)
	meta, _ := eng.CurrentMetadata(side)
	if stage != 1 || meta != "side-v1" {
		t.Errorf("inner evolve survived outer rollback: stage=%d meta=%q", stage, meta)
	}
	owner, _ := l.OwnerOf(listed)
	if owner != "mallory" {
		t.Errorf("owner = %q, want mallory restored", owner)
	}
	if sink.Len() != 0 {
		t.Errorf("rolled back operations emitted %d events", sink.Len())
	}
	if err := eng.Check(); err != nil {
		t.Errorf("invariants after nested rollback: %v", err)
	}
}

func TestReentrantCommitSurvivesOuterSuccess(t *testing.T) {
	eng, _, b, sink := newMarket(t)
	listed, err := eng.CreateAndList("mallory", "m", u(100))
	if err != nil {
		t.Fatalf("create listed: %v", err)
	}
	side, err := eng.CreateAndList("mallory", "side-v1", u(500))
	if err != nil {
		t.Fatalf("create side: %v", err)
	}
	sink.Reset()

	b.SetHook("mallory", func(*uint256.Int) error {
		return eng.Evolve("mallory", side, "side-v2")
	})

	if err := eng.Purchase("bob", listed, u(100)); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	stage, _ := eng.GetEvolutionStage(side)
	if stage != 2 {
		t.Errorf("side stage = %d, want 2", stage)
	}

	events := sink.Events()
	if len(events) != 2 {
		t.Fatalf("events = %d, want purchase then inner evolve", len(events))
	}
	if events[0].Kind != event.KindPurchased || events[1].Kind != event.KindEvolved {
		t.Errorf("event order = %q,%q, want purchased,evolved", events[0].Kind, events[1].Kind)
	}
}
