package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/holiman/uint256"

	"github.com/pflow-xyz/go-market/bank"
	"github.com/pflow-xyz/go-market/event"
	"github.com/pflow-xyz/go-market/history"
	"github.com/pflow-xyz/go-market/ledger"
	"github.com/pflow-xyz/go-market/market"
)

func demo(args []string) error {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	dbPath := fs.String("db", "", "Record events to this SQLite database")
	eventsPath := fs.String("events", "", "Write events to this JSONL file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: market demo [options]

Run a scripted marketplace session: two creators list tokens, buyers
purchase and evolve them, and the final registry state is printed.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Run against an in-memory sink only
  market demo

  # Keep the event log for later history and replay commands
  market demo -db market.db
`)
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	memory := &event.MemorySink{}
	sinks := []event.Sink{memory}

	if *dbPath != "" {
		store, err := history.Open(*dbPath)
		if err != nil {
			return fmt.Errorf("open event store: %w", err)
		}
		defer store.Close()
		sinks = append(sinks, history.NewRecorder(store, nil))
	}
	if *eventsPath != "" {
		f, err := os.Create(*eventsPath)
		if err != nil {
			return fmt.Errorf("create events file: %w", err)
		}
		defer f.Close()
		sinks = append(sinks, event.NewJSONLWriter(f))
	}

	l := ledger.New()
	b := bank.New()
	eng, err := market.New(l, b, event.Multi(sinks...))
	if err != nil {
		return err
	}

	u := uint256.NewInt

	// Alice lists two tokens and levels the first one up.
	dragon, err := eng.CreateAndList("alice", "dragon hatchling", u(100))
	if err != nil {
		return err
	}
	if _, err := eng.CreateAndList("alice", "phoenix egg", u(250)); err != nil {
		return err
	}
	if err := eng.Evolve("alice", dragon, "dragon juvenile"); err != nil {
		return err
	}

	// Bob funds his account and overpays for the dragon.
	if err := b.Deposit("bob", u(500)); err != nil {
		return err
	}
	if err := buy(eng, b, "bob", dragon, u(120)); err != nil {
		return err
	}
	if err := eng.Evolve("bob", dragon, "dragon adult"); err != nil {
		return err
	}
	if err := eng.UpdateListingPrice("bob", dragon, u(400)); err != nil {
		return err
	}

	// Carol takes the dragon off bob's hands at the new price.
	if err := b.Deposit("carol", u(1000)); err != nil {
		return err
	}
	if err := buy(eng, b, "carol", dragon, u(400)); err != nil {
		return err
	}

	fmt.Println("Registry:")
	for _, id := range eng.Tokens() {
		v, err := eng.View(id)
		if err != nil {
			return err
		}
		listed := "not listed"
		if v.Listed {
			listed = fmt.Sprintf("listed at %s", v.Price.Dec())
		}
		fmt.Printf("  token %d: %q stage %d, owned by %s, %s\n",
			v.ID, v.Metadata, v.Stage, v.Owner, listed)
	}

	fmt.Println("\nBalances:")
	for _, who := range []market.Identity{"alice", "bob", "carol"} {
		fmt.Printf("  %s = %s\n", who, b.BalanceOf(who).Dec())
	}
	fmt.Printf("  market retained = %s\n", eng.Retained().Dec())

	fmt.Printf("\nEvents (%d):\n", memory.Len())
	for _, e := range memory.Events() {
		switch e.Kind {
		case event.KindListed:
			fmt.Printf("  %-9s token %d by %s at %s\n", e.Kind, e.Token, e.Seller, e.Price)
		case event.KindPurchased:
			fmt.Printf("  %-9s token %d %s → %s, price %s paid %s\n",
				e.Kind, e.Token, e.Seller, e.Buyer, e.Price, e.Paid)
		case event.KindEvolved:
			fmt.Printf("  %-9s token %d to stage %d %q\n", e.Kind, e.Token, e.Stage, e.Metadata)
		}
	}

	if violations := eng.Invariants(); len(violations) > 0 {
		fmt.Printf("\nAudit: %d violations\n", len(violations))
		for _, v := range violations {
			fmt.Printf("  %s\n", v)
		}
	} else {
		fmt.Println("\nAudit: clean")
	}

	if *dbPath != "" {
		fmt.Printf("\nEvent log written to %s\n", *dbPath)
	}
	return nil
}

// buy routes a purchase through the buyer's bank account the same way the
// HTTP service does: withdraw first, put the funds back if the sale fails.
func buy(eng *market.Engine, b *bank.Bank, buyer market.Identity, id market.TokenID, funds *uint256.Int) error {
	if err := b.Withdraw(buyer, funds); err != nil {
		return err
	}
	if err := eng.Purchase(buyer, id, funds); err != nil {
		_ = b.Deposit(buyer, funds)
		return err
	}
	return nil
}
