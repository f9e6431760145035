package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pflow-xyz/go-market/event"
	"github.com/pflow-xyz/go-market/history"
)

func tokenHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	dbPath := fs.String("db", "market.db", "SQLite event log path")
	token := fs.Uint64("token", 0, "Show only this token (0 shows everything)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: market history [options]

Print recorded marketplace events in append order.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Full log
  market history -db market.db

  # One token's life
  market history -db market.db -token 1
`)
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := history.Open(*dbPath)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()

	var events []event.Event
	if *token != 0 {
		events, err = store.ByToken(*token)
	} else {
		events, err = store.All()
	}
	if err != nil {
		return fmt.Errorf("read events: %w", err)
	}

	if len(events) == 0 {
		fmt.Println("No events recorded")
		return nil
	}

	for _, e := range events {
		when := e.At.Format("2006-01-02 15:04:05")
		switch e.Kind {
		case event.KindListed:
			fmt.Printf("%4d  %s  %-9s token %d by %s at %s %q\n",
				e.Seq, when, e.Kind, e.Token, e.Seller, e.Price, e.Metadata)
		case event.KindPurchased:
			fmt.Printf("%4d  %s  %-9s token %d %s → %s, price %s paid %s\n",
				e.Seq, when, e.Kind, e.Token, e.Seller, e.Buyer, e.Price, e.Paid)
		case event.KindEvolved:
			fmt.Printf("%4d  %s  %-9s token %d stage %d %q\n",
				e.Seq, when, e.Kind, e.Token, e.Stage, e.Metadata)
		default:
			fmt.Printf("%4d  %s  %-9s token %d\n", e.Seq, when, e.Kind, e.Token)
		}
	}
	fmt.Printf("\n%d events\n", len(events))
	return nil
}
