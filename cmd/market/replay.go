package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/holiman/uint256"

	"github.com/pflow-xyz/go-market/event"
	"github.com/pflow-xyz/go-market/history"
	"github.com/pflow-xyz/go-market/market"
	"github.com/pflow-xyz/go-market/receipt"
)

func replay(args []string) error {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	dbPath := fs.String("db", "market.db", "SQLite event log path")
	receipts := fs.Bool("receipts", false, "Issue settlement receipts for every recorded sale")
	workers := fs.Int("workers", 4, "Receipt issuance workers")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: market replay [options]

Fold the event log into the registry read model and print it. With
-receipts, also prove every recorded sale cleared its listed price.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Rebuild and print the registry
  market replay -db market.db

  # Prove all sales with two workers
  market replay -db market.db -receipts -workers 2
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

	events, err := store.All()
	if err != nil {
		return fmt.Errorf("read events: %w", err)
	}
	if len(events) == 0 {
		fmt.Println("No events recorded")
		return nil
	}

	proj := history.NewProjection()
	if err := proj.Replay(events); err != nil {
		return fmt.Errorf("replay events: %w", err)
	}

	fmt.Printf("Rebuilt %d tokens from %d events:\n", proj.Len(), len(events))
	for _, ts := range proj.Tokens() {
		listed := "not listed"
		if ts.Price != "0" {
			listed = fmt.Sprintf("listed at %s", ts.Price)
		}
		fmt.Printf("  token %d: %q stage %d, owned by %s, %s, %d sales, volume %s\n",
			ts.Token, ts.Metadata, ts.Stage, ts.Owner, listed, ts.Sales, ts.Volume.Dec())
	}

	if !*receipts {
		return nil
	}
	return issueSaleReceipts(events, *workers)
}

// issueSaleReceipts proves every recorded sale through a worker pool.
func issueSaleReceipts(events []event.Event, workers int) error {
	var sales []event.Event
	for _, e := range events {
		if e.Kind == event.KindPurchased {
			sales = append(sales, e)
		}
	}
	if len(sales) == 0 {
		fmt.Println("\nNo sales recorded, nothing to prove")
		return nil
	}

	fmt.Printf("\nCompiling receipt circuits...\n")
	iss, err := receipt.NewIssuer()
	if err != nil {
		return fmt.Errorf("receipt issuer: %w", err)
	}

	jobs := make([]receipt.Job, 0, len(sales))
	for i, sale := range sales {
		price, err := uint256.FromDecimal(sale.Price)
		if err != nil {
			return fmt.Errorf("sale %s has bad price %q: %w", sale.ID, sale.Price, err)
		}
		paid, err := uint256.FromDecimal(sale.Paid)
		if err != nil {
			return fmt.Errorf("sale %s has bad payment %q: %w", sale.ID, sale.Paid, err)
		}
		id := market.TokenID(sale.Token)
		jobs = append(jobs, receipt.Job{
			ID:    i,
			Issue: func() (*receipt.Receipt, error) { return iss.IssueSettlement(id, price, paid) },
		})
	}

	pool := receipt.NewPool(workers)
	go func() {
		for _, job := range jobs {
			if err := pool.Submit(job); err != nil {
				return
			}
		}
		pool.Close()
	}()

	ordered := make([]receipt.Result, len(sales))
	for res := range pool.Results() {
		ordered[res.ID] = res
	}

	fmt.Printf("Proved %d sales with %d workers:\n", len(sales), pool.Workers())
	for i, res := range ordered {
		if res.Err != nil {
			fmt.Printf("  sale %d: FAILED: %v\n", i+1, res.Err)
			continue
		}
		status := "verified"
		if err := iss.Verify(res.Receipt); err != nil {
			status = fmt.Sprintf("verify failed: %v", err)
		}
		fmt.Printf("  sale %d: token %d, %d constraints, %d ms, %s\n",
			i+1, res.Receipt.Token, res.Receipt.Constraints, res.Receipt.ProveMs, status)
	}
	return nil
}
