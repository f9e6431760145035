package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/pflow-xyz/go-market/bank"
	"github.com/pflow-xyz/go-market/event"
	"github.com/pflow-xyz/go-market/history"
	"github.com/pflow-xyz/go-market/ledger"
	"github.com/pflow-xyz/go-market/market"
	"github.com/pflow-xyz/go-market/receipt"
	"github.com/pflow-xyz/go-market/service"
)

func serve(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "", "Listen address (overrides MARKET_ADDR)")
	dbPath := fs.String("db", "", "SQLite event log path (overrides MARKET_DB)")
	receipts := fs.Bool("receipts", false, "Enable receipt endpoints (overrides MARKET_RECEIPTS)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: market serve [options]

Start the marketplace HTTP service. Settings come from MARKET_* environment
variables; flags override them.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Serve on the default port with a local event log
  market serve -db market.db

  # Enable the receipt endpoints (compiles circuits at startup)
  MARKET_RECEIPTS=true market serve
`)
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := service.LoadConfig()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *receipts {
		cfg.Receipts = true
	}

	logger := slog.Default()

	store, err := history.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()

	// The registry starts empty on every boot; the log is an audit trail,
	// not a snapshot, so existing entries are left in place.
	if n, err := store.Count(); err == nil && n > 0 {
		logger.Warn("Event log already has entries", "db", cfg.DBPath, "events", n)
	}

	var engineOpts []market.Option
	if cfg.Admin != "" {
		engineOpts = append(engineOpts, market.WithAdmin(market.Identity(cfg.Admin)))
	}

	b := bank.New()
	sink := event.Multi(history.NewRecorder(store, logger), event.NewSlogSink(logger))
	eng, err := market.New(ledger.New(), b, sink, engineOpts...)
	if err != nil {
		return err
	}

	opts := []service.Option{service.WithStore(store), service.WithLogger(logger)}
	if cfg.Receipts {
		logger.Info("Compiling receipt circuits")
		iss, err := receipt.NewIssuer()
		if err != nil {
			return fmt.Errorf("receipt issuer: %w", err)
		}
		logger.Info("Receipt circuits ready", "circuits", iss.Circuits())
		opts = append(opts, service.WithIssuer(iss))
	}

	svc := service.NewService(eng, b, opts...)

	logger.Info("Marketplace service listening", "addr", cfg.Addr, "db", cfg.DBPath)
	return http.ListenAndServe(cfg.Addr, svc.Handler())
}
