package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "demo":
		if err := demo(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "serve":
		if err := serve(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "history":
		if err := tokenHistory(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "replay":
		if err := replay(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "prove":
		if err := prove(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "help", "-h", "--help":
		printUsage()
	case "version", "-v", "--version":
		fmt.Println("market version 1.0.0")
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`market - token registry and marketplace engine

Usage:
  market <command> [options]

Commands:
  demo       Run a scripted marketplace session
  serve      Start the HTTP service
  history    Show recorded marketplace events
  replay     Rebuild the read model from the event log
  prove      Issue a Groth16 receipt for a marketplace fact
  help       Show this help message
  version    Show version information

Examples:
  # Run the demo and keep its event log
  market demo -db market.db

  # Start the HTTP service
  MARKET_DB=market.db market serve

  # Inspect one token's history
  market history -db market.db -token 1

  # Rebuild state from the log and issue receipts for every sale
  market replay -db market.db -receipts

For command-specific help, run:
  market <command> --help`)
}
