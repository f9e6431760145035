package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/holiman/uint256"

	"github.com/pflow-xyz/go-market/market"
	"github.com/pflow-xyz/go-market/receipt"
)

func prove(args []string) error {
	fs := flag.NewFlagSet("prove", flag.ExitOnError)
	token := fs.Uint64("token", 0, "Token id the receipt attests")
	price := fs.String("price", "", "Listed price (settlement only)")
	paid := fs.String("paid", "", "Amount paid, kept out of the receipt (settlement only)")
	from := fs.Uint64("from", 0, "Previous stage (stage-step only)")
	to := fs.Uint64("to", 0, "New stage (stage-step only)")
	circuit := fs.String("circuit", receipt.CircuitSettlement, "Circuit to prove")
	verifier := fs.String("verifier", "", "Print the Solidity verifier for a circuit and exit")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: market prove [options]

Issue one Groth16 receipt and print it as JSON. Compiles circuits on every
run, so expect a few seconds of setup.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Prove a sale cleared its price without revealing the payment
  market prove -token 1 -price 100 -paid 130

  # Prove a single evolution step
  market prove -circuit stage-step -token 1 -from 1 -to 2

  # Export the on-chain verifier
  market prove -verifier settlement > Verifier.sol
`)
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintln(os.Stderr, "Compiling receipt circuits...")
	iss, err := receipt.NewIssuer()
	if err != nil {
		return fmt.Errorf("receipt issuer: %w", err)
	}

	if *verifier != "" {
		src, err := iss.SolidityVerifier(*verifier)
		if err != nil {
			return err
		}
		fmt.Println(src)
		return nil
	}

	var rec *receipt.Receipt
	switch *circuit {
	case receipt.CircuitSettlement:
		p, err := uint256.FromDecimal(*price)
		if err != nil {
			return fmt.Errorf("invalid price %q: %w", *price, err)
		}
		pd, err := uint256.FromDecimal(*paid)
		if err != nil {
			return fmt.Errorf("invalid payment %q: %w", *paid, err)
		}
		rec, err = iss.IssueSettlement(market.TokenID(*token), p, pd)
		if err != nil {
			return err
		}
	case receipt.CircuitStageStep:
		rec, err = iss.IssueStageStep(market.TokenID(*token), *from, *to)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown circuit %q", *circuit)
	}

	if err := iss.Verify(rec); err != nil {
		return fmt.Errorf("receipt failed verification: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Receipt verified (%d constraints, %d ms)\n", rec.Constraints, rec.ProveMs)

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
