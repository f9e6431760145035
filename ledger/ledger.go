// Package ledger is an in-memory ownership ledger: who owns which token,
// minting, and transfer bookkeeping. It implements the market collaborator
// contract including frame rollback, so a failed marketplace operation can
// undo its ownership effects.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pflow-xyz/go-market/market"
)

var (
	ErrExists     = errors.New("ledger: token already minted")
	ErrNotFound   = errors.New("ledger: token not found")
	ErrNotOwner   = errors.New("ledger: from is not the current owner")
	ErrNoIdentity = errors.New("ledger: empty identity")
)

// Ledger tracks token ownership with an undo journal. Every owned token
// contributes exactly 1 to its owner's balance.
type Ledger struct {
	mu       sync.Mutex
	owners   map[market.TokenID]market.Identity
	balances map[market.Identity]int
	journal  []func()
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		owners:   make(map[market.TokenID]market.Identity),
		balances: make(map[market.Identity]int),
	}
}

// Mint records first ownership of a token. The id must be unused.
func (l *Ledger) Mint(owner market.Identity, id market.TokenID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if owner == "" {
		return ErrNoIdentity
	}
	if _, ok := l.owners[id]; ok {
		return fmt.Errorf("%w: token %d", ErrExists, id)
	}
	l.owners[id] = owner
	l.credit(owner)
	l.journal = append(l.journal, func() {
		delete(l.owners, id)
		l.debit(owner)
	})
	return nil
}

// OwnerOf returns the current owner, or ErrNotFound.
func (l *Ledger) OwnerOf(id market.TokenID) (market.Identity, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok := l.owners[id]
	if !ok {
		return "", fmt.Errorf("%w: token %d", ErrNotFound, id)
	}
	return owner, nil
}

// Transfer moves a token from its current owner to another identity.
func (l *Ledger) Transfer(from, to market.Identity, id market.TokenID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if to == "" {
		return ErrNoIdentity
	}
	owner, ok := l.owners[id]
	if !ok {
		return fmt.Errorf("%w: token %d", ErrNotFound, id)
	}
	if owner != from {
		return fmt.Errorf("%w: token %d owned by %s", ErrNotOwner, id, owner)
	}
	l.owners[id] = to
	l.debit(from)
	l.credit(to)
	l.journal = append(l.journal, func() {
		l.owners[id] = from
		l.debit(to)
		l.credit(from)
	})
	return nil
}

// Exists reports whether the token has been minted.
func (l *Ledger) Exists(id market.TokenID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.owners[id]
	return ok
}

// BalanceOf returns how many tokens the identity owns.
func (l *Ledger) BalanceOf(owner market.Identity) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[owner]
}

// Count returns the number of minted tokens.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.owners)
}

// Tokens returns every minted token id in no particular order.
func (l *Ledger) Tokens() []market.TokenID {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]market.TokenID, 0, len(l.owners))
	for id := range l.owners {
		out = append(out, id)
	}
	return out
}

// Snapshot marks the current journal position for a rollback frame.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.journal)
}

// RevertTo undoes every mutation recorded at or after the given mark.
func (l *Ledger) RevertTo(rev int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rev < 0 || rev > len(l.journal) {
		return
	}
	for i := len(l.journal) - 1; i >= rev; i-- {
		l.journal[i]()
	}
	l.journal = l.journal[:rev]
}

// Compact drops accumulated undo history, keeping current state. Called
// when an enclosing operation commits and nothing can revert past it.
func (l *Ledger) Compact() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.journal = l.journal[:0]
}

func (l *Ledger) credit(owner market.Identity) {
	l.balances[owner]++
}

func (l *Ledger) debit(owner market.Identity) {
	l.balances[owner]--
	if l.balances[owner] <= 0 {
		delete(l.balances, owner)
	}
}
