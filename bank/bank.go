// Package bank is an in-memory value-transfer rail. It plays the payout
// collaborator for the marketplace: Send credits a payee and then runs the
// payee's receive hook, if one is registered. Hooks are how payment failure
// and re-entrant callers are modeled; a hook error fails the Send.
package bank

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/pflow-xyz/go-market/market"
)

var (
	ErrNoIdentity          = errors.New("bank: empty identity")
	ErrNilAmount           = errors.New("bank: nil amount")
	ErrOverflow            = errors.New("bank: balance overflow")
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrReceiveFailed       = errors.New("bank: receiver rejected payment")
)

// ReceiveHook runs after an identity is credited by Send. The amount is a
// copy. Returning an error fails the Send; the credit is undone.
type ReceiveHook func(amount *uint256.Int) error

// Bank holds balances with an undo journal. Balance mutations roll back
// through Snapshot/RevertTo; hook registrations are configuration and do
// not.
type Bank struct {
	mu       sync.Mutex
	balances map[market.Identity]*uint256.Int
	hooks    map[market.Identity]ReceiveHook
	journal  []func()
}

// New returns an empty bank.
func New() *Bank {
	return &Bank{
		balances: make(map[market.Identity]*uint256.Int),
		hooks:    make(map[market.Identity]ReceiveHook),
	}
}

// Send credits the payee and then invokes its receive hook. The hook runs
// outside the bank lock, so it may call back into the bank or the engine.
// On hook failure the credit is compensated and ErrReceiveFailed returned.
func (b *Bank) Send(to market.Identity, amount *uint256.Int) error {
	if to == "" {
		return ErrNoIdentity
	}
	if amount == nil {
		return ErrNilAmount
	}
	amt := new(uint256.Int).Set(amount)

	b.mu.Lock()
	if err := b.credit(to, amt); err != nil {
		b.mu.Unlock()
		return err
	}
	idx := len(b.journal) - 1
	hook := b.hooks[to]
	b.mu.Unlock()

	if hook == nil {
		return nil
	}
	if err := hook(new(uint256.Int).Set(amt)); err != nil {
		b.mu.Lock()
		b.journal[idx]()
		b.journal[idx] = func() {}
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrReceiveFailed, err)
	}
	return nil
}

// Deposit credits an identity without running its hook. This is the
// platform boundary where callers fund their accounts.
func (b *Bank) Deposit(to market.Identity, amount *uint256.Int) error {
	if to == "" {
		return ErrNoIdentity
	}
	if amount == nil {
		return ErrNilAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.credit(to, new(uint256.Int).Set(amount))
}

// Withdraw debits an identity, failing when the balance cannot cover it.
func (b *Bank) Withdraw(from market.Identity, amount *uint256.Int) error {
	if from == "" {
		return ErrNoIdentity
	}
	if amount == nil {
		return ErrNilAmount
	}
	amt := new(uint256.Int).Set(amount)

	b.mu.Lock()
	defer b.mu.Unlock()
	cur := b.account(from)
	if cur.Lt(amt) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, cur.Dec(), amt.Dec())
	}
	cur.Sub(cur, amt)
	b.journal = append(b.journal, func() {
		b.account(from).Add(b.account(from), amt)
	})
	return nil
}

// BalanceOf returns a copy of the identity's balance.
func (b *Bank) BalanceOf(id market.Identity) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.balances[id]
	if !ok {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(cur)
}

// SetHook registers the receive hook for an identity, replacing any
// previous one.
func (b *Bank) SetHook(id market.Identity, hook ReceiveHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if hook == nil {
		delete(b.hooks, id)
		return
	}
	b.hooks[id] = hook
}

// ClearHook removes the identity's receive hook.
func (b *Bank) ClearHook(id market.Identity) {
	b.SetHook(id, nil)
}

// Snapshot marks the current journal position for a rollback frame.
func (b *Bank) Snapshot() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.journal)
}

// RevertTo undoes every balance mutation recorded at or after the mark.
func (b *Bank) RevertTo(rev int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rev < 0 || rev > len(b.journal) {
		return
	}
	for i := len(b.journal) - 1; i >= rev; i-- {
		b.journal[i]()
	}
	b.journal = b.journal[:rev]
}

// Compact drops accumulated undo history, keeping current balances.
func (b *Bank) Compact() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.journal = b.journal[:0]
}

// credit adds amt to the identity's balance and records the compensation.
// Callers hold the lock and pass an owned copy of amt.
func (b *Bank) credit(to market.Identity, amt *uint256.Int) error {
	cur := b.account(to)
	if _, over := new(uint256.Int).AddOverflow(cur, amt); over {
		return fmt.Errorf("%w: crediting %s to %s", ErrOverflow, amt.Dec(), to)
	}
	cur.Add(cur, amt)
	b.journal = append(b.journal, func() {
		b.account(to).Sub(b.account(to), amt)
	})
	return nil
}

// account returns the live balance for an identity, creating a zero entry
// on first touch. Callers hold the lock.
func (b *Bank) account(id market.Identity) *uint256.Int {
	cur, ok := b.balances[id]
	if !ok {
		cur = uint256.NewInt(0)
		b.balances[id] = cur
	}
	return cur
}
