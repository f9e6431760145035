// Package market implements a token registry and marketplace engine. Each
// token is owned by exactly one identity, optionally listed at a positive
// price, and carries a monotonic evolution stage with append-only per-stage
// metadata. Ownership itself lives in an injected ledger collaborator;
// payouts go through an injected bank; notifications go to an event sink.
//
// Every mutating operation is atomic: it either fully applies or leaves no
// trace, including its effects on rollback-capable collaborators. Attached
// purchase funds are treated as value already collected from the caller by
// the surrounding platform; the engine pays the seller out of them and
// keeps any excess.
//
// The engine expects one operation at a time, the way a transactional host
// serializes calls. It is not safe for concurrent use by multiple
// goroutines, but it is re-entrant: a payee's receive hook may call back
// into the engine and will observe post-purchase state.
package market

import (
	"log/slog"

	"github.com/holiman/uint256"

	"github.com/pflow-xyz/go-market/event"
)

// Identity is an opaque, comparable caller reference. The zero value means
// nobody and is never a valid owner, caller, or payee.
type Identity string

// TokenID identifies a token. IDs are assigned from 1 upward and never
// reused; 0 is never a valid id.
type TokenID uint64

// Ledger is the ownership collaborator: who owns which token. The engine
// calls it and never duplicates ownership state.
type Ledger interface {
	// Mint records first ownership of a newly created token.
	Mint(owner Identity, id TokenID) error
	// OwnerOf returns the current owner, or an error for unknown tokens.
	OwnerOf(id TokenID) (Identity, error)
	// Transfer moves a token between identities.
	Transfer(from, to Identity, id TokenID) error
}

// Bank is the value-transfer collaborator. A Send failure aborts the
// enclosing operation.
type Bank interface {
	Send(to Identity, amount *uint256.Int) error
}

// Snapshotter is implemented by collaborators whose state can roll back
// with a failed operation. Snapshot marks a revision; RevertTo undoes
// everything recorded at or after the mark.
type Snapshotter interface {
	Snapshot() int
	RevertTo(rev int)
}

// Compactor is implemented by collaborators that can drop accumulated undo
// history once an operation commits and nothing can revert past it.
type Compactor interface {
	Compact()
}

// Engine is the marketplace state machine. Construct with New.
type Engine struct {
	ledger Ledger
	bank   Bank
	sink   event.Sink
	logger *slog.Logger
	admin  Identity

	nextID    TokenID
	stages    map[TokenID]uint64
	stageMeta map[TokenID]map[uint64]string
	current   map[TokenID]string
	prices    map[TokenID]*uint256.Int
	retained  *uint256.Int

	snaps   []Snapshotter
	journal []func()
	pending []event.Event
	depth   int
}

// Option configures an Engine.
type Option func(*Engine)

// WithAdmin installs the administrative identity. The capability gates no
// marketplace operation; it exists for hosts that layer privileged actions
// on top and is queryable via IsAdmin.
func WithAdmin(admin Identity) Option {
	return func(e *Engine) { e.admin = admin }
}

// WithLogger sets the logger used for debug traces of frame rollbacks.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New wires an engine to its collaborators. The ledger and bank are
// required; a nil sink is replaced with a no-op sink. Collaborators that
// implement Snapshotter participate in operation rollback.
func New(ledger Ledger, bank Bank, sink event.Sink, opts ...Option) (*Engine, error) {
	if ledger == nil || bank == nil {
		return nil, ErrNilCollaborator
	}
	if sink == nil {
		sink = event.NopSink{}
	}
	e := &Engine{
		ledger:    ledger,
		bank:      bank,
		sink:      sink,
		logger:    slog.Default(),
		stages:    make(map[TokenID]uint64),
		stageMeta: make(map[TokenID]map[uint64]string),
		current:   make(map[TokenID]string),
		prices:    make(map[TokenID]*uint256.Int),
		retained:  uint256.NewInt(0),
	}
	for _, opt := range opts {
		opt(e)
	}
	if s, ok := ledger.(Snapshotter); ok {
		e.snaps = append(e.snaps, s)
	}
	if s, ok := bank.(Snapshotter); ok {
		e.snaps = append(e.snaps, s)
	}
	return e, nil
}

// IsAdmin reports whether id is the installed administrative identity.
func (e *Engine) IsAdmin(id Identity) bool {
	return id != "" && id == e.admin
}
