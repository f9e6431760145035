// Package event defines the notifications emitted by the marketplace engine
// and the sinks that receive them. Emission is fire-and-forget: sinks never
// fail the operation that produced the event.
package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Kind identifies what happened to a token.
type Kind string

const (
	// KindListed fires when a token is first listed and on every re-price.
	KindListed Kind = "listed"
	// KindPurchased fires when a sale settles.
	KindPurchased Kind = "purchased"
	// KindEvolved fires when a token advances an evolution stage.
	KindEvolved Kind = "evolved"
)

// Event is a single marketplace notification. Fields not used by the kind
// are left zero. Prices travel as decimal strings so events serialize the
// same everywhere (JSON lines, SQLite, log output).
type Event struct {
	ID       string    `json:"id"`                 // Unique event identifier (UUID)
	Seq      int64     `json:"seq,omitempty"`      // Store-assigned sequence, 0 until persisted
	Kind     Kind      `json:"kind"`               // listed, purchased, or evolved
	Token    uint64    `json:"token"`              // Token identifier
	Seller   string    `json:"seller,omitempty"`   // Owner at emission time (listed, purchased)
	Buyer    string    `json:"buyer,omitempty"`    // Purchaser (purchased only)
	Price    string    `json:"price,omitempty"`    // Listing price, decimal (listed, purchased)
	Paid     string    `json:"paid,omitempty"`     // Funds attached to the purchase (purchased only)
	Stage    uint64    `json:"stage,omitempty"`    // New stage (evolved only)
	Metadata string    `json:"metadata,omitempty"` // Token metadata at emission (listed, evolved)
	At       time.Time `json:"at"`                 // Emission time, UTC
}

// NewListed builds a listing notification for a new or re-priced token.
// The token's current metadata rides along so an event log alone can
// rebuild registry state from the very first listing.
func NewListed(token uint64, seller string, price *uint256.Int, metadata string) Event {
	return Event{
		ID:       uuid.New().String(),
		Kind:     KindListed,
		Token:    token,
		Seller:   seller,
		Price:    dec(price),
		Metadata: metadata,
		At:       time.Now().UTC(),
	}
}

// NewPurchased builds a settlement notification. Price is the captured
// listing price; paid is the full amount the buyer attached.
func NewPurchased(token uint64, seller, buyer string, price, paid *uint256.Int) Event {
	return Event{
		ID:     uuid.New().String(),
		Kind:   KindPurchased,
		Token:  token,
		Seller: seller,
		Buyer:  buyer,
		Price:  dec(price),
		Paid:   dec(paid),
		At:     time.Now().UTC(),
	}
}

// NewEvolved builds a stage-advance notification. The metadata rides along
// so an event log alone can rebuild registry state.
func NewEvolved(token uint64, stage uint64, metadata string) Event {
	return Event{
		ID:       uuid.New().String(),
		Kind:     KindEvolved,
		Token:    token,
		Stage:    stage,
		Metadata: metadata,
		At:       time.Now().UTC(),
	}
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
