package history

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	"github.com/pflow-xyz/go-market/event"
)

// TokenState is the read state of one token rebuilt from its events.
type TokenState struct {
	Token    uint64
	Owner    string
	Price    string // decimal, "0" when not listed
	Stage    uint64
	Metadata string
	Stages   map[uint64]string
	Sales    int          // settled purchases
	Volume   *uint256.Int // cumulative prices paid to sellers
}

// Projection folds marketplace events into per-token state. The first
// listed event for a token is its creation; later listed events re-price
// it; purchased events move ownership and clear the listing; evolved
// events advance the stage and append metadata.
type Projection struct {
	tokens map[uint64]*TokenState
}

// NewProjection returns an empty projection.
func NewProjection() *Projection {
	return &Projection{tokens: make(map[uint64]*TokenState)}
}

// Apply folds one event into the projection.
func (p *Projection) Apply(e event.Event) error {
	switch e.Kind {
	case event.KindListed:
		state, ok := p.tokens[e.Token]
		if !ok {
			p.tokens[e.Token] = &TokenState{
				Token:    e.Token,
				Owner:    e.Seller,
				Price:    e.Price,
				Stage:    1,
				Metadata: e.Metadata,
				Stages:   map[uint64]string{1: e.Metadata},
				Volume:   uint256.NewInt(0),
			}
			return nil
		}
		state.Price = e.Price
		return nil

	case event.KindPurchased:
		state, ok := p.tokens[e.Token]
		if !ok {
			return fmt.Errorf("history: purchase event for unknown token %d", e.Token)
		}
		price, err := uint256.FromDecimal(e.Price)
		if err != nil {
			return fmt.Errorf("history: bad price %q in event %s: %w", e.Price, e.ID, err)
		}
		state.Owner = e.Buyer
		state.Price = "0"
		state.Sales++
		state.Volume.Add(state.Volume, price)
		return nil

	case event.KindEvolved:
		state, ok := p.tokens[e.Token]
		if !ok {
			return fmt.Errorf("history: evolve event for unknown token %d", e.Token)
		}
		state.Stage = e.Stage
		state.Stages[e.Stage] = e.Metadata
		state.Metadata = e.Metadata
		return nil

	default:
		return fmt.Errorf("history: unknown event kind %q", e.Kind)
	}
}

// Replay folds a batch of events in order, stopping at the first failure.
func (p *Projection) Replay(events []event.Event) error {
	for _, e := range events {
		if err := p.Apply(e); err != nil {
			return err
		}
	}
	return nil
}

// Token returns the rebuilt state for one token. The returned state is
// live; callers must not mutate it.
func (p *Projection) Token(id uint64) (*TokenState, bool) {
	state, ok := p.tokens[id]
	return state, ok
}

// Tokens returns every rebuilt token state in ascending id order.
func (p *Projection) Tokens() []*TokenState {
	out := make([]*TokenState, 0, len(p.tokens))
	for _, state := range p.tokens {
		out = append(out, state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}

// Len returns how many tokens the projection has seen.
func (p *Projection) Len() int {
	return len(p.tokens)
}
