package market

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"
)

// TokenView is a point-in-time read of one token.
type TokenView struct {
	ID       TokenID
	Owner    Identity
	Stage    uint64
	Metadata string
	Price    *uint256.Int
	Listed   bool
}

// View assembles the full read state of a token.
func (e *Engine) View(id TokenID) (TokenView, error) {
	stage, ok := e.stages[id]
	if !ok {
		return TokenView{}, fmt.Errorf("%w: %d", ErrUnknownToken, id)
	}
	owner, err := e.ledger.OwnerOf(id)
	if err != nil {
		return TokenView{}, fmt.Errorf("%w: %d", ErrUnknownToken, id)
	}
	price := e.listingPrice(id)
	return TokenView{
		ID:       id,
		Owner:    owner,
		Stage:    stage,
		Metadata: e.current[id],
		Price:    price,
		Listed:   !price.IsZero(),
	}, nil
}

// CurrentMetadata returns the token's descriptor as of its current stage.
func (e *Engine) CurrentMetadata(id TokenID) (string, error) {
	meta, ok := e.current[id]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownToken, id)
	}
	return meta, nil
}

// StageMetadata returns the metadata recorded for one past or present
// stage. Stages are append-only, so any stage from 1 through the current
// one resolves.
func (e *Engine) StageMetadata(id TokenID, stage uint64) (string, error) {
	m, ok := e.stageMeta[id]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownToken, id)
	}
	meta, ok := m[stage]
	if !ok {
		return "", fmt.Errorf("%w: token %d stage %d", ErrUnknownStage, id, stage)
	}
	return meta, nil
}

// ListingPrice returns a copy of the token's price; zero means not listed.
func (e *Engine) ListingPrice(id TokenID) (*uint256.Int, error) {
	if _, ok := e.stages[id]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownToken, id)
	}
	return e.listingPrice(id), nil
}

// IsListed reports whether the token is currently offered for sale.
func (e *Engine) IsListed(id TokenID) (bool, error) {
	if _, ok := e.stages[id]; !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownToken, id)
	}
	return !e.listingPrice(id).IsZero(), nil
}

// OwnerOf resolves the token's owner through the ledger.
func (e *Engine) OwnerOf(id TokenID) (Identity, error) {
	owner, err := e.ledger.OwnerOf(id)
	if err != nil {
		return "", fmt.Errorf("%w: %d", ErrUnknownToken, id)
	}
	return owner, nil
}

// Retained returns a copy of the overpayment balance the engine has kept.
func (e *Engine) Retained() *uint256.Int {
	return new(uint256.Int).Set(e.retained)
}

// TokenCount returns how many tokens the registry tracks.
func (e *Engine) TokenCount() int {
	return len(e.stages)
}

// Tokens returns every registered token id in ascending order.
func (e *Engine) Tokens() []TokenID {
	out := make([]TokenID, 0, len(e.stages))
	for id := range e.stages {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (e *Engine) listingPrice(id TokenID) *uint256.Int {
	price := e.prices[id]
	if price == nil {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(price)
}
