package market

import (
	"fmt"
	"math"

	"github.com/holiman/uint256"

	"github.com/pflow-xyz/go-market/event"
)

// CreateAndList mints a new token to the caller and lists it in one step.
// The token starts at evolution stage 1 with the given metadata as both its
// stage-1 entry and its current descriptor. A zero or nil price is rejected
// with ErrInvalidPrice before an identifier is consumed.
func (e *Engine) CreateAndList(caller Identity, initialMetadata string, price *uint256.Int) (TokenID, error) {
	if caller == "" {
		return 0, ErrNoIdentity
	}
	if price == nil || price.IsZero() {
		return 0, fmt.Errorf("%w: listing requires a positive price", ErrInvalidPrice)
	}

	f := e.begin("create")
	id := e.allocateID()
	if err := e.ledger.Mint(caller, id); err != nil {
		e.rollback(f)
		return 0, fmt.Errorf("mint token %d: %w", id, err)
	}
	e.setStage(id, 1)
	e.setStageMeta(id, 1, initialMetadata)
	e.setCurrent(id, initialMetadata)
	e.setPrice(id, price)
	e.emit(event.NewListed(uint64(id), string(caller), price, initialMetadata))
	e.commit(f)
	return id, nil
}

// Purchase executes the ownership-for-funds exchange. The caller must not
// be the owner, the token must be listed, and the attached funds must cover
// the listing price. Registry state is committed before the seller is paid,
// so a re-entrant call from the payee observes the already-delisted,
// already-transferred token. Funds beyond the price are not refunded; they
// accrue to the engine's retained balance. A payout failure rolls the whole
// operation back.
func (e *Engine) Purchase(caller Identity, id TokenID, attachedFunds *uint256.Int) error {
	if caller == "" {
		return ErrNoIdentity
	}
	seller, err := e.ledger.OwnerOf(id)
	if err != nil {
		return fmt.Errorf("%w: %d", ErrUnknownToken, id)
	}
	if _, ok := e.stages[id]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownToken, id)
	}
	if seller == caller {
		return fmt.Errorf("%w: token %d", ErrSelfPurchase, id)
	}
	price := e.prices[id]
	if price == nil || price.IsZero() {
		return fmt.Errorf("%w: token %d", ErrNotListed, id)
	}
	paid := new(uint256.Int)
	if attachedFunds != nil {
		paid.Set(attachedFunds)
	}
	if paid.Lt(price) {
		return fmt.Errorf("%w: token %d costs %s, got %s", ErrInsufficientFunds, id, price.Dec(), paid.Dec())
	}
	cost := new(uint256.Int).Set(price)

	f := e.begin("purchase")
	e.setPrice(id, uint256.NewInt(0))
	if err := e.ledger.Transfer(seller, caller, id); err != nil {
		e.rollback(f)
		return fmt.Errorf("transfer token %d: %w", id, err)
	}
	if excess := new(uint256.Int).Sub(paid, cost); !excess.IsZero() {
		if err := e.addRetained(excess); err != nil {
			e.rollback(f)
			return err
		}
	}
	e.emit(event.NewPurchased(uint64(id), string(seller), string(caller), cost, paid))
	if err := e.bank.Send(seller, cost); err != nil {
		e.rollback(f)
		return fmt.Errorf("pay seller %s for token %d: %w", seller, id, err)
	}
	e.commit(f)
	return nil
}

// Evolve advances the token to the next stage, appending the new metadata
// as that stage's immutable entry and making it the current descriptor.
// Only the owner may evolve. A stage counter at the integer maximum fails
// with ErrStageOverflow instead of wrapping.
func (e *Engine) Evolve(caller Identity, id TokenID, newMetadata string) error {
	if caller == "" {
		return ErrNoIdentity
	}
	owner, err := e.ledger.OwnerOf(id)
	if err != nil {
		return fmt.Errorf("%w: %d", ErrUnknownToken, id)
	}
	stage, ok := e.stages[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownToken, id)
	}
	if owner != caller {
		return fmt.Errorf("%w: token %d", ErrNotOwner, id)
	}
	if stage == math.MaxUint64 {
		return fmt.Errorf("%w: token %d at stage %d", ErrStageOverflow, id, stage)
	}

	next := stage + 1
	f := e.begin("evolve")
	e.setStage(id, next)
	e.setStageMeta(id, next, newMetadata)
	e.setCurrent(id, newMetadata)
	e.emit(event.NewEvolved(uint64(id), next, newMetadata))
	e.commit(f)
	return nil
}

// UpdateListingPrice creates or modifies the token's listing. Only the
// owner may re-price, and the new price must be positive: zero is not a
// delist mechanism, there is no delist operation.
func (e *Engine) UpdateListingPrice(caller Identity, id TokenID, newPrice *uint256.Int) error {
	if caller == "" {
		return ErrNoIdentity
	}
	owner, err := e.ledger.OwnerOf(id)
	if err != nil {
		return fmt.Errorf("%w: %d", ErrUnknownToken, id)
	}
	if _, ok := e.stages[id]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownToken, id)
	}
	if owner != caller {
		return fmt.Errorf("%w: token %d", ErrNotOwner, id)
	}
	if newPrice == nil || newPrice.IsZero() {
		return fmt.Errorf("%w: listing requires a positive price", ErrInvalidPrice)
	}

	f := e.begin("reprice")
	e.setPrice(id, newPrice)
	e.emit(event.NewListed(uint64(id), string(caller), newPrice, e.current[id]))
	e.commit(f)
	return nil
}

// GetEvolutionStage returns the token's current evolution stage.
func (e *Engine) GetEvolutionStage(id TokenID) (uint64, error) {
	stage, ok := e.stages[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownToken, id)
	}
	return stage, nil
}
