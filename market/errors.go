package market

import "errors"

var (
	// Operation rejections. Every failed operation is rejected whole; no
	// partial state survives a rejection.
	ErrInvalidPrice      = errors.New("market: price must be greater than zero")
	ErrUnknownToken      = errors.New("market: unknown token")
	ErrNotOwner          = errors.New("market: caller is not the token owner")
	ErrSelfPurchase      = errors.New("market: owner cannot purchase own token")
	ErrNotListed         = errors.New("market: token is not listed for sale")
	ErrInsufficientFunds = errors.New("market: attached funds below listing price")
	ErrStageOverflow     = errors.New("market: evolution stage overflow")

	// Query errors
	ErrUnknownStage = errors.New("market: unknown evolution stage")

	// Audit errors
	ErrInvariantViolated = errors.New("market: invariant violated")

	// Wiring errors
	ErrNilCollaborator = errors.New("market: nil collaborator")
	ErrNoIdentity      = errors.New("market: empty identity")
)
