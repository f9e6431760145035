// Package receipt issues Groth16 receipts for marketplace outcomes in the
// shape Ethereum verifier contracts expect. A settlement receipt proves a
// purchase cleared the listed price without revealing the amount paid; a
// stage receipt proves an evolution advanced a token by exactly one stage.
package receipt

import (
	"github.com/consensys/gnark/frontend"
)

// Circuit names registered by every Issuer.
const (
	CircuitSettlement = "settlement"
	CircuitStageStep  = "stage-step"
)

// MaxAmountBits bounds prices and payments inside the circuits. Amounts
// wider than this cannot be attested; the issuer rejects them up front.
const MaxAmountBits = 128

// SettlementCircuit proves paid >= price for a listed token. The token id
// and the listed price are public so a verifier can match the receipt to a
// listing; the amount actually paid stays secret.
type SettlementCircuit struct {
	Token frontend.Variable `gnark:",public"`
	Price frontend.Variable `gnark:",public"`
	Paid  frontend.Variable
}

// Define implements the settlement constraints.
func (c *SettlementCircuit) Define(api frontend.API) error {
	// Token ids start at one.
	api.AssertIsDifferent(c.Token, 0)

	// Range bound both amounts so the comparison cannot wrap the field.
	api.ToBinary(c.Price, MaxAmountBits)
	api.ToBinary(c.Paid, MaxAmountBits)

	// Guard: paid >= price
	api.AssertIsLessOrEqual(c.Price, c.Paid)
	return nil
}

// StageStepCircuit proves an evolution moved a token from one stage to the
// next. All inputs are public; the receipt only pins the transition.
type StageStepCircuit struct {
	Token     frontend.Variable `gnark:",public"`
	FromStage frontend.Variable `gnark:",public"`
	ToStage   frontend.Variable `gnark:",public"`
}

// Define implements the single step constraint.
func (c *StageStepCircuit) Define(api frontend.API) error {
	api.AssertIsDifferent(c.Token, 0)

	// Constraint: to = from + 1
	api.AssertIsEqual(c.ToStage, api.Add(c.FromStage, 1))
	return nil
}
