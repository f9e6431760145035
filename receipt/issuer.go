package receipt

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/holiman/uint256"

	"github.com/pflow-xyz/go-market/market"
)

var (
	ErrUnknownCircuit = errors.New("receipt: circuit not registered")
	ErrNilAmount      = errors.New("receipt: nil amount")
	ErrAmountRange    = errors.New("receipt: amount exceeds 128 bits")
	ErrUnsatisfied    = errors.New("receipt: statement does not hold")
	ErrUnverifiable   = errors.New("receipt: receipt was not issued by this process")
)

// Issuer compiles the marketplace circuits, runs trusted setup, and issues
// receipts. Setup keys live for the life of the process; in production the
// proving keys would come from a ceremony instead.
type Issuer struct {
	mu       sync.RWMutex
	circuits map[string]*CompiledCircuit
	curve    ecc.ID
}

// CompiledCircuit holds a compiled constraint system and its Groth16 keys.
type CompiledCircuit struct {
	Name         string
	CS           constraint.ConstraintSystem
	ProvingKey   groth16.ProvingKey
	VerifyingKey groth16.VerifyingKey
	Constraints  int
	PublicVars   int
	SecretVars   int
}

// Receipt is a proof plus its public inputs, laid out for an Ethereum
// Groth16 verifier contract.
type Receipt struct {
	Circuit string `json:"circuit"`
	Token   uint64 `json:"token"`

	// Proof points for Solidity verification
	A [2]*big.Int    `json:"a"`
	B [2][2]*big.Int `json:"b"`
	C [2]*big.Int    `json:"c"`

	// Calldata is the flat point array an L1 contract takes:
	// [A.X, A.Y, B.X[0], B.X[1], B.Y[0], B.Y[1], C.X, C.Y]
	Calldata []*big.Int `json:"calldata"`

	// PublicInputs are 32-byte hex words in witness order.
	PublicInputs []string `json:"public_inputs"`

	Constraints int   `json:"constraints"`
	ProveMs     int64 `json:"prove_ms"`

	// Retained so Verify can check the receipt without re-proving.
	// Receipts decoded from JSON lose these and cannot be re-verified
	// locally; that is what the on-chain verifier is for.
	proof  groth16.Proof
	public witness.Witness
}

// NewIssuer compiles and sets up every marketplace circuit. This is slow,
// call it once at startup.
func NewIssuer() (*Issuer, error) {
	iss := &Issuer{
		circuits: make(map[string]*CompiledCircuit),
		curve:    ecc.BN254, // Ethereum's alt_bn128
	}
	if err := iss.register(CircuitSettlement, &SettlementCircuit{}); err != nil {
		return nil, err
	}
	if err := iss.register(CircuitStageStep, &StageStepCircuit{}); err != nil {
		return nil, err
	}
	return iss, nil
}

// register compiles a circuit, runs trusted setup, and stores the result.
func (iss *Issuer) register(name string, circuit frontend.Circuit) error {
	cs, err := frontend.Compile(iss.curve.ScalarField(), r1cs.NewBuilder, circuit)
	if err != nil {
		return fmt.Errorf("compile %s: %w", name, err)
	}

	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		return fmt.Errorf("setup %s: %w", name, err)
	}

	iss.mu.Lock()
	defer iss.mu.Unlock()
	iss.circuits[name] = &CompiledCircuit{
		Name:         name,
		CS:           cs,
		ProvingKey:   pk,
		VerifyingKey: vk,
		Constraints:  cs.GetNbConstraints(),
		PublicVars:   cs.GetNbPublicVariables(),
		SecretVars:   cs.GetNbSecretVariables(),
	}
	return nil
}

// Circuit returns a compiled circuit by name.
func (iss *Issuer) Circuit(name string) (*CompiledCircuit, bool) {
	iss.mu.RLock()
	defer iss.mu.RUnlock()
	cc, ok := iss.circuits[name]
	return cc, ok
}

// Circuits returns the registered circuit names in sorted order.
func (iss *Issuer) Circuits() []string {
	iss.mu.RLock()
	defer iss.mu.RUnlock()
	names := make([]string, 0, len(iss.circuits))
	for name := range iss.circuits {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IssueSettlement proves that a purchase of the given token cleared the
// listed price. The paid amount enters the witness but not the receipt.
func (iss *Issuer) IssueSettlement(id market.TokenID, price, paid *uint256.Int) (*Receipt, error) {
	if price == nil || paid == nil {
		return nil, ErrNilAmount
	}
	if price.BitLen() > MaxAmountBits || paid.BitLen() > MaxAmountBits {
		return nil, ErrAmountRange
	}
	if id == 0 {
		return nil, fmt.Errorf("%w: token id is zero", ErrUnsatisfied)
	}
	if paid.Lt(price) {
		return nil, fmt.Errorf("%w: paid %s below price %s", ErrUnsatisfied, paid.Dec(), price.Dec())
	}

	assignment := &SettlementCircuit{
		Token: uint64(id),
		Price: price.ToBig(),
		Paid:  paid.ToBig(),
	}
	r, err := iss.prove(CircuitSettlement, assignment)
	if err != nil {
		return nil, err
	}
	r.Token = uint64(id)
	return r, nil
}

// IssueStageStep proves that an evolution advanced the token by exactly
// one stage.
func (iss *Issuer) IssueStageStep(id market.TokenID, from, to uint64) (*Receipt, error) {
	if id == 0 {
		return nil, fmt.Errorf("%w: token id is zero", ErrUnsatisfied)
	}
	if to != from+1 {
		return nil, fmt.Errorf("%w: stage %d to %d is not a single step", ErrUnsatisfied, from, to)
	}

	assignment := &StageStepCircuit{
		Token:     uint64(id),
		FromStage: from,
		ToStage:   to,
	}
	r, err := iss.prove(CircuitStageStep, assignment)
	if err != nil {
		return nil, err
	}
	r.Token = uint64(id)
	return r, nil
}

// Verify checks a receipt issued by this process against the circuit's
// verifying key.
func (iss *Issuer) Verify(r *Receipt) error {
	iss.mu.RLock()
	cc, ok := iss.circuits[r.Circuit]
	iss.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCircuit, r.Circuit)
	}
	if r.proof == nil || r.public == nil {
		return ErrUnverifiable
	}
	return groth16.Verify(r.proof, cc.VerifyingKey, r.public)
}

// SolidityVerifier exports the verifier contract for a circuit.
func (iss *Issuer) SolidityVerifier(name string) (string, error) {
	iss.mu.RLock()
	cc, ok := iss.circuits[name]
	iss.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCircuit, name)
	}

	var sb strings.Builder
	if err := cc.VerifyingKey.ExportSolidity(&sb); err != nil {
		return "", fmt.Errorf("export verifier for %s: %w", name, err)
	}
	return sb.String(), nil
}

// prove generates a Groth16 proof for the named circuit and packs it into
// a Receipt.
func (iss *Issuer) prove(name string, assignment frontend.Circuit) (*Receipt, error) {
	iss.mu.RLock()
	cc, ok := iss.circuits[name]
	iss.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCircuit, name)
	}

	start := time.Now()

	w, err := frontend.NewWitness(assignment, iss.curve.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("witness for %s: %w", name, err)
	}

	proof, err := groth16.Prove(cc.CS, cc.ProvingKey, w)
	if err != nil {
		return nil, fmt.Errorf("prove %s: %w", name, err)
	}

	public, err := w.Public()
	if err != nil {
		return nil, fmt.Errorf("public witness for %s: %w", name, err)
	}

	r, err := encodeReceipt(proof, public, cc)
	if err != nil {
		return nil, err
	}
	r.ProveMs = time.Since(start).Milliseconds()
	r.proof = proof
	r.public = public
	return r, nil
}

// encodeReceipt converts a gnark proof to the Solidity calldata layout.
func encodeReceipt(proof groth16.Proof, public witness.Witness, cc *CompiledCircuit) (*Receipt, error) {
	r := &Receipt{
		Circuit:     cc.Name,
		Constraints: cc.Constraints,
	}

	// Public inputs are 32-byte elements after a 12 byte header
	// (4 bytes nb public + 4 bytes nb secret + 4 bytes vector length).
	pubBytes, err := public.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal public witness: %w", err)
	}

	const headerSize = 12
	const elementSize = 32
	if len(pubBytes) >= headerSize {
		data := pubBytes[headerSize:]
		numElements := len(data) / elementSize
		r.PublicInputs = make([]string, numElements)

		for i := 0; i < numElements; i++ {
			val := new(big.Int).SetBytes(data[i*elementSize : (i+1)*elementSize])
			r.PublicInputs[i] = fmt.Sprintf("0x%064x", val)
		}
	}

	// Uncompressed BN254 proof layout:
	// A (G1, 64 bytes) + B (G2, 128 bytes) + C (G1, 64 bytes).
	var proofBuf bytes.Buffer
	if _, err := proof.WriteRawTo(&proofBuf); err != nil {
		return nil, fmt.Errorf("marshal proof: %w", err)
	}
	proofBytes := proofBuf.Bytes()
	if len(proofBytes) < 256 {
		return nil, fmt.Errorf("short proof encoding: %d bytes", len(proofBytes))
	}

	r.A[0] = new(big.Int).SetBytes(proofBytes[0:32])
	r.A[1] = new(big.Int).SetBytes(proofBytes[32:64])

	r.B[0][0] = new(big.Int).SetBytes(proofBytes[64:96])
	r.B[0][1] = new(big.Int).SetBytes(proofBytes[96:128])
	r.B[1][0] = new(big.Int).SetBytes(proofBytes[128:160])
	r.B[1][1] = new(big.Int).SetBytes(proofBytes[160:192])

	r.C[0] = new(big.Int).SetBytes(proofBytes[192:224])
	r.C[1] = new(big.Int).SetBytes(proofBytes[224:256])

	r.Calldata = []*big.Int{
		r.A[0], r.A[1],
		r.B[0][0], r.B[0][1],
		r.B[1][0], r.B[1][1],
		r.C[0], r.C[1],
	}

	return r, nil
}
