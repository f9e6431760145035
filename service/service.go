// Package service exposes the marketplace engine over HTTP. One service
// owns one engine; handlers serialize engine calls behind a mutex so the
// single writer contract holds no matter how many requests are in flight.
package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/pflow-xyz/go-market/bank"
	"github.com/pflow-xyz/go-market/event"
	"github.com/pflow-xyz/go-market/history"
	"github.com/pflow-xyz/go-market/market"
	"github.com/pflow-xyz/go-market/receipt"
)

// Service is the HTTP front for one marketplace.
type Service struct {
	mu      sync.Mutex
	engine  *market.Engine
	bank    *bank.Bank
	store   *history.Store  // optional, enables event queries
	issuer  *receipt.Issuer // optional, enables receipt endpoints
	logger  *slog.Logger
	started time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithStore attaches the event store backing history queries and receipts.
func WithStore(store *history.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithIssuer enables the receipt endpoints.
func WithIssuer(iss *receipt.Issuer) Option {
	return func(s *Service) {
		s.issuer = iss
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService wraps an engine and its bank with the given options.
func NewService(engine *market.Engine, bk *bank.Bank, opts ...Option) *Service {
	s := &Service{
		engine:  engine,
		bank:    bk,
		logger:  slog.Default(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler for the service.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /tokens", s.handleListTokens)
	mux.HandleFunc("POST /tokens", s.handleCreateToken)
	mux.HandleFunc("GET /tokens/{id}", s.handleGetToken)
	mux.HandleFunc("GET /tokens/{id}/stage", s.handleGetStage)
	mux.HandleFunc("GET /tokens/{id}/stages/{stage}", s.handleStageMetadata)
	mux.HandleFunc("GET /tokens/{id}/events", s.handleTokenEvents)
	mux.HandleFunc("POST /tokens/{id}/purchase", s.handlePurchase)
	mux.HandleFunc("POST /tokens/{id}/evolve", s.handleEvolve)
	mux.HandleFunc("POST /tokens/{id}/price", s.handleUpdatePrice)
	mux.HandleFunc("GET /accounts/{id}", s.handleAccount)
	mux.HandleFunc("POST /accounts/{id}/deposit", s.handleDeposit)
	mux.HandleFunc("GET /invariants", s.handleInvariants)
	mux.HandleFunc("POST /receipts/settlement", s.handleSettlementReceipt)
	mux.HandleFunc("POST /receipts/stage", s.handleStageReceipt)
	mux.HandleFunc("GET /receipts/verifier/{circuit}", s.handleExportVerifier)

	return mux
}

// statusFor maps engine and bank errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, market.ErrUnknownToken):
		return http.StatusNotFound
	case errors.Is(err, market.ErrUnknownStage):
		return http.StatusNotFound
	case errors.Is(err, market.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, market.ErrSelfPurchase):
		return http.StatusConflict
	case errors.Is(err, market.ErrNotListed):
		return http.StatusConflict
	case errors.Is(err, market.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, bank.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, market.ErrInvalidPrice),
		errors.Is(err, market.ErrStageOverflow),
		errors.Is(err, market.ErrNoIdentity),
		errors.Is(err, bank.ErrNoIdentity),
		errors.Is(err, bank.ErrNilAmount),
		errors.Is(err, bank.ErrOverflow):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Service) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func (s *Service) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func parseTokenID(r *http.Request) (market.TokenID, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token id %q", raw)
	}
	return market.TokenID(id), nil
}

func parseAmount(raw string) (*uint256.Int, error) {
	amount, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return amount, nil
}

// HealthResponse is the response for the health endpoint.
type HealthResponse struct {
	Status   string   `json:"status"`
	Uptime   string   `json:"uptime"`
	Tokens   int      `json:"tokens"`
	Circuits []string `json:"circuits,omitempty"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	tokens := s.engine.TokenCount()
	s.mu.Unlock()

	resp := HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.started).String(),
		Tokens: tokens,
	}
	if s.issuer != nil {
		resp.Circuits = s.issuer.Circuits()
	}
	s.writeJSON(w, resp)
}

// TokenResponse is the read model for one token.
type TokenResponse struct {
	Token    uint64 `json:"token"`
	Owner    string `json:"owner"`
	Stage    uint64 `json:"stage"`
	Metadata string `json:"metadata"`
	Price    string `json:"price"`
	Listed   bool   `json:"listed"`
}

func tokenResponse(v market.TokenView) TokenResponse {
	price := "0"
	if v.Price != nil {
		price = v.Price.Dec()
	}
	return TokenResponse{
		Token:    uint64(v.ID),
		Owner:    string(v.Owner),
		Stage:    v.Stage,
		Metadata: v.Metadata,
		Price:    price,
		Listed:   v.Listed,
	}
}

// TokenListResponse lists every registered token.
type TokenListResponse struct {
	Tokens []TokenResponse `json:"tokens"`
}

func (s *Service) handleListTokens(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ids := s.engine.Tokens()
	views := make([]TokenResponse, 0, len(ids))
	for _, id := range ids {
		v, err := s.engine.View(id)
		if err != nil {
			continue
		}
		views = append(views, tokenResponse(v))
	}
	s.mu.Unlock()

	s.writeJSON(w, TokenListResponse{Tokens: views})
}

func (s *Service) handleGetToken(w http.ResponseWriter, r *http.Request) {
	id, err := parseTokenID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	v, err := s.engine.View(id)
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, tokenResponse(v))
}

// CreateTokenRequest asks for a new listing.
type CreateTokenRequest struct {
	Creator  string `json:"creator"`
	Metadata string `json:"metadata"`
	Price    string `json:"price"`
}

// CreateTokenResponse returns the minted id.
type CreateTokenResponse struct {
	Token uint64 `json:"token"`
}

func (s *Service) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req CreateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	id, err := s.engine.CreateAndList(market.Identity(req.Creator), req.Metadata, price)
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	s.logger.Info("Token created",
		"token", id,
		"creator", req.Creator,
		"price", price.Dec(),
	)
	s.writeJSON(w, CreateTokenResponse{Token: uint64(id)})
}

// StageResponse reports a token's evolution stage.
type StageResponse struct {
	Token uint64 `json:"token"`
	Stage uint64 `json:"stage"`
}

func (s *Service) handleGetStage(w http.ResponseWriter, r *http.Request) {
	id, err := parseTokenID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	stage, err := s.engine.GetEvolutionStage(id)
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, StageResponse{Token: uint64(id), Stage: stage})
}

// StageMetadataResponse reports one recorded stage descriptor.
type StageMetadataResponse struct {
	Token    uint64 `json:"token"`
	Stage    uint64 `json:"stage"`
	Metadata string `json:"metadata"`
}

func (s *Service) handleStageMetadata(w http.ResponseWriter, r *http.Request) {
	id, err := parseTokenID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	stage, err := strconv.ParseUint(r.PathValue("stage"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid stage %q", r.PathValue("stage")))
		return
	}

	s.mu.Lock()
	meta, err := s.engine.StageMetadata(id, stage)
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, StageMetadataResponse{Token: uint64(id), Stage: stage, Metadata: meta})
}

// PurchaseRequest attaches a buyer's funds to a listed token. The funds are
// withdrawn from the buyer's account and returned if the purchase fails.
type PurchaseRequest struct {
	Buyer string `json:"buyer"`
	Funds string `json:"funds"`
}

// PurchaseResponse confirms the settled sale.
type PurchaseResponse struct {
	Token uint64 `json:"token"`
	Buyer string `json:"buyer"`
	Paid  string `json:"paid"`
}

func (s *Service) handlePurchase(w http.ResponseWriter, r *http.Request) {
	id, err := parseTokenID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	funds, err := parseAmount(req.Funds)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	buyer := market.Identity(req.Buyer)

	s.mu.Lock()
	if _, err := s.engine.View(id); err != nil {
		s.mu.Unlock()
		s.writeError(w, statusFor(err), err)
		return
	}
	if err := s.bank.Withdraw(buyer, funds); err != nil {
		s.mu.Unlock()
		s.writeError(w, statusFor(err), err)
		return
	}
	if err := s.engine.Purchase(buyer, id, funds); err != nil {
		// Give the attached funds back, the sale did not happen.
		_ = s.bank.Deposit(buyer, funds)
		s.mu.Unlock()
		s.writeError(w, statusFor(err), err)
		return
	}
	s.mu.Unlock()

	s.logger.Info("Token purchased",
		"token", id,
		"buyer", req.Buyer,
		"paid", funds.Dec(),
	)
	s.writeJSON(w, PurchaseResponse{Token: uint64(id), Buyer: req.Buyer, Paid: funds.Dec()})
}

// EvolveRequest appends a new stage to a token.
type EvolveRequest struct {
	Owner    string `json:"owner"`
	Metadata string `json:"metadata"`
}

func (s *Service) handleEvolve(w http.ResponseWriter, r *http.Request) {
	id, err := parseTokenID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req EvolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	err = s.engine.Evolve(market.Identity(req.Owner), id, req.Metadata)
	var stage uint64
	if err == nil {
		stage, _ = s.engine.GetEvolutionStage(id)
	}
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	s.logger.Info("Token evolved", "token", id, "stage", stage)
	s.writeJSON(w, StageResponse{Token: uint64(id), Stage: stage})
}

// UpdatePriceRequest relists a token at a new price.
type UpdatePriceRequest struct {
	Owner string `json:"owner"`
	Price string `json:"price"`
}

// UpdatePriceResponse confirms the new listing price.
type UpdatePriceResponse struct {
	Token uint64 `json:"token"`
	Price string `json:"price"`
}

func (s *Service) handleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	id, err := parseTokenID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req UpdatePriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	err = s.engine.UpdateListingPrice(market.Identity(req.Owner), id, price)
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	s.logger.Info("Listing repriced", "token", id, "price", price.Dec())
	s.writeJSON(w, UpdatePriceResponse{Token: uint64(id), Price: price.Dec()})
}

// EventListResponse carries a token's recorded history.
type EventListResponse struct {
	Events []event.Event `json:"events"`
}

func (s *Service) handleTokenEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusNotImplemented, errors.New("event store not configured"))
		return
	}
	id, err := parseTokenID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	events, err := s.store.ByToken(uint64(id))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, EventListResponse{Events: events})
}

// AccountResponse reports one bank balance.
type AccountResponse struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
}

func (s *Service) handleAccount(w http.ResponseWriter, r *http.Request) {
	id := market.Identity(r.PathValue("id"))
	balance := s.bank.BalanceOf(id)
	s.writeJSON(w, AccountResponse{Account: string(id), Balance: balance.Dec()})
}

// DepositRequest credits an account.
type DepositRequest struct {
	Amount string `json:"amount"`
}

func (s *Service) handleDeposit(w http.ResponseWriter, r *http.Request) {
	id := market.Identity(r.PathValue("id"))
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.bank.Deposit(id, amount); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	s.logger.Info("Deposit accepted", "account", id, "amount", amount.Dec())
	s.writeJSON(w, AccountResponse{Account: string(id), Balance: s.bank.BalanceOf(id).Dec()})
}

// ViolationResponse is one failed audit rule.
type ViolationResponse struct {
	Token  uint64 `json:"token"`
	Rule   string `json:"rule"`
	Detail string `json:"detail"`
}

// InvariantsResponse is the registry audit result.
type InvariantsResponse struct {
	Clean      bool                `json:"clean"`
	Violations []ViolationResponse `json:"violations"`
}

func (s *Service) handleInvariants(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	violations := s.engine.Invariants()
	s.mu.Unlock()

	resp := InvariantsResponse{
		Clean:      len(violations) == 0,
		Violations: make([]ViolationResponse, 0, len(violations)),
	}
	for _, v := range violations {
		resp.Violations = append(resp.Violations, ViolationResponse{
			Token:  uint64(v.Token),
			Rule:   v.Rule,
			Detail: v.Detail,
		})
	}
	s.writeJSON(w, resp)
}

// ReceiptRequest names the token a receipt should attest.
type ReceiptRequest struct {
	Token uint64 `json:"token"`
}

// handleSettlementReceipt proves the last recorded sale of a token cleared
// its listed price. The amounts come from the event log, not the caller.
func (s *Service) handleSettlementReceipt(w http.ResponseWriter, r *http.Request) {
	if s.issuer == nil {
		s.writeError(w, http.StatusNotImplemented, errors.New("receipts not configured"))
		return
	}
	if s.store == nil {
		s.writeError(w, http.StatusNotImplemented, errors.New("event store not configured"))
		return
	}
	var req ReceiptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	events, err := s.store.ByToken(req.Token)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	var sale *event.Event
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == event.KindPurchased {
			sale = &events[i]
			break
		}
	}
	if sale == nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("no recorded sale for token %d", req.Token))
		return
	}

	price, err := parseAmount(sale.Price)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	paid, err := parseAmount(sale.Paid)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	start := time.Now()
	rec, err := s.issuer.IssueSettlement(market.TokenID(req.Token), price, paid)
	if err != nil {
		s.writeError(w, receiptStatus(err), err)
		return
	}

	s.logger.Info("Receipt issued",
		"circuit", rec.Circuit,
		"token", req.Token,
		"constraints", rec.Constraints,
		"elapsed", time.Since(start),
	)
	s.writeJSON(w, rec)
}

// handleStageReceipt proves the token's current stage was reached by a
// single evolution step.
func (s *Service) handleStageReceipt(w http.ResponseWriter, r *http.Request) {
	if s.issuer == nil {
		s.writeError(w, http.StatusNotImplemented, errors.New("receipts not configured"))
		return
	}
	var req ReceiptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	id := market.TokenID(req.Token)
	s.mu.Lock()
	stage, err := s.engine.GetEvolutionStage(id)
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	if stage < 2 {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("token %d has not evolved", req.Token))
		return
	}

	start := time.Now()
	rec, err := s.issuer.IssueStageStep(id, stage-1, stage)
	if err != nil {
		s.writeError(w, receiptStatus(err), err)
		return
	}

	s.logger.Info("Receipt issued",
		"circuit", rec.Circuit,
		"token", req.Token,
		"constraints", rec.Constraints,
		"elapsed", time.Since(start),
	)
	s.writeJSON(w, rec)
}

func (s *Service) handleExportVerifier(w http.ResponseWriter, r *http.Request) {
	if s.issuer == nil {
		s.writeError(w, http.StatusNotImplemented, errors.New("receipts not configured"))
		return
	}

	solidity, err := s.issuer.SolidityVerifier(r.PathValue("circuit"))
	if err != nil {
		s.writeError(w, receiptStatus(err), err)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(solidity))
}

// receiptStatus maps issuer errors onto HTTP status codes.
func receiptStatus(err error) int {
	switch {
	case errors.Is(err, receipt.ErrUnknownCircuit):
		return http.StatusNotFound
	case errors.Is(err, receipt.ErrUnsatisfied):
		return http.StatusUnprocessableEntity
	case errors.Is(err, receipt.ErrNilAmount), errors.Is(err, receipt.ErrAmountRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
