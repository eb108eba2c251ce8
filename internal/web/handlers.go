package web

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stino180/invest-simply/internal/domain"
	"github.com/stino180/invest-simply/internal/services/agentwallet"
	"github.com/stino180/invest-simply/internal/services/dca"
	"go.uber.org/zap"
)

const portfolioTransactions = 50

// Trader order entry points.
type Trader interface {
	BuyByUSD(ctx context.Context, profileID, symbol string, usd, slippagePercent decimal.Decimal) (domain.FillResult, error)
	BuyByQuantity(ctx context.Context, profileID, symbol string, qty, slippagePercent decimal.Decimal) (domain.FillResult, error)
	SellByQuantity(ctx context.Context, profileID, symbol string, qty, slippagePercent decimal.Decimal) (domain.FillResult, error)
}

// Syncer wallet reconciliation.
type Syncer interface {
	Sync(ctx context.Context, profileID, walletAddress string, network domain.Network) (domain.SyncResult, error)
}

// Profiles profile and portfolio reads.
type Profiles interface {
	EnsureProfile(ctx context.Context, id, walletAddress string) (domain.Profile, error)
	ListHoldings(ctx context.Context, userID string) ([]domain.Holding, error)
	GetBalance(ctx context.Context, userID, currency string, network domain.Network) (domain.Balance, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]domain.WalletTransaction, error)
	Ping(ctx context.Context) error
}

// Agents agent wallet lifecycle.
type Agents interface {
	Ensure(ctx context.Context, p domain.Profile) (agentwallet.Wallet, error)
	CheckAuthorization(ctx context.Context, profileID string) (bool, error)
	RegisterAuthorization(ctx context.Context, profileID string) (time.Time, error)
	SyncAuthorizationFromExchange(ctx context.Context, profileID string) (bool, error)
}

// Plans recurring purchase management.
type Plans interface {
	CreatePlan(ctx context.Context, userID string, p dca.NewPlan) (domain.DCAPlan, error)
	Plans(ctx context.Context, userID string) ([]domain.DCAPlan, error)
	SetActive(ctx context.Context, userID, planID string, active bool) error
	Executions(ctx context.Context, userID, planID string) ([]domain.DCAExecution, error)
}

// Handler API endpoints.
type Handler struct {
	trader          Trader
	syncer          Syncer
	profiles        Profiles
	agents          Agents
	plans           Plans
	defaultSlippage decimal.Decimal
	logger          *zap.Logger
}

// NewHandler creates a Handler. defaultSlippage applies when a request omits it.
func NewHandler(trader Trader, syncer Syncer, profiles Profiles, agents Agents, plans Plans, defaultSlippage decimal.Decimal, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		trader:          trader,
		syncer:          syncer,
		profiles:        profiles,
		agents:          agents,
		plans:           plans,
		defaultSlippage: defaultSlippage,
		logger:          logger,
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	writeError(w, h.logger, err)
}

// profile loads the caller's profile, creating it on first use.
func (h *Handler) profile(r *http.Request) (domain.Profile, error) {
	id := identityFrom(r.Context())
	return h.profiles.EnsureProfile(r.Context(), id.UserID, id.WalletAddress)
}

func (h *Handler) slippage(v *decimal.Decimal) decimal.Decimal {
	if v == nil {
		return h.defaultSlippage
	}
	return *v
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.profiles.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type buyRequest struct {
	Asset           string           `json:"asset"`
	AmountUSD       *decimal.Decimal `json:"amount_usd,omitempty"`
	Quantity        *decimal.Decimal `json:"quantity,omitempty"`
	SlippagePercent *decimal.Decimal `json:"slippage_percent,omitempty"`
}

func (h *Handler) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if (req.AmountUSD == nil) == (req.Quantity == nil) {
		h.fail(w, domain.NewError(domain.KindInvalidRequest, "exactly one of amount_usd and quantity is required"))
		return
	}
	p, err := h.profile(r)
	if err != nil {
		h.fail(w, err)
		return
	}

	var res domain.FillResult
	if req.AmountUSD != nil {
		res, err = h.trader.BuyByUSD(r.Context(), p.ID, req.Asset, *req.AmountUSD, h.slippage(req.SlippagePercent))
	} else {
		res, err = h.trader.BuyByQuantity(r.Context(), p.ID, req.Asset, *req.Quantity, h.slippage(req.SlippagePercent))
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type sellRequest struct {
	Asset           string           `json:"asset"`
	Quantity        decimal.Decimal  `json:"quantity"`
	SlippagePercent *decimal.Decimal `json:"slippage_percent,omitempty"`
}

func (h *Handler) handleSell(w http.ResponseWriter, r *http.Request) {
	var req sellRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	p, err := h.profile(r)
	if err != nil {
		h.fail(w, err)
		return
	}

	res, err := h.trader.SellByQuantity(r.Context(), p.ID, req.Asset, req.Quantity, h.slippage(req.SlippagePercent))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	p, err := h.profile(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	res, err := h.syncer.Sync(r.Context(), p.ID, p.WalletAddress, p.Network)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type portfolioResponse struct {
	Network      domain.Network             `json:"network"`
	Holdings     []domain.Holding           `json:"holdings"`
	Balance      domain.Balance             `json:"balance"`
	TotalUSD     decimal.Decimal            `json:"total_usd"`
	Transactions []domain.WalletTransaction `json:"transactions"`
}

func (h *Handler) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.profile(r)
	if err != nil {
		h.fail(w, err)
		return
	}

	holdings, err := h.profiles.ListHoldings(ctx, p.ID)
	if err != nil {
		h.fail(w, err)
		return
	}
	balance, err := h.profiles.GetBalance(ctx, p.ID, domain.QuoteCurrency, p.Network)
	if err != nil {
		h.fail(w, err)
		return
	}
	txs, err := h.profiles.ListTransactions(ctx, p.ID, portfolioTransactions)
	if err != nil {
		h.fail(w, err)
		return
	}

	total := balance.Total
	for _, hl := range holdings {
		total = total.Add(hl.ValueUSD)
	}
	writeJSON(w, http.StatusOK, portfolioResponse{
		Network:      p.Network,
		Holdings:     holdings,
		Balance:      balance,
		TotalUSD:     total,
		Transactions: txs,
	})
}

type agentResponse struct {
	AgentAddress string `json:"agent_address"`
	Rotated      bool   `json:"rotated"`
	Authorized   bool   `json:"authorized"`
}

func (h *Handler) handleEnsureAgent(w http.ResponseWriter, r *http.Request) {
	p, err := h.profile(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	wallet, err := h.agents.Ensure(r.Context(), p)
	if err != nil {
		h.fail(w, err)
		return
	}
	authorized, err := h.agents.CheckAuthorization(r.Context(), p.ID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agentResponse{
		AgentAddress: wallet.Address.Hex(),
		Rotated:      wallet.Rotated,
		Authorized:   authorized,
	})
}

type authorizationResponse struct {
	Authorized   bool       `json:"authorized"`
	AuthorizedAt *time.Time `json:"authorized_at,omitempty"`
}

func (h *Handler) handleCheckAuthorization(w http.ResponseWriter, r *http.Request) {
	p, err := h.profile(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	ok, err := h.agents.CheckAuthorization(r.Context(), p.ID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authorizationResponse{Authorized: ok})
}

func (h *Handler) handleRegisterAuthorization(w http.ResponseWriter, r *http.Request) {
	p, err := h.profile(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	at, err := h.agents.RegisterAuthorization(r.Context(), p.ID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authorizationResponse{Authorized: true, AuthorizedAt: &at})
}

func (h *Handler) handleSyncAuthorization(w http.ResponseWriter, r *http.Request) {
	p, err := h.profile(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	ok, err := h.agents.SyncAuthorizationFromExchange(r.Context(), p.ID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authorizationResponse{Authorized: ok})
}

type createPlanRequest struct {
	Asset           string           `json:"asset"`
	AmountUSD       decimal.Decimal  `json:"amount_usd"`
	Frequency       domain.Frequency `json:"frequency"`
	SlippagePercent *decimal.Decimal `json:"slippage_percent,omitempty"`
	StartAt         *time.Time       `json:"start_at,omitempty"`
}

func (h *Handler) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	p, err := h.profile(r)
	if err != nil {
		h.fail(w, err)
		return
	}

	np := dca.NewPlan{
		Asset:           req.Asset,
		AmountUSD:       req.AmountUSD,
		Frequency:       req.Frequency,
	}
	if req.SlippagePercent != nil {
		np.SlippagePercent = decimal.NewNullDecimal(*req.SlippagePercent)
	}
	if req.StartAt != nil {
		np.StartAt = *req.StartAt
	}
	plan, err := h.plans.CreatePlan(r.Context(), p.ID, np)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

func (h *Handler) handleListPlans(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	plans, err := h.plans.Plans(r.Context(), id.UserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

func (h *Handler) handleSetPlanActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := identityFrom(r.Context())
		if err := h.plans.SetActive(r.Context(), id.UserID, r.PathValue("id"), active); err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"active": active})
	}
}

func (h *Handler) handlePlanExecutions(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	execs, err := h.plans.Executions(r.Context(), id.UserID, r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, execs)
}
