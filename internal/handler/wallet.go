package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"tournament-wallet/internal/service"
)

type rechargeRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	ProofRef string          `json:"proofRef" validate:"max=256"`
}

type withdrawalRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// WalletHandler serves the caller's own wallet.
type WalletHandler struct {
	wallet *service.WalletService
	b      *binder
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(wallet *service.WalletService, maxBody int64) *WalletHandler {
	return &WalletHandler{wallet: wallet, b: newBinder(maxBody)}
}

// HandleGetWallet handles GET /wallet.
// Returns balances and the most recent history, newest first.
func (h *WalletHandler) HandleGetWallet(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	summary, err := h.wallet.GetWalletSummary(r.Context(), id.AccountID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}

// HandleRecharge handles POST /wallet/recharges.
// The claim stays pending until an admin decides it.
func (h *WalletHandler) HandleRecharge(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req rechargeRequest
	if err := h.b.bind(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	entry, err := h.wallet.SubmitRecharge(r.Context(), id.AccountID, req.Amount, req.ProofRef)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, entry)
}

// HandleWithdrawal handles POST /wallet/withdrawals.
// The amount leaves the wallet immediately and is refunded if rejected.
func (h *WalletHandler) HandleWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req withdrawalRequest
	if err := h.b.bind(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := h.wallet.RequestWithdrawal(r.Context(), id.AccountID, req.Amount)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, res)
}
