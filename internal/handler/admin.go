package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"tournament-wallet/internal/model"
	"tournament-wallet/internal/service"
)

type createMatchRequest struct {
	Name              string            `json:"name" validate:"required,max=120"`
	Mode              string            `json:"mode" validate:"required,max=16"`
	EntryFee          decimal.Decimal   `json:"entryFee"`
	PrizePool         decimal.Decimal   `json:"prizePool"`
	PrizeDistribution []model.PrizeRank `json:"prizeDistribution" validate:"max=100"`
	MatchTime         time.Time         `json:"matchTime"`
}

type winnerDTO struct {
	AccountID string          `json:"accountId" validate:"omitempty,uuid"`
	TeamName  string          `json:"teamName" validate:"max=64"`
	Rank      int             `json:"rank" validate:"gte=0"`
	Kills     int             `json:"kills" validate:"gte=0"`
	Prize     decimal.Decimal `json:"prize"`
}

func (d winnerDTO) model() (model.Winner, error) {
	id, err := optionalID(d.AccountID)
	if err != nil {
		return model.Winner{}, err
	}
	return model.Winner{AccountID: id, TeamName: d.TeamName, Rank: d.Rank, Kills: d.Kills, Prize: d.Prize}, nil
}

type settleRequest struct {
	Winners     []winnerDTO `json:"winners" validate:"max=200,dive"`
	HighestKill *winnerDTO  `json:"highestKill"`
	Remarks     string      `json:"remarks" validate:"max=500"`
}

type roomRequest struct {
	RoomCode string `json:"roomCode" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=64"`
	Server   string `json:"server" validate:"max=64"`
	Map      string `json:"map" validate:"max=64"`
	Notes    string `json:"notes" validate:"max=500"`
}

type decisionRequest struct {
	Decision       string           `json:"decision" validate:"required,oneof=approve reject"`
	AdjustedAmount *decimal.Decimal `json:"adjustedAmount"`
	Remarks        string           `json:"remarks" validate:"max=500"`
}

type referralRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Remarks string          `json:"remarks" validate:"max=500"`
}

// AdminHandler serves the admin-only operations. Routes are expected behind
// an admin role check.
type AdminHandler struct {
	matches  *service.MatchService
	settle   *service.SettlementService
	wallet   *service.WalletService
	accounts *service.AccountService
	b        *binder
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	matches *service.MatchService,
	settle *service.SettlementService,
	wallet *service.WalletService,
	accounts *service.AccountService,
	maxBody int64,
) *AdminHandler {
	return &AdminHandler{
		matches:  matches,
		settle:   settle,
		wallet:   wallet,
		accounts: accounts,
		b:        newBinder(maxBody),
	}
}

func audit(admin Identity, operation, target string) {
	log.Info().
		Str("admin_id", admin.AccountID.String()).
		Str("target", target).
		Str("operation", operation).
		Msg("Admin operation executed")
}

// HandleCreateMatch handles POST /admin/matches.
func (h *AdminHandler) HandleCreateMatch(w http.ResponseWriter, r *http.Request) {
	admin, err := caller(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req createMatchRequest
	if err := h.b.bind(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	m, err := h.matches.CreateMatch(r.Context(), service.CreateMatchRequest{
		Name:              req.Name,
		Mode:              req.Mode,
		EntryFee:          req.EntryFee,
		PrizePool:         req.PrizePool,
		PrizeDistribution: req.PrizeDistribution,
		MatchTime:         req.MatchTime,
		CreatedBy:         admin.AccountID,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	audit(admin, "create_match", m.ID.String())
	WriteJSON(w, http.StatusCreated, m)
}

// HandleStartMatch handles POST /admin/matches/{id}/start.
func (h *AdminHandler) HandleStartMatch(w http.ResponseWriter, r *http.Request) {
	admin, err := caller(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	matchID, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	m, err := h.matches.StartMatch(r.Context(), matchID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	audit(admin, "start_match", matchID.String())
	WriteJSON(w, http.StatusOK, m)
}

// HandleSettle handles POST /admin/matches/{id}/settle.
// Pays the winners and the highest-kill bonus and completes the match.
func (h *AdminHandler) HandleSettle(w http.ResponseWriter, r *http.Request) {
	admin, err := caller(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	matchID, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req settleRequest
	if err := h.b.bind(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	sr := service.SettleRequest{
		MatchID:   matchID,
		Winners:   make([]model.Winner, 0, len(req.Winners)),
		Remarks:   req.Remarks,
		SettledBy: admin.AccountID,
	}
	for _, d := range req.Winners {
		wnr, err := d.model()
		if err != nil {
			WriteError(w, r, err)
			return
		}
		sr.Winners = append(sr.Winners, wnr)
	}
	if req.HighestKill != nil {
		hk, err := req.HighestKill.model()
		if err != nil {
			WriteError(w, r, err)
			return
		}
		sr.HighestKill = &hk
	}

	res, err := h.settle.Settle(r.Context(), sr)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	audit(admin, "settle_match", matchID.String())
	WriteJSON(w, http.StatusOK, res)
}

// HandleSetRoom handles PUT /admin/matches/{id}/room.
func (h *AdminHandler) HandleSetRoom(w http.ResponseWriter, r *http.Request) {
	admin, err := caller(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	matchID, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req roomRequest
	if err := h.b.bind(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	room, err := h.matches.SetRoom(r.Context(), service.SetRoomRequest{
		MatchID:   matchID,
		RoomCode:  req.RoomCode,
		Password:  req.Password,
		Server:    req.Server,
		Map:       req.Map,
		Notes:     req.Notes,
		UpdatedBy: admin.AccountID,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	audit(admin, "set_room", matchID.String())
	WriteJSON(w, http.StatusOK, room)
}

// HandleListTransactions handles GET /admin/transactions?status=&source=&accountId=&limit=.
func (h *AdminHandler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	accountID, err := optionalID(q.Get("accountId"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			WriteError(w, r, ErrInvalidRequest.WithMessage("limit must be a non-negative integer"))
			return
		}
	}
	entries, err := h.wallet.ListTransactions(r.Context(), service.TransactionFilter{
		AccountID: accountID,
		Status:    model.EntryStatus(q.Get("status")),
		Source:    model.EntrySource(q.Get("source")),
		Limit:     limit,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, entries)
}

// HandleDecide handles POST /admin/transactions/{id}/decision.
func (h *AdminHandler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	admin, err := caller(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	entryID, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req decisionRequest
	if err := h.b.bind(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	entry, err := h.wallet.DecideTransaction(r.Context(), service.Decision{
		EntryID:        entryID,
		Decision:       service.DecisionKind(req.Decision),
		AdjustedAmount: req.AdjustedAmount,
		Remarks:        req.Remarks,
		DecidedBy:      admin.AccountID,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	audit(admin, "decide_"+string(entry.Source), entryID.String())
	WriteJSON(w, http.StatusOK, entry)
}

// HandleAccountWallet handles GET /admin/accounts/{id}/wallet.
func (h *AdminHandler) HandleAccountWallet(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	summary, err := h.wallet.GetWalletSummary(r.Context(), accountID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}

// HandleReconcile handles GET /admin/accounts/{id}/reconcile.
func (h *AdminHandler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	report, err := h.wallet.Reconcile(r.Context(), accountID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

// HandleBlock handles POST /admin/accounts/{id}/block.
func (h *AdminHandler) HandleBlock(w http.ResponseWriter, r *http.Request) {
	h.setBlocked(w, r, true)
}

// HandleUnblock handles POST /admin/accounts/{id}/unblock.
func (h *AdminHandler) HandleUnblock(w http.ResponseWriter, r *http.Request) {
	h.setBlocked(w, r, false)
}

func (h *AdminHandler) setBlocked(w http.ResponseWriter, r *http.Request, blocked bool) {
	admin, err := caller(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	accountID, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	acct, err := h.accounts.SetBlocked(r.Context(), accountID, blocked, admin.AccountID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	op := "unblock_account"
	if blocked {
		op = "block_account"
	}
	audit(admin, op, accountID.String())
	WriteJSON(w, http.StatusOK, acct)
}

// HandleReferralBonus handles POST /admin/accounts/{id}/referral-bonus.
func (h *AdminHandler) HandleReferralBonus(w http.ResponseWriter, r *http.Request) {
	admin, err := caller(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	accountID, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req referralRequest
	if err := h.b.bind(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	entry, err := h.wallet.GrantReferralBonus(r.Context(), accountID, req.Amount, req.Remarks, admin.AccountID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	audit(admin, "grant_referral_bonus", accountID.String())
	WriteJSON(w, http.StatusCreated, entry)
}
