package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"tournament-wallet/internal/config"
	"tournament-wallet/internal/model"
	"tournament-wallet/internal/notify"
	"tournament-wallet/internal/pkg/metrics"
	"tournament-wallet/internal/repository"
)

// JoinRequest registers a leader and their roster in a match.
type JoinRequest struct {
	MatchID   uuid.UUID
	AccountID uuid.UUID
	TeamName  string
	Players   []model.Player
}

// JoinResult describes a successful registration. Entry is nil for free matches.
type JoinResult struct {
	Team               *model.TeamEntry   `json:"team"`
	SlotNumber         int                `json:"slotNumber"`
	NewWalletBalance   decimal.Decimal    `json:"newWalletBalance"`
	NewReferralBalance decimal.Decimal    `json:"newReferralBalance"`
	Entry              *model.LedgerEntry `json:"entry,omitempty"`
}

// JoinService admits entries into matches and charges their entry fee.
type JoinService struct {
	base
	cfg config.MatchConfig
}

// NewJoinService creates a new JoinService instance.
func NewJoinService(deps Deps, cfg config.MatchConfig) *JoinService {
	return &JoinService{base: newBase(deps), cfg: cfg}
}

// Capacity returns how many entries a match of mode accepts.
func Capacity(cfg config.MatchConfig, mode model.MatchMode) int {
	if mode.IsTeam() {
		return cfg.TeamCapacity
	}
	return cfg.SoloCapacity
}

// Join registers req.AccountID in the match. The checks run in a fixed order
// and the first failure is returned. On success the entry fee is taken from
// the referral balance first and the remainder from the wallet, in the same
// unit of work that records the roster.
func (s *JoinService) Join(ctx context.Context, req JoinRequest) (result *JoinResult, err error) {
	defer s.metrics.ObserveSince("join", time.Now())
	defer func() { s.metrics.IncJoin(metrics.Outcome(err, code)) }()

	players := normalizeRoster(req.Players)
	teamName := strings.TrimSpace(req.TeamName)

	keys := []string{matchKey(req.MatchID), accountKey(req.AccountID)}
	err = s.withLocks(ctx, keys, func() error {
		return s.store.InTx(ctx, func(tx repository.Tx) error {
			m, err := tx.LockMatch(ctx, req.MatchID)
			if err != nil {
				return err
			}

			acct, err := tx.EnsureAccount(ctx, req.AccountID)
			if err != nil {
				return err
			}
			if acct.IsBlocked {
				return ErrAccountBlocked
			}
			if !m.RegistrationOpen(s.now(), s.cfg.LeadWindow) {
				return ErrRegistrationClosed
			}

			if err := checkRoster(m.Mode, teamName, players); err != nil {
				return err
			}

			ids := make([]string, len(players))
			for i, p := range players {
				ids[i] = p.InGameID
			}
			taken, err := tx.TakenInGameIDs(ctx, m.ID, ids)
			if err != nil {
				return err
			}
			if len(taken) > 0 {
				return ErrInGameIDTaken.WithMessage("in-game id %s is already registered in this match", taken[0])
			}

			joined, err := tx.HasTeam(ctx, m.ID, req.AccountID)
			if err != nil {
				return err
			}
			if joined {
				return ErrAlreadyJoined
			}

			count, err := tx.CountTeams(ctx, m.ID)
			if err != nil {
				return err
			}
			if count >= Capacity(s.cfg, m.Mode) {
				return ErrMatchFull
			}

			acct, err = tx.LockAccount(ctx, req.AccountID)
			if err != nil {
				return err
			}
			if acct.Available().LessThan(m.EntryFee) {
				return ErrInsufficientFunds.WithMessage("entry fee is %s, available balance is %s",
					m.EntryFee.StringFixed(2), acct.Available().StringFixed(2))
			}

			now := s.now()
			team := &model.TeamEntry{
				ID:         uuid.New(),
				MatchID:    m.ID,
				LeaderID:   req.AccountID,
				TeamName:   teamName,
				SlotNumber: slotNumber(s.cfg, m.Mode, count),
				Players:    players,
				CreatedAt:  now,
			}

			var entry *model.LedgerEntry
			if m.EntryFee.IsPositive() {
				fromReferral := decimal.Min(acct.ReferralBalance, m.EntryFee)
				fromWallet := m.EntryFee.Sub(fromReferral)

				acct.ReferralBalance = acct.ReferralBalance.Sub(fromReferral)
				acct.WalletBalance = acct.WalletBalance.Sub(fromWallet)
				if err := tx.UpdateBalances(ctx, acct); err != nil {
					return err
				}

				entry = &model.LedgerEntry{
					ID:                   uuid.New(),
					AccountID:            req.AccountID,
					Direction:            model.Debit,
					Amount:               m.EntryFee,
					WalletAmount:         fromWallet,
					ReferralAmount:       fromReferral,
					Source:               model.SourceMatchEntry,
					Status:               model.StatusJoined,
					MatchID:              uuidPtr(m.ID),
					BalanceAfter:         acct.WalletBalance,
					ReferralBalanceAfter: acct.ReferralBalance,
					Remarks:              "Entry fee for " + m.Name,
					CreatedAt:            now,
					UpdatedAt:            now,
				}
				if err := tx.InsertEntry(ctx, entry); err != nil {
					return joinConflict(err)
				}
				team.LedgerEntryID = uuidPtr(entry.ID)
			}

			if err := tx.InsertTeam(ctx, team); err != nil {
				return joinConflict(err)
			}

			result = &JoinResult{
				Team:               team,
				SlotNumber:         team.SlotNumber,
				NewWalletBalance:   acct.WalletBalance,
				NewReferralBalance: acct.ReferralBalance,
				Entry:              entry,
			}
			return nil
		})
	})
	if err != nil {
		return nil, translate("join match", err)
	}

	log.Info().
		Str("match_id", req.MatchID.String()).
		Str("account_id", req.AccountID.String()).
		Int("slot", result.SlotNumber).
		Msg("Match joined")

	evt := notify.Event{
		Type:      notify.EventMatchJoined,
		AccountID: req.AccountID,
		MatchID:   uuidPtr(req.MatchID),
		Status:    string(model.StatusJoined),
		Message:   "Joined with slot " + strconv.Itoa(result.SlotNumber),
	}
	if result.Entry != nil {
		evt.EntryID = uuidPtr(result.Entry.ID)
		evt.Amount = result.Entry.Amount
		s.metrics.IncLedgerEntry(string(model.SourceMatchEntry), string(model.StatusJoined))
	}
	s.publish(evt)
	return result, nil
}

// checkRoster validates the roster against the mode: size, then team name,
// then in-game id uniqueness.
func checkRoster(mode model.MatchMode, teamName string, players []model.Player) error {
	if len(players) != mode.RequiredPlayers() {
		return ErrRosterSizeMismatch.WithMessage("%s matches need exactly %d player(s), got %d",
			mode, mode.RequiredPlayers(), len(players))
	}
	if mode.IsTeam() && teamName == "" {
		return ErrTeamNameRequired
	}

	seen := make(map[string]struct{}, len(players))
	for _, p := range players {
		if p.InGameID == "" {
			return ErrInvalidPlayer
		}
		if _, dup := seen[p.InGameID]; dup {
			return ErrDuplicateInGameID.WithMessage("in-game id %s appears more than once", p.InGameID)
		}
		seen[p.InGameID] = struct{}{}
	}
	return nil
}

func normalizeRoster(players []model.Player) []model.Player {
	out := make([]model.Player, len(players))
	for i, p := range players {
		out[i] = model.Player{
			DisplayName: strings.TrimSpace(p.DisplayName),
			InGameID:    strings.TrimSpace(p.InGameID),
		}
	}
	return out
}

// slotNumber assigns the next slot. Team modes may start numbering after a
// block of reserved slots.
func slotNumber(cfg config.MatchConfig, mode model.MatchMode, existing int) int {
	slot := existing + 1
	if mode.IsTeam() {
		slot += cfg.TeamSlotOffset
	}
	return slot
}
