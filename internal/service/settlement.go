package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
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

// SettleRequest carries the final standings of a match.
type SettleRequest struct {
	MatchID     uuid.UUID
	Winners     []model.Winner
	HighestKill *model.Winner
	Remarks     string
	SettledBy   uuid.UUID
}

// SettlementResult is the completed match and the credits it produced.
// Skipped lists payable winners whose account does not exist.
type SettlementResult struct {
	Match   *model.Match         `json:"match"`
	Credits []*model.LedgerEntry `json:"credits"`
	Skipped []uuid.UUID          `json:"skipped,omitempty"`
}

// SettlementService completes matches and pays out prizes.
type SettlementService struct {
	base
	cfg config.SettlementConfig
}

// NewSettlementService creates a new SettlementService instance.
func NewSettlementService(deps Deps, cfg config.SettlementConfig) *SettlementService {
	return &SettlementService{base: newBase(deps), cfg: cfg}
}

// payout is one credit owed by a settlement.
type payout struct {
	accountID uuid.UUID
	amount    decimal.Decimal
	source    model.EntrySource
	remarks   string
}

// Settle pays every payable winner and the highest-kill bonus, attaches the
// results and marks the match completed. Either all of it commits or none
// of it does; a match is settled at most once.
func (s *SettlementService) Settle(ctx context.Context, req SettleRequest) (result *SettlementResult, err error) {
	defer s.metrics.ObserveSince("settle", time.Now())
	defer func() { s.metrics.IncSettlement(metrics.Outcome(err, code)) }()

	payouts, err := planPayouts(req)
	if err != nil {
		// A missing or settled match outranks a malformed payout list.
		if serr := s.checkSettleable(ctx, req.MatchID); serr != nil {
			return nil, serr
		}
		return nil, err
	}

	keys := []string{matchKey(req.MatchID)}
	for _, p := range payouts {
		keys = append(keys, accountKey(p.accountID))
	}

	err = s.withLocks(ctx, keys, func() error {
		return s.store.InTx(ctx, func(tx repository.Tx) error {
			m, err := tx.LockMatch(ctx, req.MatchID)
			if err != nil {
				return err
			}
			if m.Status == model.MatchCompleted {
				return ErrMatchAlreadySettled
			}

			if s.cfg.EnforcePrizePool {
				total := decimal.Zero
				for _, p := range payouts {
					total = total.Add(p.amount)
				}
				if total.GreaterThan(m.PrizePool) {
					return ErrPayoutExceedsPrizePool.WithMessage("total payout %s exceeds prize pool %s",
						total.StringFixed(2), m.PrizePool.StringFixed(2))
				}
			}

			now := s.now()
			res := &SettlementResult{Credits: []*model.LedgerEntry{}}
			for _, p := range payouts {
				acct, err := tx.LockAccount(ctx, p.accountID)
				if errors.Is(err, repository.ErrAccountNotFound) {
					log.Warn().
						Str("match_id", m.ID.String()).
						Str("account_id", p.accountID.String()).
						Str("amount", p.amount.String()).
						Msg("Skipping payout to unknown account")
					res.Skipped = append(res.Skipped, p.accountID)
					continue
				}
				if err != nil {
					return err
				}

				acct.WalletBalance = acct.WalletBalance.Add(p.amount)
				if err := tx.UpdateBalances(ctx, acct); err != nil {
					return err
				}

				entry := &model.LedgerEntry{
					ID:                   uuid.New(),
					AccountID:            p.accountID,
					Direction:            model.Credit,
					Amount:               p.amount,
					WalletAmount:         p.amount,
					ReferralAmount:       decimal.Zero,
					Source:               p.source,
					Status:               model.StatusApproved,
					MatchID:              uuidPtr(m.ID),
					BalanceAfter:         acct.WalletBalance,
					ReferralBalanceAfter: acct.ReferralBalance,
					Remarks:              p.remarks + " in " + m.Name,
					DecidedBy:            uuidPtr(req.SettledBy),
					DecidedAt:            timePtr(now),
					CreatedAt:            now,
					UpdatedAt:            now,
				}
				if err := tx.InsertEntry(ctx, entry); err != nil {
					if errors.Is(err, repository.ErrDuplicate) {
						return ErrMatchAlreadySettled
					}
					return err
				}
				res.Credits = append(res.Credits, entry)
			}

			results := &model.MatchResults{
				Winners:     req.Winners,
				HighestKill: req.HighestKill,
				Remarks:     strings.TrimSpace(req.Remarks),
				SettledBy:   req.SettledBy,
				SettledAt:   now,
			}
			if err := tx.CompleteMatch(ctx, m.ID, results); err != nil {
				if errors.Is(err, repository.ErrStaleState) {
					return ErrMatchAlreadySettled
				}
				return err
			}

			m.Status = model.MatchCompleted
			m.Results = results
			m.UpdatedAt = now
			res.Match = m
			result = res
			return nil
		})
	})
	if err != nil {
		return nil, translate("settle match", err)
	}

	total := decimal.Zero
	for _, c := range result.Credits {
		total = total.Add(c.Amount)
		s.metrics.IncLedgerEntry(string(c.Source), string(c.Status))
	}

	log.Info().
		Str("match_id", req.MatchID.String()).
		Int("credits", len(result.Credits)).
		Int("skipped", len(result.Skipped)).
		Str("total", total.String()).
		Msg("Match settled")

	s.publish(notify.Event{
		Type:      notify.EventMatchSettled,
		AccountID: req.SettledBy,
		MatchID:   uuidPtr(req.MatchID),
		Amount:    total,
		Status:    string(model.MatchCompleted),
		Message:   fmt.Sprintf("%d prize credit(s) paid", len(result.Credits)),
	})
	return result, nil
}

// checkSettleable reports why the match cannot be settled, if it cannot.
func (s *SettlementService) checkSettleable(ctx context.Context, matchID uuid.UUID) error {
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		m, err := tx.GetMatch(ctx, matchID)
		if err != nil {
			return err
		}
		if m.Status == model.MatchCompleted {
			return ErrMatchAlreadySettled
		}
		return nil
	})
	return translate("settle match", err)
}

// planPayouts validates the standings and lists the credits they imply,
// ordered by account so that row locks are always taken in the same order.
func planPayouts(req SettleRequest) ([]payout, error) {
	var payouts []payout
	seen := make(map[uuid.UUID]struct{}, len(req.Winners))

	for _, w := range req.Winners {
		if !w.Payable() {
			continue
		}
		if _, dup := seen[w.AccountID]; dup {
			return nil, ErrDuplicateWinner.WithMessage("account %s appears more than once among the winners", w.AccountID)
		}
		seen[w.AccountID] = struct{}{}
		if !validAmount(w.Prize) {
			return nil, ErrInvalidAmount.WithMessage("prize %s for rank %d is not a valid amount", w.Prize, w.Rank)
		}
		payouts = append(payouts, payout{
			accountID: w.AccountID,
			amount:    w.Prize,
			source:    model.SourceMatchPrize,
			remarks:   fmt.Sprintf("Rank %d prize", w.Rank),
		})
	}

	if hk := req.HighestKill; hk != nil && hk.Payable() {
		if !validAmount(hk.Prize) {
			return nil, ErrInvalidAmount.WithMessage("highest kill prize %s is not a valid amount", hk.Prize)
		}
		payouts = append(payouts, payout{
			accountID: hk.AccountID,
			amount:    hk.Prize,
			source:    model.SourceHighestKillBonus,
			remarks:   fmt.Sprintf("Highest kill bonus (%d kills)", hk.Kills),
		})
	}

	sort.SliceStable(payouts, func(i, j int) bool {
		a, b := payouts[i].accountID.String(), payouts[j].accountID.String()
		if a != b {
			return a < b
		}
		return payouts[i].source < payouts[j].source
	})
	return payouts, nil
}
