package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"tournament-wallet/internal/config"
	"tournament-wallet/internal/model"
	"tournament-wallet/internal/notify"
	"tournament-wallet/internal/repository"
)

// maxListLimit caps admin listings.
const maxListLimit = 500

// DecisionKind is an admin's verdict on a pending transaction.
type DecisionKind string

// Decisions.
const (
	DecisionApprove DecisionKind = "approve"
	DecisionReject  DecisionKind = "reject"
)

// Decision is an admin's ruling on a pending recharge or withdrawal.
// AdjustedAmount replaces the claimed amount of an approved recharge.
type Decision struct {
	EntryID        uuid.UUID
	Decision       DecisionKind
	AdjustedAmount *decimal.Decimal
	Remarks        string
	DecidedBy      uuid.UUID
}

// WithdrawalResult is returned by RequestWithdrawal.
type WithdrawalResult struct {
	Entry            *model.LedgerEntry `json:"entry"`
	NewWalletBalance decimal.Decimal    `json:"newWalletBalance"`
}

// WalletSummary is an account's balances and recent history.
type WalletSummary struct {
	AccountID       uuid.UUID            `json:"accountId"`
	WalletBalance   decimal.Decimal      `json:"walletBalance"`
	ReferralBalance decimal.Decimal      `json:"referralBalance"`
	IsBlocked       bool                 `json:"isBlocked"`
	History         []*model.LedgerEntry `json:"history"`
}

// TransactionFilter narrows ListTransactions.
type TransactionFilter struct {
	AccountID uuid.UUID
	Status    model.EntryStatus
	Source    model.EntrySource
	Limit     int
}

// ReconcileReport compares the cached balances with the ledger.
type ReconcileReport struct {
	AccountID       uuid.UUID       `json:"accountId"`
	WalletBalance   decimal.Decimal `json:"walletBalance"`
	ReferralBalance decimal.Decimal `json:"referralBalance"`
	LedgerWallet    decimal.Decimal `json:"ledgerWallet"`
	LedgerReferral  decimal.Decimal `json:"ledgerReferral"`
	Balanced        bool            `json:"balanced"`
}

// WalletService runs the recharge and withdrawal approval workflow and
// exposes balances and history.
type WalletService struct {
	base
	cfg config.WalletConfig
}

// NewWalletService creates a new WalletService instance.
func NewWalletService(deps Deps, cfg config.WalletConfig) *WalletService {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	return &WalletService{base: newBase(deps), cfg: cfg}
}

// SubmitRecharge records a pending recharge claim. Balances change only when
// an admin approves it.
func (s *WalletService) SubmitRecharge(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, proofRef string) (*model.LedgerEntry, error) {
	defer s.metrics.ObserveSince("submit_recharge", time.Now())

	if !validAmount(amount) {
		return nil, ErrInvalidAmount
	}
	if amount.LessThan(s.cfg.MinRecharge) {
		return nil, ErrAmountBelowMinimum.WithMessage("minimum recharge is %s", s.cfg.MinRecharge.StringFixed(2))
	}
	proofRef = strings.TrimSpace(proofRef)
	if proofRef == "" {
		return nil, ErrProofRequired
	}

	var entry *model.LedgerEntry
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		acct, err := tx.EnsureAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if acct.IsBlocked {
			return ErrAccountBlocked
		}

		now := s.now()
		entry = &model.LedgerEntry{
			ID:                   uuid.New(),
			AccountID:            accountID,
			Direction:            model.Credit,
			Amount:               amount,
			WalletAmount:         amount,
			ReferralAmount:       decimal.Zero,
			Source:               model.SourceRecharge,
			Status:               model.StatusPending,
			ProofRef:             proofRef,
			BalanceAfter:         acct.WalletBalance,
			ReferralBalanceAfter: acct.ReferralBalance,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		return tx.InsertEntry(ctx, entry)
	})
	if err != nil {
		return nil, translate("submit recharge", err)
	}

	s.metrics.IncLedgerEntry(string(entry.Source), string(entry.Status))
	s.publish(notify.Event{
		Type:      notify.EventRechargeSubmitted,
		AccountID: accountID,
		EntryID:   uuidPtr(entry.ID),
		Amount:    amount,
		Status:    string(entry.Status),
		Message:   "Proof: " + proofRef,
	})
	return entry, nil
}

// RequestWithdrawal debits the wallet immediately and records a pending
// withdrawal. A rejection later refunds the amount.
func (s *WalletService) RequestWithdrawal(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*WithdrawalResult, error) {
	defer s.metrics.ObserveSince("request_withdrawal", time.Now())

	if !validAmount(amount) {
		return nil, ErrInvalidAmount
	}
	if amount.LessThan(s.cfg.MinWithdrawal) {
		return nil, ErrAmountBelowMinimum.WithMessage("minimum withdrawal is %s", s.cfg.MinWithdrawal.StringFixed(2))
	}

	var result *WithdrawalResult
	err := s.withLocks(ctx, []string{accountKey(accountID)}, func() error {
		return s.store.InTx(ctx, func(tx repository.Tx) error {
			acct, err := provision(ctx, tx, accountID)
			if err != nil {
				return err
			}
			if acct.IsBlocked {
				return ErrAccountBlocked
			}
			if acct.WalletBalance.LessThan(amount) {
				return ErrInsufficientFunds.WithMessage("wallet balance %s is below %s",
					acct.WalletBalance.StringFixed(2), amount.StringFixed(2))
			}

			acct.WalletBalance = acct.WalletBalance.Sub(amount)
			if err := tx.UpdateBalances(ctx, acct); err != nil {
				return err
			}

			now := s.now()
			entry := &model.LedgerEntry{
				ID:                   uuid.New(),
				AccountID:            accountID,
				Direction:            model.Debit,
				Amount:               amount,
				WalletAmount:         amount,
				ReferralAmount:       decimal.Zero,
				Source:               model.SourceWithdrawal,
				Status:               model.StatusPending,
				BalanceAfter:         acct.WalletBalance,
				ReferralBalanceAfter: acct.ReferralBalance,
				CreatedAt:            now,
				UpdatedAt:            now,
			}
			if err := tx.InsertEntry(ctx, entry); err != nil {
				return err
			}
			result = &WithdrawalResult{Entry: entry, NewWalletBalance: acct.WalletBalance}
			return nil
		})
	})
	if err != nil {
		return nil, translate("request withdrawal", err)
	}

	s.metrics.IncLedgerEntry(string(model.SourceWithdrawal), string(model.StatusPending))
	s.publish(notify.Event{
		Type:      notify.EventWithdrawalRequested,
		AccountID: accountID,
		EntryID:   uuidPtr(result.Entry.ID),
		Amount:    amount,
		Status:    string(model.StatusPending),
		Message:   "Wallet balance after debit: " + result.NewWalletBalance.StringFixed(2),
	})
	return result, nil
}

// DecideTransaction approves or rejects a pending recharge or withdrawal.
// An entry is decided at most once; later attempts fail without side effects.
func (s *WalletService) DecideTransaction(ctx context.Context, d Decision) (*model.LedgerEntry, error) {
	defer s.metrics.ObserveSince("decide_transaction", time.Now())

	if d.Decision != DecisionApprove && d.Decision != DecisionReject {
		return nil, ErrInvalidDecision
	}
	if d.AdjustedAmount != nil && !validAmount(*d.AdjustedAmount) {
		return nil, ErrInvalidAmount
	}

	// The owning account is needed up front to take its lock.
	var accountID uuid.UUID
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		e, err := tx.GetEntry(ctx, d.EntryID)
		if err != nil {
			return err
		}
		accountID = e.AccountID
		return nil
	})
	if err != nil {
		return nil, translate("decide transaction", err)
	}

	var entry *model.LedgerEntry
	err = s.withLocks(ctx, []string{accountKey(accountID)}, func() error {
		return s.store.InTx(ctx, func(tx repository.Tx) error {
			e, err := tx.LockEntry(ctx, d.EntryID)
			if err != nil {
				return err
			}
			if !e.Source.Moderated() {
				return ErrNotModerated
			}
			if e.Status != model.StatusPending {
				return ErrTransactionProcessed
			}
			if d.AdjustedAmount != nil && !(e.Source == model.SourceRecharge && d.Decision == DecisionApprove) {
				return ErrAdjustmentNotAllowed
			}

			acct, err := tx.LockAccount(ctx, e.AccountID)
			if err != nil {
				return err
			}

			switch {
			case e.Source == model.SourceRecharge && d.Decision == DecisionApprove:
				amount := e.Amount
				if d.AdjustedAmount != nil {
					amount = *d.AdjustedAmount
				}
				acct.WalletBalance = acct.WalletBalance.Add(amount)
				if err := tx.UpdateBalances(ctx, acct); err != nil {
					return err
				}
				e.Amount = amount
				e.WalletAmount = amount
				e.Status = model.StatusApproved
				e.BalanceAfter = acct.WalletBalance
				e.ReferralBalanceAfter = acct.ReferralBalance

			case e.Source == model.SourceWithdrawal && d.Decision == DecisionReject:
				acct.WalletBalance = acct.WalletBalance.Add(e.WalletAmount)
				if err := tx.UpdateBalances(ctx, acct); err != nil {
					return err
				}
				e.Status = model.StatusRejected
				e.BalanceAfter = acct.WalletBalance
				e.ReferralBalanceAfter = acct.ReferralBalance

			case d.Decision == DecisionApprove:
				e.Status = model.StatusApproved

			default:
				e.Status = model.StatusRejected
			}

			now := s.now()
			e.Remarks = strings.TrimSpace(d.Remarks)
			e.DecidedBy = uuidPtr(d.DecidedBy)
			e.DecidedAt = timePtr(now)
			e.UpdatedAt = now

			if err := tx.UpdateEntryDecision(ctx, e, model.StatusPending); err != nil {
				if errors.Is(err, repository.ErrStaleState) {
					return ErrTransactionProcessed
				}
				return err
			}
			entry = e
			return nil
		})
	})
	if err != nil {
		return nil, translate("decide transaction", err)
	}

	s.metrics.IncDecision(string(entry.Source), string(d.Decision))
	log.Info().
		Str("entry_id", entry.ID.String()).
		Str("account_id", entry.AccountID.String()).
		Str("source", string(entry.Source)).
		Str("status", string(entry.Status)).
		Str("amount", entry.Amount.String()).
		Str("decided_by", d.DecidedBy.String()).
		Msg("Transaction decided")

	s.publish(notify.Event{
		Type:      notify.EventTransactionDecided,
		AccountID: entry.AccountID,
		EntryID:   uuidPtr(entry.ID),
		Amount:    entry.Amount,
		Status:    string(entry.Status),
		Message:   string(entry.Source) + " " + string(entry.Status),
	})
	return entry, nil
}

// GetWalletSummary returns balances and the most recent history, newest
// first. An account that has never been used reports zero balances.
func (s *WalletService) GetWalletSummary(ctx context.Context, accountID uuid.UUID) (*WalletSummary, error) {
	summary := &WalletSummary{
		AccountID:       accountID,
		WalletBalance:   decimal.Zero,
		ReferralBalance: decimal.Zero,
		History:         []*model.LedgerEntry{},
	}

	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		acct, err := tx.GetAccount(ctx, accountID)
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		summary.WalletBalance = acct.WalletBalance
		summary.ReferralBalance = acct.ReferralBalance
		summary.IsBlocked = acct.IsBlocked

		history, err := tx.ListEntries(ctx, repository.EntryFilter{AccountID: accountID, Limit: s.cfg.HistoryLimit})
		if err != nil {
			return err
		}
		if history != nil {
			summary.History = history
		}
		return nil
	})
	if err != nil {
		return nil, translate("wallet summary", err)
	}
	return summary, nil
}

// GrantReferralBonus credits an account's referral balance. Referral credit
// can only be spent on match entry fees.
func (s *WalletService) GrantReferralBonus(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, remarks string, grantedBy uuid.UUID) (*model.LedgerEntry, error) {
	if !validAmount(amount) {
		return nil, ErrInvalidAmount
	}

	var entry *model.LedgerEntry
	err := s.withLocks(ctx, []string{accountKey(accountID)}, func() error {
		return s.store.InTx(ctx, func(tx repository.Tx) error {
			acct, err := provision(ctx, tx, accountID)
			if err != nil {
				return err
			}
			acct.ReferralBalance = acct.ReferralBalance.Add(amount)
			if err := tx.UpdateBalances(ctx, acct); err != nil {
				return err
			}

			now := s.now()
			entry = &model.LedgerEntry{
				ID:                   uuid.New(),
				AccountID:            accountID,
				Direction:            model.Credit,
				Amount:               amount,
				WalletAmount:         decimal.Zero,
				ReferralAmount:       amount,
				Source:               model.SourceReferralBonus,
				Status:               model.StatusApproved,
				BalanceAfter:         acct.WalletBalance,
				ReferralBalanceAfter: acct.ReferralBalance,
				Remarks:              strings.TrimSpace(remarks),
				DecidedBy:            uuidPtr(grantedBy),
				DecidedAt:            timePtr(now),
				CreatedAt:            now,
				UpdatedAt:            now,
			}
			return tx.InsertEntry(ctx, entry)
		})
	})
	if err != nil {
		return nil, translate("grant referral bonus", err)
	}

	s.metrics.IncLedgerEntry(string(entry.Source), string(entry.Status))
	s.publish(notify.Event{
		Type:      notify.EventReferralGranted,
		AccountID: accountID,
		EntryID:   uuidPtr(entry.ID),
		Amount:    amount,
		Status:    string(entry.Status),
		Message:   "Referral bonus granted",
	})
	return entry, nil
}

// ListTransactions returns ledger entries matching f, newest first.
func (s *WalletService) ListTransactions(ctx context.Context, f TransactionFilter) ([]*model.LedgerEntry, error) {
	switch f.Status {
	case "", model.StatusPending, model.StatusApproved, model.StatusRejected, model.StatusJoined:
	default:
		return nil, ErrInvalidFilter.WithMessage("unknown status %q", f.Status)
	}
	switch f.Source {
	case "", model.SourceRecharge, model.SourceWithdrawal, model.SourceMatchEntry,
		model.SourceMatchPrize, model.SourceHighestKillBonus, model.SourceReferralBonus:
	default:
		return nil, ErrInvalidFilter.WithMessage("unknown source %q", f.Source)
	}
	if f.Limit <= 0 {
		f.Limit = s.cfg.HistoryLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}

	var entries []*model.LedgerEntry
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		entries, err = tx.ListEntries(ctx, repository.EntryFilter{
			AccountID: f.AccountID,
			Status:    f.Status,
			Source:    f.Source,
			Limit:     f.Limit,
		})
		return err
	})
	if err != nil {
		return nil, translate("list transactions", err)
	}
	if entries == nil {
		entries = []*model.LedgerEntry{}
	}
	return entries, nil
}

// Reconcile recomputes an account's balances from its ledger entries and
// compares them with the stored balances.
func (s *WalletService) Reconcile(ctx context.Context, accountID uuid.UUID) (*ReconcileReport, error) {
	var report *ReconcileReport
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		acct, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		wallet, referral, err := tx.SumDeltas(ctx, accountID)
		if err != nil {
			return err
		}
		report = &ReconcileReport{
			AccountID:       accountID,
			WalletBalance:   acct.WalletBalance,
			ReferralBalance: acct.ReferralBalance,
			LedgerWallet:    wallet,
			LedgerReferral:  referral,
			Balanced:        wallet.Equal(acct.WalletBalance) && referral.Equal(acct.ReferralBalance),
		}
		return nil
	})
	if err != nil {
		return nil, translate("reconcile", err)
	}

	if !report.Balanced {
		log.Warn().
			Str("account_id", accountID.String()).
			Str("wallet_balance", report.WalletBalance.String()).
			Str("ledger_wallet", report.LedgerWallet.String()).
			Str("referral_balance", report.ReferralBalance.String()).
			Str("ledger_referral", report.LedgerReferral.String()).
			Msg("Account balances do not match the ledger")
	}
	return report, nil
}
