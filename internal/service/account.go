package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"tournament-wallet/internal/model"
	"tournament-wallet/internal/notify"
	"tournament-wallet/internal/repository"
)

// AccountService provisions accounts and manages their blocked flag.
type AccountService struct {
	base
}

// NewAccountService creates a new AccountService instance.
func NewAccountService(deps Deps) *AccountService {
	return &AccountService{base: newBase(deps)}
}

// EnsureAccount returns the account, creating it with zero balances on first use.
func (s *AccountService) EnsureAccount(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	var acct *model.Account
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		acct, err = tx.EnsureAccount(ctx, id)
		return err
	})
	if err != nil {
		return nil, translate("ensure account", err)
	}
	return acct, nil
}

// SetBlocked blocks or unblocks an account. Blocked accounts cannot join
// matches, recharge or withdraw.
func (s *AccountService) SetBlocked(ctx context.Context, id uuid.UUID, blocked bool, by uuid.UUID) (*model.Account, error) {
	var acct *model.Account
	err := s.withLocks(ctx, []string{accountKey(id)}, func() error {
		return s.store.InTx(ctx, func(tx repository.Tx) error {
			if _, err := tx.EnsureAccount(ctx, id); err != nil {
				return err
			}
			var err error
			acct, err = tx.SetBlocked(ctx, id, blocked)
			return err
		})
	})
	if err != nil {
		return nil, translate("set blocked", err)
	}

	log.Info().
		Str("account_id", id.String()).
		Str("by", by.String()).
		Bool("blocked", blocked).
		Msg("Account block flag changed")

	if blocked {
		s.publish(notify.Event{
			Type:      notify.EventAccountBlocked,
			AccountID: id,
			Message:   "Account blocked by " + by.String(),
		})
	}
	return acct, nil
}
