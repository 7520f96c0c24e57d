package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"tournament-wallet/internal/model"
)

// AccountRepository handles account balance persistence.
type AccountRepository struct {
	q querier
}

// NewAccountRepository creates a new AccountRepository instance.
func NewAccountRepository(q querier) *AccountRepository {
	return &AccountRepository{q: q}
}

const accountColumns = `id, wallet_balance::text, referral_balance::text, is_blocked, version, created_at, updated_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var (
		acct             model.Account
		wallet, referral string
	)
	if err := row.Scan(
		&acct.ID,
		&wallet,
		&referral,
		&acct.IsBlocked,
		&acct.Version,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if acct.WalletBalance, err = decimal.NewFromString(wallet); err != nil {
		return nil, fmt.Errorf("failed to parse wallet balance: %w", err)
	}
	if acct.ReferralBalance, err = decimal.NewFromString(referral); err != nil {
		return nil, fmt.Errorf("failed to parse referral balance: %w", err)
	}
	return &acct, nil
}

// EnsureAccount returns the account, creating it with zero balances on first use.
func (r *AccountRepository) EnsureAccount(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	const insert = `
		INSERT INTO accounts (id, wallet_balance, referral_balance, created_at, updated_at)
		VALUES ($1, 0, 0, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.q.Exec(ctx, insert, id); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return r.GetAccount(ctx, id)
}

// GetAccount retrieves an account by ID.
// Returns ErrAccountNotFound if the account does not exist.
func (r *AccountRepository) GetAccount(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.getAccount(ctx, query, id)
}

// LockAccount retrieves an account and locks its row until the transaction ends.
func (r *AccountRepository) LockAccount(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`
	return r.getAccount(ctx, query, id)
}

func (r *AccountRepository) getAccount(ctx context.Context, query string, id uuid.UUID) (*model.Account, error) {
	acct, err := scanAccount(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acct, nil
}

// UpdateBalances writes both balances guarded by the account version.
func (r *AccountRepository) UpdateBalances(ctx context.Context, acct *model.Account) error {
	const query = `
		UPDATE accounts
		SET wallet_balance = $2, referral_balance = $3, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $4
		RETURNING version, updated_at
	`

	err := r.q.QueryRow(ctx, query,
		acct.ID,
		acct.WalletBalance.String(),
		acct.ReferralBalance.String(),
		acct.Version,
	).Scan(&acct.Version, &acct.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrStaleState
		}
		return fmt.Errorf("failed to update balances: %w", err)
	}
	return nil
}

// SetBlocked sets the blocked flag of an account.
func (r *AccountRepository) SetBlocked(ctx context.Context, id uuid.UUID, blocked bool) (*model.Account, error) {
	const query = `
		UPDATE accounts
		SET is_blocked = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + accountColumns

	acct, err := scanAccount(r.q.QueryRow(ctx, query, id, blocked))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to set blocked flag: %w", err)
	}
	return acct, nil
}
