package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"tournament-wallet/internal/model"
)

// LedgerRepository handles ledger entry persistence.
// Entries are append-only apart from the moderation fields.
type LedgerRepository struct {
	q querier
}

// NewLedgerRepository creates a new LedgerRepository instance.
func NewLedgerRepository(q querier) *LedgerRepository {
	return &LedgerRepository{q: q}
}

const entryColumns = `id, account_id, direction, amount::text, wallet_amount::text, referral_amount::text,
	source, status, match_id, proof_ref, balance_after::text, referral_balance_after::text,
	remarks, decided_by, decided_at, created_at, updated_at`

func scanEntry(row pgx.Row) (*model.LedgerEntry, error) {
	var (
		e                              model.LedgerEntry
		amount, walletAmt, referralAmt string
		balanceAfter, referralAfter    string
	)
	if err := row.Scan(
		&e.ID,
		&e.AccountID,
		&e.Direction,
		&amount,
		&walletAmt,
		&referralAmt,
		&e.Source,
		&e.Status,
		&e.MatchID,
		&e.ProofRef,
		&balanceAfter,
		&referralAfter,
		&e.Remarks,
		&e.DecidedBy,
		&e.DecidedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		return nil, err
	}

	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&e.Amount, amount},
		{&e.WalletAmount, walletAmt},
		{&e.ReferralAmount, referralAmt},
		{&e.BalanceAfter, balanceAfter},
		{&e.ReferralBalanceAfter, referralAfter},
	}
	for _, f := range fields {
		v, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ledger amount %q: %w", f.src, err)
		}
		*f.dst = v
	}
	return &e, nil
}

// InsertEntry appends a ledger entry.
func (r *LedgerRepository) InsertEntry(ctx context.Context, e *model.LedgerEntry) error {
	const query = `
		INSERT INTO ledger_entries (
			id, account_id, direction, amount, wallet_amount, referral_amount,
			source, status, match_id, proof_ref, balance_after, referral_balance_after,
			remarks, decided_by, decided_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := r.q.Exec(ctx, query,
		e.ID,
		e.AccountID,
		string(e.Direction),
		e.Amount.String(),
		e.WalletAmount.String(),
		e.ReferralAmount.String(),
		string(e.Source),
		string(e.Status),
		e.MatchID,
		e.ProofRef,
		e.BalanceAfter.String(),
		e.ReferralBalanceAfter.String(),
		e.Remarks,
		e.DecidedBy,
		e.DecidedAt,
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil {
		return writeError("insert ledger entry", err)
	}
	return nil
}

// GetEntry retrieves a ledger entry by ID.
func (r *LedgerRepository) GetEntry(ctx context.Context, id uuid.UUID) (*model.LedgerEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM ledger_entries WHERE id = $1`
	return r.getEntry(ctx, query, id)
}

// LockEntry retrieves a ledger entry and locks its row until the transaction ends.
func (r *LedgerRepository) LockEntry(ctx context.Context, id uuid.UUID) (*model.LedgerEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM ledger_entries WHERE id = $1 FOR UPDATE`
	return r.getEntry(ctx, query, id)
}

func (r *LedgerRepository) getEntry(ctx context.Context, query string, id uuid.UUID) (*model.LedgerEntry, error) {
	e, err := scanEntry(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return e, nil
}

// UpdateEntryDecision records a moderation outcome. The update only applies
// while the entry still has status from.
func (r *LedgerRepository) UpdateEntryDecision(ctx context.Context, e *model.LedgerEntry, from model.EntryStatus) error {
	const query = `
		UPDATE ledger_entries
		SET amount = $2, wallet_amount = $3, status = $4, balance_after = $5,
			referral_balance_after = $6, remarks = $7, decided_by = $8, decided_at = $9, updated_at = $10
		WHERE id = $1 AND status = $11
	`

	tag, err := r.q.Exec(ctx, query,
		e.ID,
		e.Amount.String(),
		e.WalletAmount.String(),
		string(e.Status),
		e.BalanceAfter.String(),
		e.ReferralBalanceAfter.String(),
		e.Remarks,
		e.DecidedBy,
		e.DecidedAt,
		e.UpdatedAt,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update ledger entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

// ListEntries returns entries matching f, newest first.
func (r *LedgerRepository) ListEntries(ctx context.Context, f EntryFilter) ([]*model.LedgerEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.AccountID != uuid.Nil {
		args = append(args, f.AccountID)
		where = append(where, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Source != "" {
		args = append(args, string(f.Source))
		where = append(where, fmt.Sprintf("source = $%d", len(args)))
	}

	query := `SELECT ` + entryColumns + ` FROM ledger_entries`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger entries: %w", err)
	}
	return entries, nil
}

// SumDeltas returns the net wallet and referral movement the account's
// entries currently account for. Credits count once approved, debits count
// until rejected.
func (r *LedgerRepository) SumDeltas(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, decimal.Decimal, error) {
	const query = `
		SELECT
			COALESCE(SUM(CASE
				WHEN direction = 'credit' AND status = 'approved' THEN wallet_amount
				WHEN direction = 'debit' AND status <> 'rejected' THEN -wallet_amount
				ELSE 0 END), 0)::text,
			COALESCE(SUM(CASE
				WHEN direction = 'credit' AND status = 'approved' THEN referral_amount
				WHEN direction = 'debit' AND status <> 'rejected' THEN -referral_amount
				ELSE 0 END), 0)::text
		FROM ledger_entries
		WHERE account_id = $1
	`

	var walletStr, referralStr string
	if err := r.q.QueryRow(ctx, query, accountID).Scan(&walletStr, &referralStr); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to sum ledger deltas: %w", err)
	}
	wallet, err := decimal.NewFromString(walletStr)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to parse wallet sum: %w", err)
	}
	referral, err := decimal.NewFromString(referralStr)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to parse referral sum: %w", err)
	}
	return wallet, referral, nil
}
