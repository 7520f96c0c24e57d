// Package repository provides the data access layer for accounts, the ledger,
// matches, team entries and rooms. All access goes through a Tx obtained from
// Store.InTx so that a balance change and its ledger entry commit together.
package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tournament-wallet/internal/model"
)

// Repository errors.
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrEntryNotFound   = errors.New("ledger entry not found")
	ErrMatchNotFound   = errors.New("match not found")
	ErrRoomNotFound    = errors.New("room not found")
	// ErrDuplicate is returned when a uniqueness constraint rejects a write.
	ErrDuplicate = errors.New("duplicate record")
	// ErrStaleState is returned when a compare-and-swap update finds the row
	// no longer in the expected state.
	ErrStaleState = errors.New("record state changed concurrently")
)

// Accounts reads and writes account balances.
type Accounts interface {
	// EnsureAccount returns the account, creating it with zero balances if absent.
	EnsureAccount(ctx context.Context, id uuid.UUID) (*model.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*model.Account, error)
	// LockAccount reads the account and holds it until the transaction ends.
	LockAccount(ctx context.Context, id uuid.UUID) (*model.Account, error)
	// UpdateBalances writes both balances if acct.Version is still current,
	// then advances acct.Version.
	UpdateBalances(ctx context.Context, acct *model.Account) error
	SetBlocked(ctx context.Context, id uuid.UUID, blocked bool) (*model.Account, error)
}

// EntryFilter narrows ListEntries. Zero fields match everything.
type EntryFilter struct {
	AccountID uuid.UUID
	Status    model.EntryStatus
	Source    model.EntrySource
	Limit     int
}

// Ledger appends and moderates ledger entries.
type Ledger interface {
	InsertEntry(ctx context.Context, e *model.LedgerEntry) error
	GetEntry(ctx context.Context, id uuid.UUID) (*model.LedgerEntry, error)
	LockEntry(ctx context.Context, id uuid.UUID) (*model.LedgerEntry, error)
	// UpdateEntryDecision stores the moderation outcome if the entry still has
	// status from.
	UpdateEntryDecision(ctx context.Context, e *model.LedgerEntry, from model.EntryStatus) error
	// ListEntries returns entries newest first.
	ListEntries(ctx context.Context, f EntryFilter) ([]*model.LedgerEntry, error)
	// SumDeltas returns the net applied wallet and referral deltas of an account.
	SumDeltas(ctx context.Context, accountID uuid.UUID) (wallet, referral decimal.Decimal, err error)
}

// Matches stores matches and their lifecycle.
type Matches interface {
	CreateMatch(ctx context.Context, m *model.Match) error
	GetMatch(ctx context.Context, id uuid.UUID) (*model.Match, error)
	LockMatch(ctx context.Context, id uuid.UUID) (*model.Match, error)
	// ListMatches returns matches by match time. An empty status lists all.
	ListMatches(ctx context.Context, status model.MatchStatus) ([]*model.Match, error)
	TransitionMatch(ctx context.Context, id uuid.UUID, from, to model.MatchStatus) error
	// CompleteMatch attaches results and marks the match completed, unless it
	// already is.
	CompleteMatch(ctx context.Context, id uuid.UUID, results *model.MatchResults) error
}

// Teams stores match registrations.
type Teams interface {
	CountTeams(ctx context.Context, matchID uuid.UUID) (int, error)
	HasTeam(ctx context.Context, matchID, leaderID uuid.UUID) (bool, error)
	// TakenInGameIDs returns the subset of ids already registered in the match.
	TakenInGameIDs(ctx context.Context, matchID uuid.UUID, ids []string) ([]string, error)
	InsertTeam(ctx context.Context, t *model.TeamEntry) error
	ListTeams(ctx context.Context, matchID uuid.UUID) ([]*model.TeamEntry, error)
}

// Rooms stores lobby credentials.
type Rooms interface {
	UpsertRoom(ctx context.Context, r *model.Room) error
	GetRoom(ctx context.Context, matchID uuid.UUID) (*model.Room, error)
}

// Tx is a unit of work over every repository.
type Tx interface {
	Accounts
	Ledger
	Matches
	Teams
	Rooms
}

// Store runs units of work. fn's writes are committed together when it
// returns nil and discarded otherwise. fn may be invoked more than once when
// the backend asks for a retry, so it must not have side effects outside tx.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}
