// Package memory implements repository.Store in process memory. Units of work
// are serialized by a store-wide mutex and rolled back through an undo log, so
// the store suits single-instance deployments and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tournament-wallet/internal/model"
	"tournament-wallet/internal/repository"
)

// ErrNegativeBalance mirrors the database CHECK constraint on balances.
var ErrNegativeBalance = errors.New("balance would become negative")

// Store is an in-memory repository.Store.
type Store struct {
	mu sync.Mutex

	accounts map[uuid.UUID]*model.Account
	entries  map[uuid.UUID]*model.LedgerEntry
	entrySeq map[uuid.UUID]int64
	nextSeq  int64
	matches  map[uuid.UUID]*model.Match
	teams    map[uuid.UUID][]*model.TeamEntry
	inGame   map[uuid.UUID]map[string]uuid.UUID
	rooms    map[uuid.UUID]*model.Room
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		accounts: make(map[uuid.UUID]*model.Account),
		entries:  make(map[uuid.UUID]*model.LedgerEntry),
		entrySeq: make(map[uuid.UUID]int64),
		matches:  make(map[uuid.UUID]*model.Match),
		teams:    make(map[uuid.UUID][]*model.TeamEntry),
		inGame:   make(map[uuid.UUID]map[string]uuid.UUID),
		rooms:    make(map[uuid.UUID]*model.Room),
	}
}

var (
	_ repository.Store = (*Store)(nil)
	_ repository.Tx    = (*memTx)(nil)
)

var timeNow = func() time.Time { return time.Now().UTC() }

// InTx runs fn with exclusive access to the store. If fn fails, every write it
// made is undone before InTx returns.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// memTx records an undo step for every write.
type memTx struct {
	s    *Store
	undo []func()
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memTx) onRollback(fn func()) {
	tx.undo = append(tx.undo, fn)
}

// Accounts

func (tx *memTx) EnsureAccount(_ context.Context, id uuid.UUID) (*model.Account, error) {
	if acct, ok := tx.s.accounts[id]; ok {
		cp := *acct
		return &cp, nil
	}
	now := timeNow()
	acct := &model.Account{
		ID:              id,
		WalletBalance:   decimal.Zero,
		ReferralBalance: decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	tx.s.accounts[id] = acct
	tx.onRollback(func() { delete(tx.s.accounts, id) })

	cp := *acct
	return &cp, nil
}

func (tx *memTx) GetAccount(_ context.Context, id uuid.UUID) (*model.Account, error) {
	acct, ok := tx.s.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}

func (tx *memTx) LockAccount(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	return tx.GetAccount(ctx, id)
}

func (tx *memTx) UpdateBalances(_ context.Context, acct *model.Account) error {
	cur, ok := tx.s.accounts[acct.ID]
	if !ok || cur.Version != acct.Version {
		return repository.ErrStaleState
	}
	if acct.WalletBalance.IsNegative() || acct.ReferralBalance.IsNegative() {
		return ErrNegativeBalance
	}

	prev := *cur
	cur.WalletBalance = acct.WalletBalance
	cur.ReferralBalance = acct.ReferralBalance
	cur.Version++
	cur.UpdatedAt = timeNow()
	tx.onRollback(func() { *cur = prev })

	acct.Version = cur.Version
	acct.UpdatedAt = cur.UpdatedAt
	return nil
}

func (tx *memTx) SetBlocked(_ context.Context, id uuid.UUID, blocked bool) (*model.Account, error) {
	cur, ok := tx.s.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	prev := *cur
	cur.IsBlocked = blocked
	cur.UpdatedAt = timeNow()
	tx.onRollback(func() { *cur = prev })

	cp := *cur
	return &cp, nil
}

// Ledger

func matchMovement(e *model.LedgerEntry) bool {
	switch e.Source {
	case model.SourceMatchEntry, model.SourceMatchPrize, model.SourceHighestKillBonus:
		return e.MatchID != nil
	}
	return false
}

func (tx *memTx) InsertEntry(_ context.Context, e *model.LedgerEntry) error {
	if _, ok := tx.s.entries[e.ID]; ok {
		return fmt.Errorf("%w: ledger entry %s", repository.ErrDuplicate, e.ID)
	}
	if _, ok := tx.s.accounts[e.AccountID]; !ok {
		return fmt.Errorf("%w: ledger entry for unknown account", repository.ErrAccountNotFound)
	}
	if matchMovement(e) {
		for _, other := range tx.s.entries {
			if matchMovement(other) && *other.MatchID == *e.MatchID &&
				other.AccountID == e.AccountID && other.Source == e.Source {
				return fmt.Errorf("%w: %s already recorded for match", repository.ErrDuplicate, e.Source)
			}
		}
	}

	cp := *e
	tx.s.nextSeq++
	tx.s.entries[e.ID] = &cp
	tx.s.entrySeq[e.ID] = tx.s.nextSeq
	tx.onRollback(func() {
		delete(tx.s.entries, e.ID)
		delete(tx.s.entrySeq, e.ID)
	})
	return nil
}

func (tx *memTx) GetEntry(_ context.Context, id uuid.UUID) (*model.LedgerEntry, error) {
	e, ok := tx.s.entries[id]
	if !ok {
		return nil, repository.ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

func (tx *memTx) LockEntry(ctx context.Context, id uuid.UUID) (*model.LedgerEntry, error) {
	return tx.GetEntry(ctx, id)
}

func (tx *memTx) UpdateEntryDecision(_ context.Context, e *model.LedgerEntry, from model.EntryStatus) error {
	cur, ok := tx.s.entries[e.ID]
	if !ok || cur.Status != from {
		return repository.ErrStaleState
	}
	prev := *cur
	cur.Amount = e.Amount
	cur.WalletAmount = e.WalletAmount
	cur.Status = e.Status
	cur.BalanceAfter = e.BalanceAfter
	cur.ReferralBalanceAfter = e.ReferralBalanceAfter
	cur.Remarks = e.Remarks
	cur.DecidedBy = e.DecidedBy
	cur.DecidedAt = e.DecidedAt
	cur.UpdatedAt = e.UpdatedAt
	tx.onRollback(func() { *cur = prev })
	return nil
}

func (tx *memTx) ListEntries(_ context.Context, f repository.EntryFilter) ([]*model.LedgerEntry, error) {
	var out []*model.LedgerEntry
	for _, e := range tx.s.entries {
		if f.AccountID != uuid.Nil && e.AccountID != f.AccountID {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.Source != "" && e.Source != f.Source {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return tx.s.entrySeq[out[i].ID] > tx.s.entrySeq[out[j].ID]
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (tx *memTx) SumDeltas(_ context.Context, accountID uuid.UUID) (decimal.Decimal, decimal.Decimal, error) {
	wallet, referral := decimal.Zero, decimal.Zero
	for _, e := range tx.s.entries {
		if e.AccountID != accountID {
			continue
		}
		wallet = wallet.Add(e.WalletDelta())
		referral = referral.Add(e.ReferralDelta())
	}
	return wallet, referral, nil
}

// Matches

func cloneMatch(m *model.Match) *model.Match {
	cp := *m
	cp.PrizeDistribution = append([]model.PrizeRank(nil), m.PrizeDistribution...)
	if m.Results != nil {
		res := *m.Results
		res.Winners = append([]model.Winner(nil), m.Results.Winners...)
		if m.Results.HighestKill != nil {
			hk := *m.Results.HighestKill
			res.HighestKill = &hk
		}
		cp.Results = &res
	}
	return &cp
}

func (tx *memTx) CreateMatch(_ context.Context, m *model.Match) error {
	if _, ok := tx.s.matches[m.ID]; ok {
		return fmt.Errorf("%w: match %s", repository.ErrDuplicate, m.ID)
	}
	tx.s.matches[m.ID] = cloneMatch(m)
	tx.onRollback(func() { delete(tx.s.matches, m.ID) })
	return nil
}

func (tx *memTx) GetMatch(_ context.Context, id uuid.UUID) (*model.Match, error) {
	m, ok := tx.s.matches[id]
	if !ok {
		return nil, repository.ErrMatchNotFound
	}
	return cloneMatch(m), nil
}

func (tx *memTx) LockMatch(ctx context.Context, id uuid.UUID) (*model.Match, error) {
	return tx.GetMatch(ctx, id)
}

func (tx *memTx) ListMatches(_ context.Context, status model.MatchStatus) ([]*model.Match, error) {
	var out []*model.Match
	for _, m := range tx.s.matches {
		if status != "" && m.Status != status {
			continue
		}
		out = append(out, cloneMatch(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].MatchTime.Equal(out[j].MatchTime) {
			return out[i].MatchTime.Before(out[j].MatchTime)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (tx *memTx) TransitionMatch(_ context.Context, id uuid.UUID, from, to model.MatchStatus) error {
	m, ok := tx.s.matches[id]
	if !ok {
		return repository.ErrMatchNotFound
	}
	if m.Status != from {
		return repository.ErrStaleState
	}
	prev := *m
	m.Status = to
	m.UpdatedAt = timeNow()
	tx.onRollback(func() { *m = prev })
	return nil
}

func (tx *memTx) CompleteMatch(_ context.Context, id uuid.UUID, results *model.MatchResults) error {
	m, ok := tx.s.matches[id]
	if !ok {
		return repository.ErrMatchNotFound
	}
	if m.Status == model.MatchCompleted {
		return repository.ErrStaleState
	}
	prev := *m
	m.Status = model.MatchCompleted
	m.Results = cloneMatch(&model.Match{Results: results}).Results
	m.UpdatedAt = timeNow()
	tx.onRollback(func() { *m = prev })
	return nil
}

// Teams

func (tx *memTx) CountTeams(_ context.Context, matchID uuid.UUID) (int, error) {
	return len(tx.s.teams[matchID]), nil
}

func (tx *memTx) HasTeam(_ context.Context, matchID, leaderID uuid.UUID) (bool, error) {
	for _, t := range tx.s.teams[matchID] {
		if t.LeaderID == leaderID {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memTx) TakenInGameIDs(_ context.Context, matchID uuid.UUID, ids []string) ([]string, error) {
	var taken []string
	registered := tx.s.inGame[matchID]
	for _, id := range ids {
		if _, ok := registered[id]; ok {
			taken = append(taken, id)
		}
	}
	sort.Strings(taken)
	return taken, nil
}

func (tx *memTx) InsertTeam(_ context.Context, t *model.TeamEntry) error {
	for _, other := range tx.s.teams[t.MatchID] {
		if other.LeaderID == t.LeaderID {
			return fmt.Errorf("%w: uq_team_leader", repository.ErrDuplicate)
		}
		if other.SlotNumber == t.SlotNumber {
			return fmt.Errorf("%w: uq_team_slot", repository.ErrDuplicate)
		}
	}
	registered := tx.s.inGame[t.MatchID]
	seen := make(map[string]struct{}, len(t.Players))
	for _, p := range t.Players {
		if _, ok := registered[p.InGameID]; ok {
			return fmt.Errorf("%w: uq_player_in_game_id", repository.ErrDuplicate)
		}
		if _, ok := seen[p.InGameID]; ok {
			return fmt.Errorf("%w: uq_player_in_game_id", repository.ErrDuplicate)
		}
		seen[p.InGameID] = struct{}{}
	}

	cp := *t
	cp.Players = append([]model.Player(nil), t.Players...)
	prevTeams := tx.s.teams[t.MatchID]
	tx.s.teams[t.MatchID] = append(append([]*model.TeamEntry(nil), prevTeams...), &cp)

	if registered == nil {
		registered = make(map[string]uuid.UUID)
		tx.s.inGame[t.MatchID] = registered
	}
	for _, p := range t.Players {
		registered[p.InGameID] = t.ID
	}

	tx.onRollback(func() {
		if prevTeams == nil {
			delete(tx.s.teams, t.MatchID)
		} else {
			tx.s.teams[t.MatchID] = prevTeams
		}
		for _, p := range t.Players {
			delete(registered, p.InGameID)
		}
	})
	return nil
}

func (tx *memTx) ListTeams(_ context.Context, matchID uuid.UUID) ([]*model.TeamEntry, error) {
	teams := tx.s.teams[matchID]
	out := make([]*model.TeamEntry, 0, len(teams))
	for _, t := range teams {
		cp := *t
		cp.Players = append([]model.Player(nil), t.Players...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotNumber < out[j].SlotNumber })
	return out, nil
}

// Rooms

func (tx *memTx) UpsertRoom(_ context.Context, r *model.Room) error {
	prev, existed := tx.s.rooms[r.MatchID]
	cp := *r
	tx.s.rooms[r.MatchID] = &cp
	tx.onRollback(func() {
		if existed {
			tx.s.rooms[r.MatchID] = prev
		} else {
			delete(tx.s.rooms, r.MatchID)
		}
	})
	return nil
}

func (tx *memTx) GetRoom(_ context.Context, matchID uuid.UUID) (*model.Room, error) {
	r, ok := tx.s.rooms[matchID]
	if !ok {
		return nil, repository.ErrRoomNotFound
	}
	cp := *r
	return &cp, nil
}
