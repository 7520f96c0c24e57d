package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tournament-wallet/internal/config"
	"tournament-wallet/internal/model"
	"tournament-wallet/internal/notify"
	"tournament-wallet/internal/pkg/apperr"
	"tournament-wallet/internal/repository"
	"tournament-wallet/internal/repository/memory"
)

func TestSettleCreditsWinners(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	first, second, fragger := uuid.New(), uuid.New(), uuid.New()
	for _, id := range []uuid.UUID{first, second, fragger} {
		e.fund(t, id, "10", "0")
	}
	m := e.createMatch(t, "solo", "10")

	res, err := e.settle.Settle(ctx, SettleRequest{
		MatchID: m.ID,
		Winners: []model.Winner{
			{AccountID: first, Rank: 1, Prize: dec("500")},
			{AccountID: second, Rank: 2, Prize: dec("250.50")},
		},
		HighestKill: &model.Winner{AccountID: fragger, Kills: 17, Prize: dec("50")},
		Remarks:     "GG",
		SettledBy:   e.admin,
	})
	require.NoError(t, err)

	assert.Equal(t, model.MatchCompleted, res.Match.Status)
	require.NotNil(t, res.Match.Results)
	assert.Equal(t, "GG", res.Match.Results.Remarks)
	assert.Equal(t, e.admin, res.Match.Results.SettledBy)
	assert.Len(t, res.Credits, 3)
	assert.Empty(t, res.Skipped)

	e.requireBalances(t, first, "510", "0")
	e.requireBalances(t, second, "260.5", "0")
	e.requireBalances(t, fragger, "60", "0")

	sources := map[uuid.UUID]model.EntrySource{}
	for _, c := range res.Credits {
		assert.Equal(t, model.Credit, c.Direction)
		assert.Equal(t, model.StatusApproved, c.Status)
		assert.Equal(t, m.ID, *c.MatchID)
		sources[c.AccountID] = c.Source
	}
	assert.Equal(t, model.SourceMatchPrize, sources[first])
	assert.Equal(t, model.SourceHighestKillBonus, sources[fragger])

	stored, err := e.matches.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MatchCompleted, stored.Status)
	require.NotNil(t, stored.Results)
	assert.Len(t, stored.Results.Winners, 2)

	settled := e.events.ofType(notify.EventMatchSettled)
	require.Len(t, settled, 1)
	assert.True(t, settled[0].Amount.Equal(dec("800.50")))
}

func TestSettleWinnerMayAlsoTakeHighestKill(t *testing.T) {
	e := newTestEnv(t)
	player := uuid.New()
	e.fund(t, player, "10", "0")
	m := e.createMatch(t, "solo", "0")

	_, err := e.settle.Settle(context.Background(), SettleRequest{
		MatchID:     m.ID,
		Winners:     []model.Winner{{AccountID: player, Rank: 1, Prize: dec("100")}},
		HighestKill: &model.Winner{AccountID: player, Kills: 9, Prize: dec("20")},
		SettledBy:   e.admin,
	})
	require.NoError(t, err)
	e.requireBalances(t, player, "130", "0")
}

func TestSettleTwiceFails(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	winner := uuid.New()
	e.fund(t, winner, "10", "0")
	m := e.createMatch(t, "solo", "0")

	req := SettleRequest{
		MatchID:   m.ID,
		Winners:   []model.Winner{{AccountID: winner, Rank: 1, Prize: dec("100")}},
		SettledBy: e.admin,
	}
	_, err := e.settle.Settle(ctx, req)
	require.NoError(t, err)

	_, err = e.settle.Settle(ctx, req)
	require.ErrorIs(t, err, ErrMatchAlreadySettled)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = e.settle.Settle(ctx, SettleRequest{
		MatchID: m.ID,
		Winners: []model.Winner{{AccountID: winner, Rank: 1, Prize: dec("1.005")}},
	})
	require.ErrorIs(t, err, ErrMatchAlreadySettled)
	e.requireBalances(t, winner, "110", "0")
}

func TestSettleConcurrentlyPaysOnce(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	winner := uuid.New()
	e.fund(t, winner, "10", "0")
	m := e.createMatch(t, "solo", "0")

	const attempts = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.settle.Settle(ctx, SettleRequest{
				MatchID:   m.ID,
				Winners:   []model.Winner{{AccountID: winner, Rank: 1, Prize: dec("100")}},
				SettledBy: e.admin,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if errors.Is(err, ErrMatchAlreadySettled) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)
	e.requireBalances(t, winner, "110", "0")
}

func TestSettleSkipsUnpayableWinners(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	known, ghost := uuid.New(), uuid.New()
	e.fund(t, known, "10", "0")
	m := e.createMatch(t, "solo", "0")

	res, err := e.settle.Settle(ctx, SettleRequest{
		MatchID: m.ID,
		Winners: []model.Winner{
			{TeamName: "guest team", Rank: 1, Prize: dec("300")},
			{AccountID: known, Rank: 2, Prize: dec("0")},
			{AccountID: ghost, Rank: 3, Prize: dec("50")},
		},
		SettledBy: e.admin,
	})
	require.NoError(t, err)

	assert.Empty(t, res.Credits)
	assert.Equal(t, []uuid.UUID{ghost}, res.Skipped)
	assert.Equal(t, model.MatchCompleted, res.Match.Status)
	assert.Len(t, res.Match.Results.Winners, 3)
	e.requireBalances(t, known, "10", "0")

	t.Run("zero prize row does not count as a duplicate", func(t *testing.T) {
		m := e.createMatch(t, "solo", "0")
		res, err := e.settle.Settle(ctx, SettleRequest{
			MatchID: m.ID,
			Winners: []model.Winner{
				{AccountID: known, Rank: 1, Prize: dec("100")},
				{AccountID: known, Rank: 5, Prize: dec("0")},
			},
			SettledBy: e.admin,
		})
		require.NoError(t, err)
		require.Len(t, res.Credits, 1)
		assert.True(t, res.Credits[0].Amount.Equal(dec("100")))
		e.requireBalances(t, known, "110", "0")
	})
}

func TestSettleValidation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	player := uuid.New()
	e.fund(t, player, "10", "0")
	m := e.createMatch(t, "solo", "0")

	_, err := e.settle.Settle(ctx, SettleRequest{
		MatchID: m.ID,
		Winners: []model.Winner{
			{AccountID: player, Rank: 1, Prize: dec("10")},
			{AccountID: player, Rank: 2, Prize: dec("5")},
		},
	})
	require.ErrorIs(t, err, ErrDuplicateWinner)

	_, err = e.settle.Settle(ctx, SettleRequest{
		MatchID: m.ID,
		Winners: []model.Winner{{AccountID: player, Rank: 1, Prize: dec("10.123")}},
	})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = e.settle.Settle(ctx, SettleRequest{MatchID: uuid.New()})
	require.ErrorIs(t, err, ErrMatchNotFound)

	_, err = e.settle.Settle(ctx, SettleRequest{
		MatchID: uuid.New(),
		Winners: []model.Winner{{AccountID: player, Rank: 1, Prize: dec("1.005")}},
	})
	require.ErrorIs(t, err, ErrMatchNotFound, "an unknown match outranks a malformed prize")

	stored, err := e.matches.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MatchUpcoming, stored.Status)
	e.requireBalances(t, player, "10", "0")
}

func TestSettleEnforcesPrizePool(t *testing.T) {
	e := newTestEnv(t, func(c *config.Config) { c.Settlement.EnforcePrizePool = true })
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	e.fund(t, a, "10", "0")
	e.fund(t, b, "10", "0")
	m := e.createMatch(t, "solo", "0") // prize pool 1000

	_, err := e.settle.Settle(ctx, SettleRequest{
		MatchID:     m.ID,
		Winners:     []model.Winner{{AccountID: a, Rank: 1, Prize: dec("900")}},
		HighestKill: &model.Winner{AccountID: b, Prize: dec("100.01")},
	})
	require.ErrorIs(t, err, ErrPayoutExceedsPrizePool)
	e.requireBalances(t, a, "10", "0")

	_, err = e.settle.Settle(ctx, SettleRequest{
		MatchID:     m.ID,
		Winners:     []model.Winner{{AccountID: a, Rank: 1, Prize: dec("900")}},
		HighestKill: &model.Winner{AccountID: b, Prize: dec("100")},
	})
	require.NoError(t, err)
}

// failingStore hands out transactions whose CompleteMatch fails after the
// prize credits were written.
type failingStore struct {
	repository.Store
	err error
}

func (s *failingStore) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.Store.InTx(ctx, func(tx repository.Tx) error {
		return fn(&failingTx{Tx: tx, err: s.err})
	})
}

type failingTx struct {
	repository.Tx
	err error
}

func (tx *failingTx) CompleteMatch(context.Context, uuid.UUID, *model.MatchResults) error {
	return tx.err
}

func TestSettleRollsBackOnFailure(t *testing.T) {
	mem := memory.NewStore()
	e := newTestEnvWithStore(t, mem, testConfig())
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	e.fund(t, a, "10", "0")
	e.fund(t, b, "10", "0")
	m := e.createMatch(t, "solo", "0")

	broken := newTestEnvWithStore(t, &failingStore{Store: mem, err: errors.New("disk full")}, testConfig())
	_, err := broken.settle.Settle(ctx, SettleRequest{
		MatchID: m.ID,
		Winners: []model.Winner{
			{AccountID: a, Rank: 1, Prize: dec("100")},
			{AccountID: b, Rank: 2, Prize: dec("50")},
		},
		SettledBy: e.admin,
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindPersistence, apperr.KindOf(err))
	assert.Equal(t, "internal_error", apperr.From(err).Code)

	e.requireBalances(t, a, "10", "0")
	e.requireBalances(t, b, "10", "0")
	stored, err := e.matches.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MatchUpcoming, stored.Status)
	assert.Nil(t, stored.Results)

	entries, err := e.wallet.ListTransactions(ctx, TransactionFilter{Source: model.SourceMatchPrize})
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = e.settle.Settle(ctx, SettleRequest{
		MatchID:   m.ID,
		Winners:   []model.Winner{{AccountID: a, Rank: 1, Prize: dec("100")}},
		SettledBy: e.admin,
	})
	require.NoError(t, err)
	e.requireBalances(t, a, "110", "0")
}

func TestPlanPayoutsOrdersByAccount(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	req := SettleRequest{
		Winners: []model.Winner{
			{AccountID: ids[0], Rank: 1, Prize: dec("3")},
			{AccountID: ids[1], Rank: 2, Prize: dec("2")},
		},
		HighestKill: &model.Winner{AccountID: ids[2], Prize: dec("1")},
	}

	payouts, err := planPayouts(req)
	require.NoError(t, err)
	require.Len(t, payouts, 3)
	for i := 1; i < len(payouts); i++ {
		assert.Less(t, payouts[i-1].accountID.String(), payouts[i].accountID.String())
	}
}
