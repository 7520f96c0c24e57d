package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tournament-wallet/internal/config"
	"tournament-wallet/internal/model"
	"tournament-wallet/internal/notify"
	"tournament-wallet/internal/pkg/apperr"
	"tournament-wallet/internal/repository"
)

func TestJoinSpendsReferralFirst(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	player := uuid.New()
	e.fund(t, player, "100", "5")
	m := e.createMatch(t, "solo", "10")

	res, err := e.join.Join(ctx, soloJoin(m.ID, player))
	require.NoError(t, err)

	assert.Equal(t, 1, res.SlotNumber)
	require.NotNil(t, res.Entry)
	assert.True(t, res.Entry.ReferralAmount.Equal(dec("5")))
	assert.True(t, res.Entry.WalletAmount.Equal(dec("5")))
	assert.Equal(t, model.Debit, res.Entry.Direction)
	assert.Equal(t, model.StatusJoined, res.Entry.Status)
	assert.Equal(t, m.ID, *res.Entry.MatchID)
	assert.True(t, res.NewWalletBalance.Equal(dec("95")))
	assert.True(t, res.NewReferralBalance.IsZero())
	e.requireBalances(t, player, "95", "0")

	require.NotNil(t, res.Team.LedgerEntryID)
	assert.Equal(t, res.Entry.ID, *res.Team.LedgerEntryID)
	assert.Len(t, e.events.ofType(notify.EventMatchJoined), 1)
}

func TestJoinReferralCoversWholeFee(t *testing.T) {
	e := newTestEnv(t)
	player := uuid.New()
	e.fund(t, player, "20", "30")
	m := e.createMatch(t, "solo", "25")

	res, err := e.join.Join(context.Background(), soloJoin(m.ID, player))
	require.NoError(t, err)
	assert.True(t, res.Entry.WalletAmount.IsZero())
	assert.True(t, res.Entry.ReferralAmount.Equal(dec("25")))
	e.requireBalances(t, player, "20", "5")
}

func TestJoinFreeMatchRecordsNoLedgerEntry(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	player := uuid.New()
	m := e.createMatch(t, "solo", "0")

	res, err := e.join.Join(ctx, soloJoin(m.ID, player))
	require.NoError(t, err)
	assert.Nil(t, res.Entry)
	assert.Nil(t, res.Team.LedgerEntryID)

	summary, err := e.wallet.GetWalletSummary(ctx, player)
	require.NoError(t, err)
	assert.Empty(t, summary.History)
	assert.True(t, summary.WalletBalance.IsZero())
}

func TestJoinPreconditionOrder(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func(t *testing.T, e *testEnv) JoinRequest
		want  error
	}{
		{
			name: "unknown match",
			setup: func(t *testing.T, e *testEnv) JoinRequest {
				return JoinRequest{MatchID: uuid.New(), AccountID: uuid.New()}
			},
			want: ErrMatchNotFound,
		},
		{
			name: "registration closed masks a bad roster",
			setup: func(t *testing.T, e *testEnv) JoinRequest {
				m := e.createMatch(t, "squad", "10")
				e.now = m.MatchTime.Add(-10 * time.Minute)
				return JoinRequest{MatchID: m.ID, AccountID: uuid.New(), Players: roster("A")}
			},
			want: ErrRegistrationClosed,
		},
		{
			name: "match already started",
			setup: func(t *testing.T, e *testEnv) JoinRequest {
				m := e.createMatch(t, "solo", "10")
				_, err := e.matches.StartMatch(ctx, m.ID)
				require.NoError(t, err)
				return soloJoin(m.ID, uuid.New())
			},
			want: ErrRegistrationClosed,
		},
		{
			name: "roster size masks missing team name and duplicate ids",
			setup: func(t *testing.T, e *testEnv) JoinRequest {
				m := e.createMatch(t, "squad", "10")
				return JoinRequest{MatchID: m.ID, AccountID: uuid.New(), Players: roster("A", "A", "B")}
			},
			want: ErrRosterSizeMismatch,
		},
		{
			name: "missing team name masks duplicate ids",
			setup: func(t *testing.T, e *testEnv) JoinRequest {
				m := e.createMatch(t, "duo", "10")
				return JoinRequest{MatchID: m.ID, AccountID: uuid.New(), TeamName: "  ", Players: roster("A", "A")}
			},
			want: ErrTeamNameRequired,
		},
		{
			name: "duplicate ids in roster mask ids taken in the match",
			setup: func(t *testing.T, e *testEnv) JoinRequest {
				m := e.createMatch(t, "duo", "0")
				_, err := e.join.Join(ctx, JoinRequest{MatchID: m.ID, AccountID: uuid.New(), TeamName: "first", Players: roster("A", "B")})
				require.NoError(t, err)
				return JoinRequest{MatchID: m.ID, AccountID: uuid.New(), TeamName: "second", Players: roster("A", "A")}
			},
			want: ErrDuplicateInGameID,
		},
		{
			name: "taken id masks an existing entry",
			setup: func(t *testing.T, e *testEnv) JoinRequest {
				m := e.createMatch(t, "solo", "0")
				leader := uuid.New()
				_, err := e.join.Join(ctx, JoinRequest{MatchID: m.ID, AccountID: leader, Players: roster("A")})
				require.NoError(t, err)
				return JoinRequest{MatchID: m.ID, AccountID: leader, Players: roster("A")}
			},
			want: ErrInGameIDTaken,
		},
		{
			name: "existing entry masks a full match",
			setup: func(t *testing.T, e *testEnv) JoinRequest {
				e.join.cfg.SoloCapacity = 1
				m := e.createMatch(t, "solo", "0")
				leader := uuid.New()
				_, err := e.join.Join(ctx, JoinRequest{MatchID: m.ID, AccountID: leader, Players: roster("A")})
				require.NoError(t, err)
				return JoinRequest{MatchID: m.ID, AccountID: leader, Players: roster("B")}
			},
			want: ErrAlreadyJoined,
		},
		{
			name: "full match masks insufficient funds",
			setup: func(t *testing.T, e *testEnv) JoinRequest {
				e.join.cfg.SoloCapacity = 1
				m := e.createMatch(t, "solo", "10")
				first := uuid.New()
				e.fund(t, first, "10", "0")
				_, err := e.join.Join(ctx, soloJoin(m.ID, first))
				require.NoError(t, err)
				return soloJoin(m.ID, uuid.New())
			},
			want: ErrMatchFull,
		},
		{
			name: "insufficient funds",
			setup: func(t *testing.T, e *testEnv) JoinRequest {
				m := e.createMatch(t, "solo", "10")
				player := uuid.New()
				e.fund(t, player, "4", "5.99")
				return soloJoin(m.ID, player)
			},
			want: ErrInsufficientFunds,
		},
		{
			name: "blocked account",
			setup: func(t *testing.T, e *testEnv) JoinRequest {
				m := e.createMatch(t, "solo", "10")
				player := uuid.New()
				e.fund(t, player, "100", "0")
				_, err := e.accounts.SetBlocked(ctx, player, true, e.admin)
				require.NoError(t, err)
				return soloJoin(m.ID, player)
			},
			want: ErrAccountBlocked,
		},
		{
			name: "unknown match masks a blocked account",
			setup: func(t *testing.T, e *testEnv) JoinRequest {
				player := uuid.New()
				_, err := e.accounts.SetBlocked(ctx, player, true, e.admin)
				require.NoError(t, err)
				return soloJoin(uuid.New(), player)
			},
			want: ErrMatchNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			req := tt.setup(t, e)

			_, err := e.join.Join(ctx, req)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestJoinFailureLeavesNoTrace(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	player := uuid.New()
	e.fund(t, player, "3", "2")
	m := e.createMatch(t, "solo", "10")

	_, err := e.join.Join(ctx, soloJoin(m.ID, player))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, apperr.KindInsufficientFunds, apperr.KindOf(err))

	e.requireBalances(t, player, "3", "2")
	teams, err := e.matches.ListTeams(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, teams)
}

func TestJoinCapacity(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	m := e.createMatch(t, "solo", "0")

	var last *JoinResult
	for i := 0; i < 80; i++ {
		res, err := e.join.Join(ctx, soloJoin(m.ID, uuid.New()))
		require.NoError(t, err)
		last = res
	}
	assert.Equal(t, 80, last.SlotNumber)

	_, err := e.join.Join(ctx, soloJoin(m.ID, uuid.New()))
	require.ErrorIs(t, err, ErrMatchFull)

	details, err := e.matches.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 80, details.Registered)
	assert.Equal(t, 80, details.Capacity)
}

func TestJoinTeamCapacityAndSlotOffset(t *testing.T) {
	e := newTestEnv(t, func(c *config.Config) {
		c.Match.TeamCapacity = 2
		c.Match.TeamSlotOffset = 100
	})
	ctx := context.Background()
	m := e.createMatch(t, "2v2", "0")

	res, err := e.join.Join(ctx, JoinRequest{MatchID: m.ID, AccountID: uuid.New(), TeamName: "a", Players: roster("A1", "A2")})
	require.NoError(t, err)
	assert.Equal(t, 101, res.SlotNumber)

	res, err = e.join.Join(ctx, JoinRequest{MatchID: m.ID, AccountID: uuid.New(), TeamName: "b", Players: roster("B1", "B2")})
	require.NoError(t, err)
	assert.Equal(t, 102, res.SlotNumber)

	_, err = e.join.Join(ctx, JoinRequest{MatchID: m.ID, AccountID: uuid.New(), TeamName: "c", Players: roster("C1", "C2")})
	require.ErrorIs(t, err, ErrMatchFull)
}

func TestJoinRosterUniqueAcrossTeams(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	m := e.createMatch(t, "squad", "0")

	red := uuid.New()
	_, err := e.join.Join(ctx, JoinRequest{MatchID: m.ID, AccountID: red, TeamName: "red",
		Players: roster("R1", "R2", "R3", "R4")})
	require.NoError(t, err)

	_, err = e.join.Join(ctx, JoinRequest{MatchID: m.ID, AccountID: uuid.New(), TeamName: "blue",
		Players: roster("B1", "B2", " R3 ", "B4")})
	require.ErrorIs(t, err, ErrInGameIDTaken)
	assert.Contains(t, apperr.From(err).Message, "R3")

	teams, err := e.matches.ListTeams(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Equal(t, red, teams[0].LeaderID)
	assert.Equal(t, "red", teams[0].TeamName)
	assert.Equal(t, 1, teams[0].SlotNumber)
	assert.Equal(t, roster("R1", "R2", "R3", "R4"), teams[0].Players)
}

func TestJoinRegistrationClosesAtLeadWindow(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	m := e.createMatch(t, "solo", "0")

	e.now = m.MatchTime.Add(-15 * time.Minute)
	_, err := e.join.Join(ctx, soloJoin(m.ID, uuid.New()))
	require.NoError(t, err, "the closing instant itself is still open")

	e.now = e.now.Add(time.Second)
	_, err = e.join.Join(ctx, soloJoin(m.ID, uuid.New()))
	require.ErrorIs(t, err, ErrRegistrationClosed)
}

func TestJoinConcurrentRespectsCapacity(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	m := e.createMatch(t, "solo", "10")

	const players = 100
	ids := make([]uuid.UUID, players)
	for i := range ids {
		ids[i] = uuid.New()
		e.fund(t, ids[i], "10", "0")
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		slots  = make(map[int]uuid.UUID)
		full   int
		others []error
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			res, err := e.join.Join(ctx, soloJoin(m.ID, id))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				slots[res.SlotNumber] = id
			case errors.Is(err, ErrMatchFull):
				full++
			default:
				others = append(others, err)
			}
		}(id)
	}
	wg.Wait()

	require.Empty(t, others)
	assert.Len(t, slots, 80)
	assert.Equal(t, 20, full)
	for slot := 1; slot <= 80; slot++ {
		assert.Contains(t, slots, slot)
	}

	joined := make(map[uuid.UUID]bool, len(slots))
	for _, id := range slots {
		joined[id] = true
	}
	for _, id := range ids {
		if joined[id] {
			e.requireBalances(t, id, "0", "0")
		} else {
			e.requireBalances(t, id, "10", "0")
		}
	}
}

func TestJoinDuplicateConstraintMapping(t *testing.T) {
	assert.ErrorIs(t, joinConflict(wrapDup("uq_team_leader")), ErrAlreadyJoined)
	assert.ErrorIs(t, joinConflict(wrapDup("uq_player_in_game_id")), ErrInGameIDTaken)
	assert.ErrorIs(t, joinConflict(wrapDup("uq_team_slot")), ErrBusy)
	assert.ErrorIs(t, joinConflict(wrapDup("uq_ledger_match_movement")), ErrAlreadyJoined)
}

func wrapDup(constraint string) error {
	return fmt.Errorf("%w: %s", repository.ErrDuplicate, constraint)
}
