package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tournament-wallet/internal/config"
	"tournament-wallet/internal/model"
	"tournament-wallet/internal/notify"
	"tournament-wallet/internal/pkg/lock"
	"tournament-wallet/internal/pkg/metrics"
	"tournament-wallet/internal/repository"
	"tournament-wallet/internal/repository/memory"
)

// testingT is satisfied by *testing.T and *rapid.T.
type testingT interface {
	require.TestingT
	Helper()
}

type capturePublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *capturePublisher) Publish(evt notify.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *capturePublisher) ofType(typ notify.EventType) []notify.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []notify.Event
	for _, e := range c.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	cfg     config.Config
	store   repository.Store
	events  *capturePublisher
	metrics *metrics.Metrics
	now     time.Time
	admin   uuid.UUID

	accounts *AccountService
	wallet   *WalletService
	join     *JoinService
	settle   *SettlementService
	matches  *MatchService
}

func testConfig() config.Config {
	return config.Config{
		Wallet: config.WalletConfig{
			MinRecharge:   decimal.NewFromInt(10),
			MinWithdrawal: decimal.NewFromInt(50),
			HistoryLimit:  100,
		},
		Match: config.MatchConfig{
			LeadWindow:   15 * time.Minute,
			SoloCapacity: 80,
			TeamCapacity: 20,
		},
	}
}

func newTestEnv(t testingT, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	return newTestEnvWithStore(t, memory.NewStore(), cfg)
}

func newTestEnvWithStore(t testingT, store repository.Store, cfg config.Config) *testEnv {
	t.Helper()
	e := &testEnv{
		cfg:     cfg,
		store:   store,
		events:  &capturePublisher{},
		metrics: metrics.New(),
		now:     time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
		admin:   uuid.New(),
	}
	deps := Deps{
		Store:       store,
		Locks:       lock.NewKeyedLock(),
		Events:      e.events,
		Metrics:     e.metrics,
		LockTimeout: 10 * time.Second,
	}
	clock := func() time.Time { return e.now }

	e.accounts = NewAccountService(deps)
	e.wallet = NewWalletService(deps, cfg.Wallet)
	e.join = NewJoinService(deps, cfg.Match)
	e.settle = NewSettlementService(deps, cfg.Settlement)
	e.matches = NewMatchService(deps, cfg.Match)
	for _, b := range []*base{&e.accounts.base, &e.wallet.base, &e.join.base, &e.settle.base, &e.matches.base} {
		b.now = clock
	}
	return e
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fund gives an account wallet and referral balance through the public
// workflow, so every unit is backed by a ledger entry.
func (e *testEnv) fund(t testingT, id uuid.UUID, wallet, referral string) {
	t.Helper()
	ctx := context.Background()

	if w := dec(wallet); w.IsPositive() {
		claim := decimal.Max(w, e.cfg.Wallet.MinRecharge)
		entry, err := e.wallet.SubmitRecharge(ctx, id, claim, "proof-"+uuid.NewString())
		require.NoError(t, err)
		_, err = e.wallet.DecideTransaction(ctx, Decision{
			EntryID:        entry.ID,
			Decision:       DecisionApprove,
			AdjustedAmount: &w,
			DecidedBy:      e.admin,
		})
		require.NoError(t, err)
	}
	if r := dec(referral); r.IsPositive() {
		_, err := e.wallet.GrantReferralBonus(ctx, id, r, "test", e.admin)
		require.NoError(t, err)
	}
}

func (e *testEnv) account(t testingT, id uuid.UUID) *model.Account {
	t.Helper()
	var acct *model.Account
	require.NoError(t, e.store.InTx(context.Background(), func(tx repository.Tx) error {
		var err error
		acct, err = tx.GetAccount(context.Background(), id)
		return err
	}))
	return acct
}

func (e *testEnv) requireBalances(t testingT, id uuid.UUID, wallet, referral string) {
	t.Helper()
	acct := e.account(t, id)
	require.True(t, acct.WalletBalance.Equal(dec(wallet)), "wallet: want %s, got %s", wallet, acct.WalletBalance)
	require.True(t, acct.ReferralBalance.Equal(dec(referral)), "referral: want %s, got %s", referral, acct.ReferralBalance)
}

func (e *testEnv) createMatch(t testingT, mode, fee string) *model.Match {
	t.Helper()
	m, err := e.matches.CreateMatch(context.Background(), CreateMatchRequest{
		Name:      "Friday " + mode + " cup",
		Mode:      mode,
		EntryFee:  dec(fee),
		PrizePool: dec("1000"),
		MatchTime: e.now.Add(24 * time.Hour),
		CreatedBy: e.admin,
	})
	require.NoError(t, err)
	return m
}

func roster(ids ...string) []model.Player {
	players := make([]model.Player, len(ids))
	for i, id := range ids {
		players[i] = model.Player{DisplayName: "player " + id, InGameID: id}
	}
	return players
}

func soloJoin(matchID, accountID uuid.UUID) JoinRequest {
	return JoinRequest{
		MatchID:   matchID,
		AccountID: accountID,
		Players:   roster("IGN-" + accountID.String()),
	}
}
