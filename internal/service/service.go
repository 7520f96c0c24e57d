// Package service implements the wallet ledger, the join and settlement
// engines and match administration on top of repository.Store.
//
// Every operation that moves money runs as one unit of work: the balance
// change and its ledger entry commit together or not at all. Operations on
// the same match or account are additionally serialized by keyed locks.
// Notifications are published only after the unit of work has committed.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tournament-wallet/internal/model"
	"tournament-wallet/internal/notify"
	"tournament-wallet/internal/pkg/lock"
	"tournament-wallet/internal/pkg/metrics"
	"tournament-wallet/internal/repository"
)

// maxAmount is the largest value a NUMERIC(14,2) column holds.
var maxAmount = decimal.RequireFromString("999999999999.99")

// Deps bundles the collaborators every service shares.
type Deps struct {
	Store       repository.Store
	Locks       *lock.KeyedLock
	Events      notify.Publisher
	Metrics     *metrics.Metrics
	LockTimeout time.Duration
}

type base struct {
	store       repository.Store
	locks       *lock.KeyedLock
	events      notify.Publisher
	metrics     *metrics.Metrics
	lockTimeout time.Duration
	now         func() time.Time
}

func newBase(d Deps) base {
	b := base{
		store:       d.Store,
		locks:       d.Locks,
		events:      d.Events,
		metrics:     d.Metrics,
		lockTimeout: d.LockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
	if b.locks == nil {
		b.locks = lock.NewKeyedLock()
	}
	if b.events == nil {
		b.events = notify.Discard{}
	}
	return b
}

// withLocks runs fn holding the keyed locks in a fixed order.
func (b *base) withLocks(ctx context.Context, keys []string, fn func() error) error {
	return b.locks.WithLocks(ctx, keys, b.lockTimeout, fn)
}

func (b *base) publish(evt notify.Event) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = b.now()
	}
	b.events.Publish(evt)
}

func matchKey(id uuid.UUID) string   { return lock.MatchKey(id.String()) }
func accountKey(id uuid.UUID) string { return lock.AccountKey(id.String()) }

// validAmount reports whether amount is a positive money value with at most
// two decimal places.
func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Equal(amount.Round(2)) && !amount.GreaterThan(maxAmount)
}

// validFee is validAmount that also admits zero.
func validFee(amount decimal.Decimal) bool {
	return amount.IsZero() || validAmount(amount)
}

// provision returns the account locked for update, creating it with zero
// balances on first use.
func provision(ctx context.Context, tx repository.Tx, id uuid.UUID) (*model.Account, error) {
	if _, err := tx.EnsureAccount(ctx, id); err != nil {
		return nil, err
	}
	return tx.LockAccount(ctx, id)
}

func uuidPtr(id uuid.UUID) *uuid.UUID { return &id }

func timePtr(t time.Time) *time.Time { return &t }
