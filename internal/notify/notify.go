// Package notify delivers ledger and match events to best-effort sinks.
// Publishing never blocks or fails the operation that produced the event.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// EventType names what happened.
type EventType string

// Event types.
const (
	EventRechargeSubmitted   EventType = "recharge_submitted"
	EventWithdrawalRequested EventType = "withdrawal_requested"
	EventTransactionDecided  EventType = "transaction_decided"
	EventMatchJoined         EventType = "match_joined"
	EventMatchSettled        EventType = "match_settled"
	EventReferralGranted     EventType = "referral_granted"
	EventAccountBlocked      EventType = "account_blocked"
)

// Event is a fact produced after a unit of work committed.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	Type       EventType       `json:"type"`
	AccountID  uuid.UUID       `json:"accountId,omitempty"`
	MatchID    *uuid.UUID      `json:"matchId,omitempty"`
	EntryID    *uuid.UUID      `json:"entryId,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Status     string          `json:"status,omitempty"`
	Message    string          `json:"message"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Notifier delivers an event to one sink.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
	Name() string
}

// Publisher accepts events for asynchronous delivery.
type Publisher interface {
	Publish(evt Event)
}

// Discard drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(Event) {}

// Dispatcher queues events and fans them out to its sinks from one worker.
type Dispatcher struct {
	sinks   []Notifier
	queue   chan Event
	timeout time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

// NewDispatcher creates a dispatcher with a bounded queue. Each sink call is
// bounded by timeout.
func NewDispatcher(buffer int, timeout time.Duration, sinks ...Notifier) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		sinks:   sinks,
		queue:   make(chan Event, buffer),
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Publish enqueues evt. When the queue is full the event is dropped.
func (d *Dispatcher) Publish(evt Event) {
	if evt.ID == uuid.Nil {
		evt.ID = uuid.New()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	select {
	case <-d.done:
		return
	default:
	}

	select {
	case d.queue <- evt:
	default:
		log.Warn().
			Str("event_type", string(evt.Type)).
			Str("event_id", evt.ID.String()).
			Msg("Notification queue full, dropping event")
	}
}

// Run delivers queued events until ctx is cancelled or Close is called, then
// drains what is already queued.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return ctx.Err()
		case <-d.done:
			d.drain()
			return nil
		case evt := <-d.queue:
			d.deliver(evt)
		}
	}
}

// Close stops accepting events. Run drains the queue and returns.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.done) })
}

func (d *Dispatcher) drain() {
	for {
		select {
		case evt := <-d.queue:
			d.deliver(evt)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(evt Event) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := sink.Notify(ctx, evt)
		cancel()
		if err != nil {
			log.Warn().
				Err(err).
				Str("sink", sink.Name()).
				Str("event_type", string(evt.Type)).
				Str("event_id", evt.ID.String()).
				Msg("Notification delivery failed")
		}
	}
}

// LogNotifier writes events to the application log.
type LogNotifier struct{}

// Name implements Notifier.
func (LogNotifier) Name() string { return "log" }

// Notify implements Notifier.
func (LogNotifier) Notify(_ context.Context, evt Event) error {
	e := log.Info().
		Str("event_type", string(evt.Type)).
		Str("account_id", evt.AccountID.String()).
		Str("amount", evt.Amount.String())
	if evt.MatchID != nil {
		e = e.Str("match_id", evt.MatchID.String())
	}
	if evt.EntryID != nil {
		e = e.Str("entry_id", evt.EntryID.String())
	}
	if evt.Status != "" {
		e = e.Str("status", evt.Status)
	}
	e.Msg(evt.Message)
	return nil
}
