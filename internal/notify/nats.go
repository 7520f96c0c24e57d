package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// SubjectPrefix is the JetStream subject namespace for ledger events.
const SubjectPrefix = "tournament.ledger"

// NATSNotifier publishes events to JetStream on tournament.ledger.<type>.
type NATSNotifier struct {
	js jetstream.JetStream
}

// NewNATSNotifier creates a notifier on an existing JetStream context.
func NewNATSNotifier(js jetstream.JetStream) *NATSNotifier {
	return &NATSNotifier{js: js}
}

// Name implements Notifier.
func (n *NATSNotifier) Name() string { return "nats" }

// Subject returns the subject an event is published on.
func Subject(evt Event) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, evt.Type)
}

// Notify implements Notifier. The event ID doubles as the JetStream message
// ID so redeliveries inside the stream's duplicate window are dropped.
func (n *NATSNotifier) Notify(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := n.js.Publish(ctx, Subject(evt), data, jetstream.WithMsgID(evt.ID.String())); err != nil {
		return fmt.Errorf("publish %s: %w", Subject(evt), err)
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("tournament-wallet"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}

// EnsureStream creates or updates the stream holding ledger events.
func EnsureStream(ctx context.Context, js jetstream.JetStream, name string) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       name,
		Subjects:   []string{SubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}
	log.Info().Str("stream", name).Msg("Ensured ledger event stream")
	return nil
}
