package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"
)

// sender is the part of *tele.Bot used for alerts.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramNotifier forwards events that need an admin's attention to the
// configured admin chats.
type TelegramNotifier struct {
	bot     sender
	chatIDs []int64
}

// NewTelegramNotifier creates a notifier backed by a send-only bot. The bot is
// created offline so startup does not depend on the Telegram API.
func NewTelegramNotifier(token string, chatIDs []int64) (*TelegramNotifier, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:   token,
		Offline: true,
		Client:  &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatIDs: chatIDs}, nil
}

// Name implements Notifier.
func (t *TelegramNotifier) Name() string { return "telegram" }

// Notify implements Notifier. Events admins do not act on are ignored.
func (t *TelegramNotifier) Notify(ctx context.Context, evt Event) error {
	text, ok := FormatAlert(evt)
	if !ok || len(t.chatIDs) == 0 {
		return nil
	}

	var errs []error
	for _, id := range t.chatIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := t.bot.Send(tele.ChatID(id), text); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// FormatAlert renders the admin message for evt. It returns false for events
// that do not need attention.
func FormatAlert(evt Event) (string, bool) {
	var b strings.Builder
	switch evt.Type {
	case EventRechargeSubmitted:
		b.WriteString("💰 New recharge awaiting approval\n")
	case EventWithdrawalRequested:
		b.WriteString("🏧 New withdrawal awaiting approval\n")
	case EventMatchSettled:
		b.WriteString("🏆 Match settled\n")
	case EventAccountBlocked:
		b.WriteString("⛔ Account blocked\n")
	default:
		return "", false
	}

	fmt.Fprintf(&b, "Account: %s\n", evt.AccountID)
	if evt.MatchID != nil {
		fmt.Fprintf(&b, "Match: %s\n", *evt.MatchID)
	}
	if evt.EntryID != nil {
		fmt.Fprintf(&b, "Entry: %s\n", *evt.EntryID)
	}
	if !evt.Amount.IsZero() {
		fmt.Fprintf(&b, "Amount: %s\n", evt.Amount.StringFixed(2))
	}
	if evt.Message != "" {
		b.WriteString(evt.Message)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "At: %s", evt.OccurredAt.UTC().Format(time.RFC3339))
	return b.String(), true
}
