package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		kind    ModeKind
		players int
		wantErr bool
	}{
		{"solo", ModeSolo, 1, false},
		{"Duo", ModeDuo, 2, false},
		{" SQUAD ", ModeSquad, 4, false},
		{"4v4", ModeCustom, 4, false},
		{"1v1", ModeCustom, 1, false},
		{"8v8", ModeCustom, 8, false},
		{"9v9", "", 0, true},
		{"0v0", "", 0, true},
		{"4v2", "", 0, true},
		{"trio", "", 0, true},
		{"v", "", 0, true},
		{"", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			mode, err := ParseMode(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, mode.Kind())
			assert.Equal(t, tt.players, mode.RequiredPlayers())
			assert.Equal(t, tt.players > 1, mode.IsTeam())
		})
	}
}

func TestMatchModeJSON(t *testing.T) {
	custom, err := Custom(3)
	require.NoError(t, err)

	data, err := json.Marshal(struct {
		Mode MatchMode `json:"mode"`
	}{custom})
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"3v3"}`, string(data))

	var decoded struct {
		Mode MatchMode `json:"mode"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"mode":"squad"}`), &decoded))
	assert.Equal(t, Squad(), decoded.Mode)

	assert.Error(t, json.Unmarshal([]byte(`{"mode":"3v4"}`), &decoded))
}

func TestNewMatchModeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, MaxTeamSize).Draw(t, "n")
		mode, err := Custom(n)
		if err != nil {
			t.Fatal(err)
		}
		restored, err := NewMatchMode(mode.Kind(), mode.RequiredPlayers())
		if err != nil {
			t.Fatal(err)
		}
		if restored != mode {
			t.Fatalf("restored %v, want %v", restored, mode)
		}
		reparsed, err := ParseMode(mode.String())
		if err != nil || reparsed != mode {
			t.Fatalf("reparse of %q gave %v, %v", mode.String(), reparsed, err)
		}
	})
}

func TestRegistrationWindow(t *testing.T) {
	matchTime := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
	m := &Match{MatchTime: matchTime, Status: MatchUpcoming}
	lead := 15 * time.Minute

	assert.Equal(t, matchTime.Add(-lead), m.RegistrationClosesAt(lead))
	assert.True(t, m.RegistrationOpen(matchTime.Add(-lead), lead), "closing instant is inclusive")
	assert.False(t, m.RegistrationOpen(matchTime.Add(-lead).Add(time.Nanosecond), lead))

	m.Status = MatchOngoing
	assert.False(t, m.RegistrationOpen(matchTime.Add(-time.Hour), lead))
}

func TestLedgerEntryDeltas(t *testing.T) {
	d := decimal.RequireFromString

	tests := []struct {
		name         string
		entry        LedgerEntry
		wantWallet   string
		wantReferral string
	}{
		{
			name:       "pending recharge has no effect",
			entry:      LedgerEntry{Direction: Credit, Status: StatusPending, WalletAmount: d("100")},
			wantWallet: "0", wantReferral: "0",
		},
		{
			name:       "approved recharge credits wallet",
			entry:      LedgerEntry{Direction: Credit, Status: StatusApproved, WalletAmount: d("100")},
			wantWallet: "100", wantReferral: "0",
		},
		{
			name:       "pending withdrawal already debited",
			entry:      LedgerEntry{Direction: Debit, Status: StatusPending, WalletAmount: d("60")},
			wantWallet: "-60", wantReferral: "0",
		},
		{
			name:       "rejected withdrawal refunded",
			entry:      LedgerEntry{Direction: Debit, Status: StatusRejected, WalletAmount: d("60")},
			wantWallet: "0", wantReferral: "0",
		},
		{
			name:       "joined entry fee split",
			entry:      LedgerEntry{Direction: Debit, Status: StatusJoined, WalletAmount: d("5"), ReferralAmount: d("5")},
			wantWallet: "-5", wantReferral: "-5",
		},
		{
			name:       "referral bonus",
			entry:      LedgerEntry{Direction: Credit, Status: StatusApproved, ReferralAmount: d("20")},
			wantWallet: "0", wantReferral: "20",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, d(tt.wantWallet).Equal(tt.entry.WalletDelta()), "wallet delta %s", tt.entry.WalletDelta())
			assert.True(t, d(tt.wantReferral).Equal(tt.entry.ReferralDelta()), "referral delta %s", tt.entry.ReferralDelta())
		})
	}
}

func TestWinnerPayable(t *testing.T) {
	id := uuid.New()
	assert.True(t, Winner{AccountID: id, Prize: decimal.NewFromInt(1)}.Payable())
	assert.False(t, Winner{AccountID: uuid.Nil, Prize: decimal.NewFromInt(1)}.Payable())
	assert.False(t, Winner{AccountID: id, Prize: decimal.Zero}.Payable())
	assert.False(t, Winner{AccountID: id, Prize: decimal.NewFromInt(-5)}.Payable())
}
