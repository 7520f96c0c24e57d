// Package model defines the domain models for the tournament wallet.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role is the caller's role as asserted by the identity provider.
type Role string

// Roles.
const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Account holds the current balances of a user.
type Account struct {
	ID              uuid.UUID       `json:"id"`
	WalletBalance   decimal.Decimal `json:"walletBalance"`
	ReferralBalance decimal.Decimal `json:"referralBalance"`
	IsBlocked       bool            `json:"isBlocked"`
	Version         int64           `json:"-"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Available returns the combined spendable balance.
func (a *Account) Available() decimal.Decimal {
	return a.WalletBalance.Add(a.ReferralBalance)
}

// Direction is the side of a ledger entry.
type Direction string

// Directions.
const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

// EntrySource names what caused a balance movement.
type EntrySource string

// Entry sources.
const (
	SourceRecharge         EntrySource = "recharge"
	SourceMatchEntry       EntrySource = "match_entry"
	SourceMatchPrize       EntrySource = "match_prize"
	SourceHighestKillBonus EntrySource = "highest_kill_bonus"
	SourceWithdrawal       EntrySource = "withdrawal"
	SourceReferralBonus    EntrySource = "referral_bonus"
)

// Moderated reports whether entries of this source go through admin approval.
func (s EntrySource) Moderated() bool {
	return s == SourceRecharge || s == SourceWithdrawal
}

// EntryStatus is the lifecycle state of a ledger entry.
type EntryStatus string

// Entry statuses.
const (
	StatusPending  EntryStatus = "pending"
	StatusApproved EntryStatus = "approved"
	StatusRejected EntryStatus = "rejected"
	StatusJoined   EntryStatus = "joined"
)

// LedgerEntry records one balance-affecting event.
// WalletAmount and ReferralAmount split Amount between the two balances.
type LedgerEntry struct {
	ID                   uuid.UUID       `json:"id"`
	AccountID            uuid.UUID       `json:"accountId"`
	Direction            Direction       `json:"direction"`
	Amount               decimal.Decimal `json:"amount"`
	WalletAmount         decimal.Decimal `json:"walletAmount"`
	ReferralAmount       decimal.Decimal `json:"referralAmount"`
	Source               EntrySource     `json:"source"`
	Status               EntryStatus     `json:"status"`
	MatchID              *uuid.UUID      `json:"matchId,omitempty"`
	ProofRef             string          `json:"proofRef,omitempty"`
	BalanceAfter         decimal.Decimal `json:"balanceAfter"`
	ReferralBalanceAfter decimal.Decimal `json:"referralBalanceAfter"`
	Remarks              string          `json:"remarks,omitempty"`
	DecidedBy            *uuid.UUID      `json:"decidedBy,omitempty"`
	DecidedAt            *time.Time      `json:"decidedAt,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// applied reports whether the entry's effect is currently reflected in balances.
// Debits are applied at creation and stay applied unless rejected (refunded).
// Credits are applied only once approved.
func (e *LedgerEntry) applied() bool {
	switch e.Direction {
	case Credit:
		return e.Status == StatusApproved
	case Debit:
		return e.Status != StatusRejected
	}
	return false
}

// sign returns +1 for credits and -1 for debits.
func (e *LedgerEntry) sign() decimal.Decimal {
	if e.Direction == Debit {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// WalletDelta returns the entry's current net effect on the wallet balance.
func (e *LedgerEntry) WalletDelta() decimal.Decimal {
	if !e.applied() {
		return decimal.Zero
	}
	return e.WalletAmount.Mul(e.sign())
}

// ReferralDelta returns the entry's current net effect on the referral balance.
func (e *LedgerEntry) ReferralDelta() decimal.Decimal {
	if !e.applied() {
		return decimal.Zero
	}
	return e.ReferralAmount.Mul(e.sign())
}

// MatchStatus is the lifecycle state of a match.
type MatchStatus string

// Match statuses.
const (
	MatchUpcoming  MatchStatus = "upcoming"
	MatchOngoing   MatchStatus = "ongoing"
	MatchCompleted MatchStatus = "completed"
)

// Valid reports whether s is a known status.
func (s MatchStatus) Valid() bool {
	switch s {
	case MatchUpcoming, MatchOngoing, MatchCompleted:
		return true
	}
	return false
}

// PrizeRank is one line of a match's advertised prize distribution.
type PrizeRank struct {
	Rank  int             `json:"rank"`
	Prize decimal.Decimal `json:"prize"`
}

// Match is a scheduled paid match.
type Match struct {
	ID                uuid.UUID       `json:"id"`
	Name              string          `json:"name"`
	Mode              MatchMode       `json:"mode"`
	EntryFee          decimal.Decimal `json:"entryFee"`
	PrizePool         decimal.Decimal `json:"prizePool"`
	PrizeDistribution []PrizeRank     `json:"prizeDistribution"`
	MatchTime         time.Time       `json:"matchTime"`
	Status            MatchStatus     `json:"status"`
	Results           *MatchResults   `json:"results,omitempty"`
	CreatedBy         uuid.UUID       `json:"createdBy"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// RegistrationClosesAt returns the last instant at which joins are accepted.
func (m *Match) RegistrationClosesAt(leadWindow time.Duration) time.Time {
	return m.MatchTime.Add(-leadWindow)
}

// RegistrationOpen reports whether a join at now is still accepted.
func (m *Match) RegistrationOpen(now time.Time, leadWindow time.Duration) bool {
	return m.Status == MatchUpcoming && !now.After(m.RegistrationClosesAt(leadWindow))
}

// Winner is one paid placement in a match result.
type Winner struct {
	AccountID uuid.UUID       `json:"accountId"`
	TeamName  string          `json:"teamName,omitempty"`
	Rank      int             `json:"rank,omitempty"`
	Kills     int             `json:"kills,omitempty"`
	Prize     decimal.Decimal `json:"prize"`
}

// Payable reports whether the winner should receive a credit.
func (w Winner) Payable() bool {
	return w.AccountID != uuid.Nil && w.Prize.IsPositive()
}

// MatchResults is attached to a match when it is settled.
type MatchResults struct {
	Winners     []Winner  `json:"winners"`
	HighestKill *Winner   `json:"highestKill,omitempty"`
	Remarks     string    `json:"remarks,omitempty"`
	SettledBy   uuid.UUID `json:"settledBy"`
	SettledAt   time.Time `json:"settledAt"`
}

// Player is one member of a team roster.
type Player struct {
	DisplayName string `json:"displayName"`
	InGameID    string `json:"inGameId"`
}

// TeamEntry is a leader's registration in a match.
type TeamEntry struct {
	ID            uuid.UUID  `json:"id"`
	MatchID       uuid.UUID  `json:"matchId"`
	LeaderID      uuid.UUID  `json:"leaderId"`
	TeamName      string     `json:"teamName,omitempty"`
	SlotNumber    int        `json:"slotNumber"`
	Players       []Player   `json:"players"`
	LedgerEntryID *uuid.UUID `json:"ledgerEntryId,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Room holds the lobby credentials revealed to participants.
type Room struct {
	MatchID   uuid.UUID `json:"matchId"`
	RoomCode  string    `json:"roomCode"`
	Password  string    `json:"password"`
	Server    string    `json:"server,omitempty"`
	Map       string    `json:"map,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	UpdatedBy uuid.UUID `json:"updatedBy"`
	UpdatedAt time.Time `json:"updatedAt"`
}
