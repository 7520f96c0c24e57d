package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type migration struct {
	name string
	sql  string
}

// Balances and amounts are NUMERIC(14,2); CHECK constraints back the
// non-negative balance rule, unique indexes back roster and slot uniqueness.
var migrations = []migration{
	{
		name: "accounts table",
		sql: `
			CREATE TABLE IF NOT EXISTS accounts (
				id UUID PRIMARY KEY,
				wallet_balance NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (wallet_balance >= 0),
				referral_balance NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (referral_balance >= 0),
				is_blocked BOOLEAN NOT NULL DEFAULT FALSE,
				version BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
	},
	{
		name: "matches table",
		sql: `
			CREATE TABLE IF NOT EXISTS matches (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				mode_kind VARCHAR(16) NOT NULL,
				mode_players INT NOT NULL CHECK (mode_players BETWEEN 1 AND 8),
				entry_fee NUMERIC(14,2) NOT NULL CHECK (entry_fee >= 0),
				prize_pool NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (prize_pool >= 0),
				prize_distribution JSONB NOT NULL DEFAULT '[]'::jsonb,
				match_time TIMESTAMPTZ NOT NULL,
				status VARCHAR(16) NOT NULL DEFAULT 'upcoming',
				results JSONB,
				created_by UUID NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_matches_status_time ON matches(status, match_time);
		`,
	},
	{
		name: "ledger_entries table",
		sql: `
			CREATE TABLE IF NOT EXISTS ledger_entries (
				id UUID PRIMARY KEY,
				account_id UUID NOT NULL REFERENCES accounts(id),
				direction VARCHAR(8) NOT NULL CHECK (direction IN ('credit', 'debit')),
				amount NUMERIC(14,2) NOT NULL CHECK (amount > 0),
				wallet_amount NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (wallet_amount >= 0),
				referral_amount NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (referral_amount >= 0),
				source VARCHAR(32) NOT NULL,
				status VARCHAR(16) NOT NULL,
				match_id UUID REFERENCES matches(id),
				proof_ref TEXT NOT NULL DEFAULT '',
				balance_after NUMERIC(14,2) NOT NULL,
				referral_balance_after NUMERIC(14,2) NOT NULL,
				remarks TEXT NOT NULL DEFAULT '',
				decided_by UUID,
				decided_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				CHECK (wallet_amount + referral_amount = amount)
			);
			CREATE INDEX IF NOT EXISTS idx_ledger_account_time ON ledger_entries(account_id, created_at DESC);
			CREATE INDEX IF NOT EXISTS idx_ledger_status_time ON ledger_entries(status, created_at DESC);
			CREATE UNIQUE INDEX IF NOT EXISTS uq_ledger_match_movement
				ON ledger_entries(match_id, account_id, source)
				WHERE source IN ('match_entry', 'match_prize', 'highest_kill_bonus');
		`,
	},
	{
		name: "team tables",
		sql: `
			CREATE TABLE IF NOT EXISTS team_entries (
				id UUID PRIMARY KEY,
				match_id UUID NOT NULL REFERENCES matches(id),
				leader_id UUID NOT NULL REFERENCES accounts(id),
				team_name VARCHAR(255) NOT NULL DEFAULT '',
				slot_number INT NOT NULL CHECK (slot_number > 0),
				ledger_entry_id UUID REFERENCES ledger_entries(id),
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				CONSTRAINT uq_team_leader UNIQUE (match_id, leader_id),
				CONSTRAINT uq_team_slot UNIQUE (match_id, slot_number)
			);
			CREATE TABLE IF NOT EXISTS team_players (
				team_id UUID NOT NULL REFERENCES team_entries(id) ON DELETE CASCADE,
				match_id UUID NOT NULL REFERENCES matches(id),
				position INT NOT NULL,
				display_name VARCHAR(255) NOT NULL,
				in_game_id VARCHAR(255) NOT NULL,
				PRIMARY KEY (team_id, position),
				CONSTRAINT uq_player_in_game_id UNIQUE (match_id, in_game_id)
			);
		`,
	},
	{
		name: "match_rooms table",
		sql: `
			CREATE TABLE IF NOT EXISTS match_rooms (
				match_id UUID PRIMARY KEY REFERENCES matches(id),
				room_code VARCHAR(255) NOT NULL,
				password VARCHAR(255) NOT NULL DEFAULT '',
				server VARCHAR(255) NOT NULL DEFAULT '',
				map VARCHAR(255) NOT NULL DEFAULT '',
				notes TEXT NOT NULL DEFAULT '',
				updated_by UUID NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
	},
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, conn execer) error {
	log.Info().Msg("Running database migrations...")

	for i, m := range migrations {
		if _, err := conn.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", i+1, m.name, err)
		}
		log.Info().Int("migration", i+1).Str("name", m.name).Msg("Migration applied")
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
