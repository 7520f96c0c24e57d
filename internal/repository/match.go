package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"tournament-wallet/internal/model"
)

// MatchRepository handles match persistence. Scheduling fields are written
// once at creation; afterwards only status and results change.
type MatchRepository struct {
	q querier
}

// NewMatchRepository creates a new MatchRepository instance.
func NewMatchRepository(q querier) *MatchRepository {
	return &MatchRepository{q: q}
}

const matchColumns = `id, name, mode_kind, mode_players, entry_fee::text, prize_pool::text,
	prize_distribution, match_time, status, results, created_by, created_at, updated_at`

func scanMatch(row pgx.Row) (*model.Match, error) {
	var (
		m                 model.Match
		modeKind          string
		modePlayers       int
		entryFee, pool    string
		distribution, res []byte
	)
	if err := row.Scan(
		&m.ID,
		&m.Name,
		&modeKind,
		&modePlayers,
		&entryFee,
		&pool,
		&distribution,
		&m.MatchTime,
		&m.Status,
		&res,
		&m.CreatedBy,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if m.Mode, err = model.NewMatchMode(model.ModeKind(modeKind), modePlayers); err != nil {
		return nil, err
	}
	if m.EntryFee, err = decimal.NewFromString(entryFee); err != nil {
		return nil, fmt.Errorf("failed to parse entry fee: %w", err)
	}
	if m.PrizePool, err = decimal.NewFromString(pool); err != nil {
		return nil, fmt.Errorf("failed to parse prize pool: %w", err)
	}
	if len(distribution) > 0 {
		if err := json.Unmarshal(distribution, &m.PrizeDistribution); err != nil {
			return nil, fmt.Errorf("failed to decode prize distribution: %w", err)
		}
	}
	if len(res) > 0 {
		m.Results = &model.MatchResults{}
		if err := json.Unmarshal(res, m.Results); err != nil {
			return nil, fmt.Errorf("failed to decode match results: %w", err)
		}
	}
	return &m, nil
}

// CreateMatch inserts a new match.
func (r *MatchRepository) CreateMatch(ctx context.Context, m *model.Match) error {
	const query = `
		INSERT INTO matches (
			id, name, mode_kind, mode_players, entry_fee, prize_pool,
			prize_distribution, match_time, status, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, $11, $12)
	`

	distribution := m.PrizeDistribution
	if distribution == nil {
		distribution = []model.PrizeRank{}
	}
	distJSON, err := json.Marshal(distribution)
	if err != nil {
		return fmt.Errorf("failed to encode prize distribution: %w", err)
	}

	_, err = r.q.Exec(ctx, query,
		m.ID,
		m.Name,
		string(m.Mode.Kind()),
		m.Mode.RequiredPlayers(),
		m.EntryFee.String(),
		m.PrizePool.String(),
		string(distJSON),
		m.MatchTime,
		string(m.Status),
		m.CreatedBy,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if err != nil {
		return writeError("create match", err)
	}
	return nil
}

// GetMatch retrieves a match by ID.
func (r *MatchRepository) GetMatch(ctx context.Context, id uuid.UUID) (*model.Match, error) {
	const query = `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`
	return r.getMatch(ctx, query, id)
}

// LockMatch retrieves a match and locks its row until the transaction ends.
// Joins and settlement of the same match queue up behind this lock.
func (r *MatchRepository) LockMatch(ctx context.Context, id uuid.UUID) (*model.Match, error) {
	const query = `SELECT ` + matchColumns + ` FROM matches WHERE id = $1 FOR UPDATE`
	return r.getMatch(ctx, query, id)
}

func (r *MatchRepository) getMatch(ctx context.Context, query string, id uuid.UUID) (*model.Match, error) {
	m, err := scanMatch(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return m, nil
}

// ListMatches returns matches ordered by match time.
func (r *MatchRepository) ListMatches(ctx context.Context, status model.MatchStatus) ([]*model.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY match_time ASC, id ASC`

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	var matches []*model.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate matches: %w", err)
	}
	return matches, nil
}

// TransitionMatch moves a match from one status to another.
// Returns ErrStaleState when the match is no longer in status from.
func (r *MatchRepository) TransitionMatch(ctx context.Context, id uuid.UUID, from, to model.MatchStatus) error {
	const query = `
		UPDATE matches
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	tag, err := r.q.Exec(ctx, query, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("failed to update match status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrStale(ctx, id)
	}
	return nil
}

// CompleteMatch attaches results and flips the status to completed. The
// status guard is evaluated by the UPDATE itself, so of two concurrent
// settlements only one can succeed.
func (r *MatchRepository) CompleteMatch(ctx context.Context, id uuid.UUID, results *model.MatchResults) error {
	const query = `
		UPDATE matches
		SET status = 'completed', results = $2::jsonb, updated_at = NOW()
		WHERE id = $1 AND status <> 'completed'
	`

	resJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to encode match results: %w", err)
	}

	tag, err := r.q.Exec(ctx, query, id, string(resJSON))
	if err != nil {
		return fmt.Errorf("failed to complete match: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrStale(ctx, id)
	}
	return nil
}

func (r *MatchRepository) missingOrStale(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM matches WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check match: %w", err)
	}
	if !exists {
		return ErrMatchNotFound
	}
	return ErrStaleState
}
