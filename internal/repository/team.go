package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"tournament-wallet/internal/model"
)

// TeamRepository handles match registrations and their rosters.
type TeamRepository struct {
	q querier
}

// NewTeamRepository creates a new TeamRepository instance.
func NewTeamRepository(q querier) *TeamRepository {
	return &TeamRepository{q: q}
}

// CountTeams returns the number of entries registered in a match.
func (r *TeamRepository) CountTeams(ctx context.Context, matchID uuid.UUID) (int, error) {
	const query = `SELECT COUNT(*) FROM team_entries WHERE match_id = $1`

	var count int
	if err := r.q.QueryRow(ctx, query, matchID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count teams: %w", err)
	}
	return count, nil
}

// HasTeam reports whether a leader already registered in a match.
func (r *TeamRepository) HasTeam(ctx context.Context, matchID, leaderID uuid.UUID) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM team_entries WHERE match_id = $1 AND leader_id = $2)`

	var exists bool
	if err := r.q.QueryRow(ctx, query, matchID, leaderID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check team: %w", err)
	}
	return exists, nil
}

// TakenInGameIDs returns which of ids are already on a roster in the match.
func (r *TeamRepository) TakenInGameIDs(ctx context.Context, matchID uuid.UUID, ids []string) ([]string, error) {
	const query = `
		SELECT in_game_id FROM team_players
		WHERE match_id = $1 AND in_game_id = ANY($2)
		ORDER BY in_game_id
	`

	rows, err := r.q.Query(ctx, query, matchID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to check in-game ids: %w", err)
	}
	defer rows.Close()

	var taken []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan in-game id: %w", err)
		}
		taken = append(taken, id)
	}
	return taken, rows.Err()
}

// InsertTeam stores an entry and its roster. Unique indexes reject a second
// entry for the same leader, a reused slot number or a reused in-game id.
func (r *TeamRepository) InsertTeam(ctx context.Context, t *model.TeamEntry) error {
	const insertTeam = `
		INSERT INTO team_entries (id, match_id, leader_id, team_name, slot_number, ledger_entry_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	const insertPlayer = `
		INSERT INTO team_players (team_id, match_id, position, display_name, in_game_id)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := r.q.Exec(ctx, insertTeam,
		t.ID, t.MatchID, t.LeaderID, t.TeamName, t.SlotNumber, t.LedgerEntryID, t.CreatedAt,
	); err != nil {
		return writeError("insert team", err)
	}

	for i, p := range t.Players {
		if _, err := r.q.Exec(ctx, insertPlayer, t.ID, t.MatchID, i, p.DisplayName, p.InGameID); err != nil {
			return writeError("insert player", err)
		}
	}
	return nil
}

// ListTeams returns a match's entries ordered by slot number.
func (r *TeamRepository) ListTeams(ctx context.Context, matchID uuid.UUID) ([]*model.TeamEntry, error) {
	const teamsQuery = `
		SELECT id, match_id, leader_id, team_name, slot_number, ledger_entry_id, created_at
		FROM team_entries
		WHERE match_id = $1
		ORDER BY slot_number ASC
	`
	const playersQuery = `
		SELECT team_id, display_name, in_game_id
		FROM team_players
		WHERE match_id = $1
		ORDER BY team_id, position
	`

	rows, err := r.q.Query(ctx, teamsQuery, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}

	var teams []*model.TeamEntry
	byID := make(map[uuid.UUID]*model.TeamEntry)
	for rows.Next() {
		var t model.TeamEntry
		if err := rows.Scan(&t.ID, &t.MatchID, &t.LeaderID, &t.TeamName, &t.SlotNumber, &t.LedgerEntryID, &t.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		teams = append(teams, &t)
		byID[t.ID] = &t
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate teams: %w", err)
	}

	prows, err := r.q.Query(ctx, playersQuery, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer prows.Close()

	for prows.Next() {
		var (
			teamID uuid.UUID
			p      model.Player
		)
		if err := prows.Scan(&teamID, &p.DisplayName, &p.InGameID); err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		if t, ok := byID[teamID]; ok {
			t.Players = append(t.Players, p)
		}
	}
	if err := prows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate players: %w", err)
	}
	return teams, nil
}
