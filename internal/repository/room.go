package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"tournament-wallet/internal/model"
)

// RoomRepository handles lobby credentials, one room per match.
type RoomRepository struct {
	q querier
}

// NewRoomRepository creates a new RoomRepository instance.
func NewRoomRepository(q querier) *RoomRepository {
	return &RoomRepository{q: q}
}

// UpsertRoom creates or replaces the room of a match.
func (r *RoomRepository) UpsertRoom(ctx context.Context, room *model.Room) error {
	const query = `
		INSERT INTO match_rooms (match_id, room_code, password, server, map, notes, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (match_id) DO UPDATE
		SET room_code = EXCLUDED.room_code,
			password = EXCLUDED.password,
			server = EXCLUDED.server,
			map = EXCLUDED.map,
			notes = EXCLUDED.notes,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.q.Exec(ctx, query,
		room.MatchID,
		room.RoomCode,
		room.Password,
		room.Server,
		room.Map,
		room.Notes,
		room.UpdatedBy,
		room.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert room: %w", err)
	}
	return nil
}

// GetRoom retrieves the room of a match.
// Returns ErrRoomNotFound if none was published.
func (r *RoomRepository) GetRoom(ctx context.Context, matchID uuid.UUID) (*model.Room, error) {
	const query = `
		SELECT match_id, room_code, password, server, map, notes, updated_by, updated_at
		FROM match_rooms
		WHERE match_id = $1
	`

	var room model.Room
	err := r.q.QueryRow(ctx, query, matchID).Scan(
		&room.MatchID,
		&room.RoomCode,
		&room.Password,
		&room.Server,
		&room.Map,
		&room.Notes,
		&room.UpdatedBy,
		&room.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return &room, nil
}
