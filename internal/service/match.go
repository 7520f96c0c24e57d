package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"tournament-wallet/internal/config"
	"tournament-wallet/internal/model"
	"tournament-wallet/internal/repository"
)

// CreateMatchRequest describes a new match. Mode is a descriptor such as
// "solo", "squad" or "3v3" and is resolved once here.
type CreateMatchRequest struct {
	Name              string
	Mode              string
	EntryFee          decimal.Decimal
	PrizePool         decimal.Decimal
	PrizeDistribution []model.PrizeRank
	MatchTime         time.Time
	CreatedBy         uuid.UUID
}

// MatchDetails is a match with its registration state.
type MatchDetails struct {
	*model.Match
	Capacity             int       `json:"capacity"`
	Registered           int       `json:"registered"`
	RegistrationClosesAt time.Time `json:"registrationClosesAt"`
}

// SetRoomRequest publishes lobby credentials for a match.
type SetRoomRequest struct {
	MatchID   uuid.UUID
	RoomCode  string
	Password  string
	Server    string
	Map       string
	Notes     string
	UpdatedBy uuid.UUID
}

// MatchService administers matches, their rosters and room details.
type MatchService struct {
	base
	cfg config.MatchConfig
}

// NewMatchService creates a new MatchService instance.
func NewMatchService(deps Deps, cfg config.MatchConfig) *MatchService {
	return &MatchService{base: newBase(deps), cfg: cfg}
}

// CreateMatch validates and stores a new upcoming match.
func (s *MatchService) CreateMatch(ctx context.Context, req CreateMatchRequest) (*model.Match, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrInvalidMatch.WithMessage("match name is required")
	}
	mode, err := model.ParseMode(req.Mode)
	if err != nil {
		return nil, ErrInvalidMatch.WithMessage("%v", err)
	}
	if !validFee(req.EntryFee) {
		return nil, ErrInvalidMatch.WithMessage("entry fee must be zero or a positive amount with at most two decimal places")
	}
	if !validFee(req.PrizePool) {
		return nil, ErrInvalidMatch.WithMessage("prize pool must be zero or a positive amount with at most two decimal places")
	}
	if req.MatchTime.IsZero() {
		return nil, ErrInvalidMatch.WithMessage("match time is required")
	}

	ranks := make(map[int]struct{}, len(req.PrizeDistribution))
	distributed := decimal.Zero
	for _, pr := range req.PrizeDistribution {
		if pr.Rank < 1 {
			return nil, ErrInvalidMatch.WithMessage("prize ranks start at 1")
		}
		if _, dup := ranks[pr.Rank]; dup {
			return nil, ErrInvalidMatch.WithMessage("rank %d appears more than once in the prize distribution", pr.Rank)
		}
		ranks[pr.Rank] = struct{}{}
		if !validFee(pr.Prize) {
			return nil, ErrInvalidMatch.WithMessage("prize for rank %d is not a valid amount", pr.Rank)
		}
		distributed = distributed.Add(pr.Prize)
	}
	if distributed.GreaterThan(req.PrizePool) {
		return nil, ErrInvalidMatch.WithMessage("prize distribution %s exceeds prize pool %s",
			distributed.StringFixed(2), req.PrizePool.StringFixed(2))
	}

	now := s.now()
	m := &model.Match{
		ID:                uuid.New(),
		Name:              name,
		Mode:              mode,
		EntryFee:          req.EntryFee,
		PrizePool:         req.PrizePool,
		PrizeDistribution: req.PrizeDistribution,
		MatchTime:         req.MatchTime.UTC(),
		Status:            model.MatchUpcoming,
		CreatedBy:         req.CreatedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if m.PrizeDistribution == nil {
		m.PrizeDistribution = []model.PrizeRank{}
	}

	if err := s.store.InTx(ctx, func(tx repository.Tx) error {
		return tx.CreateMatch(ctx, m)
	}); err != nil {
		return nil, translate("create match", err)
	}

	log.Info().
		Str("match_id", m.ID.String()).
		Str("mode", m.Mode.String()).
		Str("entry_fee", m.EntryFee.String()).
		Time("match_time", m.MatchTime).
		Msg("Match created")
	return m, nil
}

// StartMatch moves an upcoming match to ongoing.
func (s *MatchService) StartMatch(ctx context.Context, id uuid.UUID) (*model.Match, error) {
	var m *model.Match
	err := s.withLocks(ctx, []string{matchKey(id)}, func() error {
		return s.store.InTx(ctx, func(tx repository.Tx) error {
			cur, err := tx.LockMatch(ctx, id)
			if err != nil {
				return err
			}
			if cur.Status != model.MatchUpcoming {
				return ErrInvalidTransition.WithMessage("match is %s", cur.Status)
			}
			if err := tx.TransitionMatch(ctx, id, model.MatchUpcoming, model.MatchOngoing); err != nil {
				if errors.Is(err, repository.ErrStaleState) {
					return ErrInvalidTransition
				}
				return err
			}
			m, err = tx.GetMatch(ctx, id)
			return err
		})
	})
	if err != nil {
		return nil, translate("start match", err)
	}
	return m, nil
}

// GetMatch returns a match with its registration state.
func (s *MatchService) GetMatch(ctx context.Context, id uuid.UUID) (*MatchDetails, error) {
	var details *MatchDetails
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		m, err := tx.GetMatch(ctx, id)
		if err != nil {
			return err
		}
		count, err := tx.CountTeams(ctx, id)
		if err != nil {
			return err
		}
		details = &MatchDetails{
			Match:                m,
			Capacity:             Capacity(s.cfg, m.Mode),
			Registered:           count,
			RegistrationClosesAt: m.RegistrationClosesAt(s.cfg.LeadWindow),
		}
		return nil
	})
	if err != nil {
		return nil, translate("get match", err)
	}
	return details, nil
}

// ListMatches returns matches ordered by match time. An empty status lists all.
func (s *MatchService) ListMatches(ctx context.Context, status model.MatchStatus) ([]*model.Match, error) {
	if status != "" && !status.Valid() {
		return nil, ErrInvalidFilter.WithMessage("unknown match status %q", status)
	}

	var matches []*model.Match
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		matches, err = tx.ListMatches(ctx, status)
		return err
	})
	if err != nil {
		return nil, translate("list matches", err)
	}
	if matches == nil {
		matches = []*model.Match{}
	}
	return matches, nil
}

// ListTeams returns the entries of a match ordered by slot.
func (s *MatchService) ListTeams(ctx context.Context, matchID uuid.UUID) ([]*model.TeamEntry, error) {
	var teams []*model.TeamEntry
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.GetMatch(ctx, matchID); err != nil {
			return err
		}
		var err error
		teams, err = tx.ListTeams(ctx, matchID)
		return err
	})
	if err != nil {
		return nil, translate("list teams", err)
	}
	if teams == nil {
		teams = []*model.TeamEntry{}
	}
	return teams, nil
}

// SetRoom publishes or replaces the lobby credentials of a match.
func (s *MatchService) SetRoom(ctx context.Context, req SetRoomRequest) (*model.Room, error) {
	roomCode := strings.TrimSpace(req.RoomCode)
	password := strings.TrimSpace(req.Password)
	if roomCode == "" || password == "" {
		return nil, ErrInvalidRoom
	}

	room := &model.Room{
		MatchID:   req.MatchID,
		RoomCode:  roomCode,
		Password:  password,
		Server:    strings.TrimSpace(req.Server),
		Map:       strings.TrimSpace(req.Map),
		Notes:     strings.TrimSpace(req.Notes),
		UpdatedBy: req.UpdatedBy,
		UpdatedAt: s.now(),
	}

	err := s.withLocks(ctx, []string{matchKey(req.MatchID)}, func() error {
		return s.store.InTx(ctx, func(tx repository.Tx) error {
			if _, err := tx.GetMatch(ctx, req.MatchID); err != nil {
				return err
			}
			return tx.UpsertRoom(ctx, room)
		})
	})
	if err != nil {
		return nil, translate("set room", err)
	}

	log.Info().
		Str("match_id", req.MatchID.String()).
		Str("by", req.UpdatedBy.String()).
		Msg("Room details published")
	return room, nil
}

// GetRoom reveals the lobby credentials to admins and to leaders who joined
// the match.
func (s *MatchService) GetRoom(ctx context.Context, matchID, accountID uuid.UUID, role model.Role) (*model.Room, error) {
	var room *model.Room
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.GetMatch(ctx, matchID); err != nil {
			return err
		}
		if role != model.RoleAdmin {
			joined, err := tx.HasTeam(ctx, matchID, accountID)
			if err != nil {
				return err
			}
			if !joined {
				return ErrNotAParticipant
			}
		}
		var err error
		room, err = tx.GetRoom(ctx, matchID)
		return err
	})
	if err != nil {
		return nil, translate("get room", err)
	}
	return room, nil
}
