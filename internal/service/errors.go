package service

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"tournament-wallet/internal/pkg/apperr"
	"tournament-wallet/internal/pkg/lock"
	"tournament-wallet/internal/repository"
)

// Service errors. Callers match them with errors.Is; the HTTP layer renders
// their code and message.
var (
	ErrMatchNotFound       = apperr.NotFound("match_not_found", "match not found")
	ErrAccountNotFound     = apperr.NotFound("account_not_found", "account not found")
	ErrTransactionNotFound = apperr.NotFound("transaction_not_found", "transaction not found")
	ErrRoomNotPublished    = apperr.NotFound("room_not_published", "room details have not been published yet")

	ErrRegistrationClosed = apperr.Conflict("registration_closed", "registration is closed for this match")
	ErrRosterSizeMismatch = apperr.Validation("roster_size_mismatch", "roster size does not match the match mode")
	ErrTeamNameRequired   = apperr.Validation("team_name_required", "team name is required for team matches")
	ErrInvalidPlayer      = apperr.Validation("invalid_player", "every player needs an in-game id")
	ErrDuplicateInGameID  = apperr.Validation("duplicate_in_game_id", "in-game ids must be unique within the roster")
	ErrInGameIDTaken      = apperr.Conflict("in_game_id_taken", "in-game id is already registered in this match")
	ErrAlreadyJoined      = apperr.Conflict("already_joined", "you have already joined this match")
	ErrMatchFull          = apperr.Conflict("match_full", "match is full")
	ErrInsufficientFunds  = apperr.New(apperr.KindInsufficientFunds, "insufficient_funds", "insufficient balance")
	ErrAccountBlocked     = apperr.Forbidden("account_blocked", "account is blocked")

	ErrMatchAlreadySettled    = apperr.Conflict("match_already_settled", "match has already been settled")
	ErrDuplicateWinner        = apperr.Validation("duplicate_winner", "an account may appear only once among the winners")
	ErrPayoutExceedsPrizePool = apperr.Validation("payout_exceeds_prize_pool", "total payout exceeds the prize pool")

	ErrTransactionProcessed = apperr.Conflict("transaction_already_processed", "transaction has already been processed")
	ErrNotModerated         = apperr.Validation("not_moderated", "only recharges and withdrawals can be decided")
	ErrInvalidDecision      = apperr.Validation("invalid_decision", "decision must be approve or reject")
	ErrAdjustmentNotAllowed = apperr.Validation("adjustment_not_allowed", "only recharge approvals accept an adjusted amount")
	ErrInvalidAmount        = apperr.Validation("invalid_amount", "amount must be positive with at most two decimal places")
	ErrAmountBelowMinimum   = apperr.Validation("amount_below_minimum", "amount is below the minimum")
	ErrProofRequired        = apperr.Validation("proof_required", "payment proof is required")
	ErrInvalidFilter        = apperr.Validation("invalid_filter", "unknown status or source")

	ErrInvalidMatch      = apperr.Validation("invalid_match", "invalid match definition")
	ErrInvalidTransition = apperr.Conflict("invalid_status_transition", "match cannot move to the requested status")
	ErrInvalidRoom       = apperr.Validation("invalid_room", "room code and password are required")
	ErrNotAParticipant   = apperr.Forbidden("not_a_participant", "only joined participants can view the room")

	ErrBusy = apperr.Conflict("busy", "another operation on this resource is in progress, retry shortly")
)

// translate turns lock and repository failures into service errors. Anything
// unrecognised is logged with its cause and surfaced as a persistence error.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}

	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}

	switch {
	case errors.Is(err, lock.ErrLockTimeout):
		return ErrBusy
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrBusy.Wrap(err)
	case errors.Is(err, repository.ErrMatchNotFound):
		return ErrMatchNotFound
	case errors.Is(err, repository.ErrAccountNotFound):
		return ErrAccountNotFound
	case errors.Is(err, repository.ErrEntryNotFound):
		return ErrTransactionNotFound
	case errors.Is(err, repository.ErrRoomNotFound):
		return ErrRoomNotPublished
	}

	log.Error().Err(err).Str("op", op).Msg("Persistence failure")
	return apperr.Persistence(err)
}

// joinConflict maps a unique-index rejection on a registration to the error
// the precondition checks would have produced.
func joinConflict(err error) error {
	if !errors.Is(err, repository.ErrDuplicate) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "uq_team_leader"), strings.Contains(msg, "uq_ledger_match_movement"),
		strings.Contains(msg, "match_entry"):
		return ErrAlreadyJoined
	case strings.Contains(msg, "uq_player_in_game_id"):
		return ErrInGameIDTaken
	case strings.Contains(msg, "uq_team_slot"):
		return ErrBusy
	}
	return err
}

// code returns the stable code of err, for metrics labels.
func code(err error) string {
	return apperr.From(err).Code
}
