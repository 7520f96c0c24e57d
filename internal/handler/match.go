package handler

import (
	"net/http"

	"tournament-wallet/internal/model"
	"tournament-wallet/internal/service"
)

type playerDTO struct {
	DisplayName string `json:"displayName" validate:"max=64"`
	InGameID    string `json:"inGameId" validate:"max=64"`
}

type joinRequest struct {
	TeamName string      `json:"teamName" validate:"max=64"`
	Players  []playerDTO `json:"players" validate:"max=8,dive"`
}

func (p playerDTO) model() model.Player {
	return model.Player{DisplayName: p.DisplayName, InGameID: p.InGameID}
}

// MatchHandler serves match listings, joins and room reveal to players.
type MatchHandler struct {
	matches *service.MatchService
	join    *service.JoinService
	b       *binder
}

// NewMatchHandler creates a new MatchHandler.
func NewMatchHandler(matches *service.MatchService, join *service.JoinService, maxBody int64) *MatchHandler {
	return &MatchHandler{matches: matches, join: join, b: newBinder(maxBody)}
}

// HandleList handles GET /matches?status=.
func (h *MatchHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	status := model.MatchStatus(r.URL.Query().Get("status"))
	matches, err := h.matches.ListMatches(r.Context(), status)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, matches)
}

// HandleGet handles GET /matches/{id}.
func (h *MatchHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	matchID, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	details, err := h.matches.GetMatch(r.Context(), matchID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, details)
}

// HandleTeams handles GET /matches/{id}/teams.
func (h *MatchHandler) HandleTeams(w http.ResponseWriter, r *http.Request) {
	matchID, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	teams, err := h.matches.ListTeams(r.Context(), matchID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, teams)
}

// HandleJoin handles POST /matches/{id}/join.
// The caller becomes the leader of the submitted roster.
func (h *MatchHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	matchID, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req joinRequest
	if err := h.b.bind(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	players := make([]model.Player, len(req.Players))
	for i, p := range req.Players {
		players[i] = p.model()
	}
	res, err := h.join.Join(r.Context(), service.JoinRequest{
		MatchID:   matchID,
		AccountID: id.AccountID,
		TeamName:  req.TeamName,
		Players:   players,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, res)
}

// HandleRoom handles GET /matches/{id}/room.
// Only joined leaders and admins see the credentials.
func (h *MatchHandler) HandleRoom(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	matchID, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	room, err := h.matches.GetRoom(r.Context(), matchID, id.AccountID, id.Role)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, room)
}
