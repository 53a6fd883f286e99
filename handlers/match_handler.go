package handlers

import (
	"log/slog"
	"net/http"

	"github.com/Dosada05/tournament-engine/live"
	"github.com/Dosada05/tournament-engine/middleware"
	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/services"
)

type MatchHandler struct {
	matchService      services.MatchService
	tournamentService services.TournamentService
	broadcaster       *live.Broadcaster
	logger            *slog.Logger
}

func NewMatchHandler(ms services.MatchService, ts services.TournamentService, b *live.Broadcaster, logger *slog.Logger) *MatchHandler {
	return &MatchHandler{
		matchService:      ms,
		tournamentService: ts,
		broadcaster:       b,
		logger:            logger,
	}
}

type restoreRoundInput struct {
	Round *int `json:"round"`
}

type setVetoInput struct {
	Steps []models.VetoStep `json:"steps"`
}

type assignServerInput struct {
	ServerID string `json:"server_id"`
}

// matchAction runs a lifecycle command that takes only the match id.
func (h *MatchHandler) matchAction(action string, fn func(r *http.Request, matchID int) (*models.Match, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matchID, err := getIDFromURL(r, "matchID")
		if err != nil {
			badRequestResponse(w, r, err)
			return
		}

		match, err := fn(r, matchID)
		if err != nil {
			mapServiceErrorToHTTP(w, r, err)
			return
		}

		h.logger.InfoContext(r.Context(), "admin match action",
			slog.String("action", action),
			slog.Int("match_id", matchID),
			slog.String("actor", middleware.Actor(r.Context())),
		)
		if err := writeJSON(w, http.StatusOK, jsonResponse{"match": match}, nil); err != nil {
			serverErrorResponse(w, r, err)
		}
	}
}

// StartHandler обрабатывает POST /api/admin/matches/{matchID}/start
func (h *MatchHandler) StartHandler() http.HandlerFunc {
	return h.matchAction("start", func(r *http.Request, id int) (*models.Match, error) {
		return h.matchService.StartMatch(r.Context(), id)
	})
}

func (h *MatchHandler) CancelHandler() http.HandlerFunc {
	return h.matchAction("cancel", func(r *http.Request, id int) (*models.Match, error) {
		return h.matchService.CancelMatch(r.Context(), id)
	})
}

func (h *MatchHandler) PauseHandler() http.HandlerFunc {
	return h.matchAction("pause", func(r *http.Request, id int) (*models.Match, error) {
		return h.matchService.PauseMatch(r.Context(), id)
	})
}

func (h *MatchHandler) ResumeHandler() http.HandlerFunc {
	return h.matchAction("resume", func(r *http.Request, id int) (*models.Match, error) {
		return h.matchService.ResumeMatch(r.Context(), id)
	})
}

// FinishHandler обрабатывает POST /api/admin/matches/{matchID}/finish.
// Доступен админу или внутреннему сервису по заголовку с ключом.
func (h *MatchHandler) FinishHandler(w http.ResponseWriter, r *http.Request) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input services.FinishMatchInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	result, err := h.matchService.FinishMatch(r.Context(), matchID, input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "admin match action",
		slog.String("action", "finish"),
		slog.Int("match_id", matchID),
		slog.String("actor", middleware.Actor(r.Context())),
		slog.Bool("advance_pending", result.AdvancePending),
	)
	if err := writeJSON(w, http.StatusOK, result, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *MatchHandler) RestoreRoundHandler(w http.ResponseWriter, r *http.Request) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input restoreRoundInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if input.Round == nil {
		badRequestResponse(w, r, services.ErrInvalidRestoreRound)
		return
	}

	match, err := h.matchService.RestoreRound(r.Context(), matchID, *input.Round)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"match": match}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *MatchHandler) SetVetoHandler(w http.ResponseWriter, r *http.Request) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input setVetoInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	match, err := h.matchService.SetVeto(r.Context(), matchID, input.Steps)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"match": match}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *MatchHandler) AssignServerHandler(w http.ResponseWriter, r *http.Request) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input assignServerInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	match, err := h.tournamentService.AssignServer(r.Context(), matchID, input.ServerID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"match": match}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// GetHandler обрабатывает GET /api/matches/{matchID}
func (h *MatchHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	match, err := h.matchService.GetMatch(r.Context(), matchID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"match": match}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// LiveStateHandler returns the current live snapshot. A match nobody has
// observed yet is described from its persisted record.
func (h *MatchHandler) LiveStateHandler(w http.ResponseWriter, r *http.Request) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	state, ok := h.broadcaster.Snapshot(matchID)
	if !ok {
		match, err := h.matchService.GetMatch(r.Context(), matchID)
		if err != nil {
			mapServiceErrorToHTTP(w, r, err)
			return
		}
		state = live.StateFromMatch(match)
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"live": state}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ConfigHandler отдаёт конфиг матча игровому серверу без обёртки.
func (h *MatchHandler) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	cfg, err := h.matchService.MatchConfig(r.Context(), matchID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, cfg, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *MatchHandler) ListTournamentMatchesHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	matches, err := h.matchService.ListTournamentMatches(r.Context(), tournamentID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"matches": matches}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
