package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Dosada05/tournament-engine/services"
)

type WebhookHandler struct {
	ingestService services.IngestService
	logger        *slog.Logger
}

func NewWebhookHandler(is services.IngestService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{ingestService: is, logger: logger}
}

// EventHandler принимает событие игрового сервера. Match id берётся из
// пути (/api/matches/{matchID}/events) или из тела (/api/live/events).
func (h *WebhookHandler) EventHandler(w http.ResponseWriter, r *http.Request) {
	pathMatchID := 0
	if chi.URLParam(r, "matchID") != "" {
		id, err := getIDFromURL(r, "matchID")
		if err != nil {
			badRequestResponse(w, r, err)
			return
		}
		pathMatchID = id
	}

	body, err := readRawBody(w, r)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	result, err := h.ingestService.Ingest(r.Context(), pathMatchID, body)
	if err != nil {
		h.logger.DebugContext(r.Context(), "live event rejected",
			slog.Int("path_match_id", pathMatchID), slog.Any("error", err))
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, result, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
