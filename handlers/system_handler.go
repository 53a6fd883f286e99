package handlers

import (
	"context"
	"net/http"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/Dosada05/tournament-engine/docs"
)

// Pinger проверяет доступность хранилища. *sql.DB подходит без обёртки.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type SystemHandler struct {
	store Pinger
}

// NewSystemHandler: store может быть nil (хранилище в памяти).
func NewSystemHandler(store Pinger) *SystemHandler {
	return &SystemHandler{store: store}
}

// HealthHandler обрабатывает GET /healthz
func (h *SystemHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.PingContext(ctx); err != nil {
			errorResponse(w, r, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"status": "ok"}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *SystemHandler) OpenAPIHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(docs.OpenAPI)
}

// SwaggerUI serves the UI pages under /swagger/ pointed at the embedded document.
func (h *SystemHandler) SwaggerUI() http.HandlerFunc {
	return httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json"))
}
