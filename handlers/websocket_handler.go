package handlers

import (
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/Dosada05/tournament-engine/live"
	"github.com/Dosada05/tournament-engine/services"
)

type WebSocketHandler struct {
	broadcaster  *live.Broadcaster
	matchService services.MatchService
	upgrader     websocket.Upgrader
}

// NewWebSocketHandler принимает список разрешённых Origin. Пустой список
// разрешает любые подключения (режим разработки).
func NewWebSocketHandler(b *live.Broadcaster, ms services.MatchService, allowedOrigins []string) *WebSocketHandler {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[strings.TrimSpace(o)] = struct{}{}
	}
	return &WebSocketHandler{
		broadcaster:  b,
		matchService: ms,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				_, ok := origins[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

// ServeWs подключает наблюдателя к /ws/matches/{matchID}. Первое сообщение
// всегда полный снимок состояния, затем дельты.
func (h *WebSocketHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
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
	// no-op, если комната уже получала обновления
	h.broadcaster.Seed(matchID, live.StateFromMatch(match))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade сам отправляет HTTP ошибку клиенту
		log.Printf("Failed to upgrade connection for match %d: %v", matchID, err)
		return
	}

	sub := h.broadcaster.Subscribe(matchID)
	client := live.NewClient(h.broadcaster, conn, sub)
	go client.WritePump()
	go client.ReadPump()

	log.Printf("Observer connected to match %d, observers: %d", matchID, h.broadcaster.Observers(matchID))
}
