package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware" // Alias to avoid conflict
	"github.com/go-chi/cors"

	"github.com/Dosada05/tournament-engine/handlers"
	"github.com/Dosada05/tournament-engine/middleware"
)

type Options struct {
	AllowedOrigins []string
	// ObserverLimiter ограничивает частоту подключений к /ws по IP.
	ObserverLimiter *middleware.IPRateLimiter
	Metrics         http.Handler
}

func SetupRoutes(
	router *chi.Mux,
	opts Options,
	auth *middleware.Authenticator,
	matchHandler *handlers.MatchHandler,
	tournamentHandler *handlers.TournamentHandler,
	webhookHandler *handlers.WebhookHandler,
	webSocketHandler *handlers.WebSocketHandler,
	systemHandler *handlers.SystemHandler,
) {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.ServiceCredentialHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/healthz", systemHandler.HealthHandler)
	router.Get("/swagger/doc.json", systemHandler.OpenAPIHandler)
	router.Get("/swagger/*", systemHandler.SwaggerUI())
	if opts.Metrics != nil {
		router.Handle("/metrics", opts.Metrics)
	}

	router.Route("/api", func(r chi.Router) {
		// Вебхуки игровых серверов
		r.Group(func(r chi.Router) {
			r.Use(auth.Webhook)
			r.Use(chiMiddleware.Timeout(10 * time.Second))

			r.Post("/matches/{matchID}/events", webhookHandler.EventHandler)
			r.Post("/live/events", webhookHandler.EventHandler)
			r.Get("/matches/{matchID}/config", matchHandler.ConfigHandler)
		})

		// Публичные маршруты
		r.Get("/tournaments", tournamentHandler.ListHandler)
		r.Get("/tournaments/{tournamentID}/bracket", tournamentHandler.BracketHandler)
		r.Get("/tournaments/{tournamentID}/matches", matchHandler.ListTournamentMatchesHandler)
		r.Get("/matches/{matchID}", matchHandler.GetHandler)
		r.Get("/matches/{matchID}/live", matchHandler.LiveStateHandler)

		r.Route("/admin", func(r chi.Router) {
			// Завершение матча доступно и внутреннему сервису
			r.With(auth.AdminOrService).Post("/matches/{matchID}/finish", matchHandler.FinishHandler)

			r.Group(func(r chi.Router) {
				r.Use(auth.AdminOnly)

				r.Post("/teams", tournamentHandler.CreateTeamHandler)
				r.Post("/tournaments", tournamentHandler.CreateHandler)
				r.Delete("/tournaments/{tournamentID}", tournamentHandler.DeleteHandler)

				r.Post("/matches/{matchID}/start", matchHandler.StartHandler())
				r.Post("/matches/{matchID}/cancel", matchHandler.CancelHandler())
				r.Post("/matches/{matchID}/pause", matchHandler.PauseHandler())
				r.Post("/matches/{matchID}/resume", matchHandler.ResumeHandler())
				r.Post("/matches/{matchID}/restore", matchHandler.RestoreRoundHandler)
				r.Put("/matches/{matchID}/veto", matchHandler.SetVetoHandler)
				r.Put("/matches/{matchID}/server", matchHandler.AssignServerHandler)
			})
		})
	})

	router.Group(func(r chi.Router) {
		if opts.ObserverLimiter != nil {
			r.Use(middleware.RateLimit(opts.ObserverLimiter))
		}
		r.Get("/ws/matches/{matchID}", webSocketHandler.ServeWs)
	})
}
