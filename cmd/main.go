package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/Dosada05/tournament-engine/brackets"
	"github.com/Dosada05/tournament-engine/config"
	"github.com/Dosada05/tournament-engine/db"
	"github.com/Dosada05/tournament-engine/gameserver"
	"github.com/Dosada05/tournament-engine/handlers"
	"github.com/Dosada05/tournament-engine/live"
	"github.com/Dosada05/tournament-engine/messaging"
	"github.com/Dosada05/tournament-engine/metrics"
	"github.com/Dosada05/tournament-engine/middleware"
	"github.com/Dosada05/tournament-engine/repositories"
	api "github.com/Dosada05/tournament-engine/routes"
	"github.com/Dosada05/tournament-engine/services"
	"github.com/Dosada05/tournament-engine/storage"
	"github.com/Dosada05/tournament-engine/utils"
)

type stores struct {
	matches     repositories.MatchRepository
	tournaments repositories.TournamentRepository
	standings   repositories.TournamentStandingRepository
	teams       repositories.TeamRepository
}

func main() {
	issueToken := flag.Int("issue-admin-token", 0, "print an admin JWT for the given user id and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the issued admin token")
	initSchema := flag.Bool("init-schema", false, "create missing tables before starting")
	flag.Parse()

	// Настройка логгера
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	if *issueToken > 0 {
		token, err := utils.GenerateJWT([]byte(cfg.JWTSecretKey), *issueToken, middleware.RoleAdmin, *tokenTTL)
		if err != nil {
			logger.Error("failed to issue admin token", slog.Any("error", err))
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort), slog.Bool("memory_store", cfg.UseMemoryStore()))

	// Подключение к базе данных
	var (
		dbConn *sql.DB
		repos  stores
	)
	if cfg.UseMemoryStore() {
		mem := repositories.NewMemoryStore()
		repos = stores{matches: mem.Matches, tournaments: mem.Tournaments, standings: mem.Standings, teams: mem.Teams}
		logger.Warn("using in-memory store, data is lost on restart")
	} else {
		dbConn, err = db.Connect(cfg.DatabaseURL, 5*time.Second)
		if err != nil {
			logger.Error("failed to connect to database", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := dbConn.Close(); err != nil {
				logger.Error("failed to close database connection", slog.Any("error", err))
			} else {
				logger.Info("database connection closed")
			}
		}()
		logger.Info("database connection established")

		if *initSchema {
			if err := db.InitSchema(context.Background(), dbConn); err != nil {
				logger.Error("failed to initialize schema", slog.Any("error", err))
				os.Exit(1)
			}
			logger.Info("database schema ensured")
		}

		repos = stores{
			matches:     repositories.NewPostgresMatchRepository(dbConn),
			tournaments: repositories.NewPostgresTournamentRepository(dbConn),
			standings:   repositories.NewPostgresTournamentStandingRepository(dbConn),
			teams:       repositories.NewPostgresTeamRepository(dbConn),
		}
	}

	appCtx, stopApp := context.WithCancel(context.Background())
	defer stopApp()

	m := metrics.New()

	// Инициализация рассыльщика живого состояния
	broadcaster := live.NewBroadcaster(logger, live.WithMetrics(m))
	go broadcaster.Run(appCtx)
	logger.Info("live broadcaster started")

	var publisher messaging.Publisher = messaging.NoopPublisher{}
	if cfg.NATSURL != "" {
		publisher, err = messaging.NewNATSPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("NATS publisher connected")
	}
	defer publisher.Close()

	// Архив сырых событий (Cloudflare R2 или память)
	var uploader storage.FileUploader
	if cfg.R2Enabled() {
		uploader, err = storage.NewCloudflareR2Uploader(appCtx, storage.CloudflareR2UploaderConfig{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicBaseURL:   cfg.R2PublicBaseURL,
		})
		if err != nil {
			logger.Error("failed to initialize Cloudflare R2 uploader", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("Cloudflare R2 uploader initialized")
	} else {
		uploader = storage.NewMemoryUploader()
		logger.Warn("R2 is not configured, event archives are kept in memory")
	}
	auditLog := storage.NewAuditLog(uploader)

	commander := gameserver.New(cfg.GameServerAPIURL, cfg.GameServerUser, cfg.GameServerPassword, logger, m)

	resolver := brackets.NewResolver(repos.matches, repos.standings, repos.tournaments, logger)
	locker := services.NewLocker()
	progress := services.NewProgressTracker()

	matchService := services.NewMatchService(services.MatchServiceDeps{
		Matches:     repos.matches,
		Teams:       repos.teams,
		Tournaments: repos.tournaments,
		Resolver:    resolver,
		Live:        broadcaster,
		Publisher:   publisher,
		Commander:   commander,
		Audit:       auditLog,
		Metrics:     m,
		Locker:      locker,
		Progress:    progress,
		Logger:      logger,
	}, services.MatchServiceConfig{
		DelayThreshold: cfg.DelayThreshold,
		MinDelayShift:  cfg.MinDelayShift,
		PublicBaseURL:  cfg.PublicBaseURL,
	})
	ingestService := services.NewIngestService(repos.matches, matchService, broadcaster, auditLog, m, locker, progress, logger)
	tournamentService := services.NewTournamentService(
		repos.tournaments,
		repos.teams,
		repos.standings,
		repos.matches,
		brackets.NewDoubleEliminationGenerator(),
		resolver,
		locker,
		logger,
	)
	logger.Info("services initialized")

	// Дозавершение продвижения по сетке после сбоя между финишем матча и резолвером
	go func() {
		ticker := time.NewTicker(cfg.ResumeInterval)
		defer ticker.Stop()
		logger.Info("bracket resume loop started", slog.Duration("interval", cfg.ResumeInterval))

		for {
			resumed, err := matchService.ResumeUnadvanced(appCtx)
			if err != nil {
				logger.Error("bracket resume failed", slog.Any("error", err))
			} else if resumed > 0 {
				logger.Info("resumed bracket advancement", slog.Int("matches", resumed))
			}

			select {
			case <-appCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	// Инициализация обработчиков HTTP
	auth := middleware.NewAuthenticator(cfg.JWTSecretKey, cfg.ServiceToken, cfg.WebhookToken, logger)
	matchHandler := handlers.NewMatchHandler(matchService, tournamentService, broadcaster, logger)
	tournamentHandler := handlers.NewTournamentHandler(tournamentService, logger)
	webhookHandler := handlers.NewWebhookHandler(ingestService, logger)
	webSocketHandler := handlers.NewWebSocketHandler(broadcaster, matchService, cfg.AllowedOrigins)
	var pinger handlers.Pinger
	if dbConn != nil {
		pinger = dbConn
	}
	systemHandler := handlers.NewSystemHandler(pinger)
	logger.Info("HTTP handlers initialized")

	// Настройка маршрутизатора
	router := chi.NewRouter()
	api.SetupRoutes(
		router,
		api.Options{
			AllowedOrigins:  cfg.AllowedOrigins,
			ObserverLimiter: middleware.NewIPRateLimiter(rate.Limit(cfg.ObserverRate), cfg.ObserverBurst),
			Metrics:         m.Handler(),
		},
		auth,
		matchHandler,
		tournamentHandler,
		webhookHandler,
		webSocketHandler,
		systemHandler,
	)
	logger.Info("routes configured")

	// Настройка и запуск HTTP-сервера. WriteTimeout не задан: он закрыл бы
	// долгоживущие websocket соединения наблюдателей.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			stopApp()
			os.Exit(1)
		}
		logger.Info("server stopped gracefully")
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		logger.Info("shutting down server", slog.Duration("timeout", 15*time.Second))
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			stopApp()
			os.Exit(1)
		}
		logger.Info("server shutdown complete")
	}
	stopApp()
	logger.Info("application exited")
}
