package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Dosada05/tournament-engine/utils"
)

// MemoryDatabaseURL включает хранилище в памяти вместо Postgres.
const MemoryDatabaseURL = "memory://"

// Config хранит все конфигурационные параметры приложения.
type Config struct {
	DatabaseURL  string
	JWTSecretKey string
	ServerPort   int
	// PublicBaseURL: адрес, по которому игровой сервер забирает конфиг матча.
	PublicBaseURL string

	// Pre-shared credentials. Empty values reject every request.
	WebhookToken string
	ServiceToken string

	NATSURL string

	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicBaseURL   string

	GameServerAPIURL   string
	GameServerUser     string
	GameServerPassword string

	DelayThreshold time.Duration
	MinDelayShift  time.Duration
	ResumeInterval time.Duration

	AllowedOrigins []string
	// Подключений наблюдателей в секунду на IP и размер всплеска
	ObserverRate  float64
	ObserverBurst int
}

func (c *Config) UseMemoryStore() bool {
	return c.DatabaseURL == MemoryDatabaseURL
}

func (c *Config) R2Enabled() bool {
	return c.R2AccountID != "" && c.R2BucketName != ""
}

// Load загружает конфигурацию из переменных окружения.
// Опционально подгружает .env файл (полезно для локальной разработки).
func Load() (*Config, error) {
	// Загружаем .env файл, если он есть. Ошибку не считаем фатальной.
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set (use %s for the in-memory store)", MemoryDatabaseURL)
	}

	jwtKey := os.Getenv("JWT_SECRET_KEY")
	if jwtKey == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY environment variable is not set")
	}

	port, err := intEnv("SERVER_PORT", 8080)
	if err != nil {
		return nil, err
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", port)
	}

	cfg := &Config{
		DatabaseURL:   dbURL,
		JWTSecretKey:  jwtKey,
		ServerPort:    port,
		PublicBaseURL: strings.TrimRight(utils.GetEnvOrDefault("PUBLIC_BASE_URL", fmt.Sprintf("http://localhost:%d", port)), "/"),

		WebhookToken: os.Getenv("WEBHOOK_TOKEN"),
		ServiceToken: os.Getenv("SERVICE_TOKEN"),

		NATSURL: os.Getenv("NATS_URL"),

		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2BucketName:      os.Getenv("R2_BUCKET_NAME"),
		R2PublicBaseURL:   os.Getenv("R2_PUBLIC_BASE_URL"),

		GameServerAPIURL:   os.Getenv("GAMESERVER_API_URL"),
		GameServerUser:     os.Getenv("GAMESERVER_API_USER"),
		GameServerPassword: os.Getenv("GAMESERVER_API_PASSWORD"),

		AllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	if cfg.DelayThreshold, err = durationEnv("MATCH_DELAY_THRESHOLD", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.MinDelayShift, err = durationEnv("MATCH_MIN_DELAY_SHIFT", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ResumeInterval, err = durationEnv("BRACKET_RESUME_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}

	if cfg.ObserverRate, err = floatEnv("WS_CONNECT_RATE", 2); err != nil {
		return nil, err
	}
	if cfg.ObserverBurst, err = intEnv("WS_CONNECT_BURST", 5); err != nil {
		return nil, err
	}
	if cfg.ObserverRate <= 0 || cfg.ObserverBurst <= 0 {
		return nil, fmt.Errorf("WS_CONNECT_RATE and WS_CONNECT_BURST must be positive")
	}

	if cfg.R2AccountID != "" && (cfg.R2AccessKeyID == "" || cfg.R2SecretAccessKey == "" || cfg.R2BucketName == "") {
		return nil, fmt.Errorf("R2_ACCOUNT_ID is set but R2 credentials or bucket are missing")
	}

	return cfg, nil
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return v, nil
}

func floatEnv(key string, def float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return v, nil
}

// durationEnv принимает формат time.ParseDuration ("90s", "5m").
func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, v)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
