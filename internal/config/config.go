package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"telegram_ledger/internal/domain"
	"telegram_ledger/internal/logger"

	"github.com/joho/godotenv"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

type Config struct {
	AppPort      string
	DatabaseURL  string
	StoreBackend string
	SeedAccounts []domain.Account // memory backend only
	BotToken     string
	JWTSecret    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AdminTelegramIDs []int64
	AllowedChatIDs   []int64 // empty allows every chat
	BotWorkers       int

	// Input limits
	MaxAmount         int64 // minor units
	CancelListLimit   int
	DescriptionMaxLen int

	// Currency rates
	RatesAPIURL   string
	RatesCacheTTL time.Duration
	RatesTimeout  time.Duration

	LogLevel string
	LogJSON  bool

	APIRateLimit  int
	APIRateWindow time.Duration
}

// Load reads the configuration from the environment, after loading .env if present
func Load() *Config {
	_ = godotenv.Load()

	backend := strings.ToLower(os.Getenv("STORE_BACKEND"))
	if backend == "" {
		backend = StoreBackendPostgres
	}
	if backend != StoreBackendPostgres && backend != StoreBackendMemory {
		logger.Fatal("STORE_BACKEND must be postgres or memory", "value", backend)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" && backend == StoreBackendPostgres {
		logger.Fatal("DATABASE_URL is not set")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		logger.Fatal("JWT_SECRET is not set")
	}

	botToken := os.Getenv("BOT_TOKEN")
	if botToken == "" {
		logger.Fatal("BOT_TOKEN is not set")
	}

	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	ratesURL := os.Getenv("RATES_API_URL")
	if ratesURL == "" {
		ratesURL = "https://open.er-api.com/v6"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	return &Config{
		AppPort:      port,
		DatabaseURL:  dbURL,
		StoreBackend: backend,
		SeedAccounts: envAccounts("SEED_ACCOUNTS"),
		BotToken:     botToken,
		JWTSecret:    jwtSecret,

		RedisAddr:     redisAddr,
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),

		AdminTelegramIDs: envIDs("ADMIN_TELEGRAM_IDS"),
		AllowedChatIDs:   envIDs("ALLOWED_CHAT_IDS"),
		BotWorkers:       envInt("BOT_WORKERS", 8),

		MaxAmount:         envInt64("MAX_AMOUNT", 100_000_000_000),
		CancelListLimit:   envInt("CANCEL_LIST_LIMIT", 10),
		DescriptionMaxLen: envInt("DESCRIPTION_MAX_LEN", 200),

		RatesAPIURL:   ratesURL,
		RatesCacheTTL: time.Duration(envInt("RATES_CACHE_TTL_SECONDS", 3600)) * time.Second,
		RatesTimeout:  time.Duration(envInt("RATES_TIMEOUT_SECONDS", 5)) * time.Second,

		LogLevel: logLevel,
		LogJSON:  os.Getenv("LOG_JSON") == "true",

		APIRateLimit:  envInt("API_RATE_LIMIT", 30),
		APIRateWindow: time.Duration(envInt("API_RATE_WINDOW_SECONDS", 60)) * time.Second,
	}
}

// envInt reads a non-negative integer, falling back to def when unset or invalid
func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
		logger.Warn("invalid integer in env, using default", "name", name, "value", v, "default", def)
	}
	return def
}

func envInt64(name string, def int64) int64 {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
		logger.Warn("invalid integer in env, using default", "name", name, "value", v, "default", def)
	}
	return def
}

// envIDs reads a comma separated list of telegram ids
func envIDs(name string) []int64 {
	var ids []int64
	for _, s := range strings.Split(os.Getenv(name), ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// envAccounts reads slug:CUR:Name entries separated by commas
func envAccounts(name string) []domain.Account {
	var accounts []domain.Account
	for _, s := range strings.Split(os.Getenv(name), ",") {
		parts := strings.SplitN(strings.TrimSpace(s), ":", 3)
		if len(parts) < 2 || parts[0] == "" || len(parts[1]) != 3 {
			if s != "" {
				logger.Warn("skipping malformed account entry", "name", name, "value", s)
			}
			continue
		}
		acc := domain.Account{
			Slug:     strings.ToLower(parts[0]),
			Currency: strings.ToUpper(parts[1]),
			Name:     parts[0],
		}
		if len(parts) == 3 && parts[2] != "" {
			acc.Name = parts[2]
		}
		accounts = append(accounts, acc)
	}
	return accounts
}
