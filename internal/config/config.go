package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all application configuration
type Config struct {
	OpenAIAPIKey     string `env:"OPENAI_API_KEY" envDefault:"-"`
	OpenAIModel      string `env:"OPENAI_MODEL" envDefault:"gpt-4o"`
	FinnhubAPIKey    string `env:"FINNHUB_API_KEY" envDefault:"-"`
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN" envDefault:"-"`
	TelegramChatID   int64  `env:"TELEGRAM_CHAT_ID" envDefault:"0"`

	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"-"`
	DBName     string `env:"DB_NAME" envDefault:"marketpulse"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	Universe         []string `env:"STOCK_UNIVERSE" envDefault:""` // comma separated override
	ListSize         int      `env:"LIST_SIZE" envDefault:"10"`    // winners/losers per list
	LookbackDays     int      `env:"LOOKBACK_DAYS" envDefault:"90"`
	MinTickers       int      `env:"MIN_TICKERS" envDefault:"20"`
	MaxPredictedPct  float64  `env:"MAX_PREDICTED_PCT" envDefault:"50"`
	FetchConcurrency int      `env:"FETCH_CONCURRENCY" envDefault:"4"`
	OutputJSONPath   string   `env:"OUTPUT_JSON_PATH" envDefault:"./data.json"`
	RequestTimeout   int      `env:"REQUEST_TIMEOUT" envDefault:"30"` // seconds
	LogLevel         string   `env:"LOG_LEVEL" envDefault:"info"`
}

// Load initializes configuration from environment variables
func Load() (*Config, error) {
	// Load environment variables from .env file if present
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on actual environment variables")
	}

	var cfg Config

	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIModel = getEnvWithDefault("OPENAI_MODEL", "gpt-4o")
	cfg.FinnhubAPIKey = os.Getenv("FINNHUB_API_KEY")
	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.TelegramChatID = getEnvInt64WithDefault("TELEGRAM_CHAT_ID", 0)

	cfg.DBHost = getEnvWithDefault("DB_HOST", "localhost")
	cfg.DBPort = getEnvWithDefault("DB_PORT", "5432")
	cfg.DBUser = getEnvWithDefault("DB_USER", "postgres")
	cfg.DBPassword = os.Getenv("DB_PASSWORD")
	cfg.DBName = getEnvWithDefault("DB_NAME", "marketpulse")
	cfg.DBSSLMode = getEnvWithDefault("DB_SSLMODE", "disable")

	if universe := os.Getenv("STOCK_UNIVERSE"); universe != "" {
		for _, t := range strings.Split(universe, ",") {
			if t = strings.TrimSpace(t); t != "" {
				cfg.Universe = append(cfg.Universe, strings.ToUpper(t))
			}
		}
	}
	cfg.ListSize = getEnvIntWithDefault("LIST_SIZE", 10)
	cfg.LookbackDays = getEnvIntWithDefault("LOOKBACK_DAYS", 90)
	cfg.MinTickers = getEnvIntWithDefault("MIN_TICKERS", 20)
	cfg.MaxPredictedPct = getEnvFloatWithDefault("MAX_PREDICTED_PCT", 50)
	cfg.FetchConcurrency = getEnvIntWithDefault("FETCH_CONCURRENCY", 4)
	cfg.OutputJSONPath = getEnvWithDefault("OUTPUT_JSON_PATH", "./data.json")
	cfg.RequestTimeout = getEnvIntWithDefault("REQUEST_TIMEOUT", 30)
	cfg.LogLevel = getEnvWithDefault("LOG_LEVEL", "info")

	return &cfg, nil
}

// Helper functions for environment variable handling
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64WithDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatWithDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
