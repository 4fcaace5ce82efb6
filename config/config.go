package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Market data
	Symbols         []string
	WSBaseURL       string
	WatchdogTimeout time.Duration

	// Persistence sink (QuestDB: ILP over TCP, queries over HTTP)
	QuestDBHost     string
	QuestDBPort     int
	QuestDBHTTPPort int

	// Local storage
	SQLitePath  string
	StatePath   string
	JournalPath string

	// Control plane
	APIAddr           string // HTTP listen address
	APIURL            string // broadcast target, usually our own APIAddr
	PanicTOTPSecret   string // optional TOTP guard on /panic
	TickerSampleEvery int    // broadcast every Nth tick

	// Optional learner checkpoint store
	RedisAddr     string
	RedisPassword string

	// Risk / execution parameters
	InitialBalance float64
	RiskPerTrade   float64
	MaxPositionPct float64
	FeeRate        float64
	CooldownMS     int64

	// Machine learning filter
	MLEnabled       bool
	MLMinConfidence float64
	MLMinSamples    int

	// Warmup
	WarmupCandles   int
	WarmupCandlesML int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Symbols:         parseSymbols(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT")),
		WSBaseURL:       getEnv("WS_BASE_URL", "wss://fstream.binance.com/stream?streams="),
		WatchdogTimeout: time.Duration(getEnvInt("WATCHDOG_TIMEOUT", 15)) * time.Second,

		QuestDBHost:     getEnv("QUESTDB_HOST", "localhost"),
		QuestDBPort:     getEnvInt("QUESTDB_PORT", 9009),
		QuestDBHTTPPort: getEnvInt("QUESTDB_HTTP_PORT", 9000),

		SQLitePath:  getEnv("SQLITE_PATH", "data/candles.db"),
		StatePath:   getEnv("STATE_PATH", "data/portfolio_state.json"),
		JournalPath: getEnv("JOURNAL_PATH", "data/journal.db"),

		APIAddr:           getEnv("API_ADDR", ":8000"),
		APIURL:            getEnv("API_URL", "http://localhost:8000"),
		PanicTOTPSecret:   getEnv("PANIC_TOTP_SECRET", ""),
		TickerSampleEvery: getEnvInt("TICKER_SAMPLE_EVERY", 10),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		InitialBalance: getEnvFloat("INITIAL_BALANCE", 10000.0),
		RiskPerTrade:   getEnvFloat("RISK_PER_TRADE", 0.01),
		MaxPositionPct: getEnvFloat("MAX_POSITION_PCT", 0.20),
		FeeRate:        getEnvFloat("FEE_RATE", 0.0004),
		CooldownMS:     int64(getEnvInt("COOLDOWN_MS", 3000)),

		MLEnabled:       strings.EqualFold(getEnv("ML_ENABLED", "true"), "true"),
		MLMinConfidence: getEnvFloat("ML_MIN_CONFIDENCE", 0.60),
		MLMinSamples:    getEnvInt("ML_MIN_SAMPLES", 1000),

		WarmupCandles:   getEnvInt("WARMUP_CANDLES", 300),
		WarmupCandlesML: getEnvInt("WARMUP_CANDLES_ML", 2000),
	}
}

// parseSymbols splits a comma-separated SYMBOLS value into normalized
// exchange symbols ("BTC/USDT" -> "BTCUSDT").
func parseSymbols(s string) []string {
	parts := strings.Split(s, ",")
	symbols := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(p), "/", ""))
		if p == "" {
			continue
		}
		symbols = append(symbols, p)
	}
	return symbols
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return f
}
