// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/goldwatch and cmd/goldctl.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Preference option registry — the closed vocabulary recipients may filter on
// --------------------------------------------------------------------------

const (
	CategoryStationType = "station_type"
	CategoryCommodity   = "commodity"
	CategoryLeader      = "powerplay"
)

var PreferenceOptions = map[string][]string{
	CategoryStationType: {"Starport", "Outpost", "Surface Port"},
	CategoryCommodity:   {"Gold", "Palladium"},
	CategoryLeader: {
		"Aisling Duval",
		"Archon Delaine",
		"Arissa Lavigny-Duval",
		"Denton Patreus",
		"Edmund Mahon",
		"Felicia Winters",
		"Jerome Archer",
		"Li Yong-Rui",
		"Nakato Kaine",
		"Pranav Antal",
		"Yuri Grom",
		"Zemina Torval",
	},
}

// NormalizeSelections maps raw selections onto the canonical option spelling
// for a category, dropping unknown values and duplicates.
func NormalizeSelections(category string, raw []string) []string {
	allowed, ok := PreferenceOptions[category]
	if !ok {
		return nil
	}
	canonical := make(map[string]string, len(allowed))
	for _, opt := range allowed {
		canonical[strings.ToLower(opt)] = opt
	}
	var out []string
	seen := make(map[string]bool, len(raw))
	for _, item := range raw {
		key := strings.ToLower(strings.TrimSpace(item))
		opt, ok := canonical[key]
		if !ok || seen[opt] {
			continue
		}
		seen[opt] = true
		out = append(out, opt)
	}
	return out
}

// --------------------------------------------------------------------------
// Detection thresholds — a market is interesting only above both
// --------------------------------------------------------------------------

const (
	DefaultPriceThreshold = 28_000
	DefaultStockThreshold = 15_000
)

// --------------------------------------------------------------------------
// Config struct — populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Entry store
	StorePath      string
	MarketCooldown time.Duration
	StatusCooldown time.Duration
	Retention      time.Duration

	// Scan loop
	ScanInterval    time.Duration
	SourceThrottle  time.Duration
	PriceThreshold  int
	StockThreshold  int
	Metals          []string
	LinkDistance    int // commodity search radius in light years
	DispatchTimeout time.Duration

	// Recipient database (optional; dispatch has nobody to talk to without it)
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// Delivery
	WebhookTimeout    time.Duration
	DeliveryPerMinute int

	// Debug pinning: when set, only the named recipient is messaged
	DebugGuildID string
	DebugUserID  string

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	marketHours := envFloat("COOLDOWN_HOURS", 48)
	if marketHours <= 0 {
		return nil, fmt.Errorf("COOLDOWN_HOURS must be positive, got %v", marketHours)
	}
	statusHours := envFloat("STATUS_COOLDOWN_HOURS", marketHours)
	retentionHours := envFloat("RETENTION_HOURS", marketHours)

	return &Config{
		StorePath:      envOr("MARKET_DB_PATH", "data/market_db.json"),
		MarketCooldown: hours(marketHours),
		StatusCooldown: hours(statusHours),
		Retention:      hours(retentionHours),

		ScanInterval:    time.Duration(envInt("MONITOR_INTERVAL_SECONDS", 1800)) * time.Second,
		SourceThrottle:  time.Duration(envFloat("HTTP_COOLDOWN_SECONDS", 1.0) * float64(time.Second)),
		PriceThreshold:  envInt("PRICE_THRESHOLD", DefaultPriceThreshold),
		StockThreshold:  envInt("STOCK_THRESHOLD", DefaultStockThreshold),
		Metals:          envList("METALS", []string{"Gold", "Palladium"}),
		LinkDistance:    envInt("LINK_SEARCH_DISTANCE", 40),
		DispatchTimeout: time.Duration(envInt("DISPATCH_TIMEOUT_SECONDS", 60)) * time.Second,

		DatabaseURL:    envOr("DATABASE_URL", ""),
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 1),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 4),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		WebhookTimeout:    time.Duration(envInt("WEBHOOK_TIMEOUT_SECONDS", 15)) * time.Second,
		DeliveryPerMinute: envInt("DELIVERY_PER_MINUTE", 30),

		DebugGuildID: envOr("DEBUG_SERVER_ID", ""),
		DebugUserID:  envOr("DEBUG_USER_ID", ""),

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		LogLevel: strings.ToUpper(envOr("LOG_LEVEL", "INFO")),
	}, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
