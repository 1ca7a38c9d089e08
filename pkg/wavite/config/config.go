package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultGroupCapacity is one under WhatsApp's hard group-size limit.
const DefaultGroupCapacity = 1023

// PointerUpdateBudget is how long a rotation may retry moving the active
// group pointer after provisioning.
const PointerUpdateBudget = 5 * time.Second

// Config holds runtime settings loaded from the environment.
type Config struct {
	Port        string
	Environment string
	LogLevel    string
	BaseURL     string

	DBDriver    string // "sqlite" or "postgres"
	DatabaseURL string

	JWTSecret     string
	JWTExpiry     time.Duration
	WebhookSecret string

	// AdminEmail and AdminPassword seed the first system admin.
	AdminEmail    string
	AdminPassword string

	EvolutionURL     string
	EvolutionAPIKey  string
	EvolutionTimeout time.Duration

	DefaultGroupCapacity int
	RotationLiveCheck    bool
	LiveCheckTimeout     time.Duration
	RotationLease        time.Duration
	ProvisionTimeout     time.Duration
	SyncSchedule         string
	BroadcastConcurrency int
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		Environment:          getEnv("ENVIRONMENT", "development"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		BaseURL:              getEnv("BASE_URL", "http://localhost:8080"),
		DBDriver:             strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DatabaseURL:          getEnv("DATABASE_URL", "wavite.db"),
		JWTSecret:            getEnv("JWT_SECRET", ""),
		JWTExpiry:            time.Duration(getInt("JWT_EXPIRY_HOURS", 24)) * time.Hour,
		WebhookSecret:        getEnv("WEBHOOK_SECRET", ""),
		AdminEmail:           strings.ToLower(getEnv("ADMIN_EMAIL", "")),
		AdminPassword:        getEnv("ADMIN_PASSWORD", ""),
		EvolutionURL:         strings.TrimRight(getEnv("EVOLUTION_API_URL", "http://localhost:8081"), "/"),
		EvolutionAPIKey:      getEnv("EVOLUTION_API_KEY", ""),
		EvolutionTimeout:     getSeconds("EVOLUTION_TIMEOUT_SECONDS", 15),
		DefaultGroupCapacity: getInt("DEFAULT_GROUP_CAPACITY", DefaultGroupCapacity),
		RotationLiveCheck:    getEnv("ROTATION_LIVE_CHECK", "true") == "true",
		LiveCheckTimeout:     getSeconds("ROTATION_LIVE_CHECK_TIMEOUT_SECONDS", 3),
		RotationLease:        getSeconds("ROTATION_LEASE_SECONDS", 60),
		ProvisionTimeout:     getSeconds("PROVISION_TIMEOUT_SECONDS", 30),
		SyncSchedule:         getEnv("SYNC_SCHEDULE", "@every 10m"),
		BroadcastConcurrency: getInt("BROADCAST_CONCURRENCY", 8),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	if c.DefaultGroupCapacity < 1 || c.DefaultGroupCapacity > DefaultGroupCapacity {
		return fmt.Errorf("DEFAULT_GROUP_CAPACITY must be between 1 and %d", DefaultGroupCapacity)
	}
	if c.RotationLease <= 0 {
		return fmt.Errorf("ROTATION_LEASE_SECONDS must be > 0")
	}
	if c.ProvisionTimeout <= 0 {
		return fmt.Errorf("PROVISION_TIMEOUT_SECONDS must be > 0")
	}
	if c.LiveCheckTimeout <= 0 {
		return fmt.Errorf("ROTATION_LIVE_CHECK_TIMEOUT_SECONDS must be > 0")
	}
	// A lease must outlive the work done under it, or a second holder can
	// provision a duplicate group.
	if budget := c.ProvisionTimeout + c.LiveCheckTimeout + PointerUpdateBudget; budget >= c.RotationLease {
		return fmt.Errorf("ROTATION_LEASE_SECONDS must exceed provisioning, live check and pointer update time (%s)", budget)
	}
	if c.BroadcastConcurrency <= 0 {
		return fmt.Errorf("BROADCAST_CONCURRENCY must be > 0")
	}
	if c.Environment == "production" && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	if c.AdminEmail != "" && len(c.AdminPassword) < 8 {
		return fmt.Errorf("ADMIN_PASSWORD must be at least 8 characters when ADMIN_EMAIL is set")
	}
	return nil
}

// IsProduction reports whether the service runs with production defaults.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func getSeconds(key string, fallback int) time.Duration {
	return time.Duration(getInt(key, fallback)) * time.Second
}
