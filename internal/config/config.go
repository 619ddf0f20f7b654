package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendSupabase = "supabase"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Observability
	OTLPEndpoint string

	// Storage
	StoreBackend  string
	DatabaseURL   string
	RunMigrations bool

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	SupabaseJWTSecret  string

	// Contract number sequence
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Workload
	ReconcileSchedule    string
	ReconcileConcurrency int
	ReconcilePageSize    int
	UploadConcurrency    int
	MaxUploadBytes       int64
}

var defaults = map[string]any{
	"PORT":                        8080,
	"LOG_LEVEL":                   "info",
	"HTTP_TIMEOUT":                "10s",
	"MAX_RETRIES":                 3,
	"INITIAL_BACKOFF":             "100ms",
	"MAX_CONCURRENCY":             50,
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"STORE_BACKEND":               BackendSupabase,
	"DATABASE_URL":                "",
	"RUN_MIGRATIONS":              false,
	"SUPABASE_URL":                "",
	"SUPABASE_ANON_KEY":           "",
	"SUPABASE_SERVICE_ROLE_KEY":   "",
	"SUPABASE_JWT_SECRET":         "",
	"REDIS_ADDR":                  "",
	"REDIS_PASSWORD":              "",
	"REDIS_DB":                    0,
	"RECONCILE_SCHEDULE":          "@every 15m",
	"RECONCILE_CONCURRENCY":       4,
	"RECONCILE_PAGE_SIZE":         100,
	"UPLOAD_CONCURRENCY":          10,
	"MAX_UPLOAD_BYTES":            32 << 20,
}

// LoadDotEnv reads a .env file into the environment.
// It does NOT override existing env vars (env takes precedence).
func LoadDotEnv(path string) error {
	return godotenv.Load(path)
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		HTTPTimeout: v.GetDuration("HTTP_TIMEOUT"),

		MaxRetries:     v.GetInt("MAX_RETRIES"),
		InitialBackoff: v.GetDuration("INITIAL_BACKOFF"),
		MaxConcurrency: v.GetInt("MAX_CONCURRENCY"),

		OTLPEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),

		StoreBackend:  strings.ToLower(v.GetString("STORE_BACKEND")),
		DatabaseURL:   v.GetString("DATABASE_URL"),
		RunMigrations: v.GetBool("RUN_MIGRATIONS"),

		SupabaseURL:        v.GetString("SUPABASE_URL"),
		SupabaseAnonKey:    v.GetString("SUPABASE_ANON_KEY"),
		SupabaseServiceKey: v.GetString("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseJWTSecret:  v.GetString("SUPABASE_JWT_SECRET"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		ReconcileSchedule:    v.GetString("RECONCILE_SCHEDULE"),
		ReconcileConcurrency: v.GetInt("RECONCILE_CONCURRENCY"),
		ReconcilePageSize:    v.GetInt("RECONCILE_PAGE_SIZE"),
		UploadConcurrency:    v.GetInt("UPLOAD_CONCURRENCY"),
		MaxUploadBytes:       v.GetInt64("MAX_UPLOAD_BYTES"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendSupabase:
		if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are required for the supabase backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.Port <= 0 {
		return fmt.Errorf("PORT must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}
