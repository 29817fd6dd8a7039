package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Session  SessionConfig
	Fraud    FraudConfig
	Identity IdentityConfig
	Events   EventsConfig
	Reports  ReportsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SessionConfig carries the attendance session defaults.
type SessionConfig struct {
	TTL                  time.Duration
	DefaultLateAfter     time.Duration
	DefaultGeofenceM     float64
	QRRefreshInterval    time.Duration
	ActiveCacheTTL       time.Duration
	DefaultMinAttendance int
}

// FraudConfig tunes the inline fraud heuristics.
type FraudConfig struct {
	RapidRescanWindow  time.Duration
	ProximityThreshold float64
}

// IdentityConfig points at the face-verification collaborator.
type IdentityConfig struct {
	BaseURL   string
	Threshold float64
	Timeout   time.Duration
	Skip      bool
}

// EventsConfig sizes the outbound side-effect queue.
type EventsConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// ReportsConfig toggles attendance report exports.
type ReportsConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Session = SessionConfig{
		TTL:                  parseDuration(v.GetString("SESSION_TTL"), 180*time.Minute),
		DefaultLateAfter:     parseDuration(v.GetString("SESSION_DEFAULT_LATE_AFTER"), 10*time.Minute),
		DefaultGeofenceM:     v.GetFloat64("SESSION_DEFAULT_GEOFENCE_METERS"),
		QRRefreshInterval:    parseDuration(v.GetString("SESSION_QR_REFRESH_INTERVAL"), 30*time.Second),
		ActiveCacheTTL:       parseDuration(v.GetString("SESSION_ACTIVE_CACHE_TTL"), 30*time.Second),
		DefaultMinAttendance: v.GetInt("SESSION_DEFAULT_MIN_ATTENDANCE"),
	}

	cfg.Fraud = FraudConfig{
		RapidRescanWindow:  parseDuration(v.GetString("FRAUD_RAPID_RESCAN_WINDOW"), 10*time.Second),
		ProximityThreshold: v.GetFloat64("FRAUD_PROXIMITY_METERS"),
	}

	cfg.Identity = IdentityConfig{
		BaseURL:   v.GetString("IDENTITY_BASE_URL"),
		Threshold: v.GetFloat64("IDENTITY_THRESHOLD"),
		Timeout:   parseDuration(v.GetString("IDENTITY_TIMEOUT"), 15*time.Second),
		Skip:      v.GetBool("IDENTITY_SKIP"),
	}

	cfg.Events = EventsConfig{
		Workers:    v.GetInt("EVENTS_WORKERS"),
		BufferSize: v.GetInt("EVENTS_BUFFER_SIZE"),
		MaxRetries: v.GetInt("EVENTS_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("EVENTS_RETRY_DELAY"), time.Second),
	}

	cfg.Reports = ReportsConfig{
		Enabled: v.GetBool("ENABLE_REPORTS"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "attendance")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SESSION_TTL", "180m")
	v.SetDefault("SESSION_DEFAULT_LATE_AFTER", "10m")
	v.SetDefault("SESSION_DEFAULT_GEOFENCE_METERS", 50.0)
	v.SetDefault("SESSION_QR_REFRESH_INTERVAL", "30s")
	v.SetDefault("SESSION_ACTIVE_CACHE_TTL", "30s")
	v.SetDefault("SESSION_DEFAULT_MIN_ATTENDANCE", 75)

	v.SetDefault("FRAUD_RAPID_RESCAN_WINDOW", "10s")
	v.SetDefault("FRAUD_PROXIMITY_METERS", 2.0)

	v.SetDefault("IDENTITY_BASE_URL", "http://localhost:9000")
	v.SetDefault("IDENTITY_THRESHOLD", 0.55)
	v.SetDefault("IDENTITY_TIMEOUT", "15s")
	v.SetDefault("IDENTITY_SKIP", false)

	v.SetDefault("EVENTS_WORKERS", 2)
	v.SetDefault("EVENTS_BUFFER_SIZE", 64)
	v.SetDefault("EVENTS_MAX_RETRIES", 3)
	v.SetDefault("EVENTS_RETRY_DELAY", "1s")

	v.SetDefault("ENABLE_REPORTS", true)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
