package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends selectable through STORE_BACKEND.
const (
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
	BackendMemory    = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Store    StoreConfig
	Firebase FirebaseConfig
	Kafka    KafkaConfig
	Maps     MapsConfig
	Pool     PoolConfig
	Fare     FareConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `mapstructure:"SERVER_HOST"`
	Port         int           `mapstructure:"SERVER_PORT"`
	ReadTimeout  time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `mapstructure:"SERVER_IDLE_TIMEOUT"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"POSTGRES_HOST"`
	Port     int    `mapstructure:"POSTGRES_PORT"`
	User     string `mapstructure:"POSTGRES_USER"`
	Password string `mapstructure:"POSTGRES_PASSWORD"`
	DBName   string `mapstructure:"POSTGRES_DB"`
	SSLMode  string `mapstructure:"POSTGRES_SSLMODE"`
	MaxConns int32  `mapstructure:"POSTGRES_MAX_CONNS"`
	MinConns int32  `mapstructure:"POSTGRES_MIN_CONNS"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `mapstructure:"REDIS_HOST"`
	Port     int    `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
	PoolSize int    `mapstructure:"REDIS_POOL_SIZE"`
}

// StoreConfig selects where pools, bookings and stats live.
type StoreConfig struct {
	Backend string `mapstructure:"STORE_BACKEND"`
}

// FirebaseConfig holds Firebase Admin SDK settings used by the Firestore
// store and push notifications.
type FirebaseConfig struct {
	ProjectID       string `mapstructure:"FIREBASE_PROJECT_ID"`
	CredentialsFile string `mapstructure:"FIREBASE_CREDENTIALS_FILE"`
	Notifications   bool   `mapstructure:"FIREBASE_NOTIFICATIONS"`
}

// KafkaConfig holds the lifecycle event stream settings. An empty broker
// list disables the Kafka publisher.
type KafkaConfig struct {
	Brokers []string `mapstructure:"KAFKA_BROKERS"`
	Topic   string   `mapstructure:"KAFKA_TOPIC"`
}

// MapsConfig holds Google Maps Directions settings.
type MapsConfig struct {
	APIKey        string        `mapstructure:"MAPS_API_KEY"`
	RatePerSecond float64       `mapstructure:"MAPS_RATE_PER_SECOND"`
	Burst         int           `mapstructure:"MAPS_BURST"`
	CacheSize     int           `mapstructure:"MAPS_CACHE_SIZE"`
	CacheTTL      time.Duration `mapstructure:"MAPS_CACHE_TTL"`
}

// PoolConfig holds the pool constants. They are fixed for the lifetime of
// the process.
type PoolConfig struct {
	MaxSeats         int           `mapstructure:"POOL_MAX_SEATS"`
	MinParticipants  int           `mapstructure:"POOL_MIN_PARTICIPANTS"`
	Discount         float64       `mapstructure:"POOL_DISCOUNT"`
	DriverBonus      float64       `mapstructure:"POOL_DRIVER_BONUS"`
	MatchRadiusKm    float64       `mapstructure:"POOL_MATCH_RADIUS_KM"`
	MaxMatchRadiusKm float64       `mapstructure:"POOL_MAX_MATCH_RADIUS_KM"`
	ExpiryMinutes    int           `mapstructure:"POOL_EXPIRY_MINUTES"`
	SweepInterval    time.Duration `mapstructure:"POOL_SWEEP_INTERVAL"`
}

// FareConfig holds the solo fare parameters, in whole rupees.
type FareConfig struct {
	Base           int64   `mapstructure:"FARE_BASE"`
	PerKm          int64   `mapstructure:"FARE_PER_KM"`
	Minimum        int64   `mapstructure:"FARE_MINIMUM"`
	PeakMultiplier float64 `mapstructure:"FARE_PEAK_MULTIPLIER"`
	Timezone       string  `mapstructure:"FARE_TIMEZONE"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"LOG_LEVEL"`
	Development bool   `mapstructure:"LOG_DEVELOPMENT"`
}

// DSN returns the PostgreSQL connection string.
func (p *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode,
	)
}

// Addr returns the Redis address in host:port format.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ServerAddr returns the HTTP listen address in host:port format.
func (s *ServerConfig) ServerAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Expiry returns the pool TTL as a duration.
func (p *PoolConfig) Expiry() time.Duration {
	return time.Duration(p.ExpiryMinutes) * time.Minute
}

// Location resolves the fare timezone used for peak-hour checks.
func (f *FareConfig) Location() (*time.Location, error) {
	if f.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(f.Timezone)
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	setDefaults()

	// Try to read .env file. If it doesn't exist (e.g., inside Docker),
	// env vars injected by docker-compose env_file are used instead.
	_ = viper.ReadInConfig()

	cfg := &Config{}

	// ── Server ──────────────────────────────────────────
	cfg.Server = ServerConfig{
		Host:         viper.GetString("SERVER_HOST"),
		Port:         viper.GetInt("SERVER_PORT"),
		ReadTimeout:  viper.GetDuration("SERVER_READ_TIMEOUT"),
		WriteTimeout: viper.GetDuration("SERVER_WRITE_TIMEOUT"),
		IdleTimeout:  viper.GetDuration("SERVER_IDLE_TIMEOUT"),
	}

	// ── Postgres ────────────────────────────────────────
	cfg.Postgres = PostgresConfig{
		Host:     viper.GetString("POSTGRES_HOST"),
		Port:     viper.GetInt("POSTGRES_PORT"),
		User:     viper.GetString("POSTGRES_USER"),
		Password: viper.GetString("POSTGRES_PASSWORD"),
		DBName:   viper.GetString("POSTGRES_DB"),
		SSLMode:  viper.GetString("POSTGRES_SSLMODE"),
		MaxConns: viper.GetInt32("POSTGRES_MAX_CONNS"),
		MinConns: viper.GetInt32("POSTGRES_MIN_CONNS"),
	}

	// ── Redis ───────────────────────────────────────────
	cfg.Redis = RedisConfig{
		Host:     viper.GetString("REDIS_HOST"),
		Port:     viper.GetInt("REDIS_PORT"),
		Password: viper.GetString("REDIS_PASSWORD"),
		DB:       viper.GetInt("REDIS_DB"),
		PoolSize: viper.GetInt("REDIS_POOL_SIZE"),
	}

	// ── Store / Firebase / Kafka ────────────────────────
	cfg.Store = StoreConfig{
		Backend: strings.ToLower(viper.GetString("STORE_BACKEND")),
	}
	cfg.Firebase = FirebaseConfig{
		ProjectID:       viper.GetString("FIREBASE_PROJECT_ID"),
		CredentialsFile: viper.GetString("FIREBASE_CREDENTIALS_FILE"),
		Notifications:   viper.GetBool("FIREBASE_NOTIFICATIONS"),
	}
	cfg.Kafka = KafkaConfig{
		Brokers: splitList(viper.GetString("KAFKA_BROKERS")),
		Topic:   viper.GetString("KAFKA_TOPIC"),
	}

	// ── Maps ────────────────────────────────────────────
	cfg.Maps = MapsConfig{
		APIKey:        viper.GetString("MAPS_API_KEY"),
		RatePerSecond: viper.GetFloat64("MAPS_RATE_PER_SECOND"),
		Burst:         viper.GetInt("MAPS_BURST"),
		CacheSize:     viper.GetInt("MAPS_CACHE_SIZE"),
		CacheTTL:      viper.GetDuration("MAPS_CACHE_TTL"),
	}

	// ── Pool & fare ─────────────────────────────────────
	cfg.Pool = PoolConfig{
		MaxSeats:         viper.GetInt("POOL_MAX_SEATS"),
		MinParticipants:  viper.GetInt("POOL_MIN_PARTICIPANTS"),
		Discount:         viper.GetFloat64("POOL_DISCOUNT"),
		DriverBonus:      viper.GetFloat64("POOL_DRIVER_BONUS"),
		MatchRadiusKm:    viper.GetFloat64("POOL_MATCH_RADIUS_KM"),
		MaxMatchRadiusKm: viper.GetFloat64("POOL_MAX_MATCH_RADIUS_KM"),
		ExpiryMinutes:    viper.GetInt("POOL_EXPIRY_MINUTES"),
		SweepInterval:    viper.GetDuration("POOL_SWEEP_INTERVAL"),
	}
	cfg.Fare = FareConfig{
		Base:           viper.GetInt64("FARE_BASE"),
		PerKm:          viper.GetInt64("FARE_PER_KM"),
		Minimum:        viper.GetInt64("FARE_MINIMUM"),
		PeakMultiplier: viper.GetFloat64("FARE_PEAK_MULTIPLIER"),
		Timezone:       viper.GetString("FARE_TIMEZONE"),
	}

	// ── Logging ─────────────────────────────────────────
	cfg.Log = LogConfig{
		Level:       viper.GetString("LOG_LEVEL"),
		Development: viper.GetBool("LOG_DEVELOPMENT"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_PORT", 8080)
	viper.SetDefault("SERVER_READ_TIMEOUT", "5s")
	viper.SetDefault("SERVER_WRITE_TIMEOUT", "10s")
	viper.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	viper.SetDefault("POSTGRES_HOST", "localhost")
	viper.SetDefault("POSTGRES_PORT", 5432)
	viper.SetDefault("POSTGRES_USER", "unipool")
	viper.SetDefault("POSTGRES_PASSWORD", "unipool_secret")
	viper.SetDefault("POSTGRES_DB", "unipool_db")
	viper.SetDefault("POSTGRES_SSLMODE", "disable")
	viper.SetDefault("POSTGRES_MAX_CONNS", 50)
	viper.SetDefault("POSTGRES_MIN_CONNS", 10)

	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", 6379)
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_POOL_SIZE", 100)

	viper.SetDefault("STORE_BACKEND", BackendPostgres)
	viper.SetDefault("FIREBASE_PROJECT_ID", "")
	viper.SetDefault("FIREBASE_CREDENTIALS_FILE", "")
	viper.SetDefault("FIREBASE_NOTIFICATIONS", false)
	viper.SetDefault("KAFKA_BROKERS", "")
	viper.SetDefault("KAFKA_TOPIC", "unipool.lifecycle")

	viper.SetDefault("MAPS_API_KEY", "")
	viper.SetDefault("MAPS_RATE_PER_SECOND", 5)
	viper.SetDefault("MAPS_BURST", 10)
	viper.SetDefault("MAPS_CACHE_SIZE", 1000)
	viper.SetDefault("MAPS_CACHE_TTL", "10m")

	viper.SetDefault("POOL_MAX_SEATS", 4)
	viper.SetDefault("POOL_MIN_PARTICIPANTS", 2)
	viper.SetDefault("POOL_DISCOUNT", 0.30)
	viper.SetDefault("POOL_DRIVER_BONUS", 0.20)
	viper.SetDefault("POOL_MATCH_RADIUS_KM", 2.0)
	viper.SetDefault("POOL_MAX_MATCH_RADIUS_KM", 4.0)
	viper.SetDefault("POOL_EXPIRY_MINUTES", 30)
	viper.SetDefault("POOL_SWEEP_INTERVAL", "1m")

	viper.SetDefault("FARE_BASE", 25)
	viper.SetDefault("FARE_PER_KM", 10)
	viper.SetDefault("FARE_MINIMUM", 40)
	viper.SetDefault("FARE_PEAK_MULTIPLIER", 1.5)
	viper.SetDefault("FARE_TIMEZONE", "Asia/Kolkata")

	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_DEVELOPMENT", false)
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case BackendPostgres, BackendFirestore, BackendMemory:
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.Store.Backend)
	}
	if c.Pool.MaxSeats < 1 {
		return fmt.Errorf("config: POOL_MAX_SEATS must be positive, got %d", c.Pool.MaxSeats)
	}
	if c.Pool.MinParticipants < 1 {
		return fmt.Errorf("config: POOL_MIN_PARTICIPANTS must be positive, got %d", c.Pool.MinParticipants)
	}
	if c.Pool.MaxMatchRadiusKm < c.Pool.MatchRadiusKm {
		return fmt.Errorf("config: POOL_MAX_MATCH_RADIUS_KM (%.2f) below POOL_MATCH_RADIUS_KM (%.2f)",
			c.Pool.MaxMatchRadiusKm, c.Pool.MatchRadiusKm)
	}
	if c.Store.Backend == BackendFirestore && c.Firebase.ProjectID == "" {
		return fmt.Errorf("config: FIREBASE_PROJECT_ID is required for the firestore backend")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
