package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/drivuber/internal/auth"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	BackendURL       string
	BackendAnonKey   string
	BackendJWTSecret string
	OAuthProvider    string
	OAuthRedirectURL string
	DemoSignInDelay  time.Duration

	StorageDriver string
	StorageDir    string
	RedisAddr     string
	RedisPassword string
	PGDSN         string

	EventsDriver string
	KafkaBrokers []string
	KafkaTopic   string
	NATSURL      string
	NATSSubject  string

	ChatReplyDelay time.Duration
	ChatSeed       uint64

	SessionMaxProfiles int
	SessionIdleTTL     time.Duration
	SessionSweepEvery  time.Duration

	MapsAPIKey    string
	MapsCacheSize int
	MapsCacheTTL  time.Duration

	StripeAPIKey string
	Currency     string

	SentryDSN     string
	Environment   string
	LogLevel      string
	RunMigrations bool
}

// DemoMode reports whether the auth backend is missing or still carries the
// sample placeholder values.
func (c ServerConfig) DemoMode() bool {
	return !auth.IsConfigured(c.BackendURL, c.BackendAnonKey)
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		OAuthProvider:      "google",
		OAuthRedirectURL:   "http://localhost:5173/search",
		DemoSignInDelay:    time.Second,
		StorageDriver:      "memory",
		StorageDir:         "data",
		EventsDriver:       "none",
		KafkaTopic:         "drivuber-events",
		NATSSubject:        "drivuber.events",
		ChatReplyDelay:     2 * time.Second,
		SessionMaxProfiles: 10000,
		SessionIdleTTL:     30 * time.Minute,
		SessionSweepEvery:  time.Minute,
		MapsCacheSize:      1000,
		MapsCacheTTL:       time.Hour,
		Currency:           "usd",
		Environment:        "development",
		LogLevel:           "info",
	}
}

// LoadServerConfig reads .env (when present) and then the environment.
// Every invalid value is reported, not just the first.
func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error
	if err := loadDotEnv(); err != nil {
		errs = append(errs, err)
	}

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.BackendURL = strings.TrimSpace(os.Getenv("BACKEND_URL"))
	cfg.BackendAnonKey = strings.TrimSpace(os.Getenv("BACKEND_ANON_KEY"))
	cfg.BackendJWTSecret = os.Getenv("BACKEND_JWT_SECRET")
	setStringFromEnv(&cfg.OAuthProvider, "OAUTH_PROVIDER")
	setStringFromEnv(&cfg.OAuthRedirectURL, "OAUTH_REDIRECT_URL")
	setDurationFromEnv(&cfg.DemoSignInDelay, "DEMO_SIGN_IN_DELAY", &errs)

	setStringFromEnv(&cfg.StorageDriver, "STORAGE_DRIVER")
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	setStringFromEnv(&cfg.StorageDir, "STORAGE_DIR")
	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.PGDSN = os.Getenv("PG_DSN")

	setStringFromEnv(&cfg.EventsDriver, "EVENTS_DRIVER")
	cfg.EventsDriver = strings.ToLower(cfg.EventsDriver)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	cfg.NATSURL = strings.TrimSpace(os.Getenv("NATS_URL"))
	setStringFromEnv(&cfg.NATSSubject, "NATS_SUBJECT")

	setDurationFromEnv(&cfg.ChatReplyDelay, "CHAT_REPLY_DELAY", &errs)
	setUintFromEnv(&cfg.ChatSeed, "CHAT_SEED", &errs)

	setIntFromEnv(&cfg.SessionMaxProfiles, "SESSION_MAX_PROFILES", &errs)
	setDurationFromEnv(&cfg.SessionIdleTTL, "SESSION_IDLE_TTL", &errs)
	setDurationFromEnv(&cfg.SessionSweepEvery, "SESSION_SWEEP_INTERVAL", &errs)

	cfg.MapsAPIKey = strings.TrimSpace(os.Getenv("MAPS_API_KEY"))
	setIntFromEnv(&cfg.MapsCacheSize, "MAPS_CACHE_SIZE", &errs)
	setDurationFromEnv(&cfg.MapsCacheTTL, "MAPS_CACHE_TTL", &errs)

	cfg.StripeAPIKey = strings.TrimSpace(os.Getenv("STRIPE_API_KEY"))
	setStringFromEnv(&cfg.Currency, "CURRENCY")
	cfg.Currency = strings.ToLower(cfg.Currency)

	cfg.SentryDSN = strings.TrimSpace(os.Getenv("SENTRY_DSN"))
	setStringFromEnv(&cfg.Environment, "ENVIRONMENT")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	switch cfg.StorageDriver {
	case "memory", "file":
	case "redis":
		if cfg.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("STORAGE_DRIVER=redis requires REDIS_ADDR"))
		}
	case "postgres":
		if cfg.PGDSN == "" {
			errs = append(errs, fmt.Errorf("STORAGE_DRIVER=postgres requires PG_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER must be one of memory, file, redis, postgres"))
	}
	switch cfg.EventsDriver {
	case "none":
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			errs = append(errs, fmt.Errorf("EVENTS_DRIVER=kafka requires KAFKA_BROKERS"))
		}
	case "nats":
		if cfg.NATSURL == "" {
			errs = append(errs, fmt.Errorf("EVENTS_DRIVER=nats requires NATS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("EVENTS_DRIVER must be one of none, kafka, nats"))
	}
	if cfg.ChatReplyDelay < 0 {
		errs = append(errs, fmt.Errorf("CHAT_REPLY_DELAY must be >= 0"))
	}
	if cfg.SessionMaxProfiles <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_MAX_PROFILES must be > 0"))
	}
	if cfg.SessionIdleTTL <= 0 || cfg.SessionSweepEvery <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_IDLE_TTL and SESSION_SWEEP_INTERVAL must be > 0"))
	}
	if cfg.MapsCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("MAPS_CACHE_SIZE must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig configures the event projection worker.
type ConsumerConfig struct {
	MetricsAddr   string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	RedisAddr     string
	RedisPassword string
	RetryAttempts int
	RetryDelay    time.Duration
	SentryDSN     string
	Environment   string
	LogLevel      string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:   ":2112",
		KafkaBrokers:  []string{"localhost:9092"},
		KafkaTopic:    "drivuber-events",
		KafkaGroup:    "drivuber-consumer",
		RedisAddr:     "localhost:6379",
		RetryAttempts: 3,
		RetryDelay:    200 * time.Millisecond,
		Environment:   "development",
		LogLevel:      "info",
	}
	var errs []error
	if err := loadDotEnv(); err != nil {
		errs = append(errs, err)
	}

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := splitAndTrim(os.Getenv("KAFKA_BROKERS")); len(brokers) > 0 {
		cfg.KafkaBrokers = brokers
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setIntFromEnv(&cfg.RetryAttempts, "CONSUMER_RETRY_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.RetryDelay, "CONSUMER_RETRY_DELAY", &errs)
	cfg.SentryDSN = strings.TrimSpace(os.Getenv("SENTRY_DSN"))
	setStringFromEnv(&cfg.Environment, "ENVIRONMENT")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.RetryAttempts <= 0 {
		errs = append(errs, fmt.Errorf("CONSUMER_RETRY_ATTEMPTS must be > 0"))
	}
	return cfg, errors.Join(errs...)
}

// loadDotEnv never overrides variables already set in the environment.
func loadDotEnv() error {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setUintFromEnv(target *uint64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		u, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = u
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
