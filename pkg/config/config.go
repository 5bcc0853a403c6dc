package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App      AppConfig
	Service  ServiceConfig
	DB       DBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	PubSub   PubSubConfig
	Square   SquareConfig
	Payout   PayoutConfig
	Fees     FeeConfig
	Dispatch DispatchConfig
	Sweep    SweepConfig
	Outbox   OutboxConfig
	Eventing EventingConfig
	Features FeatureFlags
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TRADELANE_APP_ENV" required:"true"`
	Port         string `envconfig:"TRADELANE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"TRADELANE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TRADELANE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"TRADELANE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"TRADELANE_DB_DSN"`
	Driver string `envconfig:"TRADELANE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"TRADELANE_DB_HOST"`
	LegacyPort     int    `envconfig:"TRADELANE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TRADELANE_DB_USER"`
	LegacyPassword string `envconfig:"TRADELANE_DB_PASSWORD"`
	LegacyName     string `envconfig:"TRADELANE_DB_NAME"`
	LegacySSLMode  string `envconfig:"TRADELANE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TRADELANE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TRADELANE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TRADELANE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TRADELANE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TRADELANE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"TRADELANE_REDIS_ADDR"`
	Password     string        `envconfig:"TRADELANE_REDIS_PASSWORD"`
	DB           int           `envconfig:"TRADELANE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TRADELANE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TRADELANE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TRADELANE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TRADELANE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TRADELANE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"TRADELANE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"TRADELANE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"TRADELANE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type PubSubConfig struct {
	ProjectID                string `envconfig:"TRADELANE_GCP_PROJECT_ID" required:"true"`
	TradeEventsTopic         string `envconfig:"TRADELANE_PUBSUB_TRADE_EVENTS_TOPIC" required:"true"`
	TradeEventsSubscription  string `envconfig:"TRADELANE_PUBSUB_TRADE_EVENTS_SUBSCRIPTION" required:"true"`
	NotificationTopic        string `envconfig:"TRADELANE_PUBSUB_NOTIFICATION_TOPIC" default:"tl-notification-events"`
	NotificationSubscription string `envconfig:"TRADELANE_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
}

type SquareConfig struct {
	AccessToken   string `envconfig:"TRADELANE_SQUARE_ACCESS_TOKEN"`
	WebhookSecret string `envconfig:"TRADELANE_SQUARE_WEBHOOK_SECRET"`
	LocationID    string `envconfig:"TRADELANE_SQUARE_LOCATION_ID"`
	Env           string `envconfig:"TRADELANE_SQUARE_ENV" default:"sandbox"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

// PayoutConfig points at the bank-transfer provider used for escrow releases.
type PayoutConfig struct {
	BaseURL       string        `envconfig:"TRADELANE_PAYOUT_BASE_URL"`
	APIKey        string        `envconfig:"TRADELANE_PAYOUT_API_KEY"`
	WebhookSecret string        `envconfig:"TRADELANE_PAYOUT_WEBHOOK_SECRET"`
	Timeout       time.Duration `envconfig:"TRADELANE_PAYOUT_TIMEOUT" default:"15s"`
}

type FeeConfig struct {
	DefaultRateBps int `envconfig:"TRADELANE_FEE_RATE_BPS" default:"850"`
	FloorCents     int `envconfig:"TRADELANE_FEE_FLOOR_CENTS" default:"5000"`
}

type DispatchConfig struct {
	NotifyLimit int           `envconfig:"TRADELANE_DISPATCH_NOTIFY_LIMIT" default:"5"`
	CallTimeout time.Duration `envconfig:"TRADELANE_DISPATCH_CALL_TIMEOUT" default:"10s"`
}

type SweepConfig struct {
	Interval          time.Duration `envconfig:"TRADELANE_SWEEP_INTERVAL" default:"5m"`
	ReleaseStuckAfter time.Duration `envconfig:"TRADELANE_SWEEP_RELEASE_STUCK_AFTER" default:"15m"`
	LockTTL           time.Duration `envconfig:"TRADELANE_SWEEP_LOCK_TTL" default:"10m"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"TRADELANE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"TRADELANE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"TRADELANE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"TRADELANE_OUTBOX_RETENTION_DAYS" default:"14"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"TRADELANE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type FeatureFlags struct {
	AutoMigrate bool `envconfig:"TRADELANE_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
