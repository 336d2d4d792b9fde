package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Checkout     CheckoutConfig
	Payments     PaymentsConfig
	Webhooks     WebhooksConfig
	Queue        QueueConfig
	Cron         CronConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Stripe       StripeConfig
	Square       SquareConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if _, err := cfg.Checkout.TaxRateDecimal(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SHOPCORE_APP_ENV" required:"true"`
	Port         string `envconfig:"SHOPCORE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SHOPCORE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SHOPCORE_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"SHOPCORE_LOG_FORMAT" default:"json"`

	CORSOrigins []string `envconfig:"SHOPCORE_APP_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"SHOPCORE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SHOPCORE_DB_DSN"`
	Driver string `envconfig:"SHOPCORE_DB_DRIVER" default:"postgres"`

	// Standalone selects non-transactional sessions for deployments whose
	// database cannot run multi-statement transactions.
	Standalone bool `envconfig:"SHOPCORE_DB_STANDALONE" default:"false"`

	LegacyHost     string `envconfig:"SHOPCORE_DB_HOST"`
	LegacyPort     int    `envconfig:"SHOPCORE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SHOPCORE_DB_USER"`
	LegacyPassword string `envconfig:"SHOPCORE_DB_PASSWORD"`
	LegacyName     string `envconfig:"SHOPCORE_DB_NAME"`
	LegacySSLMode  string `envconfig:"SHOPCORE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SHOPCORE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SHOPCORE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SHOPCORE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SHOPCORE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"SHOPCORE_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SHOPCORE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SHOPCORE_REDIS_ADDR"`
	Password     string        `envconfig:"SHOPCORE_REDIS_PASSWORD"`
	DB           int           `envconfig:"SHOPCORE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SHOPCORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SHOPCORE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SHOPCORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SHOPCORE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SHOPCORE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"SHOPCORE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SHOPCORE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SHOPCORE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SHOPCORE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SHOPCORE_AUTO_MIGRATE" default:"false"`
}

type CheckoutConfig struct {
	AutoCancelAfter      time.Duration `envconfig:"SHOPCORE_CHECKOUT_AUTO_CANCEL_AFTER" default:"30m"`
	LowStockThreshold    int           `envconfig:"SHOPCORE_CHECKOUT_LOW_STOCK_THRESHOLD" default:"5"`
	TaxRate              string        `envconfig:"SHOPCORE_CHECKOUT_TAX_RATE" default:"0"`
	ShippingFeeCents     int64         `envconfig:"SHOPCORE_CHECKOUT_SHIPPING_FEE_CENTS" default:"0"`
	FreeShippingMinCents int64         `envconfig:"SHOPCORE_CHECKOUT_FREE_SHIPPING_MIN_CENTS" default:"0"`
	Currency             string        `envconfig:"SHOPCORE_CHECKOUT_CURRENCY" default:"USD"`
	CouponLockTTL        time.Duration `envconfig:"SHOPCORE_CHECKOUT_COUPON_LOCK_TTL" default:"30s"`
}

// TaxRateDecimal parses the configured tax rate as a fraction (0.0825 = 8.25%).
func (c CheckoutConfig) TaxRateDecimal() (decimal.Decimal, error) {
	raw := strings.TrimSpace(c.TaxRate)
	if raw == "" {
		return decimal.Zero, nil
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", EnvCheckoutTaxRate, raw, err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("%s must be between 0 and 1", EnvCheckoutTaxRate)
	}
	return rate, nil
}

type PaymentsConfig struct {
	InitiationLockTTL time.Duration `envconfig:"SHOPCORE_PAYMENTS_INITIATION_LOCK_TTL" default:"30s"`
}

type WebhooksConfig struct {
	DedupeTTL    time.Duration `envconfig:"SHOPCORE_WEBHOOKS_DEDUPE_TTL" default:"24h"`
	QueueEnabled bool          `envconfig:"SHOPCORE_WEBHOOKS_QUEUE_ENABLED" default:"true"`
	Attempts     int           `envconfig:"SHOPCORE_WEBHOOKS_ATTEMPTS" default:"5"`
	Backoff      time.Duration `envconfig:"SHOPCORE_WEBHOOKS_BACKOFF" default:"5s"`
}

type QueueConfig struct {
	Concurrency int           `envconfig:"SHOPCORE_QUEUE_CONCURRENCY" default:"10"`
	Retention   time.Duration `envconfig:"SHOPCORE_QUEUE_RETENTION" default:"24h"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"SHOPCORE_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"SHOPCORE_CRON_LOCK_TTL" default:"4m"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SHOPCORE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"SHOPCORE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SHOPCORE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic       string `envconfig:"SHOPCORE_PUBSUB_ORDERS_TOPIC" default:"sc-order-events"`
	NotificationTopic string `envconfig:"SHOPCORE_PUBSUB_NOTIFICATION_TOPIC" default:"sc-notification-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SHOPCORE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SHOPCORE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SHOPCORE_OUTBOX_MAX_ATTEMPTS" default:"10"`

	Retention time.Duration `envconfig:"SHOPCORE_OUTBOX_RETENTION" default:"720h"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"SHOPCORE_STRIPE_API_KEY"`
	WebhookSecret string `envconfig:"SHOPCORE_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"SHOPCORE_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SquareConfig struct {
	AccessToken     string `envconfig:"SHOPCORE_SQUARE_ACCESS_TOKEN"`
	WebhookSecret   string `envconfig:"SHOPCORE_SQUARE_WEBHOOK_SIGNATURE_KEY"`
	NotificationURL string `envconfig:"SHOPCORE_SQUARE_WEBHOOK_URL"`
	LocationID      string `envconfig:"SHOPCORE_SQUARE_LOCATION_ID"`
	Env             string `envconfig:"SHOPCORE_SQUARE_ENV" default:"sandbox"`
}

// IsProduction reports whether Square calls target the production host.
func (s SquareConfig) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(s.Env), "production")
}

func (db *DBConfig) ensureDSN(sqlite bool) error {
	if db.DSN != "" {
		return nil
	}
	if sqlite {
		db.DSN = "file:shopcore.db?cache=shared"
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
