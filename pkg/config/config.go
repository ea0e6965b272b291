package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix is applied to every environment variable the service reads.
	EnvPrefix = "FULFILL"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "FULFILL_DB_DSN"
	EnvDBHost = "FULFILL_DB_HOST"
	EnvDBUser = "FULFILL_DB_USER"
	EnvDBName = "FULFILL_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Fulfillment  FulfillmentConfig
	Square       SquareConfig
	Webhooks     WebhookConfig
	Outbox       OutboxConfig
	Cron         CronConfig
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
	Env          string `envconfig:"FULFILL_APP_ENV" required:"true"`
	Port         string `envconfig:"FULFILL_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"FULFILL_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FULFILL_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"FULFILL_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"FULFILL_DB_DSN"`
	Driver string `envconfig:"FULFILL_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"FULFILL_DB_HOST"`
	LegacyPort     int    `envconfig:"FULFILL_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FULFILL_DB_USER"`
	LegacyPassword string `envconfig:"FULFILL_DB_PASSWORD"`
	LegacyName     string `envconfig:"FULFILL_DB_NAME"`
	LegacySSLMode  string `envconfig:"FULFILL_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FULFILL_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FULFILL_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FULFILL_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FULFILL_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FULFILL_REDIS_URL" required:"true"`
	Address      string        `envconfig:"FULFILL_REDIS_ADDR"`
	Password     string        `envconfig:"FULFILL_REDIS_PASSWORD"`
	DB           int           `envconfig:"FULFILL_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FULFILL_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FULFILL_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FULFILL_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FULFILL_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FULFILL_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"FULFILL_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"FULFILL_AUTO_MIGRATE" default:"false"`
}

// FulfillmentConfig tunes the reservation and return state machines.
type FulfillmentConfig struct {
	ReservationTTL     time.Duration `envconfig:"FULFILL_RESERVATION_TTL" default:"24h"`
	ReturnWindowDays   int           `envconfig:"FULFILL_RETURN_WINDOW_DAYS" default:"30"`
	ExpirySweepBatch   int           `envconfig:"FULFILL_EXPIRY_SWEEP_BATCH" default:"100"`
	ReturnLabelBaseURL string        `envconfig:"FULFILL_RETURN_LABEL_BASE_URL" default:"https://labels.kestrelcommerce.io"`
}

type SquareConfig struct {
	AccessToken   string `envconfig:"FULFILL_SQUARE_ACCESS_TOKEN"`
	WebhookSecret string `envconfig:"FULFILL_SQUARE_WEBHOOK_SECRET"`
	Env           string `envconfig:"FULFILL_SQUARE_ENV" default:"sandbox"`
	LocationID    string `envconfig:"FULFILL_SQUARE_LOCATION_ID"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type WebhookConfig struct {
	PaymentSigningSecret string        `envconfig:"FULFILL_PAYMENT_WEBHOOK_SECRET" required:"true"`
	EventTTL             time.Duration `envconfig:"FULFILL_PAYMENT_WEBHOOK_EVENT_TTL" default:"168h"`
}

// OutboxConfig names the redis streams the dispatcher publishes to and tunes
// the polling loop.
type OutboxConfig struct {
	OrdersStream    string        `envconfig:"FULFILL_OUTBOX_ORDERS_STREAM" default:"fulfillment.orders"`
	InventoryStream string        `envconfig:"FULFILL_OUTBOX_INVENTORY_STREAM" default:"fulfillment.inventory"`
	ReturnsStream   string        `envconfig:"FULFILL_OUTBOX_RETURNS_STREAM" default:"fulfillment.returns"`
	PollInterval    time.Duration `envconfig:"FULFILL_OUTBOX_POLL_INTERVAL" default:"5s"`
	BatchSize       int           `envconfig:"FULFILL_OUTBOX_BATCH_SIZE" default:"50"`
	MaxAttempts     int           `envconfig:"FULFILL_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"FULFILL_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"FULFILL_CRON_LOCK_TTL" default:"10m"`
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
