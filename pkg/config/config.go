package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Settlement   SettlementConfig
	Outbox       OutboxConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Kafka        KafkaConfig
	Tracing      TracingConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Outbox.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CIM_APP_ENV" required:"true"`
	Port         string `envconfig:"CIM_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CIM_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CIM_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"CIM_LOG_FORMAT" default:"json"`
	// CORSOrigins is a comma separated allow list. Empty means local dev origins.
	CORSOrigins []string `envconfig:"CIM_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CIM_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN string `envconfig:"CIM_DB_DSN"`

	Host     string `envconfig:"CIM_DB_HOST"`
	Port     int    `envconfig:"CIM_DB_PORT" default:"5432"`
	User     string `envconfig:"CIM_DB_USER"`
	Password string `envconfig:"CIM_DB_PASSWORD"`
	Name     string `envconfig:"CIM_DB_NAME" default:"cim"`
	SSLMode  string `envconfig:"CIM_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CIM_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CIM_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CIM_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CIM_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CIM_REDIS_URL"`
	Address      string        `envconfig:"CIM_REDIS_ADDR"`
	Password     string        `envconfig:"CIM_REDIS_PASSWORD"`
	DB           int           `envconfig:"CIM_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CIM_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CIM_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CIM_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CIM_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CIM_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"CIM_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CIM_JWT_ISSUER" default:"cim"`
	ExpirationMinutes int    `envconfig:"CIM_JWT_EXPIRATION_MINUTES" default:"480"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CIM_AUTO_MIGRATE" default:"false"`
}

// SettlementConfig bounds a single sale settlement unit of work.
type SettlementConfig struct {
	Timeout            time.Duration `envconfig:"CIM_SETTLEMENT_TIMEOUT" default:"15s"`
	RateLimitPerMinute int64         `envconfig:"CIM_SETTLEMENT_RATE_LIMIT_PER_MINUTE" default:"120"`
}

type OutboxConfig struct {
	Sink           string `envconfig:"CIM_OUTBOX_SINK" default:"pubsub"`
	BatchSize      int    `envconfig:"CIM_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"CIM_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"CIM_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (o OutboxConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(o.Sink)) {
	case OutboxSinkPubSub, OutboxSinkKafka:
		return nil
	default:
		return fmt.Errorf("%s must be one of %s, %s", EnvOutboxSink, OutboxSinkPubSub, OutboxSinkKafka)
	}
}

// SinkName returns the normalized outbox sink.
func (o OutboxConfig) SinkName() string {
	return strings.ToLower(strings.TrimSpace(o.Sink))
}

type GCPConfig struct {
	ProjectID string `envconfig:"CIM_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	SalesTopic        string `envconfig:"CIM_PUBSUB_SALES_TOPIC" default:"cim-sales-events"`
	SalesSubscription string `envconfig:"CIM_PUBSUB_SALES_SUBSCRIPTION"`
}

type KafkaConfig struct {
	Brokers      []string      `envconfig:"CIM_KAFKA_BROKERS"`
	SalesTopic   string        `envconfig:"CIM_KAFKA_SALES_TOPIC" default:"cim.sales.events"`
	ClientID     string        `envconfig:"CIM_KAFKA_CLIENT_ID" default:"cim-outbox-publisher"`
	BatchTimeout time.Duration `envconfig:"CIM_KAFKA_BATCH_TIMEOUT" default:"10ms"`
}

// TracingConfig controls span export. An empty endpoint keeps spans in
// process only.
type TracingConfig struct {
	Endpoint    string  `envconfig:"CIM_OTEL_EXPORTER_ENDPOINT"`
	Insecure    bool    `envconfig:"CIM_OTEL_EXPORTER_INSECURE" default:"false"`
	SampleRatio float64 `envconfig:"CIM_OTEL_SAMPLE_RATIO" default:"1"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	parts := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range dsnPartEnvVars {
		if parts[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
