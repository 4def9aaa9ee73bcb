package config

const (
	EnvPrefix = "CIM"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	OutboxSinkPubSub = "pubsub"
	OutboxSinkKafka  = "kafka"
)

const (
	EnvAppEnv            = "CIM_APP_ENV"
	EnvPort              = "CIM_APP_PORT"
	EnvDBDSN             = "CIM_DB_DSN"
	EnvDBHost            = "CIM_DB_HOST"
	EnvDBUser            = "CIM_DB_USER"
	EnvDBName            = "CIM_DB_NAME"
	EnvDBPassword        = "CIM_DB_PASSWORD"
	EnvRedisURL          = "CIM_REDIS_URL"
	EnvJWTSecret         = "CIM_JWT_SECRET"
	EnvJWTIssuer         = "CIM_JWT_ISSUER"
	EnvSettlementTimeout = "CIM_SETTLEMENT_TIMEOUT"
	EnvOutboxSink        = "CIM_OUTBOX_SINK"
	EnvGCPProjectID      = "CIM_GCP_PROJECT_ID"
	EnvPubSubSalesTopic  = "CIM_PUBSUB_SALES_TOPIC"
	EnvKafkaBrokers      = "CIM_KAFKA_BROKERS"
	EnvKafkaSalesTopic   = "CIM_KAFKA_SALES_TOPIC"
)

// dsnPartEnvVars must all be set when CIM_DB_DSN is absent.
var dsnPartEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
