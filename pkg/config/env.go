package config

// EnvPrefix scopes envconfig lookups; every field tag already carries the
// full variable name, so the prefixed key falls back to the tag.
const EnvPrefix = "SHOPCORE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv = "SHOPCORE_APP_ENV"
	EnvPort   = "SHOPCORE_APP_PORT"

	EnvDBDSN        = "SHOPCORE_DB_DSN"
	EnvDBHost       = "SHOPCORE_DB_HOST"
	EnvDBUser       = "SHOPCORE_DB_USER"
	EnvDBName       = "SHOPCORE_DB_NAME"
	EnvDBStandalone = "SHOPCORE_DB_STANDALONE"

	EnvRedisURL = "SHOPCORE_REDIS_URL"

	EnvJWTSecret = "SHOPCORE_JWT_SECRET"
	EnvJWTIssuer = "SHOPCORE_JWT_ISSUER"

	EnvUseSQLite = "SHOPCORE_USE_SQLITE"

	EnvCheckoutTaxRate         = "SHOPCORE_CHECKOUT_TAX_RATE"
	EnvCheckoutAutoCancelAfter = "SHOPCORE_CHECKOUT_AUTO_CANCEL_AFTER"

	EnvWebhooksDedupeTTL    = "SHOPCORE_WEBHOOKS_DEDUPE_TTL"
	EnvWebhooksQueueEnabled = "SHOPCORE_WEBHOOKS_QUEUE_ENABLED"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
