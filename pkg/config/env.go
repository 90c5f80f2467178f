package config

// EnvPrefix is the shared prefix for every environment variable the
// service reads.
const EnvPrefix = "MACROFERRO"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "production"
)

// Environment variable names referenced outside struct tags.
const (
	EnvAppEnv = "MACROFERRO_APP_ENV"
	EnvPort   = "MACROFERRO_APP_PORT"

	EnvDBDSN  = "MACROFERRO_DB_DSN"
	EnvDBHost = "MACROFERRO_DB_HOST"
	EnvDBUser = "MACROFERRO_DB_USER"
	EnvDBName = "MACROFERRO_DB_NAME"

	EnvRedisURL = "MACROFERRO_REDIS_URL"

	EnvQdrantHost = "MACROFERRO_QDRANT_HOST"

	EnvOpenAIAPIKey = "MACROFERRO_OPENAI_API_KEY"

	EnvTelegramBotToken      = "MACROFERRO_TELEGRAM_BOT_TOKEN"
	EnvTelegramWebhookSecret = "MACROFERRO_TELEGRAM_WEBHOOK_SECRET"
)

// legacyDBEnvVars are the discrete connection settings accepted when
// MACROFERRO_DB_DSN is not set.
var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
