package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Qdrant     QdrantConfig
	OpenAI     OpenAIConfig
	Telegram   TelegramConfig
	SMTP       SMTPConfig
	GCS        GCSConfig
	Bot        BotConfig
	Dispatcher DispatcherConfig
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
	Env          string `envconfig:"MACROFERRO_APP_ENV" required:"true"`
	Port         string `envconfig:"MACROFERRO_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MACROFERRO_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MACROFERRO_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"MACROFERRO_DB_DSN"`
	Driver string `envconfig:"MACROFERRO_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MACROFERRO_DB_HOST"`
	LegacyPort     int    `envconfig:"MACROFERRO_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MACROFERRO_DB_USER"`
	LegacyPassword string `envconfig:"MACROFERRO_DB_PASSWORD"`
	LegacyName     string `envconfig:"MACROFERRO_DB_NAME"`
	LegacySSLMode  string `envconfig:"MACROFERRO_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MACROFERRO_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MACROFERRO_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MACROFERRO_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MACROFERRO_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	AutoMigrate     bool          `envconfig:"MACROFERRO_DB_AUTO_MIGRATE" default:"false"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MACROFERRO_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MACROFERRO_REDIS_ADDR"`
	Password     string        `envconfig:"MACROFERRO_REDIS_PASSWORD"`
	DB           int           `envconfig:"MACROFERRO_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MACROFERRO_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MACROFERRO_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MACROFERRO_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MACROFERRO_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MACROFERRO_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type QdrantConfig struct {
	Host       string `envconfig:"MACROFERRO_QDRANT_HOST" required:"true"`
	Port       int    `envconfig:"MACROFERRO_QDRANT_PORT" default:"6334"`
	APIKey     string `envconfig:"MACROFERRO_QDRANT_API_KEY"`
	UseTLS     bool   `envconfig:"MACROFERRO_QDRANT_USE_TLS" default:"false"`
	Collection string `envconfig:"MACROFERRO_QDRANT_COLLECTION" default:"products"`
	VectorDim  uint64 `envconfig:"MACROFERRO_QDRANT_VECTOR_DIM" default:"1536"`
}

type OpenAIConfig struct {
	APIKey         string        `envconfig:"MACROFERRO_OPENAI_API_KEY" required:"true"`
	ChatModel      string        `envconfig:"MACROFERRO_OPENAI_CHAT_MODEL" default:"gpt-4o-mini"`
	EmbeddingModel string        `envconfig:"MACROFERRO_OPENAI_EMBEDDING_MODEL" default:"text-embedding-3-small"`
	Timeout        time.Duration `envconfig:"MACROFERRO_OPENAI_TIMEOUT" default:"10s"`
	BreakerTrip    int           `envconfig:"MACROFERRO_OPENAI_BREAKER_TRIP" default:"5"`
	BreakerReset   time.Duration `envconfig:"MACROFERRO_OPENAI_BREAKER_RESET" default:"30s"`
}

type TelegramConfig struct {
	BotToken      string `envconfig:"MACROFERRO_TELEGRAM_BOT_TOKEN" required:"true"`
	WebhookSecret string `envconfig:"MACROFERRO_TELEGRAM_WEBHOOK_SECRET" required:"true"`
}

type SMTPConfig struct {
	Host     string `envconfig:"MACROFERRO_SMTP_HOST"`
	Port     int    `envconfig:"MACROFERRO_SMTP_PORT" default:"465"`
	User     string `envconfig:"MACROFERRO_SMTP_USER"`
	Password string `envconfig:"MACROFERRO_SMTP_PASSWORD"`
	From     string `envconfig:"MACROFERRO_SMTP_FROM"`
}

// Enabled reports whether enough SMTP settings are present to send mail.
func (s SMTPConfig) Enabled() bool {
	return s.Host != "" && s.User != "" && s.Password != "" && s.From != ""
}

type GCSConfig struct {
	BucketName      string `envconfig:"MACROFERRO_GCS_BUCKET_NAME"`
	CredentialsJSON string `envconfig:"MACROFERRO_GCS_CREDENTIALS_JSON"`
	InvoicePrefix   string `envconfig:"MACROFERRO_GCS_INVOICE_PREFIX" default:"invoices"`
}

// Enabled reports whether the invoice artifact store is configured.
func (g GCSConfig) Enabled() bool {
	return g.BucketName != ""
}

type BotConfig struct {
	SearchTopK        int           `envconfig:"MACROFERRO_BOT_SEARCH_TOP_K" default:"5"`
	SearchShown       int           `envconfig:"MACROFERRO_BOT_SEARCH_SHOWN" default:"3"`
	ScoreThreshold    float32       `envconfig:"MACROFERRO_BOT_SCORE_THRESHOLD" default:"0.6"`
	RelatedThreshold  float32       `envconfig:"MACROFERRO_BOT_RELATED_THRESHOLD" default:"0.45"`
	ConfidenceFloor   float64       `envconfig:"MACROFERRO_BOT_CONFIDENCE_FLOOR" default:"0.5"`
	RequestTimeout    time.Duration `envconfig:"MACROFERRO_BOT_REQUEST_TIMEOUT" default:"30s"`
	HistoryTurns      int           `envconfig:"MACROFERRO_BOT_HISTORY_TURNS" default:"6"`
	UpdateDedupTTL    time.Duration `envconfig:"MACROFERRO_BOT_UPDATE_DEDUP_TTL" default:"24h"`
	RateLimitMsgs     int64         `envconfig:"MACROFERRO_BOT_RATE_LIMIT_MSGS" default:"20"`
	RateLimitWindow   time.Duration `envconfig:"MACROFERRO_BOT_RATE_LIMIT_WINDOW" default:"1m"`
	CartViewMaxLines  int           `envconfig:"MACROFERRO_BOT_CART_VIEW_MAX_LINES" default:"20"`
	EmbeddingCacheTTL time.Duration `envconfig:"MACROFERRO_BOT_EMBEDDING_CACHE_TTL" default:"24h"`
}

type DispatcherConfig struct {
	PollInterval time.Duration `envconfig:"MACROFERRO_DISPATCHER_POLL_INTERVAL" default:"2s"`
	BatchSize    int           `envconfig:"MACROFERRO_DISPATCHER_BATCH_SIZE" default:"10"`
	MaxAttempts  int           `envconfig:"MACROFERRO_DISPATCHER_MAX_ATTEMPTS" default:"3"`
	TaskBudget   time.Duration `envconfig:"MACROFERRO_DISPATCHER_TASK_BUDGET" default:"2m"`
	RetryWindow  time.Duration `envconfig:"MACROFERRO_DISPATCHER_RETRY_WINDOW" default:"5m"`
	Workers      int           `envconfig:"MACROFERRO_DISPATCHER_WORKERS" default:"2"`
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
