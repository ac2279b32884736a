package config

import (
	"github.com/triagebox/mailsync/internal/logger"
	"github.com/triagebox/mailsync/internal/tracing"
)

type AppConfig struct {
	APIPort     string `env:"PORT" envDefault:"5005"`
	APIKey      string `env:"API_KEY,required"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
}

type DatabaseConfig struct {
	Host            string `env:"POSTGRES_HOST,required"`
	Port            string `env:"POSTGRES_PORT,required"`
	User            string `env:"POSTGRES_USER,required"`
	DBName          string `env:"POSTGRES_DB_NAME,required"`
	Password        string `env:"POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"POSTGRES_DB_MAX_CONN" envDefault:"20"`
	MaxIdleConn     int    `env:"POSTGRES_DB_MAX_IDLE_CONN" envDefault:"10"`
	ConnMaxLifetime int    `env:"POSTGRES_DB_CONN_MAX_LIFETIME" envDefault:"60"`
	LogLevel        string `env:"POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"POSTGRES_SSL_MODE" envDefault:"require"`
}

type SearchStoreConfig struct {
	URL       string `env:"ELASTICSEARCH_URL,required"`
	APIKey    string `env:"ELASTICSEARCH_API_KEY"`
	Username  string `env:"ELASTICSEARCH_USERNAME"`
	Password  string `env:"ELASTICSEARCH_PASSWORD"`
	IndexName string `env:"ELASTICSEARCH_INDEX" envDefault:"emails"`
}

type SyncConfig struct {
	// Accounts is a JSON array of account descriptors upserted into the
	// registry at startup; no hot-reload.
	Accounts string `env:"IMAP_ACCOUNTS"`
	// BackfillWindowDays bounds the historical scan performed once per
	// account at startup.
	BackfillWindowDays int `env:"SYNC_BACKFILL_WINDOW_DAYS" envDefault:"30"`
	FetchBatchSize     int `env:"SYNC_FETCH_BATCH_SIZE" envDefault:"20"`
	// MissingDatePolicy controls decoding of messages without a Date header:
	// "now" substitutes wall-clock time (identity keys for such messages are
	// not stable across runs), "reject" drops the message as a decode error.
	MissingDatePolicy string `env:"SYNC_MISSING_DATE_POLICY" envDefault:"now"`
	// ResyncSchedule re-runs the backfill window periodically as a safety net
	// for missed notifications. Empty disables the job.
	ResyncSchedule string `env:"SYNC_RESYNC_SCHEDULE" envDefault:"0 0 */6 * * *"`
}

type ClassifierConfig struct {
	GeminiURL    string `env:"GEMINI_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta"`
	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`
}

type SuggestConfig struct {
	PineconeAPIKey string `env:"PINECONE_API_KEY"`
	// PineconeIndexHost is the data-plane host of the email-replies index.
	PineconeIndexHost string `env:"PINECONE_INDEX_HOST"`
	EmbeddingModel    string `env:"GEMINI_EMBEDDING_MODEL" envDefault:"text-embedding-004"`
	BookingLink       string `env:"BOOKING_LINK" envDefault:"https://cal.com/example"`
	TopK              int    `env:"SUGGEST_TOP_K" envDefault:"3"`
}

type SlackConfig struct {
	WebhookURL string `env:"SLACK_WEBHOOK_URL"`
}

type ArchiveStorageConfig struct {
	AccountID       string `env:"CLOUDFLARE_R2_ACCOUNT_ID"`
	AccessKeyID     string `env:"CLOUDFLARE_R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"CLOUDFLARE_R2_ACCESS_KEY_SECRET"`
	RawEmailBucket  string `env:"BUCKET_NAME_RAW_EMAIL"`
}

type Config struct {
	AppConfig            *AppConfig
	Logger               *logger.Config
	Tracing              *tracing.JaegerConfig
	DatabaseConfig       *DatabaseConfig
	SearchStoreConfig    *SearchStoreConfig
	SyncConfig           *SyncConfig
	ClassifierConfig     *ClassifierConfig
	SuggestConfig        *SuggestConfig
	SlackConfig          *SlackConfig
	ArchiveStorageConfig *ArchiveStorageConfig
}
