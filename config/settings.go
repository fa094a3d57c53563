package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Destination backends accepted by DESTINATION.
const (
	DestinationBigQuery = "bigquery"
	DestinationMySQL    = "mysql"
	DestinationPostgres = "postgres"
	DestinationSQLite   = "sqlite"
	DestinationMemory   = "memory"
)

// Lock backends accepted by SYNC_LOCK_BACKEND.
const (
	LockRedis = "redis"
	LockMySQL = "mysql"
	LockLocal = "local"
)

var ErrMissingToken = errors.New("BSALE_API_TOKEN is required")

type BsaleSettings struct {
	Token       string
	BaseURL     string
	PageSize    int
	PageDelay   time.Duration
	Timeout     time.Duration
	PriceListID int64
}

type BigQuerySettings struct {
	Project         string
	Dataset         string
	CredentialsJSON string
}

type MySQLSettings struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type PubSubSettings struct {
	ProjectID       string
	Topic           string
	CredentialsJSON string
}

type MirrorSettings struct {
	SheetsDocID       string
	SheetsCredentials string
	RawArchiveBucket  string
	WorkbookBucket    string
	WorkbookDir       string
	GCSCredentials    string
}

// Settings is read once at startup and handed to every constructor.
type Settings struct {
	Env         string
	Port        string
	LogLevel    string
	CorsOrigins []string

	Bsale       BsaleSettings
	PhoneRegion string

	Destination string
	BigQuery    BigQuerySettings
	MySQL       MySQLSettings
	DatabaseURL string
	SQLitePath  string
	AutoMigrate bool

	BatchSize     int
	MergeAttempts int
	FKChecks      bool

	RedisAddress string
	LockBackend  string
	LockTTL      time.Duration

	PubSub PubSubSettings
	Mirror MirrorSettings
}

// Load reads .env (when present) and the process environment.
func Load() (*Settings, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds Settings from the current environment only.
func FromEnv() (*Settings, error) {
	s := &Settings{
		Env:         os.Getenv("GO_ENV"),
		Port:        stringFromEnv("PORT", "8080"),
		LogLevel:    stringFromEnv("LOG_LEVEL", "info"),
		CorsOrigins: listFromEnv("CORS_ALLOWED_ORIGINS"),
		Bsale: BsaleSettings{
			Token:       strings.TrimSpace(os.Getenv("BSALE_API_TOKEN")),
			BaseURL:     stringFromEnv("BSALE_API_BASE_URL", "https://api.bsale.io/v1"),
			PageSize:    intFromEnv("BSALE_PAGE_SIZE", 100),
			PageDelay:   time.Duration(intFromEnv("BSALE_PAGE_DELAY_MS", 200)) * time.Millisecond,
			Timeout:     time.Duration(intFromEnv("BSALE_TIMEOUT_SECONDS", 60)) * time.Second,
			PriceListID: int64(intFromEnv("BSALE_PRICE_LIST_ID", 2)),
		},
		PhoneRegion: strings.ToUpper(stringFromEnv("PHONE_REGION", "CL")),
		Destination: strings.ToLower(stringFromEnv("DESTINATION", DestinationBigQuery)),
		BigQuery: BigQuerySettings{
			Project:         firstEnv("BIGQUERY_PROJECT", "GOOGLE_CLOUD_PROJECT", "GCP_PROJECT"),
			Dataset:         os.Getenv("BIGQUERY_DATASET"),
			CredentialsJSON: os.Getenv("BIGQUERY_CREDENTIALS_JSON"),
		},
		MySQL: MySQLSettings{
			User:            os.Getenv("DB_USER"),
			Password:        os.Getenv("DB_PASSWORD"),
			Host:            os.Getenv("DB_HOST"),
			Port:            stringFromEnv("DB_PORT", "3306"),
			Name:            os.Getenv("DB_NAME"),
			MaxOpenConns:    intFromEnv("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    intFromEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: time.Duration(intFromEnv("DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second,
			ConnMaxIdleTime: time.Duration(intFromEnv("DB_CONN_MAX_IDLE_TIME_SECONDS", 60)) * time.Second,
		},
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		SQLitePath:    stringFromEnv("SQLITE_PATH", "bsale_etl.db"),
		AutoMigrate:   envBoolDefault("AUTO_MIGRATE", false),
		BatchSize:     intFromEnv("UPSERT_BATCH_SIZE", 50),
		MergeAttempts: intFromEnv("UPSERT_MERGE_ATTEMPTS", 3),
		FKChecks:      envBoolDefault("FK_CHECKS", true),
		RedisAddress:  os.Getenv("REDIS_ADDRESS"),
		LockBackend:   strings.ToLower(stringFromEnv("SYNC_LOCK_BACKEND", LockLocal)),
		LockTTL:       time.Duration(intFromEnv("SYNC_LOCK_TTL_SECONDS", 1800)) * time.Second,
		PubSub: PubSubSettings{
			ProjectID:       firstEnv("PUBSUB_PROJECT_ID", "GOOGLE_CLOUD_PROJECT", "GCP_PROJECT"),
			Topic:           os.Getenv("ETL_PUBSUB_TOPIC"),
			CredentialsJSON: os.Getenv("PUBSUB_CREDENTIALS_JSON"),
		},
		Mirror: MirrorSettings{
			SheetsDocID:       os.Getenv("GOOGLE_SHEETS_DOC_ID"),
			SheetsCredentials: os.Getenv("GOOGLE_SHEETS_CREDENTIALS"),
			RawArchiveBucket:  os.Getenv("RAW_ARCHIVE_BUCKET"),
			WorkbookBucket:    os.Getenv("EXPORT_WORKBOOK_BUCKET"),
			WorkbookDir:       os.Getenv("EXPORT_WORKBOOK_DIR"),
			GCSCredentials:    os.Getenv("GCS_CREDENTIALS_JSON"),
		},
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Validate() error {
	if s.Bsale.Token == "" {
		return ErrMissingToken
	}
	if s.Bsale.PageSize <= 0 {
		return fmt.Errorf("BSALE_PAGE_SIZE must be positive, got %d", s.Bsale.PageSize)
	}
	if s.BatchSize <= 0 {
		return fmt.Errorf("UPSERT_BATCH_SIZE must be positive, got %d", s.BatchSize)
	}
	switch s.Destination {
	case DestinationBigQuery:
		if s.BigQuery.Project == "" || s.BigQuery.Dataset == "" {
			return errors.New("BIGQUERY_PROJECT and BIGQUERY_DATASET are required for the bigquery destination")
		}
	case DestinationMySQL:
		if s.MySQL.Host == "" || s.MySQL.Name == "" {
			return errors.New("DB_HOST and DB_NAME are required for the mysql destination")
		}
	case DestinationPostgres:
		if s.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres destination")
		}
	case DestinationSQLite, DestinationMemory:
	default:
		return fmt.Errorf("unknown DESTINATION %q", s.Destination)
	}
	switch s.LockBackend {
	case LockRedis, LockLocal:
	case LockMySQL:
		if s.MySQL.Host == "" {
			return errors.New("DB_HOST is required for the mysql sync lock")
		}
	default:
		return fmt.Errorf("unknown SYNC_LOCK_BACKEND %q", s.LockBackend)
	}
	return nil
}

// SheetsEnabled reports whether the Google Sheets mirror is configured.
func (s *Settings) SheetsEnabled() bool {
	return s.Mirror.SheetsDocID != "" && s.Mirror.SheetsCredentials != ""
}

func (s *Settings) IsProduction() bool {
	return strings.EqualFold(s.Env, "production")
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBoolDefault(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

func stringFromEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func listFromEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// retryDelay mirrors the connect loops: exponential, capped at 30s.
func retryDelay(attempt int) time.Duration {
	sleep := time.Second * time.Duration(1<<min(attempt, 5))
	if sleep > 30*time.Second {
		sleep = 30 * time.Second
	}
	return sleep
}
