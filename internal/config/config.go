// internal/config/config.go
package config

import (
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Forecast ForecastConfig
	Storage  StorageConfig
	Events   EventsConfig
	Drive    DriveConfig
	Schedule ScheduleConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port           string
	Mode           string
	ReadTimeout    int
	WriteTimeout   int
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Driver       string
	URL          string
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxTxConcur  int64
}

type CacheConfig struct {
	Enabled          bool
	RedisURL         string
	RedisHost        string
	RedisPort        string
	RedisPassword    string
	RedisDB          int
	ReportTTLSeconds int
	LockTTLSeconds   int
}

// ForecastConfig drives the feature pipeline, model and action engine.
type ForecastConfig struct {
	Source          string // "postgres" or "csv"
	CSVDir          string
	LookbackDays    int
	HorizonDays     int
	Trees           int
	MaxDepth        int
	MinSamplesLeaf  int
	Seed            int64
	Workers         int
	WarehouseID     int64
	OpportunityTag  string
	ReorderMinMult  float64
	ReorderMaxMult  float64
	OpportunityMult float64
	WritesPerSecond float64
	DryRun          bool
	RunTimeout      time.Duration
}

type StorageConfig struct {
	ExportEnabled bool
	ExportDir     string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	UseSSL        bool
	Prefix        string
}

type EventsConfig struct {
	Brokers []string
	Topic   string
}

type DriveConfig struct {
	CredentialsJSON string
	FolderID        string
	FolderPath      string // used when FolderID is empty
	DownloadDir     string
}

type ScheduleConfig struct {
	Cron       string
	MaxRetries int
	RetryDelay time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

var (
	once     sync.Once
	instance *Config
)

func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()

		setDefaults()

		// Read from environment variables
		viper.AutomaticEnv()

		instance = build()

		if instance.Storage.ExportEnabled {
			ensureDir(instance.Storage.ExportDir)
		}
	})

	return instance
}

func setDefaults() {
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_MODE", "release")
	viper.SetDefault("SERVER_READ_TIMEOUT", 15)
	viper.SetDefault("SERVER_WRITE_TIMEOUT", 60)
	viper.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})

	viper.SetDefault("DB_DRIVER", "pgx")
	viper.SetDefault("DATABASE_URL", "")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "postgres")
	viper.SetDefault("DB_PASSWORD", "postgres")
	viper.SetDefault("DB_NAME", "autopo")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_TX_CONCURRENCY", 10)

	viper.SetDefault("CACHE_ENABLED", false)
	viper.SetDefault("REDIS_URL", "")
	viper.SetDefault("REDIS_HOST", "127.0.0.1")
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("CACHE_REPORT_TTL_SECONDS", 86400)
	viper.SetDefault("CACHE_LOCK_TTL_SECONDS", 1800)

	viper.SetDefault("FORECAST_SOURCE", "postgres")
	viper.SetDefault("FORECAST_CSV_DIR", "./data/exports")
	viper.SetDefault("FORECAST_LOOKBACK_DAYS", 365)
	viper.SetDefault("FORECAST_HORIZON_DAYS", 30)
	viper.SetDefault("FORECAST_TREES", 50)
	viper.SetDefault("FORECAST_MAX_DEPTH", 0)
	viper.SetDefault("FORECAST_MIN_SAMPLES_LEAF", 1)
	viper.SetDefault("FORECAST_SEED", 42)
	viper.SetDefault("FORECAST_WORKERS", 4)
	viper.SetDefault("FORECAST_WAREHOUSE_ID", 0)
	viper.SetDefault("FORECAST_OPPORTUNITY_TAG", "Sales Opportunity")
	viper.SetDefault("FORECAST_REORDER_MIN_MULT", 1.2)
	viper.SetDefault("FORECAST_REORDER_MAX_MULT", 1.5)
	viper.SetDefault("FORECAST_OPPORTUNITY_MULT", 1.5)
	viper.SetDefault("FORECAST_WRITES_PER_SECOND", 0)
	viper.SetDefault("FORECAST_DRY_RUN", false)
	viper.SetDefault("FORECAST_RUN_TIMEOUT", "30m")

	viper.SetDefault("EXPORT_ENABLED", false)
	viper.SetDefault("EXPORT_DIR", "./data/output/features")
	viper.SetDefault("S3_ENDPOINT", "")
	viper.SetDefault("S3_ACCESS_KEY", "")
	viper.SetDefault("S3_SECRET_KEY", "")
	viper.SetDefault("S3_BUCKET", "")
	viper.SetDefault("S3_REGION", "us-east-1")
	viper.SetDefault("S3_USE_SSL", true)
	viper.SetDefault("S3_PREFIX", "forecast")

	viper.SetDefault("KAFKA_BROKERS", "")
	viper.SetDefault("KAFKA_TOPIC", "forecast.actions")

	viper.SetDefault("GOOGLE_DRIVE_CREDENTIALS_JSON", "")
	viper.SetDefault("DRIVE_FOLDER_ID", "")
	viper.SetDefault("DRIVE_FOLDER_PATH", "")
	viper.SetDefault("DRIVE_DOWNLOAD_DIR", "./data/exports")

	viper.SetDefault("SCHEDULE_CRON", "0 0 2 * * *")
	viper.SetDefault("SCHEDULE_MAX_RETRIES", 2)
	viper.SetDefault("SCHEDULE_RETRY_DELAY", "1m")

	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "console")
}

func build() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           viper.GetString("SERVER_PORT"),
			Mode:           viper.GetString("SERVER_MODE"),
			ReadTimeout:    viper.GetInt("SERVER_READ_TIMEOUT"),
			WriteTimeout:   viper.GetInt("SERVER_WRITE_TIMEOUT"),
			AllowedOrigins: viper.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			Driver:       viper.GetString("DB_DRIVER"),
			URL:          viper.GetString("DATABASE_URL"),
			Host:         viper.GetString("DB_HOST"),
			Port:         viper.GetString("DB_PORT"),
			User:         viper.GetString("DB_USER"),
			Password:     viper.GetString("DB_PASSWORD"),
			DBName:       viper.GetString("DB_NAME"),
			SSLMode:      viper.GetString("DB_SSLMODE"),
			MaxOpenConns: viper.GetInt("DB_MAX_OPEN_CONNS"),
			MaxTxConcur:  viper.GetInt64("DB_MAX_TX_CONCURRENCY"),
		},
		Cache: CacheConfig{
			Enabled:          viper.GetBool("CACHE_ENABLED"),
			RedisURL:         viper.GetString("REDIS_URL"),
			RedisHost:        viper.GetString("REDIS_HOST"),
			RedisPort:        viper.GetString("REDIS_PORT"),
			RedisPassword:    viper.GetString("REDIS_PASSWORD"),
			RedisDB:          viper.GetInt("REDIS_DB"),
			ReportTTLSeconds: viper.GetInt("CACHE_REPORT_TTL_SECONDS"),
			LockTTLSeconds:   viper.GetInt("CACHE_LOCK_TTL_SECONDS"),
		},
		Forecast: ForecastConfig{
			Source:          viper.GetString("FORECAST_SOURCE"),
			CSVDir:          viper.GetString("FORECAST_CSV_DIR"),
			LookbackDays:    viper.GetInt("FORECAST_LOOKBACK_DAYS"),
			HorizonDays:     viper.GetInt("FORECAST_HORIZON_DAYS"),
			Trees:           viper.GetInt("FORECAST_TREES"),
			MaxDepth:        viper.GetInt("FORECAST_MAX_DEPTH"),
			MinSamplesLeaf:  viper.GetInt("FORECAST_MIN_SAMPLES_LEAF"),
			Seed:            viper.GetInt64("FORECAST_SEED"),
			Workers:         viper.GetInt("FORECAST_WORKERS"),
			WarehouseID:     viper.GetInt64("FORECAST_WAREHOUSE_ID"),
			OpportunityTag:  viper.GetString("FORECAST_OPPORTUNITY_TAG"),
			ReorderMinMult:  viper.GetFloat64("FORECAST_REORDER_MIN_MULT"),
			ReorderMaxMult:  viper.GetFloat64("FORECAST_REORDER_MAX_MULT"),
			OpportunityMult: viper.GetFloat64("FORECAST_OPPORTUNITY_MULT"),
			WritesPerSecond: viper.GetFloat64("FORECAST_WRITES_PER_SECOND"),
			DryRun:          viper.GetBool("FORECAST_DRY_RUN"),
			RunTimeout:      viper.GetDuration("FORECAST_RUN_TIMEOUT"),
		},
		Storage: StorageConfig{
			ExportEnabled: viper.GetBool("EXPORT_ENABLED"),
			ExportDir:     viper.GetString("EXPORT_DIR"),
			Endpoint:      viper.GetString("S3_ENDPOINT"),
			AccessKey:     viper.GetString("S3_ACCESS_KEY"),
			SecretKey:     viper.GetString("S3_SECRET_KEY"),
			Bucket:        viper.GetString("S3_BUCKET"),
			Region:        viper.GetString("S3_REGION"),
			UseSSL:        viper.GetBool("S3_USE_SSL"),
			Prefix:        viper.GetString("S3_PREFIX"),
		},
		Events: EventsConfig{
			Brokers: splitList(viper.GetString("KAFKA_BROKERS")),
			Topic:   viper.GetString("KAFKA_TOPIC"),
		},
		Drive: DriveConfig{
			CredentialsJSON: viper.GetString("GOOGLE_DRIVE_CREDENTIALS_JSON"),
			FolderID:        viper.GetString("DRIVE_FOLDER_ID"),
			FolderPath:      viper.GetString("DRIVE_FOLDER_PATH"),
			DownloadDir:     viper.GetString("DRIVE_DOWNLOAD_DIR"),
		},
		Schedule: ScheduleConfig{
			Cron:       viper.GetString("SCHEDULE_CRON"),
			MaxRetries: viper.GetInt("SCHEDULE_MAX_RETRIES"),
			RetryDelay: viper.GetDuration("SCHEDULE_RETRY_DELAY"),
		},
		Log: LogConfig{
			Level:  viper.GetString("LOG_LEVEL"),
			Format: viper.GetString("LOG_FORMAT"),
		},
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func ensureDir(dir string) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}
}
