package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store drivers
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
)

// Blob providers
const (
	BlobProviderGCS = "gcs"
	BlobProviderS3  = "s3"
)

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Mongo     MongoConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Blob      BlobConfig
	Catalog   CatalogConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
}

// IsDevelopment reports whether the server runs outside production
func (c ServerConfig) IsDevelopment() bool {
	return c.Env != "production"
}

type StoreConfig struct {
	Driver string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

type MongoConfig struct {
	URI      string
	Database string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type BlobConfig struct {
	Provider        string
	Bucket          string
	CredentialsFile string
	Endpoint        string // S3-compatible endpoint, e.g. Cloudflare R2
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
	MaxBytes        int64
}

type CatalogConfig struct {
	MaxInValues       int
	RescoreInterval   time.Duration
	RescoreBatchSize  int
	RelayInterval     time.Duration
	RelayBatchSize    int
	ReconcileInterval time.Duration
	TxRetryAttempts   int // 0 retries version conflicts until the request context ends
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

func Load() *Config {
	// .env is optional; real environment variables take precedence
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_ENV", "development")
	viper.SetDefault("LOG_LEVEL", "")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "")
	viper.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_MAX_CONNS", 10)
	viper.SetDefault("DB_MIN_CONNS", 2)
	viper.SetDefault("MONGO_URI", "mongodb://localhost:27017/?replicaSet=rs0")
	viper.SetDefault("MONGO_DATABASE", "catalog")
	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("BLOB_PROVIDER", BlobProviderGCS)
	viper.SetDefault("BLOB_REGION", "auto")
	viper.SetDefault("BLOB_MAX_BYTES", 5<<20)
	viper.SetDefault("CATALOG_MAX_IN_VALUES", 30)
	viper.SetDefault("CATALOG_RESCORE_INTERVAL", "1h")
	viper.SetDefault("CATALOG_RESCORE_BATCH_SIZE", 500)
	viper.SetDefault("CATALOG_RELAY_INTERVAL", "5s")
	viper.SetDefault("CATALOG_RELAY_BATCH_SIZE", 100)
	viper.SetDefault("CATALOG_RECONCILE_INTERVAL", "24h")
	viper.SetDefault("CATALOG_TX_RETRY_ATTEMPTS", 0)
	viper.SetDefault("RATE_LIMIT_REQUESTS", 60)
	viper.SetDefault("RATE_LIMIT_WINDOW", "1m")

	return &Config{
		Server: ServerConfig{
			Port:           viper.GetString("SERVER_PORT"),
			Env:            viper.GetString("SERVER_ENV"),
			LogLevel:       viper.GetString("LOG_LEVEL"),
			AllowedOrigins: splitList(viper.GetString("CORS_ALLOWED_ORIGINS")),
		},
		Store: StoreConfig{
			Driver: viper.GetString("STORE_DRIVER"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetString("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			Database: viper.GetString("DB_DATABASE"),
			SSLMode:  viper.GetString("DB_SSLMODE"),
			MaxConns: viper.GetInt32("DB_MAX_CONNS"),
			MinConns: viper.GetInt32("DB_MIN_CONNS"),
		},
		Mongo: MongoConfig{
			URI:      viper.GetString("MONGO_URI"),
			Database: viper.GetString("MONGO_DATABASE"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("JWT_SECRET"),
		},
		Blob: BlobConfig{
			Provider:        viper.GetString("BLOB_PROVIDER"),
			Bucket:          viper.GetString("BLOB_BUCKET"),
			CredentialsFile: viper.GetString("BLOB_CREDENTIALS_FILE"),
			Endpoint:        viper.GetString("BLOB_ENDPOINT"),
			Region:          viper.GetString("BLOB_REGION"),
			AccessKeyID:     viper.GetString("BLOB_ACCESS_KEY_ID"),
			SecretAccessKey: viper.GetString("BLOB_SECRET_ACCESS_KEY"),
			PublicBaseURL:   viper.GetString("BLOB_PUBLIC_BASE_URL"),
			MaxBytes:        viper.GetInt64("BLOB_MAX_BYTES"),
		},
		Catalog: CatalogConfig{
			MaxInValues:       viper.GetInt("CATALOG_MAX_IN_VALUES"),
			RescoreInterval:   viper.GetDuration("CATALOG_RESCORE_INTERVAL"),
			RescoreBatchSize:  viper.GetInt("CATALOG_RESCORE_BATCH_SIZE"),
			RelayInterval:     viper.GetDuration("CATALOG_RELAY_INTERVAL"),
			RelayBatchSize:    viper.GetInt("CATALOG_RELAY_BATCH_SIZE"),
			ReconcileInterval: viper.GetDuration("CATALOG_RECONCILE_INTERVAL"),
			TxRetryAttempts:   viper.GetInt("CATALOG_TX_RETRY_ATTEMPTS"),
		},
		RateLimit: RateLimitConfig{
			Requests: viper.GetInt("RATE_LIMIT_REQUESTS"),
			Window:   viper.GetDuration("RATE_LIMIT_WINDOW"),
		},
	}
}

// splitList parses a comma separated environment value
func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// PostgresDSN builds the pgx connection string
func (c DatabaseConfig) PostgresDSN() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.Database + "?sslmode=" + c.SSLMode
}
