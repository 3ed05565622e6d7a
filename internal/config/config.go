package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	Environment         string
	EncryptionKeyBase64 string
	APIToken            string
	DBHost              string
	DBPort              string
	DBUsername          string
	DBPassword          string
	DBName              string
	DBSSLMode           string
	Port                string
	Timezone            string
	LogLevel            string
	LogFormat           string

	RedisURL string

	BlobBackend string
	BlobDir     string
	BlobBaseURL string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool

	IMAPDefaultHost    string
	IMAPDefaultPort    int
	IMAPMaxConnections int

	PollInterval   time.Duration
	IdleStartDelay time.Duration
	JobWorkers     int

	MailboxesFile string
	Mailboxes     []MailboxConfig
}

func NewConfig() (*Config, error) {
	env := os.Getenv("MAILSYNC_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			log.Warn("config_env_file_missing")
		}
	}

	config := &Config{
		Environment:         env,
		EncryptionKeyBase64: os.Getenv("MAILSYNC_ENCRYPTION_KEY_BASE64"),
		APIToken:            os.Getenv("MAILSYNC_API_TOKEN"),
		DBHost:              getEnvOrDefault("MAILSYNC_DB_HOST", "localhost"),
		DBPort:              getEnvOrDefault("MAILSYNC_DB_PORT", "5432"),
		DBUsername:          getEnvOrDefault("MAILSYNC_DB_USER", "mailsync"),
		DBPassword:          os.Getenv("MAILSYNC_DB_PASSWORD"),
		DBName:              getEnvOrDefault("MAILSYNC_DB_NAME", "mailsync"),
		DBSSLMode:           getEnvOrDefault("MAILSYNC_DB_SSLMODE", "disable"),
		Port:                getEnvOrDefault("PORT", "8080"),
		Timezone:            getEnvOrDefault("TZ", "UTC"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "text"),
		RedisURL:            os.Getenv("REDIS_URL"),
		BlobBackend:         getEnvOrDefault("BLOB_BACKEND", "fs"),
		BlobDir:             getEnvOrDefault("BLOB_DIR", "./data/blobs"),
		BlobBaseURL:         getEnvOrDefault("BLOB_BASE_URL", "http://localhost:8080/media"),
		S3Endpoint:          os.Getenv("S3_ENDPOINT"),
		S3AccessKey:         os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:         os.Getenv("S3_SECRET_KEY"),
		S3Bucket:            getEnvOrDefault("S3_BUCKET", "mailsync-media"),
		S3UseSSL:            getEnvOrDefaultBool("S3_USE_SSL", true),
		IMAPDefaultHost:     getEnvOrDefault("IMAP_DEFAULT_HOST", "imap.gmail.com"),
		IMAPDefaultPort:     getEnvOrDefaultInt("IMAP_DEFAULT_PORT", 993),
		IMAPMaxConnections:  getEnvOrDefaultInt("IMAP_MAX_CONNECTIONS", 3),
		PollInterval:        getEnvOrDefaultDuration("SYNC_POLL_INTERVAL", 30*time.Second),
		IdleStartDelay:      getEnvOrDefaultDuration("SYNC_IDLE_START_DELAY", time.Second),
		JobWorkers:          getEnvOrDefaultInt("JOB_WORKERS", 2),
		MailboxesFile:       os.Getenv("MAILBOXES_FILE"),
	}

	if config.MailboxesFile != "" {
		mailboxes, err := LoadMailboxes(config.MailboxesFile)
		if err != nil {
			return nil, err
		}
		config.Mailboxes = mailboxes
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("MAILSYNC_ENCRYPTION_KEY_BASE64 is required")
	}

	if c.APIToken == "" {
		return fmt.Errorf("MAILSYNC_API_TOKEN is required")
	}

	if c.DBPassword == "" {
		return fmt.Errorf("MAILSYNC_DB_PASSWORD is required")
	}

	switch c.BlobBackend {
	case "fs":
		if c.BlobDir == "" {
			return fmt.Errorf("BLOB_DIR is required for the fs blob backend")
		}
	case "s3":
		if c.S3Endpoint == "" || c.S3AccessKey == "" || c.S3SecretKey == "" {
			return fmt.Errorf("S3_ENDPOINT, S3_ACCESS_KEY and S3_SECRET_KEY are required for the s3 blob backend")
		}
	default:
		return fmt.Errorf("unknown BLOB_BACKEND %q", c.BlobBackend)
	}

	if c.IMAPMaxConnections < 1 {
		return fmt.Errorf("IMAP_MAX_CONNECTIONS must be at least 1")
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvOrDefaultBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvOrDefaultDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
