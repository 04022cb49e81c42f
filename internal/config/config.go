package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	StoreDriver  string
	DatabaseURL  string
	SQLitePath   string
	StoreTimeout time.Duration

	IngestPrefix   string
	IngestDedup    bool
	FetchTimeout   time.Duration
	MaxObjectBytes int64

	AggregationInterval time.Duration

	// S3-compatible object store. Without a static key pair, credentials
	// come from the default AWS chain.
	S3Region          string
	S3Endpoint        string
	S3PathStyle       bool
	S3AccessKeyID     string
	S3SecretAccessKey string

	// UploadBucket receives files posted to the upload endpoint; uploads
	// are refused when it is empty.
	UploadBucket string

	// Kafka event trigger; disabled when KafkaBrokers is empty.
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		StoreDriver:       sharedcfg.EnvOrDefault("STORE_DRIVER", "postgres"),
		SQLitePath:        sharedcfg.EnvOrDefault("SQLITE_PATH", "ocean.db"),
		IngestPrefix:      sharedcfg.EnvOrDefault("INGEST_PREFIX", "datasets/"),
		S3Region:          sharedcfg.EnvOrDefault("S3_REGION", "us-east-1"),
		S3Endpoint:        os.Getenv("S3_ENDPOINT"),
		S3AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		UploadBucket:      os.Getenv("UPLOAD_BUCKET"),
		KafkaSourceTopic:  sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "object-events"),
		KafkaSinkTopic:    os.Getenv("KAFKA_SINK_TOPIC"),
		KafkaGroupID:      sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "ocean-data-etl"),
		HTTPAddr:          httpAddr(),
		LogLevel:          sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:         sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:   shutdownTimeout,
	}
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(raw)
	}

	if cfg.StoreTimeout, err = parsePositiveDuration("STORE_TIMEOUT", "30s"); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = parsePositiveDuration("FETCH_TIMEOUT", "30s"); err != nil {
		return nil, err
	}
	if cfg.AggregationInterval, err = time.ParseDuration(sharedcfg.EnvOrDefault("AGGREGATION_INTERVAL", "0s")); err != nil || cfg.AggregationInterval < 0 {
		return nil, errors.New("invalid AGGREGATION_INTERVAL")
	}
	if cfg.IngestDedup, err = parseBool("INGEST_DEDUP", true); err != nil {
		return nil, err
	}
	if cfg.S3PathStyle, err = parseBool("S3_PATH_STYLE", false); err != nil {
		return nil, err
	}
	if cfg.MaxObjectBytes, err = strconv.ParseInt(sharedcfg.EnvOrDefault("MAX_OBJECT_BYTES", "104857600"), 10, 64); err != nil || cfg.MaxObjectBytes <= 0 {
		return nil, errors.New("invalid MAX_OBJECT_BYTES")
	}

	if (cfg.S3AccessKeyID == "") != (cfg.S3SecretAccessKey == "") {
		return nil, errors.New("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
	}

	switch cfg.StoreDriver {
	case "postgres":
		dsn, err := databaseURL()
		if err != nil {
			return nil, err
		}
		cfg.DatabaseURL = dsn
	case "sqlite":
		if cfg.SQLitePath == "" {
			return nil, errors.New("SQLITE_PATH is required when STORE_DRIVER is sqlite")
		}
	default:
		return nil, fmt.Errorf("invalid STORE_DRIVER %q: want postgres or sqlite", cfg.StoreDriver)
	}

	if cfg.KafkaEnabled() && cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// StoreDSN returns the connection string for the configured driver.
func (c *Config) StoreDSN() string {
	if c.StoreDriver == "sqlite" {
		return c.SQLitePath
	}
	return c.DatabaseURL
}

// KafkaEnabled reports whether the event-stream trigger should run.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// httpAddr honors HTTP_ADDR first, then a bare PORT as set by container platforms.
func httpAddr() string {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		return v
	}
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":8080"
}

// databaseURL merges DB_USER and DB_PASSWORD into DATABASE_URL when set.
func databaseURL() (string, error) {
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return "", errors.New("DATABASE_URL is required when STORE_DRIVER is postgres")
	}
	user, password := os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD")
	if user == "" && password == "" {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "", errors.New("invalid DATABASE_URL: DB_USER/DB_PASSWORD require URL form")
	}
	if user == "" && u.User != nil {
		user = u.User.Username()
	}
	if password != "" {
		u.User = url.UserPassword(user, password)
	} else {
		u.User = url.User(user)
	}
	return u.String(), nil
}

func parsePositiveDuration(name, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(name, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return d, nil
}

func parseBool(name string, def bool) (bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", name, err)
	}
	return b, nil
}
