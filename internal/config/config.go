package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	QueueDriverDatabase = "database"
	QueueDriverKafka    = "kafka"
)

type Config struct {
	DatabaseURL string `yaml:"database_url"`
	HTTPAddr    string `yaml:"http_addr"`

	PollInterval       int `yaml:"poll_interval"`        // seconds
	ShutdownTimeout    int `yaml:"shutdown_timeout"`     // seconds
	RemoteCallTimeout  int `yaml:"remote_call_timeout"`  // seconds
	StaleTransferAfter int `yaml:"stale_transfer_after"` // seconds

	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	GoogleRedirectURL  string `yaml:"google_redirect_url"`

	QueueDriver      string   `yaml:"queue_driver"`
	KafkaBrokers     []string `yaml:"kafka_brokers"`
	KafkaTopic       string   `yaml:"kafka_topic"`
	// KafkaMaxMessageBytes bounds one encoded message. The broker and topic
	// max.message.bytes must allow at least this much.
	KafkaMaxMessageBytes int `yaml:"kafka_max_message_bytes"`
	ConsumerGroup    string   `yaml:"consumer_group"`
	ConsumerWorkers  int      `yaml:"consumer_workers"`
	QueueLeaseSecs   int      `yaml:"queue_lease_seconds"`
	QueueMaxAttempts int      `yaml:"queue_max_attempts"`

	// ConsumerRefreshToken makes consumers re-resolve the target credential
	// instead of trusting the token embedded in the message.
	ConsumerRefreshToken bool `yaml:"consumer_refresh_token"`
	RunConsumers         bool `yaml:"run_consumers"`

	TransferConcurrency     int     `yaml:"transfer_concurrency"`
	APIRateLimitPerHour     int     `yaml:"api_rate_limit_per_hour"`
	PhotosRequestsPerSecond float64 `yaml:"photos_requests_per_second"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the configuration used when nothing overrides a field
func Default() *Config {
	return &Config{
		HTTPAddr:                ":8080",
		PollInterval:            10, // poll every 10 seconds
		ShutdownTimeout:         30,
		RemoteCallTimeout:       60,
		StaleTransferAfter:      1800,
		QueueDriver:             QueueDriverDatabase,
		KafkaTopic:              "photo-transfers",
		KafkaMaxMessageBytes:    64 << 20,
		ConsumerGroup:           "photo-transfer-group",
		ConsumerWorkers:         2,
		QueueLeaseSecs:          120,
		QueueMaxAttempts:        5,
		ConsumerRefreshToken:    true,
		RunConsumers:            true,
		TransferConcurrency:     1,
		APIRateLimitPerHour:     100,
		PhotosRequestsPerSecond: 5,
		LogLevel:                "info",
		LogFormat:               "text",
	}
}

// Load reads configuration from .env, an optional YAML file (CONFIG_FILE) and
// environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
		fmt.Println("Warning: GOOGLE_CLIENT_ID or GOOGLE_CLIENT_SECRET not set, Photos API and token refresh will not work")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.HTTPAddr, "HTTP_ADDR")
	setString(&c.GoogleClientID, "GOOGLE_CLIENT_ID")
	setString(&c.GoogleClientSecret, "GOOGLE_CLIENT_SECRET")
	setString(&c.GoogleRedirectURL, "GOOGLE_REDIRECT_URL")
	setString(&c.QueueDriver, "QUEUE_DRIVER")
	setString(&c.KafkaTopic, "KAFKA_TOPIC")
	setString(&c.ConsumerGroup, "CONSUMER_GROUP")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.KafkaBrokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.KafkaBrokers = append(c.KafkaBrokers, b)
			}
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"POLL_INTERVAL", &c.PollInterval},
		{"SHUTDOWN_TIMEOUT", &c.ShutdownTimeout},
		{"REMOTE_CALL_TIMEOUT", &c.RemoteCallTimeout},
		{"STALE_TRANSFER_AFTER", &c.StaleTransferAfter},
		{"CONSUMER_WORKERS", &c.ConsumerWorkers},
		{"QUEUE_LEASE_SECONDS", &c.QueueLeaseSecs},
		{"QUEUE_MAX_ATTEMPTS", &c.QueueMaxAttempts},
		{"KAFKA_MAX_MESSAGE_BYTES", &c.KafkaMaxMessageBytes},
		{"TRANSFER_CONCURRENCY", &c.TransferConcurrency},
		{"API_RATE_LIMIT_PER_HOUR", &c.APIRateLimitPerHour},
	}
	for _, i := range ints {
		if err := setInt(i.dst, i.key); err != nil {
			return err
		}
	}

	if v := os.Getenv("PHOTOS_REQUESTS_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid PHOTOS_REQUESTS_PER_SECOND %q: %w", v, err)
		}
		c.PhotosRequestsPerSecond = f
	}

	if err := setBool(&c.ConsumerRefreshToken, "CONSUMER_REFRESH_TOKEN"); err != nil {
		return err
	}
	return setBool(&c.RunConsumers, "RUN_CONSUMERS")
}

// Validate checks values that would otherwise fail later at runtime
func (c *Config) Validate() error {
	switch c.QueueDriver {
	case QueueDriverDatabase:
	case QueueDriverKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when QUEUE_DRIVER is kafka")
		}
	default:
		return fmt.Errorf("unknown QUEUE_DRIVER %q", c.QueueDriver)
	}

	positive := map[string]int{
		"POLL_INTERVAL":           c.PollInterval,
		"SHUTDOWN_TIMEOUT":        c.ShutdownTimeout,
		"REMOTE_CALL_TIMEOUT":     c.RemoteCallTimeout,
		"STALE_TRANSFER_AFTER":    c.StaleTransferAfter,
		"CONSUMER_WORKERS":        c.ConsumerWorkers,
		"QUEUE_LEASE_SECONDS":     c.QueueLeaseSecs,
		"QUEUE_MAX_ATTEMPTS":      c.QueueMaxAttempts,
		"KAFKA_MAX_MESSAGE_BYTES": c.KafkaMaxMessageBytes,
		"TRANSFER_CONCURRENCY":    c.TransferConcurrency,
		"API_RATE_LIMIT_PER_HOUR": c.APIRateLimitPerHour,
	}
	for key, v := range positive {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", key, v)
		}
	}
	if c.PhotosRequestsPerSecond <= 0 {
		return fmt.Errorf("PHOTOS_REQUESTS_PER_SECOND must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = b
	return nil
}
