package shipping

import (
	"os"
	"strconv"
	"time"
)

const (
	CompressionGzip = "gzip"
	CompressionNone = "none"
)

// Config is the immutable configuration snapshot for one transport instance.
type Config struct {
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
	Project         string
	Logstore        string

	SecurityToken string
	Topic         string
	Source        string
	Compression   string
	Level         Level

	MaxBatchSize        int
	FlushInterval       time.Duration
	MaxRetries          int
	RetryBaseDelay      time.Duration
	HealthCheckInterval time.Duration
	RequestTimeout      time.Duration
}

func (c *Config) SetDefaults() {
	if c.Topic == "" {
		c.Topic = "generic-logs"
	}
	if c.Source == "" {
		c.Source = "app"
	}
	if c.Compression == "" {
		c.Compression = CompressionGzip
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 1 * time.Second
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 60 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
}

// Validate checks every required field and reports all missing ones together.
func (c *Config) Validate() error {
	var missing []string
	if c.Endpoint == "" {
		missing = append(missing, "endpoint")
	}
	if c.AccessKeyID == "" {
		missing = append(missing, "access_key_id")
	}
	if c.AccessKeySecret == "" {
		missing = append(missing, "access_key_secret")
	}
	if c.Project == "" {
		missing = append(missing, "project")
	}
	if c.Logstore == "" {
		missing = append(missing, "logstore")
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}
	return nil
}

// FromEnv builds a validated Config from environment variables.
func FromEnv() (Config, error) {
	c := Config{
		Endpoint:            os.Getenv("SLS_ENDPOINT"),
		AccessKeyID:         os.Getenv("SLS_ACCESS_KEY_ID"),
		AccessKeySecret:     os.Getenv("SLS_ACCESS_KEY_SECRET"),
		Project:             os.Getenv("SLS_PROJECT"),
		Logstore:            os.Getenv("SLS_LOGSTORE"),
		SecurityToken:       os.Getenv("SLS_SECURITY_TOKEN"),
		Topic:               os.Getenv("SLS_TOPIC"),
		Source:              os.Getenv("SLS_SOURCE"),
		Compression:         getEnv("SLS_COMPRESSION", CompressionGzip),
		Level:               ParseLevel(getEnv("LOG_LEVEL", "info")),
		MaxBatchSize:        getEnvAsInt("BATCH_SIZE", 100),
		FlushInterval:       getEnvAsDuration("FLUSH_INTERVAL", 5*time.Second),
		MaxRetries:          getEnvAsInt("MAX_RETRIES", 3),
		RetryBaseDelay:      getEnvAsDuration("RETRY_BASE_DELAY", 1*time.Second),
		HealthCheckInterval: getEnvAsDuration("HEALTH_CHECK_INTERVAL", 60*time.Second),
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return result
		}
	}
	return defaultValue
}
