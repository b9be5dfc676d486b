package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gartstein/creditcheck/internal/creditcheck/db"
	"github.com/gartstein/creditcheck/internal/creditcheck/lock"
	"github.com/gartstein/creditcheck/internal/creditcheck/provider"
	"gopkg.in/yaml.v3"
)

const (
	storageBolt = "bolt"
	storageGCS  = "gcs"
)

// Config struct for YAML configuration
type Config struct {
	GRPCPort int `yaml:"GRPC_PORT"`
	HTTPPort int `yaml:"HTTP_PORT"`

	DBDriver     string        `yaml:"DB_DRIVER"`
	DBHost       string        `yaml:"DB_HOST"`
	DBPort       int           `yaml:"DB_PORT"`
	DBUser       string        `yaml:"DB_USER"`
	DBPassword   string        `yaml:"DB_PASSWORD"`
	DBName       string        `yaml:"DB_NAME"`
	DBSSLMode    string        `yaml:"DB_SSLMODE"`
	DBPath       string        `yaml:"DB_PATH"`
	DBRetryLimit time.Duration `yaml:"DB_RETRY_LIMIT"`

	// RedisAddrs selects the Redis lock. Empty means an in-process lock.
	RedisAddrs    []string      `yaml:"REDIS_ADDRS"`
	RedisPassword string        `yaml:"REDIS_PASSWORD"`
	LockWait      time.Duration `yaml:"LOCK_WAIT"`
	LockTTL       time.Duration `yaml:"LOCK_TTL"`

	KafkaBrokers []string `yaml:"KAFKA_BROKERS"`
	Topic        string   `yaml:"TOPIC"`
	// PurchaseTopic enables the purchase request consumer when set.
	PurchaseTopic string `yaml:"PURCHASE_TOPIC"`
	ConsumerGroup string `yaml:"CONSUMER_GROUP"`

	JWTSecret string `yaml:"JWT_SECRET"`

	ProviderBaseURL     string        `yaml:"PROVIDER_BASE_URL"`
	ProviderAccessToken string        `yaml:"PROVIDER_ACCESS_TOKEN"`
	ProviderTimeout     time.Duration `yaml:"PROVIDER_TIMEOUT"`

	StorageBackend  string `yaml:"STORAGE_BACKEND"`
	StorageBoltPath string `yaml:"STORAGE_BOLT_PATH"`
	StorageBucket   string `yaml:"STORAGE_BUCKET"`

	ShutdownTimeout time.Duration `yaml:"SHUTDOWN_TIMEOUT"`
}

// loadConfig reads the YAML file named by CONFIG_PATH, falling back to the
// repository default. Secrets may be overridden from the environment.
func loadConfig() (*Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = filepath.Join("internal", "creditcheck", "config", "config.yaml")
	}
	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	return parseConfig(file)
}

func parseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("PROVIDER_ACCESS_TOKEN"); v != "" {
		c.ProviderAccessToken = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.DBPassword = v
	}
}

func (c *Config) applyDefaults() {
	if c.DBDriver == "" {
		c.DBDriver = db.DriverPostgres
	}
	if c.DBRetryLimit <= 0 {
		c.DBRetryLimit = 30 * time.Second
	}
	if c.LockWait <= 0 {
		c.LockWait = lock.DefaultWait
	}
	if c.LockTTL <= 0 {
		c.LockTTL = lock.DefaultTTL
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = "creditcheck"
	}
	if c.StorageBackend == "" {
		c.StorageBackend = storageBolt
	}
	if c.StorageBoltPath == "" {
		c.StorageBoltPath = "documents.db"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.ProviderBaseURL == "" {
		return fmt.Errorf("PROVIDER_BASE_URL is required")
	}
	switch c.StorageBackend {
	case storageBolt:
	case storageGCS:
		if c.StorageBucket == "" {
			return fmt.Errorf("STORAGE_BUCKET is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	// A lock must outlive the longest purchase it guards.
	if c.LockTTL < c.LockWait {
		return fmt.Errorf("LOCK_TTL (%s) must not be shorter than LOCK_WAIT (%s)", c.LockTTL, c.LockWait)
	}
	return nil
}

// initDatabase builds the repository configuration.
func initDatabase(cfg *Config) *db.Config {
	return &db.Config{
		Driver:   cfg.DBDriver,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
		Path:     cfg.DBPath,
	}
}

func providerConfig(cfg *Config) provider.Config {
	return provider.Config{
		BaseURL:     cfg.ProviderBaseURL,
		AccessToken: cfg.ProviderAccessToken,
		Timeout:     cfg.ProviderTimeout,
	}
}
