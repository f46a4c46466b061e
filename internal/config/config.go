package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the terminal core. Values come from a
// YAML file and can be overridden per-section with environment
// variables (TABLESIDE_* prefixes).
type Config struct {
	Tenant TenantConfig `yaml:"tenant"`
	API    APIConfig    `yaml:"api"`
	Broker BrokerConfig `yaml:"broker"`
	Store  StoreConfig  `yaml:"store"`
	Sync   SyncConfig   `yaml:"sync"`
	Cart   CartConfig   `yaml:"cart"`
	Log    LogConfig    `yaml:"log"`
}

type TenantConfig struct {
	ID string `yaml:"id"`
}

type APIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count"`
}

type BrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
}

// StoreConfig selects the persistent medium backing the secure store.
type StoreConfig struct {
	Medium     string `yaml:"medium"` // memory | badger | redis
	BadgerPath string `yaml:"badger_path"`
	RedisAddr  string `yaml:"redis_addr"`
	RedisDB    int    `yaml:"redis_db"`
}

type SyncConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type CartConfig struct {
	TaxRate      float64       `yaml:"tax_rate"`
	SettleWindow time.Duration `yaml:"settle_window"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() *Config {
	return &Config{
		API:    APIConfig{BaseURL: "http://localhost:3000", Timeout: 10 * time.Second, RetryCount: 2},
		Broker: BrokerConfig{Host: "localhost", Port: 5672, User: "guest", Password: "guest", VHost: "/"},
		Store:  StoreConfig{Medium: "badger", BadgerPath: "data/tableside", RedisAddr: "localhost:6379"},
		Sync:   SyncConfig{PollInterval: 10 * time.Second},
		Cart:   CartConfig{TaxRate: 0.10, SettleWindow: 500 * time.Millisecond},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads the YAML config at path on top of defaults, then applies
// environment overrides. A missing file is not an error: env-only
// deployments are common on kiosk hardware.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setStr(&c.Tenant.ID, "TABLESIDE_TENANT_ID")
	setStr(&c.API.BaseURL, "TABLESIDE_API_URL")
	setStr(&c.Broker.Host, "TABLESIDE_BROKER_HOST")
	setInt(&c.Broker.Port, "TABLESIDE_BROKER_PORT")
	setStr(&c.Broker.User, "TABLESIDE_BROKER_USER")
	setStr(&c.Broker.Password, "TABLESIDE_BROKER_PASSWORD")
	setStr(&c.Broker.VHost, "TABLESIDE_BROKER_VHOST")
	setStr(&c.Store.Medium, "TABLESIDE_STORE_MEDIUM")
	setStr(&c.Store.BadgerPath, "TABLESIDE_BADGER_PATH")
	setStr(&c.Store.RedisAddr, "TABLESIDE_REDIS_ADDR")
	setInt(&c.Store.RedisDB, "TABLESIDE_REDIS_DB")
	setStr(&c.Log.Level, "TABLESIDE_LOG_LEVEL")
	setStr(&c.Log.Format, "TABLESIDE_LOG_FORMAT")
}
