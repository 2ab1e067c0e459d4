package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultEaseeBaseURL = "https://api.easee.com/api"
	DefaultHTTPAddr     = ":5000"
	DefaultCurrency     = "NOK"
	DefaultPricePerKWh  = 1.0

	// EnvConfigPath names the env var that points at the YAML config file.
	EnvConfigPath = "EASEE_INVOICING_CONFIG"
)

// Config holds the service configuration.
type Config struct {
	HTTPAddr      string             `yaml:"http_addr"`
	Easee         EaseeConfig        `yaml:"easee"`
	SessionSecret string             `yaml:"session_secret"`
	SessionTTL    time.Duration      `yaml:"session_ttl"`
	PricePerKWh   float64            `yaml:"price_per_kwh"`
	Currency      string             `yaml:"currency"`
	Tariffs       map[string]float64 `yaml:"tariffs"`
	DatabaseURL   string             `yaml:"database_url"`
	CachePath     string             `yaml:"cache_path"`
	MQTT          MQTTConfig         `yaml:"mqtt"`
	LogLevel      string             `yaml:"log_level"`
	LogFormat     string             `yaml:"log_format"`
}

// EaseeConfig configures the upstream API client.
type EaseeConfig struct {
	BaseURL          string        `yaml:"base_url"`
	Timeout          time.Duration `yaml:"timeout"`
	ConsumptionPaths []string      `yaml:"consumption_paths,omitempty"`
}

// MQTTConfig configures the optional invoice event publisher.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	TopicPrefix string `yaml:"topic_prefix"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	ClientID    string `yaml:"client_id,omitempty"`
}

// Enabled reports whether a broker is configured.
func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr: DefaultHTTPAddr,
		Easee: EaseeConfig{
			BaseURL: DefaultEaseeBaseURL,
			Timeout: 10 * time.Second,
		},
		SessionTTL:  12 * time.Hour,
		PricePerKWh: DefaultPricePerKWh,
		Currency:    DefaultCurrency,
		MQTT: MQTTConfig{
			TopicPrefix: "ev_invoicing",
			ClientID:    "easee-invoicing",
		},
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Load builds the config from defaults, the optional YAML file and env overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks invariants the service depends on.
func (c Config) Validate() error {
	if c.Easee.BaseURL == "" {
		return errors.New("config: easee base url required")
	}
	if c.Easee.Timeout <= 0 {
		return errors.New("config: easee timeout must be positive")
	}
	if c.PricePerKWh < 0 {
		return errors.New("config: negative price_per_kwh")
	}
	for charger, price := range c.Tariffs {
		if price < 0 {
			return fmt.Errorf("config: negative tariff for charger %s", charger)
		}
	}
	if c.SessionTTL <= 0 {
		return errors.New("config: session ttl must be positive")
	}
	return nil
}

// SessionKey returns the configured session secret, or a random one when unset.
func (c Config) SessionKey() ([]byte, bool, error) {
	if c.SessionSecret != "" {
		return []byte(c.SessionSecret), false, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, false, fmt.Errorf("config: generate session secret: %w", err)
	}
	return buf, true, nil
}

func applyEnv(cfg *Config) error {
	var err error
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.Easee.BaseURL = getenvDefault("EASEE_API_BASE", cfg.Easee.BaseURL)
	if cfg.Easee.Timeout, err = getenvDuration("EASEE_TIMEOUT", cfg.Easee.Timeout); err != nil {
		return err
	}
	cfg.SessionSecret = getenvDefault("SESSION_SECRET", cfg.SessionSecret)
	if cfg.SessionTTL, err = getenvDuration("SESSION_TTL", cfg.SessionTTL); err != nil {
		return err
	}
	if cfg.PricePerKWh, err = getenvFloat("PRICE_PER_KWH", cfg.PricePerKWh); err != nil {
		return err
	}
	cfg.Currency = getenvDefault("CURRENCY", cfg.Currency)
	cfg.DatabaseURL = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", cfg.DatabaseURL))
	cfg.CachePath = getenvDefault("CACHE_PATH", cfg.CachePath)
	cfg.MQTT.Broker = getenvDefault("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.TopicPrefix = getenvDefault("MQTT_TOPIC_PREFIX", cfg.MQTT.TopicPrefix)
	cfg.MQTT.Username = getenvDefault("MQTT_USERNAME", cfg.MQTT.Username)
	cfg.MQTT.Password = getenvDefault("MQTT_PASSWORD", cfg.MQTT.Password)
	cfg.LogLevel = getenvDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenvDefault("LOG_FORMAT", cfg.LogFormat)
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloat(key string, fallback float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback, fmt.Errorf("config: %s: %w", key, err)
	}
	return parsed, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback, fmt.Errorf("config: %s: %w", key, err)
	}
	return parsed, nil
}
