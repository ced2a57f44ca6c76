package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/scenegen/pkg/types"
)

const defaultConfigRelPath = ".scenegen/config.yaml"

type LLMConfig struct {
	APIKey                string  `yaml:"api_key"`
	BaseURL               string  `yaml:"base_url"`
	Model                 string  `yaml:"model"`
	BestPracticeMaxTokens int     `yaml:"best_practice_max_tokens"`
	CodeMaxTokens         int     `yaml:"code_max_tokens"`
	Temperature           float64 `yaml:"temperature"`
	TimeoutSeconds        int     `yaml:"timeout_seconds"`
}

type CacheConfig struct {
	URL                   string `yaml:"url"`
	Password              string `yaml:"password"`
	TLS                   bool   `yaml:"tls"`
	CAFile                string `yaml:"ca_file"`
	Namespace             string `yaml:"namespace"`
	TTLSeconds            int    `yaml:"ttl_seconds"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds"`
	RetryStepMillis       int    `yaml:"retry_step_ms"`
	RetryMaxMillis        int    `yaml:"retry_max_ms"`
	RetryMaxAttempts      int    `yaml:"retry_max_attempts"`
}

type NotifyConfig struct {
	Channel string `yaml:"channel"`
}

type StoreConfig struct {
	Driver     string `yaml:"driver"`
	MongoURI   string `yaml:"mongo_uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
	SQLitePath string `yaml:"sqlite_path"`
}

type ServerConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	AllowOrigins []string `yaml:"allow_origins"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	LLM    LLMConfig    `yaml:"llm"`
	Cache  CacheConfig  `yaml:"cache"`
	Notify NotifyConfig `yaml:"notify"`
	Store  StoreConfig  `yaml:"store"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// Load reads .env, then the YAML config, then applies env overrides.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	cfg.SetDefaults()

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		configPath = filepath.Join(home, defaultConfigRelPath)
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// DefaultPath returns ~/.scenegen/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, defaultConfigRelPath), nil
}

func (c *Config) SetDefaults() {
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.anthropic.com"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "claude-3-opus-20240229"
	}
	if c.LLM.BestPracticeMaxTokens == 0 {
		c.LLM.BestPracticeMaxTokens = 1000
	}
	if c.LLM.CodeMaxTokens == 0 {
		c.LLM.CodeMaxTokens = 2000
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 120
	}
	if c.Cache.URL == "" {
		c.Cache.URL = "rediss://localhost:6379/0"
	}
	if c.Cache.Namespace == "" {
		c.Cache.Namespace = "manim"
	}
	if c.Cache.TTLSeconds == 0 {
		c.Cache.TTLSeconds = 3600
	}
	if c.Cache.ConnectTimeoutSeconds == 0 {
		c.Cache.ConnectTimeoutSeconds = 20
	}
	if c.Cache.RetryStepMillis == 0 {
		c.Cache.RetryStepMillis = 200
	}
	if c.Cache.RetryMaxMillis == 0 {
		c.Cache.RetryMaxMillis = 3000
	}
	if c.Cache.RetryMaxAttempts == 0 {
		c.Cache.RetryMaxAttempts = 3
	}
	if c.Notify.Channel == "" {
		c.Notify.Channel = types.DefaultChannel
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "mongo"
	}
	if c.Store.MongoURI == "" {
		c.Store.MongoURI = "mongodb://localhost:27017/mal"
	}
	if c.Store.Database == "" {
		c.Store.Database = "mal"
	}
	if c.Store.Collection == "" {
		c.Store.Collection = "scenes"
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = "scenegen.db"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3001
	}
	if len(c.Server.AllowOrigins) == 0 {
		c.Server.AllowOrigins = []string{"http://localhost:5173"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// CacheTTL returns the session cache expiry.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// Addr returns the server listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "mongo":
		if strings.TrimSpace(c.Store.MongoURI) == "" {
			return errors.New("store.mongo_uri cannot be empty")
		}
	case "sqlite":
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			return errors.New("store.sqlite_path cannot be empty")
		}
	default:
		return fmt.Errorf("unsupported store.driver %q", c.Store.Driver)
	}
	if c.Cache.TTLSeconds <= 0 {
		return errors.New("cache.ttl_seconds must be positive")
	}
	if strings.TrimSpace(c.Cache.URL) == "" {
		return errors.New("cache.url cannot be empty")
	}
	return nil
}

// ValidateGenerate enforces generate-specific requirements.
func (c *Config) ValidateGenerate() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return fmt.Errorf("%w: llm.api_key cannot be empty", types.ErrConfiguration)
	}
	return nil
}

func applyEnvOverrides(c *Config) {
	// Names used by the existing deployment; the prefixed ones win.
	setString(&c.LLM.APIKey, "ANTHROPIC_API_KEY")
	setString(&c.Cache.URL, "REDIS_URI")
	setString(&c.Notify.Channel, "REDIS_CHANNEL")
	setString(&c.Store.MongoURI, "MONGO_URI")

	setString(&c.LLM.APIKey, "SCENEGEN_LLM_API_KEY")
	setString(&c.LLM.BaseURL, "SCENEGEN_LLM_BASE_URL")
	setString(&c.LLM.Model, "SCENEGEN_LLM_MODEL")
	setInt(&c.LLM.BestPracticeMaxTokens, "SCENEGEN_LLM_BEST_PRACTICE_MAX_TOKENS")
	setInt(&c.LLM.CodeMaxTokens, "SCENEGEN_LLM_CODE_MAX_TOKENS")
	setFloat(&c.LLM.Temperature, "SCENEGEN_LLM_TEMPERATURE")
	setString(&c.Cache.URL, "SCENEGEN_CACHE_URL")
	setString(&c.Cache.Password, "SCENEGEN_CACHE_PASSWORD")
	setBool(&c.Cache.TLS, "SCENEGEN_CACHE_TLS")
	setString(&c.Cache.CAFile, "SCENEGEN_CACHE_CA_FILE")
	setInt(&c.Cache.TTLSeconds, "SCENEGEN_CACHE_TTL_SECONDS")
	setString(&c.Notify.Channel, "SCENEGEN_NOTIFY_CHANNEL")
	setString(&c.Store.Driver, "SCENEGEN_STORE_DRIVER")
	setString(&c.Store.MongoURI, "SCENEGEN_STORE_MONGO_URI")
	setString(&c.Store.SQLitePath, "SCENEGEN_STORE_SQLITE_PATH")
	setString(&c.Server.Host, "SCENEGEN_SERVER_HOST")
	setInt(&c.Server.Port, "SCENEGEN_SERVER_PORT")
	setList(&c.Server.AllowOrigins, "SCENEGEN_SERVER_ALLOW_ORIGINS")
	setString(&c.Log.Level, "SCENEGEN_LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setList(dst *[]string, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}
