// Package config holds the explicit runtime configuration for the parley
// server. Values come from defaults, then an optional YAML file, then
// environment variables, in that order.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type CloudflareConfig struct {
	AccountID string `yaml:"account_id"`
	APIToken  string `yaml:"api_token"`
	Model     string `yaml:"model"`
}

type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Group    string `yaml:"group"`
	Consumer string `yaml:"consumer"`
}

type SessionConfig struct {
	EvictIdleSeconds     int `yaml:"evict_idle_seconds"`
	EvictIntervalSeconds int `yaml:"evict_interval_seconds"`
}

type Config struct {
	Addr       string           `yaml:"addr"`
	Cloudflare CloudflareConfig `yaml:"cloudflare"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Gemini     GeminiConfig     `yaml:"gemini"`
	Redis      RedisConfig      `yaml:"redis"`
	Session    SessionConfig    `yaml:"session"`
}

func Default() *Config {
	return &Config{
		Addr: ":8080",
		Cloudflare: CloudflareConfig{
			Model: "@cf/meta/llama-3.1-8b-instruct",
		},
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-mini",
		},
		Gemini: GeminiConfig{
			Model: "gemini-2.0-flash",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Group:    "parley",
			Consumer: "ws-1",
		},
		Session: SessionConfig{
			EvictIdleSeconds:     300,
			EvictIntervalSeconds: 60,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty), and finally the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "could not read config file %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "could not parse config file %s", path)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Addr, "PARLEY_ADDR")
	setString(&c.Cloudflare.AccountID, "CLOUDFLARE_ACCOUNT_ID")
	setString(&c.Cloudflare.APIToken, "CLOUDFLARE_API_TOKEN")
	setString(&c.Cloudflare.Model, "CLOUDFLARE_MODEL")
	setString(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.OpenAI.Model, "OPENAI_MODEL")
	setString(&c.Gemini.APIKey, "GEMINI_API_KEY")
	setString(&c.Gemini.Model, "GEMINI_MODEL")
	setBool(&c.Redis.Enabled, "PARLEY_REDIS_ENABLED")
	setString(&c.Redis.Addr, "PARLEY_REDIS_ADDR")
	setString(&c.Redis.Group, "PARLEY_REDIS_GROUP")
	setString(&c.Redis.Consumer, "PARLEY_REDIS_CONSUMER")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Validate checks that every backend is fully configured. All three agents
// are part of the routing table, so all three need credentials.
func (c *Config) Validate() error {
	var missing []string
	if c.Cloudflare.AccountID == "" {
		missing = append(missing, "cloudflare.account_id")
	}
	if c.Cloudflare.APIToken == "" {
		missing = append(missing, "cloudflare.api_token")
	}
	if c.OpenAI.APIKey == "" {
		missing = append(missing, "openai.api_key")
	}
	if c.Gemini.APIKey == "" {
		missing = append(missing, "gemini.api_key")
	}
	if len(missing) > 0 {
		return errors.Errorf("missing configuration: %s", strings.Join(missing, ", "))
	}
	if c.Addr == "" {
		return errors.New("missing configuration: addr")
	}
	return nil
}
