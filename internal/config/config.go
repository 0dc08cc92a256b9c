package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ServerURL string
	AuthToken string

	RequestTimeout    time.Duration
	ReconnectDelay    time.Duration
	ReconnectDelayMax time.Duration
	TypingQuiet       time.Duration
	TypingExpiry      time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment (NOVATALK_ prefix) and
// an optional config.yaml next to the binary.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvPrefix("NOVATALK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig() // config file is optional; env is enough

	v.SetDefault("server.url", "ws://localhost:8000/ws")
	v.SetDefault("request.timeout", "6s")
	v.SetDefault("reconnect.delay", "500ms")
	v.SetDefault("reconnect.delay_max", "5s")
	v.SetDefault("typing.quiet", "1800ms")
	v.SetDefault("typing.expiry", "2500ms")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	cfg := &Config{
		ServerURL:         v.GetString("server.url"),
		AuthToken:         v.GetString("auth.token"),
		RequestTimeout:    v.GetDuration("request.timeout"),
		ReconnectDelay:    v.GetDuration("reconnect.delay"),
		ReconnectDelayMax: v.GetDuration("reconnect.delay_max"),
		TypingQuiet:       v.GetDuration("typing.quiet"),
		TypingExpiry:      v.GetDuration("typing.expiry"),
		LogLevel:          v.GetString("logging.level"),
		LogFormat:         v.GetString("logging.format"),
	}

	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("NOVATALK_AUTH_TOKEN is required")
	}
	if cfg.RequestTimeout < 6*time.Second || cfg.RequestTimeout > 8*time.Second {
		cfg.RequestTimeout = 6 * time.Second
	}

	return cfg, nil
}
