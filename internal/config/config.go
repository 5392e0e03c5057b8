package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "INKLINE"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabasePath     = "inkline.db"
	defaultLogLevel         = "info"
	defaultSessionTTL       = 30 * time.Minute
	defaultShareTokenTTL    = 24 * time.Hour
	defaultLongPollInterval = 2 * time.Second
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	LogLevel          string
	SessionSigningKey string
	SessionTTL        time.Duration
	ShareTokenTTL     time.Duration
	LongPollInterval  time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.ttl", defaultSessionTTL)
	configViper.SetDefault("share.token_ttl", defaultShareTokenTTL)
	configViper.SetDefault("poll.interval", defaultLongPollInterval)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		SessionSigningKey: configViper.GetString("session.signing_secret"),
		SessionTTL:        configViper.GetDuration("session.ttl"),
		ShareTokenTTL:     configViper.GetDuration("share.token_ttl"),
		LongPollInterval:  configViper.GetDuration("poll.interval"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningKey) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	if c.ShareTokenTTL <= 0 {
		return fmt.Errorf("share.token_ttl must be positive")
	}
	if c.LongPollInterval <= 0 {
		return fmt.Errorf("poll.interval must be positive")
	}
	return nil
}
