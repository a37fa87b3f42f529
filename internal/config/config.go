// Package config loads runtime configuration through viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/MarcoPoloResearchLab/podium/internal/logging"
)

const (
	envPrefix                  = "PODIUM"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabasePath        = "podium.db"
	defaultLogLevel            = "info"
	defaultIssuer              = "tauth"
	defaultCookieName          = "app_session"
	defaultPersistenceDebounce = 3 * time.Second
	defaultPersistenceMaxDelay = 30 * time.Second
	defaultThumbnailDebounce   = 5 * time.Second
	defaultMessagesPerSecond   = 60.0
	defaultBurst               = 120
	defaultSendBuffer          = 256
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	AllowedOrigins []string
	DatabasePath   string
	LogLevel       string

	SessionSigningSecret string
	SessionIssuer        string
	SessionCookieName    string

	PersistenceDebounce time.Duration
	PersistenceMaxDelay time.Duration

	ThumbnailDebounce       time.Duration
	ThumbnailRendererURL    string
	ThumbnailCallbackSecret string

	MessagesPerSecond float64
	MessageBurst      int
	SendBuffer        int
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
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("persistence.debounce", defaultPersistenceDebounce)
	configViper.SetDefault("persistence.max_delay", defaultPersistenceMaxDelay)
	configViper.SetDefault("thumbnails.debounce", defaultThumbnailDebounce)
	configViper.SetDefault("thumbnails.renderer_url", "")
	configViper.SetDefault("thumbnails.callback_secret", "")
	configViper.SetDefault("realtime.messages_per_second", defaultMessagesPerSecond)
	configViper.SetDefault("realtime.burst", defaultBurst)
	configViper.SetDefault("realtime.send_buffer", defaultSendBuffer)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:             configViper.GetString("http.address"),
		AllowedOrigins:          splitList(configViper.GetStringSlice("http.allowed_origins")),
		DatabasePath:            configViper.GetString("database.path"),
		LogLevel:                configViper.GetString("log.level"),
		SessionSigningSecret:    configViper.GetString("auth.signing_secret"),
		SessionIssuer:           configViper.GetString("auth.issuer"),
		SessionCookieName:       configViper.GetString("auth.cookie_name"),
		PersistenceDebounce:     configViper.GetDuration("persistence.debounce"),
		PersistenceMaxDelay:     configViper.GetDuration("persistence.max_delay"),
		ThumbnailDebounce:       configViper.GetDuration("thumbnails.debounce"),
		ThumbnailRendererURL:    strings.TrimSpace(configViper.GetString("thumbnails.renderer_url")),
		ThumbnailCallbackSecret: configViper.GetString("thumbnails.callback_secret"),
		MessagesPerSecond:       configViper.GetFloat64("realtime.messages_per_second"),
		MessageBurst:            configViper.GetInt("realtime.burst"),
		SendBuffer:              configViper.GetInt("realtime.send_buffer"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	for _, origin := range c.AllowedOrigins {
		if origin == "*" {
			return fmt.Errorf("http.allowed_origins must list explicit origins")
		}
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.PersistenceDebounce <= 0 {
		return fmt.Errorf("persistence.debounce must be positive")
	}
	if c.PersistenceMaxDelay < 0 {
		return fmt.Errorf("persistence.max_delay must not be negative")
	}
	if c.PersistenceMaxDelay > 0 && c.PersistenceMaxDelay < c.PersistenceDebounce {
		return fmt.Errorf("persistence.max_delay must be zero or at least persistence.debounce")
	}
	if c.ThumbnailDebounce <= 0 {
		return fmt.Errorf("thumbnails.debounce must be positive")
	}
	if c.MessagesPerSecond <= 0 || c.MessageBurst <= 0 {
		return fmt.Errorf("realtime.messages_per_second and realtime.burst must be positive")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("realtime.send_buffer must be positive")
	}
	return nil
}

// splitList flattens comma separated entries, as delivered by environment
// variables, and drops blanks.
func splitList(values []string) []string {
	var items []string
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
	}
	return items
}
