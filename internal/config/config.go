package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "REELNOTES"
	defaultStorePath    = "reelnotes.db"
	defaultBackendURL   = "http://localhost:8080"
	defaultHealthCheck  = 30 * time.Second
	defaultHTTPTimeout  = 10 * time.Second
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "reelnotes-server.db"
	defaultLogLevel     = "info"
)

// AppConfig captures runtime configuration for the client-side sync core and
// the reference server.
type AppConfig struct {
	StorePath      string
	BackendBaseURL string
	BackendTimeout time.Duration
	HealthInterval time.Duration
	DeviceID       string
	DeviceSecret   string

	HTTPAddress       string
	DatabasePath      string
	AuthSigningSecret string

	LogLevel string
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

	configViper.SetDefault("store.path", defaultStorePath)
	configViper.SetDefault("backend.base_url", defaultBackendURL)
	configViper.SetDefault("backend.timeout", defaultHTTPTimeout)
	configViper.SetDefault("health.interval", defaultHealthCheck)
	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		StorePath:         configViper.GetString("store.path"),
		BackendBaseURL:    configViper.GetString("backend.base_url"),
		BackendTimeout:    configViper.GetDuration("backend.timeout"),
		HealthInterval:    configViper.GetDuration("health.interval"),
		DeviceID:          configViper.GetString("device.id"),
		DeviceSecret:      configViper.GetString("device.secret"),
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		AuthSigningSecret: configViper.GetString("auth.signing_secret"),
		LogLevel:          configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.StorePath) == "" {
		return fmt.Errorf("store.path is required")
	}
	if strings.TrimSpace(c.BackendBaseURL) == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.BackendTimeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive")
	}
	if c.HealthInterval <= 0 {
		return fmt.Errorf("health.interval must be positive")
	}
	return nil
}

// ValidateServe checks the extra settings the reference server needs.
func (c AppConfig) ValidateServe() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.DeviceID) == "" || strings.TrimSpace(c.DeviceSecret) == "" {
		return fmt.Errorf("device.id and device.secret are required")
	}
	return nil
}
