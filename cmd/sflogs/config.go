package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tinytelemetry/sflogs/internal/httpserver"
	"github.com/tinytelemetry/sflogs/internal/model"
	"github.com/tinytelemetry/sflogs/internal/salesforce"
	"github.com/tinytelemetry/sflogs/internal/socketrpc"
)

const (
	defaultRequestTimeout    = 30 * time.Second
	defaultRequestsPerSecond = 5.0
	defaultMaxRetries        = 3
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	AutoRefresh       bool          `mapstructure:"auto-refresh"`
	RefreshInterval   time.Duration `mapstructure:"refresh-interval"`
	CurrentUserOnly   bool          `mapstructure:"current-user-only"`
	TargetOrg         string        `mapstructure:"target-org"`
	InstanceURL       string        `mapstructure:"instance-url"`
	AccessToken       string        `mapstructure:"access-token"`
	APIVersion        string        `mapstructure:"api-version"`
	RequestTimeout    time.Duration `mapstructure:"request-timeout"`
	RequestsPerSecond float64       `mapstructure:"requests-per-second"`
	MaxRetries        int           `mapstructure:"max-retries"`
	APIEnabled        bool          `mapstructure:"api-enabled"`
	APIAddr           string        `mapstructure:"api-addr"`
	SocketPath        string        `mapstructure:"socket-path"`
	LogsDir           string        `mapstructure:"logs-dir"`
	LogLevel          string        `mapstructure:"log-level"`
	LogFormat         string        `mapstructure:"log-format"`
	Headless          bool          `mapstructure:"headless"`
	ConfigPath        string        `mapstructure:"-"` // not from config file
}

// engineSettings returns the settings the engine starts with.
func (c appConfig) engineSettings() model.Settings {
	return model.Settings{
		AutoRefresh:     c.AutoRefresh,
		RefreshInterval: c.RefreshInterval,
		CurrentUserOnly: c.CurrentUserOnly,
	}
}

func defaultConfigPath(home string) string {
	return filepath.Join(home, ".config", "sflogs", "config.yml")
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("SFLOGS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault(model.SettingAutoRefresh, model.DefaultAutoRefresh)
	v.SetDefault(model.SettingRefreshInterval, model.DefaultRefreshInterval)
	v.SetDefault(model.SettingCurrentUserOnly, model.DefaultCurrentUserOnly)
	v.SetDefault("target-org", "")
	v.SetDefault("instance-url", "")
	v.SetDefault("access-token", "")
	v.SetDefault("api-version", salesforce.DefaultAPIVersion)
	v.SetDefault("request-timeout", defaultRequestTimeout)
	v.SetDefault("requests-per-second", defaultRequestsPerSecond)
	v.SetDefault("max-retries", defaultMaxRetries)
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-addr", httpserver.DefaultAddr)
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetDefault("logs-dir", "")
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "console")
	v.SetDefault("headless", false)

	if configPath == "" {
		configPath = defaultConfigPath(home)
	}
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	// Settings are persisted back to this file even when it does not exist yet.
	cfg.ConfigPath = configPath

	if cfg.RefreshInterval < model.MinRefreshInterval {
		return cfg, fmt.Errorf("invalid refresh-interval %s: minimum is %s", cfg.RefreshInterval, model.MinRefreshInterval)
	}
	if cfg.RequestsPerSecond < 0 {
		return cfg, fmt.Errorf("invalid requests-per-second: %v", cfg.RequestsPerSecond)
	}

	// Expand ~ in paths
	for _, p := range []*string{&cfg.SocketPath, &cfg.LogsDir} {
		if strings.HasPrefix(*p, "~/") {
			*p = filepath.Join(home, (*p)[2:])
		}
	}

	if cfg.LogsDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return cfg, fmt.Errorf("finding working directory: %w", err)
		}
		cfg.LogsDir = wd
	}

	return cfg, nil
}
