package config

import (
	"fmt"

	"go-sdo-download/internal/models"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

// Defaults applied when the config file leaves a field unset.
const (
	DefaultDataDir              = "data"
	DefaultResolution           = "1024"
	DefaultSolarFilter          = "0211"
	DefaultRateLimitDelayMs     = 1000
	DefaultMaxRetries           = 5
	DefaultHTTPTimeoutSec       = 30
	DefaultCheckIntervalMinutes = 5
	DefaultMonitoringRangeDays  = 1
)

// LoadConfig reads the configuration from the specified path (defaulting to
// "config.toml") and populates a models.Config with defaults filled in.
func LoadConfig(configFilePath string) (models.Config, error) {
	if configFilePath == "" {
		configFilePath = "config.toml" // Default path
	}
	var cfg models.Config
	_, err := toml.DecodeFile(configFilePath, &cfg)
	if err != nil {
		return models.Config{}, fmt.Errorf("error loading config file %s: %w", configFilePath, err)
	}

	applyDefaults(&cfg)

	if !validResolution(cfg.Resolution) {
		return models.Config{}, fmt.Errorf("invalid Resolution %q in %s (must be one of %v)",
			cfg.Resolution, configFilePath, models.ValidResolutions)
	}

	log.Infof("Configuration loaded from %s", configFilePath)
	return cfg, nil
}

// DefaultConfig returns a config with every field at its default, for use
// when no config file is present.
func DefaultConfig() models.Config {
	var cfg models.Config
	applyDefaults(&cfg)
	return cfg
}

// applyDefaults fills zero-valued fields so commands never have to guard
// against an unset config.
func applyDefaults(cfg *models.Config) {
	if cfg.DataDir == "" {
		log.Warnf("DataDir is not set, defaulting to %q", DefaultDataDir)
		cfg.DataDir = DefaultDataDir
	}
	if cfg.Resolution == "" {
		cfg.Resolution = DefaultResolution
	}
	if cfg.SolarFilter == "" {
		cfg.SolarFilter = DefaultSolarFilter
	}
	if cfg.RateLimitDelayMs <= 0 {
		cfg.RateLimitDelayMs = DefaultRateLimitDelayMs
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.HTTPTimeoutSec <= 0 {
		cfg.HTTPTimeoutSec = DefaultHTTPTimeoutSec
	}
	if cfg.CheckIntervalMinutes <= 0 {
		cfg.CheckIntervalMinutes = DefaultCheckIntervalMinutes
	}
	if cfg.MonitoringRangeDays <= 0 {
		cfg.MonitoringRangeDays = DefaultMonitoringRangeDays
	}
}

func validResolution(resolution string) bool {
	for _, r := range models.ValidResolutions {
		if r == resolution {
			return true
		}
	}
	return false
}
