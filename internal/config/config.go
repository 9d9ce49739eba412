// Package config loads the small configuration surface this service needs
// at startup: host/port, the two bearer keys, the database path, and the
// upstream region/version/proxy settings. None of it is reloadable at
// runtime, per the design's non-goals.
package config

import "time"

// ProxyConfig describes an optional outbound HTTP proxy used by the
// refresh client. The client relay does not use it.
type ProxyConfig struct {
	URL      string `yaml:"url" json:"url"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the full runtime configuration, assembled from a file overlaid
// by environment variables.
type Config struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	APIKey      string `yaml:"api_key" json:"api_key"`
	AdminAPIKey string `yaml:"admin_api_key" json:"admin_api_key"`

	DatabasePath string `yaml:"database_path" json:"database_path"`

	Region      string       `yaml:"region" json:"region"`
	KiroVersion string       `yaml:"kiro_version" json:"kiro_version"`
	Proxy       *ProxyConfig `yaml:"proxy" json:"proxy"`

	CooldownSeconds     int     `yaml:"cooldown_seconds" json:"cooldown_seconds"`
	MaxFailures         int     `yaml:"max_failures" json:"max_failures"`
	RefreshRateLimitRPS float64 `yaml:"refresh_rate_limit_rps" json:"refresh_rate_limit_rps"`

	RelayRateLimitRPS   int `yaml:"relay_rate_limit_rps" json:"relay_rate_limit_rps"`
	RelayRateLimitBurst int `yaml:"relay_rate_limit_burst" json:"relay_rate_limit_burst"`

	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`

	Debug   bool   `yaml:"debug" json:"debug"`
	LogFile string `yaml:"log_file" json:"log_file"`
}

// defaultConfig returns the baseline configuration before file and
// environment overlays are applied.
func defaultConfig() *Config {
	return &Config{
		Host:                "0.0.0.0",
		Port:                8080,
		DatabasePath:        "data/kirogateway.db",
		Region:              "us-east-1",
		KiroVersion:         "0.1.0",
		CooldownSeconds:     300,
		MaxFailures:         3,
		RefreshRateLimitRPS: 5,
		RelayRateLimitRPS:   10,
		RelayRateLimitBurst: 20,
	}
}

// ShutdownTimeout bounds graceful HTTP server shutdown.
const ShutdownTimeout = 15 * time.Second
