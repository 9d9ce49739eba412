package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ConfigManager owns the single Config instance for the process lifetime.
// It is loaded once at startup; there is no watcher and no reload, per the
// design's non-goals.
type ConfigManager struct {
	configPath string
	lastMod    time.Time
	config     *Config
}

// NewConfigManager creates a manager bound to a file path without loading
// it yet.
func NewConfigManager(configPath string) *ConfigManager {
	return &ConfigManager{configPath: configPath}
}

// Load reads the config file (if present), applies environment overrides,
// and returns the resulting Config. A missing file is not an error: the
// defaults plus environment overlay are used instead.
func (cm *ConfigManager) Load() (*Config, error) {
	cm.config = defaultConfig()

	if cm.configPath != "" {
		if err := cm.loadFile(); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	cm.mergeEnvVars()
	return cm.config, nil
}

func (cm *ConfigManager) loadFile() error {
	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(cm.configPath))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cm.config); err != nil {
			return fmt.Errorf("parse yaml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cm.config); err != nil {
			return fmt.Errorf("parse json config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cm.config); err != nil {
			if jerr := json.Unmarshal(data, cm.config); jerr != nil {
				return fmt.Errorf("parse config file (tried yaml and json): %w", err)
			}
		}
	}

	if info, err := os.Stat(cm.configPath); err == nil {
		cm.lastMod = info.ModTime()
	}
	log.WithField("path", cm.configPath).Info("config: loaded from file")
	return nil
}

func (cm *ConfigManager) mergeEnvVars() {
	if v := os.Getenv("KIRO_HOST"); v != "" {
		cm.config.Host = v
	}
	if v := os.Getenv("KIRO_PORT"); v != "" {
		if n, err := parseInt(v); err == nil {
			cm.config.Port = n
		}
	}
	if v := os.Getenv("KIRO_API_KEY"); v != "" {
		cm.config.APIKey = v
	}
	if v := os.Getenv("KIRO_ADMIN_API_KEY"); v != "" {
		cm.config.AdminAPIKey = v
	}
	if v := os.Getenv("KIRO_DATABASE_PATH"); v != "" {
		cm.config.DatabasePath = v
	}
	if v := os.Getenv("KIRO_REGION"); v != "" {
		cm.config.Region = v
	}
	if v := os.Getenv("KIRO_VERSION"); v != "" {
		cm.config.KiroVersion = v
	}
	if v := os.Getenv("KIRO_PROXY_URL"); v != "" {
		if cm.config.Proxy == nil {
			cm.config.Proxy = &ProxyConfig{}
		}
		cm.config.Proxy.URL = v
	}
	if v := os.Getenv("KIRO_PROXY_USERNAME"); v != "" {
		if cm.config.Proxy == nil {
			cm.config.Proxy = &ProxyConfig{}
		}
		cm.config.Proxy.Username = v
	}
	if v := os.Getenv("KIRO_PROXY_PASSWORD"); v != "" {
		if cm.config.Proxy == nil {
			cm.config.Proxy = &ProxyConfig{}
		}
		cm.config.Proxy.Password = v
	}
	if v := os.Getenv("KIRO_COOLDOWN_SECONDS"); v != "" {
		if n, err := parseInt(v); err == nil {
			cm.config.CooldownSeconds = n
		}
	}
	if v := os.Getenv("KIRO_DEBUG"); v == "true" || v == "1" {
		cm.config.Debug = true
	}
	if v := os.Getenv("KIRO_LOG_FILE"); v != "" {
		cm.config.LogFile = v
	}
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
