package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	UDPPort  int    `mapstructure:"udp_port"`
	HTTPPort int    `mapstructure:"http_port"`
	DB       string `mapstructure:"db"`

	// File tailers registered at startup
	Tails []TailConfig `mapstructure:"tails"`

	// TLS for the HTTP/SSE transport; both must be set to enable it
	CertFile string `mapstructure:"cert"`
	KeyFile  string `mapstructure:"key"`

	// Plain stdout/stderr diagnostics instead of the styled console
	LegacyConsole bool `mapstructure:"legacy_console"`
}

// TailConfig describes one file to follow from startup
type TailConfig struct {
	Path string `mapstructure:"path"`
	Name string `mapstructure:"name"`
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		UDPPort:  9999,
		HTTPPort: 8765,
		DB:       "logs.db",
	}
}

// Load loads configuration from files and environment
// Config file search order (highest precedence first):
// 1. ./.uelog.yaml or ./.uelog.yml
// 2. ~/.uelog.yaml or ~/.uelog.yml
// 3. $XDG_CONFIG_HOME/uelog/config.yaml (or ~/.config/uelog/config.yaml)
// 4. /etc/uelog/config.yaml
func Load() (*Config, error) {
	cfg := Default()

	configFile := findConfigFile()
	if configFile != "" {
		v := viper.New()
		v.SetConfigFile(configFile)

		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}

		if err := v.Unmarshal(cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// findConfigFile searches for config file in standard locations
func findConfigFile() string {
	names := []string{".uelog.yaml", ".uelog.yml", "uelog.yaml", "uelog.yml"}

	home, homeErr := os.UserHomeDir()
	configDir, configDirErr := os.UserConfigDir()

	// Search locations in order of precedence (highest first)
	var searchPaths []string

	cwd, err := os.Getwd()
	if err == nil {
		searchPaths = append(searchPaths, cwd)
	}
	if homeErr == nil {
		searchPaths = append(searchPaths, home)
	}
	if configDirErr == nil {
		searchPaths = append(searchPaths, filepath.Join(configDir, "uelog"))
	}
	searchPaths = append(searchPaths, "/etc/uelog")

	for _, dir := range searchPaths {
		for _, name := range names {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
		// Also check for config.yaml in subdirs
		path := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("UELOG_UDP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.UDPPort = port
		}
	}
	if v := os.Getenv("UELOG_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.HTTPPort = port
		}
	}
	if v := os.Getenv("UELOG_DB"); v != "" {
		cfg.DB = v
	}
	if v := os.Getenv("UELOG_CERT"); v != "" {
		cfg.CertFile = v
	}
	if v := os.Getenv("UELOG_KEY"); v != "" {
		cfg.KeyFile = v
	}
	if v := os.Getenv("UELOG_LEGACY_CONSOLE"); v == "true" || v == "1" {
		cfg.LegacyConsole = true
	}
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ConfigFile returns the path to the config file that would be loaded
func ConfigFile() string {
	return findConfigFile()
}
