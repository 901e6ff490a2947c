// Package config loads griddash configuration from defaults, an
// optional YAML config file, and GRIDDASH_* environment variables,
// in increasing order of precedence.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved runtime configuration.
type Config struct {
	// DataDir is the root for all persisted state.
	DataDir string `mapstructure:"data_dir"`

	// DBFile is the row store database filename inside DataDir.
	DBFile string `mapstructure:"db_file"`

	// SideStoreFile is the dashboard-only document filename inside
	// DataDir.
	SideStoreFile string `mapstructure:"sidestore_file"`

	// WorkbookDir holds the spreadsheet workbooks inside DataDir.
	WorkbookDir string `mapstructure:"workbook_dir"`

	// SweepInterval is the periodic sync interval.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// RemoteTimeout bounds every spreadsheet backend call.
	RemoteTimeout time.Duration `mapstructure:"remote_timeout"`

	// Port is the hub's listen port.
	Port int `mapstructure:"port"`

	// LogFile enables rotating file logging when non-empty; otherwise
	// logs go to stderr.
	LogFile string `mapstructure:"log_file"`
}

// Load resolves configuration. cfgFile may be empty, in which case only
// defaults and environment variables apply; a named file that cannot be
// read is an error.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("data_dir", ".griddash")
	v.SetDefault("db_file", "griddash.db")
	v.SetDefault("sidestore_file", "dashboard.json")
	v.SetDefault("workbook_dir", "workbooks")
	v.SetDefault("sweep_interval", "30s")
	v.SetDefault("remote_timeout", "10s")
	v.SetDefault("port", 8080)
	v.SetDefault("log_file", "")

	v.SetEnvPrefix("GRIDDASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// DBPath returns the row store database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, c.DBFile)
}

// SideStorePath returns the side store document path.
func (c *Config) SideStorePath() string {
	return filepath.Join(c.DataDir, c.SideStoreFile)
}

// WorkbookPath returns the workbook directory path.
func (c *Config) WorkbookPath() string {
	return filepath.Join(c.DataDir, c.WorkbookDir)
}
