// Package config handles loading and managing ess configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	BindAddr string `toml:"bind_addr"` // Listen address (default: 127.0.0.1)
	APIPort  int    `toml:"api_port"`  // HTTP server port (default: 8080)
	APIKey   string `toml:"api_key"`   // API authentication key

	CORSOrigins     []string `toml:"cors_origins"`     // Allowed origins; empty disables CORS
	CORSCredentials bool     `toml:"cors_credentials"` //
	CORSMaxAge      int      `toml:"cors_max_age"`     // Preflight cache seconds
}

// ValidateSecure rejects configurations that expose the API beyond loopback
// without authentication.
func (s *ServerConfig) ValidateSecure() error {
	addr := s.BindAddr
	if addr == "" || addr == "127.0.0.1" || addr == "::1" || addr == "localhost" {
		return nil
	}
	if s.APIKey == "" {
		return fmt.Errorf("refusing to bind API to %s without an api_key; set [server] api_key in config.toml", addr)
	}
	return nil
}

// SyncConfig holds sync-related configuration.
type SyncConfig struct {
	BatchSize        int `toml:"batch_size"`        // Rows per store transaction
	MaxRetries       int `toml:"max_retries"`       // Retries for rate-limited batches
	RateLimitQPS     int `toml:"rate_limit_qps"`    // Gmail API pacing
	FetchConcurrency int `toml:"fetch_concurrency"` // Parallel message fetches
}

// Account describes a configured mail account.
// Client secrets and refresh tokens may come from the config file or from
// environment variables; the environment always wins.
type Account struct {
	ID           string `toml:"id"`            // Unique account identifier
	Email        string `toml:"email"`         // Mailbox address
	DisplayName  string `toml:"display_name"`  // Optional friendly name
	Type         string `toml:"type"`          // "professional" or "personal"
	Connector    string `toml:"connector"`     // "graph", "gmail", or "archive"
	TenantID     string `toml:"tenant_id"`     // Graph tenant
	ClientID     string `toml:"client_id"`     //
	ClientSecret string `toml:"client_secret"` // Prefer ESS_CLIENT_SECRET
	RefreshToken string `toml:"refresh_token"` // Prefer ESS_GMAIL_REFRESH_TOKEN
	ArchivePath  string `toml:"archive_path"`  // Directory of JSON files (archive connector)
	Schedule     string `toml:"schedule"`      // Cron expression for scheduled sync
	Enabled      bool   `toml:"enabled"`
}

type Config struct {
	Data     DataConfig   `toml:"data"`
	Sync     SyncConfig   `toml:"sync"`
	Server   ServerConfig `toml:"server"`
	Accounts []Account    `toml:"accounts"`

	// Computed paths (not from config file)
	HomeDir string `toml:"-"`
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir string `toml:"data_dir"`
}

// DefaultHome returns the default ess home directory.
// Respects the ESS_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("ESS_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ess"
	}
	return filepath.Join(home, ".ess")
}

// Load reads the configuration from the specified file.
// If path is empty, uses the default location (~/.ess/config.toml).
// The config file is optional; defaults apply when it is absent.
func Load(path string) (*Config, error) {
	homeDir := DefaultHome()

	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := &Config{
		HomeDir: homeDir,
		Data: DataConfig{
			DataDir: homeDir,
		},
		Sync: SyncConfig{
			BatchSize:        200,
			MaxRetries:       5,
			RateLimitQPS:     5,
			FetchConcurrency: 4,
		},
		Server: ServerConfig{
			BindAddr: "127.0.0.1",
			APIPort:  8080,
		},
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		applyEnv(cfg)
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)
	for i := range cfg.Accounts {
		cfg.Accounts[i].ArchivePath = expandPath(cfg.Accounts[i].ArchivePath)
		cfg.Accounts[i].ID = strings.ToLower(strings.TrimSpace(cfg.Accounts[i].ID))
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays credential environment variables onto account config.
// Environment values take precedence over the config file so secrets can be
// kept out of it entirely.
func applyEnv(cfg *Config) {
	for i := range cfg.Accounts {
		acc := &cfg.Accounts[i]
		switch acc.Connector {
		case "graph":
			overlay(&acc.TenantID, "ESS_TENANT_ID")
			overlay(&acc.ClientID, "ESS_CLIENT_ID")
			overlay(&acc.ClientSecret, "ESS_CLIENT_SECRET")
		case "gmail":
			overlay(&acc.ClientID, "ESS_GMAIL_CLIENT_ID")
			overlay(&acc.ClientSecret, "ESS_GMAIL_CLIENT_SECRET")
			overlay(&acc.RefreshToken, "ESS_GMAIL_REFRESH_TOKEN")
		}
	}
}

func overlay(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// EnsureHomeDir creates the data directory if it does not exist.
func (c *Config) EnsureHomeDir() error {
	return os.MkdirAll(c.Data.DataDir, 0o755)
}

// DatabasePath returns the path to the canonical SQLite database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Data.DataDir, "ess.db")
}

// IndexDir returns the directory owned by the search index.
func (c *Config) IndexDir() string {
	return filepath.Join(c.Data.DataDir, "index")
}

// ConfigFilePath returns the path of the config file in use.
func (c *Config) ConfigFilePath() string {
	return filepath.Join(c.HomeDir, "config.toml")
}

// Account returns the configured account with the given ID, or nil.
// Lookup is case-insensitive.
func (c *Config) Account(id string) *Account {
	id = strings.ToLower(strings.TrimSpace(id))
	for i := range c.Accounts {
		if strings.ToLower(c.Accounts[i].ID) == id {
			return &c.Accounts[i]
		}
	}
	return nil
}

// EnabledAccounts returns all enabled accounts.
func (c *Config) EnabledAccounts() []Account {
	var out []Account
	for _, acc := range c.Accounts {
		if acc.Enabled {
			out = append(out, acc)
		}
	}
	return out
}

// ScheduledAccounts returns enabled accounts that carry a cron schedule.
func (c *Config) ScheduledAccounts() []Account {
	var out []Account
	for _, acc := range c.Accounts {
		if acc.Enabled && acc.Schedule != "" {
			out = append(out, acc)
		}
	}
	return out
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
