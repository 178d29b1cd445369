// Package config handles loading and managing mailhub configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment variables.
const (
	EnvHome         = "MAILHUB_HOME"
	EnvIMAPPassword = "MAILHUB_IMAP_PASSWORD"
)

// Config represents the mailhub configuration.
type Config struct {
	Data   DataConfig   `toml:"data"`
	IMAP   IMAPConfig   `toml:"imap"`
	Server ServerConfig `toml:"server"`
	Hub    HubConfig    `toml:"hub"`
	Agent  AgentConfig  `toml:"agent"`
	Ingest IngestConfig `toml:"ingest"`

	// Computed paths (not from config file)
	HomeDir    string `toml:"-"`
	ConfigPath string `toml:"-"`
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir     string `toml:"data_dir"`
	DatabaseURL string `toml:"database_url"`
}

// IMAPConfig holds the remote mailbox connection.
type IMAPConfig struct {
	Host       string   `toml:"host"`
	Port       int      `toml:"port"`
	TLS        bool     `toml:"tls"`
	STARTTLS   bool     `toml:"starttls"`
	Username   string   `toml:"username"`
	Password   string   `toml:"password"` // overridden by MAILHUB_IMAP_PASSWORD
	Auth       string   `toml:"auth"`     // "login" or "plain"
	Folders    []string `toml:"folders"`
	FetchLimit int      `toml:"fetch_limit"`
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	BindAddr        string   `toml:"bind_addr"`        // default 127.0.0.1
	APIPort         int      `toml:"api_port"`         // default 8080
	APIKey          string   `toml:"api_key"`          // API authentication key
	CORSOrigins     []string `toml:"cors_origins"`     // also allowed websocket origins
	CORSCredentials bool     `toml:"cors_credentials"` // Access-Control-Allow-Credentials
	CORSMaxAge      int      `toml:"cors_max_age"`     // preflight cache seconds
	AllowInsecure   bool     `toml:"allow_insecure"`   // permit non-loopback bind without api_key
}

// HubConfig tunes the websocket broadcast hub.
type HubConfig struct {
	PollInterval  Duration `toml:"poll_interval"`
	Debounce      Duration `toml:"debounce"`
	SessionGrace  Duration `toml:"session_grace"`
	SnapshotLimit int      `toml:"snapshot_limit"`
	SendBuffer    int      `toml:"send_buffer"`
	ProfileFile   string   `toml:"profile_file"`
}

// AgentConfig holds the recommendation model configuration.
type AgentConfig struct {
	Server       string `toml:"server"` // Ollama server URL
	Model        string `toml:"model"`
	RelatedLimit int    `toml:"related_limit"`
	MaxBodyLen   int    `toml:"max_body_len"`
}

// IngestConfig controls scheduled ingestion.
type IngestConfig struct {
	Schedule    string `toml:"schedule"` // cron expression; empty disables
	Query       string `toml:"query"`    // provider-native raw query
	HeadersOnly bool   `toml:"headers_only"`
	Limit       int    `toml:"limit"`
}

// Duration is a time.Duration decoded from a TOML string like "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// DefaultHome returns the default mailhub home directory.
// Respects MAILHUB_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv(EnvHome); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mailhub"
	}
	return filepath.Join(home, ".mailhub")
}

// NewDefaultConfig returns a configuration with every default applied.
func NewDefaultConfig() *Config {
	homeDir := DefaultHome()
	return &Config{
		HomeDir:    homeDir,
		ConfigPath: filepath.Join(homeDir, "config.toml"),
		Data: DataConfig{
			DataDir: homeDir,
		},
		IMAP: IMAPConfig{
			TLS:        true,
			Auth:       "login",
			Folders:    []string{"INBOX"},
			FetchLimit: 50,
		},
		Server: ServerConfig{
			BindAddr: "127.0.0.1",
			APIPort:  8080,
		},
		Hub: HubConfig{
			PollInterval:  Duration{5 * time.Second},
			Debounce:      Duration{500 * time.Millisecond},
			SessionGrace:  Duration{60 * time.Second},
			SnapshotLimit: 50,
			SendBuffer:    64,
		},
		Agent: AgentConfig{
			Server:       "http://localhost:11434",
			Model:        "llama3.1",
			RelatedLimit: 5,
			MaxBodyLen:   4000,
		},
		Ingest: IngestConfig{
			Schedule: "*/5 * * * *",
			Query:    "newer_than:7d",
		},
	}
}

// Load reads the configuration from the specified file.
// If path is empty, uses the default location (~/.mailhub/config.toml) and
// a missing file yields the defaults. An explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	explicit := path != ""
	if explicit {
		path = expandPath(path)
		cfg.ConfigPath = path
	}

	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("config file: %w", err)
	}

	if _, err := toml.DecodeFile(cfg.ConfigPath, cfg); err != nil {
		if strings.Contains(err.Error(), "escape") {
			return nil, fmt.Errorf("decode config: %w (use single quotes or forward slashes for Windows paths)", err)
		}
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)
	cfg.Hub.ProfileFile = expandPath(cfg.Hub.ProfileFile)
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if pw := os.Getenv(EnvIMAPPassword); pw != "" {
		c.IMAP.Password = pw
	}
}

// DatabasePath returns the path to the SQLite database.
func (c *Config) DatabasePath() string {
	if c.Data.DatabaseURL != "" {
		return expandPath(c.Data.DatabaseURL)
	}
	return filepath.Join(c.Data.DataDir, "mailhub.db")
}

// EnsureHomeDir creates the data directory if it does not exist.
func (c *Config) EnsureHomeDir() error {
	return os.MkdirAll(c.Data.DataDir, 0o700)
}

// ValidateSecure rejects a non-loopback bind address without an API key
// unless AllowInsecure is set.
func (s ServerConfig) ValidateSecure() error {
	if s.APIKey != "" || s.AllowInsecure || isLoopback(s.BindAddr) {
		return nil
	}
	return fmt.Errorf("refusing to bind %q without an api_key; set [server] api_key or allow_insecure = true", s.BindAddr)
}

func isLoopback(addr string) bool {
	if addr == "" || addr == "localhost" {
		return true
	}
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
