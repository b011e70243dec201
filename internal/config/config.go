package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete configuration
type Config struct {
	Ollama  OllamaConfig  `mapstructure:"ollama"`
	Shell   ShellConfig   `mapstructure:"shell"`
	Paths   PathsConfig   `mapstructure:"paths"`
	Git     GitConfig     `mapstructure:"git"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Server  ServerConfig  `mapstructure:"server"`
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// OllamaConfig contains local model endpoint settings
type OllamaConfig struct {
	URL     string        `mapstructure:"url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ShellConfig contains persistent session settings
type ShellConfig struct {
	Program        string        `mapstructure:"program"`
	Interpreter    string        `mapstructure:"interpreter"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	// AutoExec enables the model stage of intent classification at startup.
	// The operator can toggle it at runtime with /auto.
	AutoExec bool `mapstructure:"auto_exec"`
}

// PathsConfig contains workspace layout settings
type PathsConfig struct {
	Root         string `mapstructure:"root"`
	Inbox        string `mapstructure:"inbox"`
	Packets      string `mapstructure:"packets"`
	Status       string `mapstructure:"status"`
	Logs         string `mapstructure:"logs"`
	Outbox       string `mapstructure:"outbox"`
	Canon        string `mapstructure:"canon"`
	Contracts    string `mapstructure:"contracts"`
	DatabasePath string `mapstructure:"database_path"`
}

// GitConfig contains commit/push settings for the run cycle
type GitConfig struct {
	Push          bool   `mapstructure:"push"`
	CommitMessage string `mapstructure:"commit_message"`
}

// NotifyConfig contains webhook notification settings
type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// ServerConfig contains the local status/MCP surface settings
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// BridgeConfig contains local backtest API import settings
type BridgeConfig struct {
	APIURL   string        `mapstructure:"api_url"`
	Interval time.Duration `mapstructure:"interval"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/gulfsync/")

	// Environment variable settings
	v.SetEnvPrefix("GULFSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables
	v.BindEnv("ollama.url")
	v.BindEnv("ollama.model")
	v.BindEnv("ollama.timeout")
	v.BindEnv("shell.program")
	v.BindEnv("shell.interpreter")
	v.BindEnv("shell.command_timeout")
	v.BindEnv("shell.auto_exec")
	v.BindEnv("paths.root")
	v.BindEnv("paths.database_path")
	v.BindEnv("notify.webhook_url")
	v.BindEnv("server.addr")
	v.BindEnv("bridge.api_url")
	v.BindEnv("bridge.interval")
	v.BindEnv("logging.level")

	setDefaultsWithViper(v)

	// Read config file if exists
	if err := v.ReadInConfig(); err != nil {
		// It's okay if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal to struct
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	config.resolvePaths()
	return &config, nil
}

// setDefaultsWithViper sets default values with a specific viper instance
func setDefaultsWithViper(v *viper.Viper) {
	// Ollama defaults
	v.SetDefault("ollama.url", "http://127.0.0.1:11434")
	v.SetDefault("ollama.model", "llama3.2:3b")
	v.SetDefault("ollama.timeout", "2m")

	// Shell session defaults
	v.SetDefault("shell.program", "/bin/sh")
	v.SetDefault("shell.interpreter", "/bin/sh")
	v.SetDefault("shell.command_timeout", "30s")
	v.SetDefault("shell.poll_interval", "50ms")
	v.SetDefault("shell.auto_exec", false)

	// Workspace defaults
	v.SetDefault("paths.root", ".")
	v.SetDefault("paths.inbox", "inbox")
	v.SetDefault("paths.packets", "sync/packets")
	v.SetDefault("paths.status", "status")
	v.SetDefault("paths.logs", "logs")
	v.SetDefault("paths.outbox", "sync/outbox")
	v.SetDefault("paths.canon", "canon")
	v.SetDefault("paths.contracts", "sync/contracts/backtest")
	v.SetDefault("paths.database_path", "data/gulfsync.db")

	// Git defaults
	v.SetDefault("git.push", true)
	v.SetDefault("git.commit_message", "Sync packet update")

	// Server defaults
	v.SetDefault("server.addr", "127.0.0.1:8390")

	// Bridge defaults
	v.SetDefault("bridge.api_url", "http://127.0.0.1:8765")
	v.SetDefault("bridge.interval", "20s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Ollama.URL == "" {
		return fmt.Errorf("ollama.url is required")
	}
	if c.Ollama.Model == "" {
		return fmt.Errorf("ollama.model is required")
	}
	if c.Shell.Program == "" {
		return fmt.Errorf("shell.program is required")
	}
	if c.Shell.CommandTimeout <= 0 {
		return fmt.Errorf("shell.command_timeout must be positive")
	}
	return nil
}

// resolvePaths anchors relative workspace paths under the configured root.
func (c *Config) resolvePaths() {
	for _, p := range []*string{&c.Paths.Inbox, &c.Paths.Packets, &c.Paths.Status, &c.Paths.Logs, &c.Paths.Outbox, &c.Paths.Canon, &c.Paths.Contracts, &c.Paths.DatabasePath} {
		if !filepath.IsAbs(*p) {
			*p = filepath.Join(c.Paths.Root, *p)
		}
	}
}
