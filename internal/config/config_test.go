package config

import (
	"os"
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Ollama.URL != "http://127.0.0.1:11434" {
		t.Errorf("expected default ollama URL http://127.0.0.1:11434, got %s", cfg.Ollama.URL)
	}

	if cfg.Ollama.Model != "llama3.2:3b" {
		t.Errorf("expected default model llama3.2:3b, got %s", cfg.Ollama.Model)
	}

	if cfg.Shell.Program != "/bin/sh" {
		t.Errorf("expected default shell /bin/sh, got %s", cfg.Shell.Program)
	}

	if cfg.Shell.CommandTimeout != 30*time.Second {
		t.Errorf("expected default command timeout 30s, got %v", cfg.Shell.CommandTimeout)
	}

	if cfg.Shell.AutoExec {
		t.Error("expected auto exec disabled by default")
	}

	if cfg.Server.Addr != "127.0.0.1:8390" {
		t.Errorf("expected default server addr 127.0.0.1:8390, got %s", cfg.Server.Addr)
	}

	if cfg.Bridge.APIURL != "http://127.0.0.1:8765" {
		t.Errorf("expected default bridge API URL http://127.0.0.1:8765, got %s", cfg.Bridge.APIURL)
	}

	if cfg.Bridge.Interval != 20*time.Second {
		t.Errorf("expected default bridge interval 20s, got %v", cfg.Bridge.Interval)
	}
}

func TestConfigEnvironment(t *testing.T) {
	os.Setenv("GULFSYNC_OLLAMA_MODEL", "qwen2:7b")
	os.Setenv("GULFSYNC_SHELL_COMMAND_TIMEOUT", "90s")
	os.Setenv("GULFSYNC_SHELL_AUTO_EXEC", "true")

	defer func() {
		os.Unsetenv("GULFSYNC_OLLAMA_MODEL")
		os.Unsetenv("GULFSYNC_SHELL_COMMAND_TIMEOUT")
		os.Unsetenv("GULFSYNC_SHELL_AUTO_EXEC")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Ollama.Model != "qwen2:7b" {
		t.Errorf("expected model qwen2:7b from env, got %s", cfg.Ollama.Model)
	}

	if cfg.Shell.CommandTimeout != 90*time.Second {
		t.Errorf("expected command timeout 90s from env, got %v", cfg.Shell.CommandTimeout)
	}

	if !cfg.Shell.AutoExec {
		t.Error("expected auto exec enabled from env")
	}
}

func TestConfigResolvesRelativePaths(t *testing.T) {
	os.Setenv("GULFSYNC_PATHS_ROOT", "/srv/agent")
	defer os.Unsetenv("GULFSYNC_PATHS_ROOT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Paths.Inbox != "/srv/agent/inbox" {
		t.Errorf("expected inbox under root, got %s", cfg.Paths.Inbox)
	}

	if cfg.Paths.DatabasePath != "/srv/agent/data/gulfsync.db" {
		t.Errorf("expected database under root, got %s", cfg.Paths.DatabasePath)
	}

	if cfg.Paths.Outbox != "/srv/agent/sync/outbox" {
		t.Errorf("expected outbox under root, got %s", cfg.Paths.Outbox)
	}

	if cfg.Paths.Contracts != "/srv/agent/sync/contracts/backtest" {
		t.Errorf("expected contracts under root, got %s", cfg.Paths.Contracts)
	}
}
