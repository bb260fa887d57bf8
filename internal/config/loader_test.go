package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
server:
  apiBaseURL: https://api.example.com
channel:
  maxRetries: 2
  retryDelay: 1500ms
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Channel.MaxRetries != 2 {
		t.Errorf("maxRetries = %d, want 2", cfg.Channel.MaxRetries)
	}
	if got := cfg.Channel.RetryDelay.Std(); got != 1500*time.Millisecond {
		t.Errorf("retryDelay = %v, want 1.5s", got)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
channel:
  retryDelay: soon
`)
	if _, err := Load(path); err == nil {
		t.Fatal("want parse error for malformed duration")
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("CASETRACK_TEST_TOKEN", "secret-123")
	path := writeConfig(t, `
server:
  auth:
    token: ${CASETRACK_TEST_TOKEN}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Auth.Token != "secret-123" {
		t.Errorf("token = %q, want expanded env value", cfg.Server.Auth.Token)
	}
}

func TestLoadKeepsUnsetEnvVarLiteral(t *testing.T) {
	path := writeConfig(t, `
server:
  auth:
    token: ${CASETRACK_DEFINITELY_UNSET}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Auth.Token != "${CASETRACK_DEFINITELY_UNSET}" {
		t.Errorf("token = %q, unset vars must stay literal", cfg.Server.Auth.Token)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  apiBaseURL: https://api.example.com
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := DefaultConfig()
	if cfg.Channel.MaxRetries != def.Channel.MaxRetries {
		t.Errorf("maxRetries = %d, want default %d", cfg.Channel.MaxRetries, def.Channel.MaxRetries)
	}
	if cfg.Badges.RefreshSchedule != def.Badges.RefreshSchedule {
		t.Errorf("refreshSchedule = %q, want default", cfg.Badges.RefreshSchedule)
	}
	if cfg.Gateway.Port != def.Gateway.Port {
		t.Errorf("gateway port = %d, want default %d", cfg.Gateway.Port, def.Gateway.Port)
	}
}

func TestRetryDelayOrDefault(t *testing.T) {
	var c ChannelConfig
	if got := c.RetryDelayOrDefault(); got != 3*time.Second {
		t.Errorf("zero config delay = %v, want 3s default", got)
	}
	c.RetryDelay = Duration(time.Second)
	if got := c.RetryDelayOrDefault(); got != time.Second {
		t.Errorf("configured delay = %v, want 1s", got)
	}
}

func TestWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.User = UserConfig{ID: "u-1", DisplayName: "Ada"}

	if err := Write(path, cfg); err != nil {
		t.Fatalf("Write: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.User.ID != "u-1" || loaded.User.DisplayName != "Ada" {
		t.Errorf("user = %+v, want round-tripped values", loaded.User)
	}
	if loaded.Channel.RetryDelay.Std() != cfg.Channel.RetryDelay.Std() {
		t.Errorf("retryDelay = %v, want %v", loaded.Channel.RetryDelay.Std(), cfg.Channel.RetryDelay.Std())
	}
}

func TestCreateFromExampleIsLoadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := CreateFromExample(path); err != nil {
		t.Fatalf("CreateFromExample: %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("example config must parse: %v", err)
	}
}
