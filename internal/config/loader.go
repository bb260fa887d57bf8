package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

var current atomic.Pointer[Config]

var (
	onReloadMu        sync.Mutex
	onReloadCallbacks []func(*Config)
)

// Get returns the current in-memory config (hot-reloaded when the file changes).
func Get() *Config { return current.Load() }

// Set sets the current in-memory config. Used at startup and by the file watcher.
func Set(c *Config) {
	if c != nil {
		current.Store(c)
	}
}

// RegisterOnReload registers a callback that runs after config is hot-reloaded
// (e.g. for the notification dispatcher's oversight account).
func RegisterOnReload(fn func(*Config)) {
	onReloadMu.Lock()
	defer onReloadMu.Unlock()
	onReloadCallbacks = append(onReloadCallbacks, fn)
}

func notifyReload(cfg *Config) {
	onReloadMu.Lock()
	cb := make([]func(*Config), len(onReloadCallbacks))
	copy(cb, onReloadCallbacks)
	onReloadMu.Unlock()
	for _, fn := range cb {
		fn(cfg)
	}
}

//go:embed config.example.yaml
var exampleConfigBytes []byte

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyLoadDefaults(&cfg)
	return &cfg, nil
}

func applyLoadDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Channel.MaxRetries <= 0 {
		cfg.Channel.MaxRetries = def.Channel.MaxRetries
	}
	if cfg.Channel.RetryDelay <= 0 {
		cfg.Channel.RetryDelay = def.Channel.RetryDelay
	}
	if cfg.Badges.RefreshSchedule == "" {
		cfg.Badges.RefreshSchedule = def.Badges.RefreshSchedule
	}
	if cfg.Gateway.Port <= 0 {
		cfg.Gateway.Port = def.Gateway.Port
	}
}

func expandEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// CreateFromExample writes the embedded config.example.yaml to targetPath.
func CreateFromExample(targetPath string) error {
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(targetPath, exampleConfigBytes, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Write marshals cfg to YAML and writes it to path. Creates parent directory if needed.
func Write(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// RetryDelayOrDefault returns the configured reconnect delay, or the default when unset.
func (c ChannelConfig) RetryDelayOrDefault() time.Duration {
	if c.RetryDelay <= 0 {
		return DefaultConfig().Channel.RetryDelay.Std()
	}
	return c.RetryDelay.Std()
}
