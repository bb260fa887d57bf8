package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Editors fire several filesystem events per save; coalesce them before
// reloading.
const reloadDebounce = 200 * time.Millisecond

// Watch hot-reloads the config file for the life of ctx. A reload swaps the
// in-memory config and runs the RegisterOnReload callbacks, so settings like
// the notification oversight account take effect without restarting the
// daemon. Run in a goroutine.
func Watch(ctx context.Context) {
	path := Path()
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		slog.Warn("config watch disabled", "path", path, "error", err)
		return
	}

	var (
		mu      sync.Mutex
		pending *time.Timer
	)
	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		if filepath.Clean(e.Name) != filepath.Clean(path) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if pending != nil {
			pending.Stop()
		}
		pending = time.AfterFunc(reloadDebounce, func() { reload(path) })
	})
	v.WatchConfig()

	<-ctx.Done()
}

func reload(path string) {
	cfg, err := Load(path)
	if err != nil {
		slog.Warn("config reload skipped", "path", path, "error", err)
		return
	}
	prev := Get()
	Set(cfg)
	notifyReload(cfg)

	if prev != nil && prev.Notify.OversightUserID != cfg.Notify.OversightUserID {
		slog.Info("oversight account changed", "userId", cfg.Notify.OversightUserID)
	}
	slog.Info("config reloaded", "path", path)
}
