package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/riverline/casetrack/internal/api"
	"github.com/riverline/casetrack/internal/badge"
	"github.com/riverline/casetrack/internal/channel"
	"github.com/riverline/casetrack/internal/config"
	"github.com/riverline/casetrack/internal/gateway"
	"github.com/riverline/casetrack/internal/notify"
	"github.com/riverline/casetrack/internal/readstate"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("casetrack v%s\n", version)
	case "init":
		path := config.Path()
		if err := config.CreateFromExample(path); err != nil {
			slog.Error("fatal", "error", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", path)
	case "serve":
		if err := serve(); err != nil {
			slog.Error("fatal", "error", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("casetrack - compliance case tracker client daemon")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  casetrack serve     Start the client daemon")
	fmt.Println("  casetrack init      Write a starter config file")
	fmt.Println("  casetrack version   Show version info")
}

func serve() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	home := config.ResolveHome()
	slog.Info("casetrack starting", "version", version, "home", home)

	cfgPath := config.ResolveConfigPath("")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", cfgPath, "error", err)
		cfg = config.DefaultConfig()
		// Persist the defaults so the operator has a file to edit and the
		// watcher has a file to watch.
		if werr := config.Write(cfgPath, cfg); werr != nil {
			slog.Warn("could not write default config", "path", cfgPath, "error", werr)
		}
	}
	config.Set(cfg)

	var backend *api.Client
	if cfg.Server.Auth.Token == "" {
		slog.Warn("no API token configured, running as read-only share-link viewer")
		backend = api.NewShareClient(cfg.Server.APIBaseURL)
	} else {
		backend = api.NewClient(cfg.Server.APIBaseURL, cfg.Server.Auth.Token)
	}

	session := channel.NewSession(channel.Options{
		URL:         cfg.Server.ChannelURL,
		Token:       cfg.Server.Auth.Token,
		UserID:      cfg.User.ID,
		DisplayName: cfg.User.DisplayName,
		MaxRetries:  cfg.Channel.MaxRetries,
		RetryDelay:  cfg.Channel.RetryDelayOrDefault(),
	})
	defer session.Close()

	dispatcher := notify.NewDispatcher(backend, cfg.Notify.OversightUserID, cfg.Notify.Icon)
	config.RegisterOnReload(func(c *config.Config) {
		dispatcher.SetOversight(c.Notify.OversightUserID)
	})

	srv := gateway.NewServer(cfg, backend, session, dispatcher)
	store := readstate.NewStore()
	refresher := badge.NewRefresher(backend, store, cfg.User.ID, srv.ChatUnread)
	srv.SetRefresher(refresher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutdown signal received", "signal", sig)
		cancel()
	}()

	go config.Watch(ctx)

	if err := session.Connect(ctx); err != nil {
		slog.Warn("channel connect failed, chat will be unavailable until retry", "error", err)
	}

	if err := refresher.Refresh(ctx); err != nil {
		slog.Warn("initial badge refresh failed", "error", err)
	}
	if err := refresher.Start(cfg.Badges.RefreshSchedule); err != nil {
		return err
	}
	defer refresher.Stop()

	return srv.Start(ctx)
}
