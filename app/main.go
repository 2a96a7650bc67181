package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feedtoot/feedtoot/app/api"
	"github.com/feedtoot/feedtoot/app/cfg"
	"github.com/feedtoot/feedtoot/app/config"
	"github.com/feedtoot/feedtoot/app/database"
	"github.com/feedtoot/feedtoot/app/dispatch"
	"github.com/feedtoot/feedtoot/app/feed"
	"github.com/feedtoot/feedtoot/app/linker"
	"github.com/feedtoot/feedtoot/app/mastodon"
	"github.com/feedtoot/feedtoot/app/scheduler"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting feedtoot", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	feedRepo := database.NewFeedRepository(db)
	accountRepo := database.NewAccountRepository(db)
	itemRepo := database.NewItemRepository(db)
	sessionRepo := database.NewSessionRepository(db)
	runRepo := database.NewRunLogRepository(db)

	if appCfg.FeedsFile != "" {
		seeds, err := config.Load(appCfg.FeedsFile)
		if err != nil {
			slog.Error("Failed to load feeds file", "path", appCfg.FeedsFile, "error", err)
			os.Exit(1)
		}
		for _, seed := range seeds {
			active := seed.Active == nil || *seed.Active
			id, err := feedRepo.UpsertFeed(seed.URL, seed.Name, seed.Hashtags, active)
			if err != nil {
				slog.Warn("Failed to register seed feed", "url", seed.URL, "error", err)
				continue
			}
			slog.Info("Registered feed", "id", id, "url", seed.URL, "name", seed.Name)
		}
	}

	fetcher := feed.NewFetcher(nil, appCfg.UserAgent)
	formatter := feed.NewFormatter()
	client := mastodon.NewClient(appCfg.UserAgent)
	accountLinker := linker.NewLinker(sessionRepo, accountRepo, client, appCfg.AppName, appCfg.BaseUrl)

	pipeline := dispatch.NewPipeline(feedRepo, accountRepo, itemRepo, runRepo,
		fetcher, client, formatter, appCfg.PostLimit,
		time.Duration(appCfg.PublishDelayMs)*time.Millisecond)

	runScheduler := scheduler.NewScheduler(pipeline, time.Duration(appCfg.IntervalMins)*time.Minute)
	runScheduler.Start()
	defer runScheduler.Stop()

	handler := api.NewHandler(feedRepo, accountRepo, itemRepo, runRepo, accountLinker, runScheduler)
	server := api.NewServer(handler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Scheduler is stopped via defer; it waits for an in-flight run.
	slog.Info("Shutdown complete")
}
