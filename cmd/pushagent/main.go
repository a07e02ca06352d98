// Package main runs the push agent: it registers the background worker,
// creates and maintains the push subscription, and serves the endpoint
// push messages are delivered to.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/joho/godotenv"

	"webpush-agent/internal/backend"
	"webpush-agent/internal/cache"
	"webpush-agent/internal/clients"
	"webpush-agent/internal/display"
	"webpush-agent/internal/platform"
	"webpush-agent/internal/server"
	"webpush-agent/internal/state"
	"webpush-agent/internal/subscriber"
	"webpush-agent/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	localStorage := os.Getenv("LOCAL_STORAGE")
	bucket := os.Getenv("STORAGE_BUCKET")
	baseURL := os.Getenv("BASE_URL")
	backendURL := os.Getenv("BACKEND_URL")

	if bucket == "" && localStorage == "" {
		localStorage = "./data"
		logger.Info("No STORAGE_BUCKET set, defaulting to local development mode", "storage_path", localStorage)
	}

	var store *state.Store
	if localStorage != "" {
		if baseURL == "" {
			baseURL = "http://localhost:8080"
		}
		if err := os.MkdirAll(localStorage, 0o755); err != nil {
			logger.Error("Failed to create local storage directory", "error", err)
			os.Exit(1)
		}
		store = state.New(nil, "", localStorage, logger)
	} else {
		if baseURL == "" {
			logger.Error("BASE_URL environment variable required (e.g., https://your-service.run.app)")
			os.Exit(1)
		}
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			logger.Error("Failed to initialize Storage client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}()
		store = state.New(storageClient, bucket, "", logger)
	}

	if backendURL == "" {
		logger.Error("BACKEND_URL environment variable required (application server base URL)")
		os.Exit(1)
	}

	cacheDir := os.Getenv("CACHE_DIR")
	if cacheDir == "" {
		cacheDir = "./cache"
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		logger.Error("Failed to create cache directory", "error", err)
		os.Exit(1)
	}
	cacheName := os.Getenv("CACHE_NAME")
	if cacheName == "" {
		cacheName = "site-cache-v1"
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	surface := display.New(buildProvider(logger), logger)
	registry := clients.New(logger)
	pushManager := platform.NewPushManager(store, baseURL, logger)

	w := worker.New(&worker.Config{
		Store:     store,
		Caches:    cache.NewStorage(cacheDir, httpClient, logger),
		Surface:   surface,
		Registry:  registry,
		Logger:    logger,
		Scope:     os.Getenv("WORKER_SCOPE"),
		CacheName: cacheName,
		Manifest:  splitList(os.Getenv("PRECACHE_MANIFEST")),
		ShellURL:  os.Getenv("SHELL_URL"),
	})

	manager := subscriber.New(&subscriber.Config{
		Store:       store,
		Permissions: platform.NewPermissions(store, promptOutcome(), logger),
		PushManager: pushManager,
		Backend:     backend.New(backendURL, os.Getenv("CSRF_TOKEN"), httpClient, logger),
		Registrar:   w,
		Logger:      logger,
		Supported:   os.Getenv("PUSH_DISABLED") == "",
	})

	if manager.Subscribe(ctx) {
		logger.Info("Push subscription active")
	} else {
		logger.Warn("Push subscription not active, will accept pushes only after a successful subscribe")
	}

	srv := server.New(&server.Config{
		Subscriptions: pushManager,
		Worker:        w,
		Surface:       surface,
		Registry:      registry,
		Logger:        logger,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := srv.ListenAndServe(ctx, port); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// buildProvider picks the notification provider: a shoutrrr URL wins, then
// a webhook, then log-only.
func buildProvider(logger *slog.Logger) display.Provider {
	if urls := splitList(os.Getenv("SHOUTRRR_URLS")); len(urls) > 0 {
		p, err := display.NewShoutrrrProvider(urls...)
		if err != nil {
			logger.Error("Invalid SHOUTRRR_URLS", "error", err)
			os.Exit(1)
		}
		return p
	}
	if url := os.Getenv("WEBHOOK_URL"); url != "" {
		return display.NewWebhookProvider(url, os.Getenv("WEBHOOK_TOKEN"), logger)
	}
	return display.NewLogProvider(logger)
}

// promptOutcome is what a permission prompt resolves to. An agent has no
// user sitting at it, so the operator decides through the environment.
func promptOutcome() platform.Permission {
	if os.Getenv("DENY_NOTIFICATIONS") != "" {
		return platform.PermissionDenied
	}
	return platform.PermissionGranted
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
