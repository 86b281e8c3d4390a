package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweater-ventures/spigot/api"
	"github.com/sweater-ventures/spigot/app"
	"github.com/sweater-ventures/spigot/config"
	"github.com/sweater-ventures/spigot/middleware"
)

func main() {
	config.InitLogging()
	appConfig, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Unable to load configuration!!!", err)
	}

	if appConfig == nil {
		log.Fatal("Nil AppConfig, WTF")
	}

	application, err := app.NewApp(appConfig)
	if err != nil {
		log.Fatal("Unable to initialize application", err)
	}
	defer application.Close()

	slog.Debug("Configuration",
		"DevMode", appConfig.DevMode,
		"LogLevel", appConfig.LogLevel,
		"RateLimitStrategy", appConfig.RateLimitStrategy,
	)

	router := http.NewServeMux()
	router.Handle("GET /metrics", application.Metrics.Handler())
	api.AddApis(application, router)

	// Invalidation fan-out keeps this process's cached subscriptions honest
	listenerCtx, stopListener := context.WithCancel(context.Background())
	application.SubCache.StartListener(listenerCtx)

	worker := app.NewDeliveryWorker(application)
	if err := worker.Start(); err != nil {
		log.Fatal("Unable to start delivery worker", err)
	}

	stopPoller := app.StartDueTaskPoller(application)
	retention := app.StartRetention(application)

	rateLimit := middleware.RateLimitMiddleware(
		application.Limiter,
		appConfig.RateLimitEnabled,
		appConfig.RateLimitDefaultWindow,
	)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", appConfig.Port),
		Handler: middleware.AllStandardMiddleware(rateLimit, router),
	}

	// Listen for shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("Starting Spigot", "port", appConfig.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-sigChan
	slog.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Stop intake before the worker so in-flight attempts can finish cleanly,
	// then the periodic loops, then (via defer) the pool and clients.
	worker.Shutdown()
	stopPoller()
	<-retention.Stop().Done()
	stopListener()

	slog.Info("Shutdown complete")
}
