// Command funcdock runs the core runtime: the Function Registry, the Route
// Dispatcher, the Cron Scheduler, the filesystem Watcher, the Safe-Deploy
// Orchestrator, and the Control Plane admin API, all in one process.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/reaatech/funcdock/internal/auth"
	"github.com/reaatech/funcdock/internal/cache"
	"github.com/reaatech/funcdock/internal/config"
	"github.com/reaatech/funcdock/internal/control"
	"github.com/reaatech/funcdock/internal/cron"
	"github.com/reaatech/funcdock/internal/deploy"
	"github.com/reaatech/funcdock/internal/dispatcher"
	"github.com/reaatech/funcdock/internal/events"
	"github.com/reaatech/funcdock/internal/funclog"
	"github.com/reaatech/funcdock/internal/gitclone"
	"github.com/reaatech/funcdock/internal/logger"
	"github.com/reaatech/funcdock/internal/middleware"
	"github.com/reaatech/funcdock/internal/registry"
	"github.com/reaatech/funcdock/internal/watcher"
	"github.com/reaatech/funcdock/internal/wsfanout"
)

func main() {
	cfg := config.Load()
	logger.Initialize(cfg.LogLevel, os.Getenv("LOG_PRETTY") == "true")
	log := logger.Get()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("unrecoverable error, exiting")
			os.Exit(1)
		}
	}()

	bus := events.New()

	logs, err := funclog.NewManager(cfg.LogDir, cfg.MaxLogSizeBytes, cfg.MaxLogFiles, cfg.LogTailBufferSize, bus)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize function log manager")
	}
	loggerFor := func(packageName string) registry.FunctionLogger {
		stream, err := logs.For(packageName)
		if err != nil {
			logs.App.Warn(fmt.Sprintf("failed to open log stream for %s", packageName), map[string]interface{}{"error": err.Error()})
			return nil
		}
		return stream
	}

	loader := registry.NewLoader(filepath.Join(os.TempDir(), "funcdock-plugins"))
	reg := registry.New(cfg.FunctionsDir, loader, bus)
	if err := reg.LoadAll(); err != nil {
		log.Fatal().Err(err).Msg("failed to load function packages at startup")
	}

	redisCache, err := cache.New(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize redis cache")
	}
	defer redisCache.Close()

	sched := cron.New(reg, bus, loggerFor)
	sched.Start()
	defer sched.Stop()

	fsWatcher, err := watcher.New(cfg.FunctionsDir, cfg.DebounceWindow)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize function directory watcher")
	}
	go fsWatcher.Run()
	defer fsWatcher.Close()
	go watchAndReload(fsWatcher, reg)

	runner := deploy.NPMTestRunner{}
	orch := deploy.New(cfg.FunctionsDir, cfg.BackupDir, cfg.BackupRetention, cfg.TestTimeout, reg, runner)
	gitCli := gitclone.NewClient(2 * time.Minute)

	hub := wsfanout.New(bus)
	hubDone := make(chan struct{})
	go hub.Run(hubDone)
	defer close(hubDone)
	defer hub.Close()

	dispatcherSrv := dispatcher.New(reg, bus, loggerFor)

	adminEngine := gin.New()
	adminEngine.Use(gin.Recovery())
	adminEngine.Use(middleware.RequestID())
	adminEngine.Use(middleware.StructuredLogger(logger.HTTP()))
	adminEngine.Use(middleware.SecurityHeaders())
	adminEngine.Use(middleware.CORS())
	adminEngine.Use(middleware.Timeout(middleware.DefaultTimeoutConfig()))
	adminEngine.Use(middleware.RequestSizeLimiter(64 << 20))

	adminGroup := adminEngine.Group("/api")
	if cfg.JWTSecret != "" {
		validator := auth.NewValidator(cfg.JWTSecret)
		adminGroup.Use(auth.RequireBearer(validator))
	} else {
		log.Warn().Msg("JWT_SECRET not set, Control Plane admin API is running without authentication")
	}
	adminGroup.Use(middleware.NewRateLimiter(5, 10).Middleware())

	controlSrv := control.New(reg, orch, logs, hub, gitCli, redisCache, bus)
	controlSrv.Register(adminGroup)

	functionSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           dispatcherSrv.Engine(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	adminPort := getAdminPort(cfg.Port)
	adminSrv := &http.Server{
		Addr:              ":" + adminPort,
		Handler:           adminEngine,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("function dispatcher listening")
		if err := functionSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("function dispatcher server failed")
		}
	}()
	go func() {
		log.Info().Str("port", adminPort).Msg("control plane listening")
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("control plane server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := functionSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("function dispatcher shutdown did not complete cleanly")
	}
	if err := adminSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("control plane shutdown did not complete cleanly")
	}
}

// getAdminPort derives the Control Plane's port from the function
// dispatcher's port so a single PORT env var sizes both by default, while
// still letting ADMIN_PORT override it explicitly.
func getAdminPort(functionPort string) string {
	if p := os.Getenv("ADMIN_PORT"); p != "" {
		return p
	}
	return functionPort + "1"
}

// watchAndReload drains fsWatcher's debounced events and applies them
// directly to the registry: a deleted package is unloaded, anything else is
// reloaded. This bypasses the Safe-Deploy Orchestrator intentionally — raw
// filesystem edits (a developer editing a package in place) have no upload
// or git mutation to snapshot/rollback around, they're just a reload. The
// Cron Scheduler reconciles itself off the registry's lifecycle events, so
// this loop doesn't need to touch it directly.
func watchAndReload(fsWatcher *watcher.Watcher, reg *registry.Registry) {
	log := logger.Watcher()
	for ev := range fsWatcher.Events() {
		if ev.Deleted {
			if err := reg.Unload(ev.PackageName); err != nil {
				log.Warn().Err(err).Str("package", ev.PackageName).Msg("failed to unload removed package")
			}
			continue
		}
		if _, err := reg.Load(ev.PackageName); err != nil {
			log.Warn().Err(err).Str("package", ev.PackageName).Msg("failed to reload changed package")
			continue
		}
	}
}
