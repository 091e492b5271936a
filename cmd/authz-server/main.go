// Package main provides the entry point for the authorization decision server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/authz-engine/go-core/internal/cel"
	"github.com/authz-engine/go-core/internal/engine"
	"github.com/authz-engine/go-core/internal/policy"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		httpPort        = flag.Int("http-port", 8080, "HTTP port for check/health/metrics")
		cacheEnabled    = flag.Bool("cache", true, "Enable decision cache")
		cacheSize       = flag.Int("cache-size", 10000, "Maximum decision cache entries")
		cacheTTL        = flag.Duration("cache-ttl", time.Hour, "Decision cache entry TTL")
		cacheSweep      = flag.Duration("cache-sweep-interval", time.Minute, "Decision cache background sweep interval")
		workers         = flag.Int("workers", 16, "Parallel workers for batch checks")
		logLevel        = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		logFormat       = flag.String("log-format", "json", "Log format (json, console)")
		showVersion     = flag.Bool("version", false, "Show version information")
		policyDir       = flag.String("policy-dir", "", "Directory to load policy documents from")
		watchPolicies   = flag.Bool("watch", false, "Watch policy-dir for changes and hot-reload")
		gracefulTimeout = flag.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("authz-server %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	logger, err := initLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting authorization decision server",
		zap.String("version", Version),
		zap.Int("http_port", *httpPort),
	)

	catalog := policy.NewCatalog()
	celEngine, err := cel.NewEngine()
	if err != nil {
		logger.Fatal("failed to initialize expression engine", zap.Error(err))
	}
	loader := policy.NewLoader(logger, celEngine)

	if *policyDir != "" {
		if err := loadPoliciesFromDir(catalog, loader, *policyDir, logger); err != nil {
			logger.Fatal("failed to load policies", zap.Error(err))
		}
	}

	var watcher *policy.FileWatcher
	if *watchPolicies && *policyDir != "" {
		watcher, err = policy.NewFileWatcher(*policyDir, catalog, loader, logger)
		if err != nil {
			logger.Fatal("failed to create policy file watcher", zap.Error(err))
		}
		watchCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := watcher.Watch(watchCtx); err != nil {
			logger.Fatal("failed to start policy file watcher", zap.Error(err))
		}
	}

	engCfg := engine.DefaultConfig()
	engCfg.CacheEnabled = *cacheEnabled
	engCfg.CacheSize = *cacheSize
	engCfg.CacheTTL = *cacheTTL
	engCfg.CacheSweepInterval = *cacheSweep
	engCfg.ParallelWorkers = *workers

	eng, err := engine.New(engCfg, catalog, logger)
	if err != nil {
		logger.Fatal("failed to create decision engine", zap.Error(err))
	}
	defer eng.Close()

	logger.Info("decision engine initialized",
		zap.Bool("cache_enabled", *cacheEnabled),
		zap.Int("cache_size", *cacheSize),
		zap.Int("workers", *workers),
	)

	var ready atomic.Bool
	ready.Store(true)

	mux := http.NewServeMux()
	registerCheckHandler(mux, eng, logger)
	registerHealthHandlers(mux, &ready)
	registerMetricsHandler(mux, eng)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", *httpPort),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("listening for HTTP requests", zap.Int("port", *httpPort))
		errChan <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))

		ready.Store(false)
		logger.Info("marked not ready, draining in-flight requests")

		ctx, cancel := context.WithTimeout(context.Background(), *gracefulTimeout)
		defer cancel()

		if err := httpSrv.Shutdown(ctx); err != nil {
			logger.Warn("error during HTTP shutdown", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

func initLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	var config zap.Config
	if format == "console" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	return config.Build()
}

func loadPoliciesFromDir(catalog *policy.Catalog, loader *policy.Loader, dir string, logger *zap.Logger) error {
	result, err := loader.LoadFromDirectory(dir)
	if err != nil {
		return fmt.Errorf("loading policy directory %q: %w", dir, err)
	}

	if err := catalog.ReplaceAll(result.ResourcePolicies, result.PrincipalPolicies, result.DerivedRoles, "startup"); err != nil {
		return fmt.Errorf("publishing loaded policies: %w", err)
	}

	rp, pp, dr := catalog.Count()
	logger.Info("loaded policies from directory",
		zap.String("dir", dir),
		zap.Int("resource_policies", rp),
		zap.Int("principal_policies", pp),
		zap.Int("derived_roles", dr),
	)
	return nil
}
