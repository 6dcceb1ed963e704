// Package main is the entry point for the hpn-g-adapter server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"

	"github.com/hpn/hpn-g-adapter/internal/adapter"
	"github.com/hpn/hpn-g-adapter/internal/auth"
	"github.com/hpn/hpn-g-adapter/internal/config"
	"github.com/hpn/hpn-g-adapter/internal/feature"
	"github.com/hpn/hpn-g-adapter/internal/handler"
	"github.com/hpn/hpn-g-adapter/internal/security"
	"github.com/hpn/hpn-g-adapter/internal/store"
	"github.com/hpn/hpn-g-adapter/internal/ui"
)

const version = "v1.0.0"

// envConfigFile names an explicit config file, skipping the search paths.
const envConfigFile = "HPN_ADAPTER_CONFIG_FILE"

// app is the wired object graph behind the HTTP server.
type app struct {
	cfg       *config.Configuration
	logger    *slog.Logger
	providers *store.MemoryStore
	tokens    *auth.Manager
	invoker   *adapter.Invoker
	api       *handler.API
	router    *gin.Engine
}

func main() {
	// =========================================================================
	// 1. Bootstrap logger until the configured one is ready
	// =========================================================================
	logger, _ := setupLogger(config.LoggingConfig{Level: os.Getenv("HPN_ADAPTER_LOGGING_LEVEL")})

	// =========================================================================
	// 2. Load configuration (Singleton)
	// =========================================================================
	var (
		cfg *config.Configuration
		err error
	)
	if path := os.Getenv(envConfigFile); path != "" {
		cfg, err = config.GetConfigWithPath(path)
	} else {
		cfg, err = config.GetConfig()
	}
	if err != nil {
		logger.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger, closeLog := setupLogger(cfg.Logging)
	defer closeLog()

	if cfg.Logging.Console {
		ui.PrintBanner(version)
	} else {
		ui.SetOutput(io.Discard)
	}

	logger.Info("configuration loaded",
		slog.String("file", cfg.File()),
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.Int("providers", len(cfg.Providers)),
		slog.Int("active_providers", len(cfg.ActiveProviders())),
		slog.Duration("upstream_timeout", cfg.UpstreamTimeout()),
	)

	// =========================================================================
	// 3. Wire store, token manager, engine, features and HTTP API
	// =========================================================================
	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go a.tokens.Cache().Run(ctx, cfg.TokenCleanupInterval())

	if cfg.Engine.WatchConfig && cfg.File() != "" {
		go func() {
			if err := config.Watch(ctx, cfg.File(), a.reload); err != nil {
				logger.Warn("config watch disabled", slog.String("error", err.Error()))
			}
		}()
	}

	// =========================================================================
	// 4. Start HTTP server with graceful shutdown
	// =========================================================================
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      a.router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
	}

	go func() {
		logger.Info("server starting", slog.String("address", addr))
		if cfg.Logging.Console {
			ui.PrintStartupInfo(cfg.Server.Host, cfg.Server.Port, providerLines(a.providers))
		}

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	logger.Info("shutdown signal received")
	if cfg.Logging.Console {
		ui.PrintShutdown()
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
	if cfg.Logging.Console {
		ui.PrintGoodbye()
	}
}

// newApp wires every component from cfg.
func newApp(cfg *config.Configuration, logger *slog.Logger) (*app, error) {
	storeOpts := []store.Option{store.WithLogger(logger)}
	if cfg.Engine.TokenFile != "" {
		storeOpts = append(storeOpts, store.WithTokenFile(store.NewTokenFile(cfg.Engine.TokenFile)))
	}
	providers, err := store.NewMemoryStore(cfg.Providers, storeOpts...)
	if err != nil {
		return nil, err
	}

	tokenOpts := []auth.Option{
		auth.WithLogger(logger),
		auth.WithPersister(providers),
		auth.WithTokenTTL(cfg.TokenTTL()),
	}
	if cfg.Logging.Console {
		tokenOpts = append(tokenOpts, auth.WithRefreshHook(ui.PrintTokenRefresh))
	}
	tokens := auth.NewManager(tokenOpts...)

	invoker := adapter.NewInvoker(
		adapter.WithTimeout(cfg.UpstreamTimeout()),
		adapter.WithTokenSource(tokens),
		adapter.WithLogger(logger),
		adapter.WithMaxReplyBytes(cfg.Engine.MaxReplyBytes),
		adapter.WithBodyPreviewBytes(cfg.Engine.BodyPreviewBytes),
	)

	// Surface template problems at startup instead of on first call.
	for _, d := range providers.List() {
		if _, err := invoker.Compile(d); err != nil {
			logger.Warn("provider failed to compile", slog.String("provider", d.ID), slog.String("error", err.Error()))
		}
	}

	api := handler.NewAPI(
		feature.NewChat(invoker, providers),
		feature.NewImage(invoker, providers),
		feature.NewVoice(invoker, providers),
		providers,
		handler.WithLogger(logger),
		handler.WithTokenStatus(tokens),
		handler.WithConsole(cfg.Logging.Console),
	)

	return &app{
		cfg:       cfg,
		logger:    logger,
		providers: providers,
		tokens:    tokens,
		invoker:   invoker,
		api:       api,
		router:    newRouter(api, logger, cfg),
	}, nil
}

// newRouter builds the gin engine with middleware and routes.
func newRouter(api *handler.API, logger *slog.Logger, cfg *config.Configuration) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(handler.RecoveryMiddleware(logger))
	router.Use(handler.RequestIDMiddleware())
	router.Use(handler.CORSMiddleware())
	router.Use(handler.LoggingMiddleware(logger, cfg.Logging.Console))

	api.Register(router)
	return router
}

// reload swaps in the providers of a changed config file. Engine and server
// settings need a restart.
func (a *app) reload(cfg *config.Configuration, event fsnotify.Event, err error) {
	if err != nil {
		a.logger.Warn("config reload rejected", slog.String("file", event.Name), slog.String("error", err.Error()))
		if a.cfg.Logging.Console {
			ui.PrintReload(0, err)
		}
		return
	}

	var authChanged []string
	for i := range cfg.Providers {
		next := &cfg.Providers[i]
		prev, gerr := a.providers.Get(context.Background(), next.ID)
		if gerr != nil || !reflect.DeepEqual(prev.Auth, next.Auth) {
			authChanged = append(authChanged, next.ID)
		}
	}

	if err := a.providers.Replace(cfg.Providers); err != nil {
		a.logger.Warn("config reload rejected", slog.String("file", event.Name), slog.String("error", err.Error()))
		if a.cfg.Logging.Console {
			ui.PrintReload(0, err)
		}
		return
	}

	// The store has already dropped their descriptor tokens, so the cache
	// cannot be re-seeded with a token from the old login.
	for _, id := range authChanged {
		a.tokens.Invalidate(id)
	}

	a.logger.Info("providers reloaded",
		slog.String("file", event.Name),
		slog.String("op", event.Op.String()),
		slog.Int("providers", len(cfg.Providers)),
	)
	if a.cfg.Logging.Console {
		ui.PrintReload(len(cfg.Providers), nil)
	}
}

func providerLines(providers *store.MemoryStore) []ui.ProviderLine {
	descs := providers.List()
	lines := make([]ui.ProviderLine, len(descs))
	for i, d := range descs {
		lines[i] = ui.ProviderLine{
			ID:       d.ID,
			Kind:     string(d.Kind),
			Encoding: string(d.ResponseEncoding.Normalize()),
			Active:   d.IsActive,
			Login:    d.Auth != nil,
		}
	}
	return lines
}

// setupLogger creates a structured logger that redacts secrets.
// The returned func closes the log file, if one was opened.
func setupLogger(cfg config.LoggingConfig) (*slog.Logger, func()) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var out io.Writer = os.Stdout
	closeFn := func() {}
	if cfg.OutputPath != "" {
		f, err := os.OpenFile(cfg.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[LOG] cannot open %s, logging to stdout: %v\n", cfg.OutputPath, err)
		} else {
			out = f
			closeFn = func() { f.Close() }
		}
	}

	opts := &slog.HandlerOptions{Level: level}

	var inner slog.Handler
	if cfg.Format == "text" {
		inner = slog.NewTextHandler(out, opts)
	} else {
		inner = slog.NewJSONHandler(out, opts)
	}
	logger := slog.New(security.NewRedactedHandler(inner))

	// Set as default logger
	slog.SetDefault(logger)

	return logger, closeFn
}
