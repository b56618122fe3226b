// Package main is the entrypoint for the Parlor API server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/parlor/parlor/internal/auth"
	"github.com/parlor/parlor/internal/cache"
	"github.com/parlor/parlor/internal/config"
	"github.com/parlor/parlor/internal/handler"
	"github.com/parlor/parlor/internal/mcp"
	"github.com/parlor/parlor/internal/metrics"
	"github.com/parlor/parlor/internal/middleware"
	"github.com/parlor/parlor/internal/repository"
	"github.com/parlor/parlor/internal/server"
	"github.com/parlor/parlor/internal/service"
	"github.com/parlor/parlor/internal/tools"
	"github.com/parlor/parlor/internal/usage"
)

const mcpHTTPTimeout = 30 * time.Second

// usageStore is what the profile needs from a transaction backend.
type usageStore interface {
	usage.TransactionReader
	service.ActivityCounter
}

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	loc, err := cfg.UsageLocation()
	if err != nil {
		return err
	}

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		return errors.New("database unavailable")
	}
	logger.Info("connected to database")

	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		repo.Close()
		logger.Error("failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		return errors.New("redis unavailable")
	}
	logger.Info("connected to Redis")

	recorder := metrics.NewInMemory()

	var store usageStore = repo
	var mongoCheck handler.HealthChecker
	var mongoStore *repository.MongoUsageStore
	if cfg.UsageStore == config.UsageStoreMongo {
		mongoStore, err = repository.NewMongoUsageStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			repo.Close()
			_ = cacheClient.Close()
			logger.Error("failed to connect to MongoDB",
				slog.String("error", sanitizeError(err, cfg.MongoURI)),
				slog.String("mongodb_uri", redactURL(cfg.MongoURI)),
			)
			return errors.New("mongodb unavailable")
		}
		if err := mongoStore.EnsureIndexes(ctx); err != nil {
			logger.Warn("failed to ensure MongoDB indexes", slog.String("error", err.Error()))
		}
		store = mongoStore
		mongoCheck = mongoStore
		logger.Info("connected to MongoDB", slog.String("database", cfg.MongoDatabase))
	}

	aggregator := usage.NewAggregator(store, cfg.UsageWindowDays, loc)
	profileSvc := service.NewProfileService(repo, store, aggregator, recorder).
		WithCache(cacheClient, cfg.ProfileCacheTTL)

	httpClient := &http.Client{Timeout: mcpHTTPTimeout}
	mcpSvc := service.NewMCPService(service.MCPServiceConfig{
		Loader: config.CustomLoader{Path: cfg.CustomConfigPath},
		NewManager: func() service.ToolManager {
			return mcp.NewManager(logger, httpClient)
		},
		LoadTools: tools.Load,
		Tools: service.ToolSettings{
			AdminFilter:   cfg.FilteredTools,
			AdminIncluded: cfg.IncludedTools,
			Directory:     cfg.StructuredToolsDir,
		},
		InitTimeout: cfg.MCPInitTimeout,
		Logger:      logger,
		Metrics:     recorder,
	})
	refreshMCP(ctx, mcpSvc, logger, "startup")

	var watcher *config.Watcher
	if cfg.MCPWatchConfig {
		watcher = config.NewWatcher(cfg.CustomConfigPath, func() {
			refreshMCP(context.Background(), mcpSvc, logger, "config_change")
		}, logger)
		if err := watcher.Start(); err != nil {
			logger.Warn("config watcher disabled", slog.String("error", err.Error()))
			watcher = nil
		}
	}

	apiKeyEnv := auth.EnvLive
	if !cfg.IsProduction() {
		apiKeyEnv = auth.EnvTest
	}

	r := setupRouter(routes{
		health: handler.NewHealthHandler(
			handler.HealthCheck{Name: "database", Checker: repo},
			handler.HealthCheck{Name: "redis", Checker: cacheClient},
			handler.HealthCheck{Name: "mongodb", Checker: mongoCheck},
		),
		metrics: handler.NewMetricsHandler(recorder),
		profile: handler.NewProfileHandler(profileSvc, logger),
		mcp:     handler.NewMCPHandler(mcpSvc, mcpSvc.Registry(), logger),
		apiKeys: handler.NewAPIKeyHandler(logger, repo, apiKeyEnv).WithInvalidator(cacheClient),
	}, repo, cacheClient, cfg, logger)

	srv := server.New(r, server.Options{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// Registered first, stopped last.
	srv.OnShutdown("postgres", func(context.Context) error {
		repo.Close()
		return nil
	})
	srv.OnShutdown("redis", func(context.Context) error {
		return cacheClient.Close()
	})
	if mongoStore != nil {
		srv.OnShutdown("mongodb", mongoStore.Close)
	}
	srv.OnShutdown("mcp", mcpSvc.Close)
	if watcher != nil {
		srv.OnShutdown("config_watcher", func(context.Context) error {
			return watcher.Close()
		})
	}

	logger.Info("starting server",
		slog.Int("port", cfg.AppPort),
		slog.String("env", cfg.AppEnv),
		slog.String("usage_store", cfg.UsageStore),
	)

	return srv.Run(ctx)
}

// refreshMCP runs a refresh outside a request. No configured servers is not
// an error here.
func refreshMCP(ctx context.Context, svc *service.MCPService, logger *slog.Logger, trigger string) {
	// RequestRefresh queues behind an in-flight refresh instead of dropping
	// the update.
	err := svc.RequestRefresh(ctx)
	switch {
	case err == nil:
		logger.Info("MCP tools loaded",
			slog.String("trigger", trigger),
			slog.Int("servers", len(svc.Servers())),
			slog.Int("tools", len(svc.Tools())),
		)
	case errors.Is(err, service.ErrMCPNotConfigured):
		logger.Info("no MCP servers configured", slog.String("trigger", trigger))
	case errors.Is(err, service.ErrRefreshQueued):
		logger.Info("MCP refresh queued", slog.String("trigger", trigger))
	default:
		logger.Error("MCP refresh failed",
			slog.String("trigger", trigger),
			slog.String("error", err.Error()),
		)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}

	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type routes struct {
	health  *handler.HealthHandler
	metrics *handler.MetricsHandler
	profile *handler.ProfileHandler
	mcp     *handler.MCPHandler
	apiKeys *handler.APIKeyHandler
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(h routes, repo *repository.Repository, cacheClient *cache.Cache, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()
	base := handler.New()

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger, cfg.IsDevelopment()))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()}))
	r.Use(middleware.CORS(corsCfg))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	r.Get("/healthz", h.health.Healthz)
	r.Get("/readyz", h.health.Readyz)
	r.Get("/metrics", h.metrics.Metrics)
	r.Get("/", base.Hello)

	authCfg := middleware.AuthConfig{
		Logger:   logger,
		Keys:     repo,
		Activity: repo,
		Cache:    cacheClient,
	}
	rateLimitCfg := middleware.RateLimitConfig{
		Logger:  logger,
		Limiter: cacheClient,
		Enabled: cfg.RateLimitAPIEnabled,
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(authCfg))
		r.Use(middleware.RateLimitAPI(rateLimitCfg))

		r.With(middleware.RequireRead()).Get("/user/profile", h.profile.Get)

		r.Route("/mcp", func(r chi.Router) {
			r.With(middleware.RequireAdmin()).Post("/refresh", h.mcp.Refresh)
			r.With(middleware.RequireRead()).Get("/tools", h.mcp.Tools)
		})

		r.Route("/api-keys", func(r chi.Router) {
			r.With(middleware.RequireRead()).Get("/", h.apiKeys.ListAPIKeys)
			r.With(middleware.RequireAdmin()).Post("/", h.apiKeys.CreateAPIKey)
			r.With(middleware.RequireAdmin()).Delete("/{key_id}", h.apiKeys.RevokeAPIKey)
			r.With(middleware.RequireAdmin()).Post("/{key_id}/rotate", h.apiKeys.RotateAPIKey)
		})
	})

	r.NotFound(base.NotFound)
	r.MethodNotAllowed(base.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
