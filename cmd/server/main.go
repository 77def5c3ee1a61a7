package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"parley/internal/auth"
	"parley/internal/capabilities"
	"parley/internal/config"
	chatModels "parley/internal/domain/models/chat"
	chatRepo "parley/internal/domain/repositories/chat"
	"parley/internal/handler"
	"parley/internal/middleware"
	"parley/internal/repository/postgres"
	chatSvc "parley/internal/service/chat"
	"parley/internal/service/chat/pairbuffer"
	"parley/internal/service/chat/stream"
	"parley/internal/service/chat/tools"
)

func main() {
	// .env is optional; production configures through the environment.
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("configuration invalid: %v", err)
	}

	logger := setupLogger(cfg)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"model", cfg.DefaultModel,
		"tool_use", cfg.ToolUseEnabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Persistent store is optional; without DATABASE_URL the orchestrator
	// runs in-memory only.
	var store chatRepo.MessageStore
	if cfg.DatabaseURL != "" {
		pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to create connection pool: %v", err)
		}
		defer pool.Close()

		tables := postgres.NewTableNames(cfg.TablePrefix)
		if err := postgres.EnsureSchema(ctx, pool, tables); err != nil {
			log.Fatalf("failed to ensure schema: %v", err)
		}

		store = postgres.NewMessageRepository(&postgres.RepositoryConfig{
			Pool:   pool,
			Tables: tables,
			Logger: logger,
		})
		logger.Info("database connected", "table_prefix", cfg.TablePrefix)
	}

	client, err := stream.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL, logger)
	if err != nil {
		log.Fatalf("failed to create provider client: %v", err)
	}

	modelTable, err := capabilities.NewRegistry()
	if err != nil {
		log.Fatalf("failed to load model table: %v", err)
	}

	registry := tools.NewRegistry()
	registry.Register(tools.DemoRegistration(2 * time.Second))

	buffer := pairbuffer.New(time.Duration(cfg.ToolPairTimeoutMinutes)*time.Minute, logger)
	bus := chatSvc.NewBus(logger)

	service := chatSvc.NewService(
		client,
		chatSvc.NewRequestBuilder(modelTable),
		buffer,
		registry,
		tools.NewPermissionGate(registry),
		store,
		bus,
		logger,
		chatSvc.Options{
			Model:             cfg.DefaultModel,
			System:            []chatModels.SystemMessage{},
			UseThinking:       cfg.UseThinking,
			ToolUseEnabled:    cfg.ToolUseEnabled,
			UseCache:          cfg.UseCache,
			CacheTools:        cfg.CacheTools,
			CacheSystem:       cfg.CacheSystem,
			CacheMessages:     cfg.CacheMessages,
			KeepAliveInterval: time.Duration(cfg.KeepAliveMinutes) * time.Minute,
			PairTimeout:       time.Duration(cfg.ToolPairTimeoutMinutes) * time.Minute,
		},
	)
	defer service.Close()

	if err := service.LoadHistory(ctx, chatSvc.LoadHistoryOptions{
		MaxCount:      config.DefaultHistoryLoadCount,
		TruncateChars: config.DefaultTruncateChars,
		IncludeTools:  cfg.ToolUseEnabled,
	}); err != nil {
		logger.Warn("history load failed, starting empty", "error", err)
	}

	broadcaster := handler.NewBroadcaster(logger)
	go broadcaster.Run(ctx, service.Events())

	var verifier auth.Verifier
	if cfg.JWKSURL != "" {
		verifier, err = auth.NewJWKSVerifier(cfg.JWKSURL, logger)
		if err != nil {
			log.Fatalf("failed to create JWT verifier: %v", err)
		}
		defer verifier.Close()
	}

	mux := http.NewServeMux()
	handler.NewChatHandler(service, broadcaster, nil, logger).Register(mux)

	var root http.Handler = mux
	root = middleware.Auth(verifier, logger)(root)
	root = middleware.Logging(logger)(root)
	root = middleware.Recovery(logger)(root)
	root = cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
	}).Handler(root)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: root,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed: %v", err)
	}
	logger.Info("server stopped")
}

// setupLogger builds the process logger: JSON to stdout, plus a
// timestamped file in dev.
func setupLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stdout
	if cfg.Environment != "prod" {
		if f, err := config.SetupLogFile(config.LogDir, config.MaxLogFiles); err == nil {
			out = io.MultiWriter(os.Stdout, f)
		}
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
