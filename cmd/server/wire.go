package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"chatrelay-backend/internal/api"
	"chatrelay-backend/internal/config"
	"chatrelay-backend/internal/handlers"
	"chatrelay-backend/internal/llm"
	"chatrelay-backend/internal/relay"
	"chatrelay-backend/internal/services"
	"chatrelay-backend/internal/store"
	"chatrelay-backend/internal/store/postgres"
	"chatrelay-backend/internal/store/sqlite"
	"chatrelay-backend/internal/streams"
)

// migratingStore is a Store that can apply its own schema.
type migratingStore interface {
	store.Store
	Migrate(ctx context.Context) error
}

// openStore connects the configured driver.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (migratingStore, error) {
	switch cfg.DBDriver {
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("connected to PostgreSQL")
		return postgres.NewPostgresStore(pool, logger), nil
	case "sqlite":
		st, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite database")
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
}

// App is the wired HTTP application.
type App struct {
	Router  http.Handler
	Streams *streams.Registry

	store migratingStore
	redis *redis.Client
}

func (a *App) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.store.Close()
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app := &App{store: st}
	if err := st.Migrate(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("migrating %s store: %w", cfg.DBDriver, err)
	}

	// --- Abort fan-out ---
	var broadcaster streams.Broadcaster
	if cfg.RedisURL != "" {
		app.redis, err = streams.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			app.Close()
			return nil, err
		}
		broadcaster = streams.NewRedisBroadcaster(app.redis, streams.DefaultChannel)
		logger.Info().Msg("connected to Redis, stream aborts are shared across replicas")
	}
	app.Streams = streams.NewRegistry(broadcaster, logger)

	// --- Upstream ---
	var extractor *llm.Extractor
	if cfg.ExtractionPathsFile != "" {
		table, err := llm.LoadExtractionTable(cfg.ExtractionPathsFile)
		if err != nil {
			app.Close()
			return nil, err
		}
		extractor = llm.NewExtractor(table)
		logger.Info().Str("file", cfg.ExtractionPathsFile).Msg("loaded upstream extraction paths")
	}
	client := llm.NewClient(llm.Config{
		BaseURL:     cfg.Upstream.BaseURL,
		APIKey:      cfg.Upstream.APIKey,
		Model:       cfg.Upstream.Model,
		Temperature: cfg.Upstream.Temperature,
		Timeout:     cfg.Upstream.Timeout,
	}, extractor, logger)

	backend := services.Backend{
		Relay:     relay.New(client, client.Extractor(), logger),
		Completer: client,
		Titles:    client,
		Defaults: services.Defaults{
			Model:           cfg.Upstream.Model,
			Temperature:     cfg.Upstream.Temperature,
			SystemPrompt:    cfg.SystemPrompt,
			TitleGeneration: cfg.TitleGeneration,
		},
	}

	// --- Services ---
	authService, err := services.NewAuthService(cfg.AuthToken, cfg.JWTSecret, cfg.TokenExpiration, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	conversationService := services.NewConversationService(st, logger)
	variantService := services.NewVariantService(st, backend, logger)
	chatService := services.NewChatService(st, backend, logger)

	// --- Handlers & Router ---
	app.Router = api.NewRouter(api.RouterDependencies{
		AuthHandler:         handlers.NewAuthHandler(authService, logger),
		ConversationHandler: handlers.NewConversationHandler(conversationService, logger),
		MessageHandler:      handlers.NewMessageHandler(conversationService, variantService, app.Streams, logger),
		ChatHandler:         handlers.NewChatHandler(chatService, app.Streams, logger),
		UpstreamHandler:     handlers.NewUpstreamHandler(client, logger),
		StreamHandler:       handlers.NewStreamHandler(app.Streams, logger),
		Authenticator:       authService,
		Config:              cfg,
		Logger:              logger,
	})
	logger.Info().
		Str("upstream", cfg.Upstream.BaseURL).
		Str("model", cfg.Upstream.Model).
		Bool("auth", cfg.AuthEnabled).
		Msg("HTTP router configured")
	return app, nil
}
