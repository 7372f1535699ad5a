package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/sindi-homes/assistant/internal/config"
	"github.com/sindi-homes/assistant/internal/handler"
	natsclient "github.com/sindi-homes/assistant/internal/nats"
	"github.com/sindi-homes/assistant/internal/property"
	"github.com/sindi-homes/assistant/internal/search"
	"github.com/sindi-homes/assistant/internal/service"
	"github.com/sindi-homes/assistant/internal/store"
	"github.com/sindi-homes/assistant/pkg/logger"
	"github.com/sindi-homes/assistant/pkg/tracing"
)

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	log.Info("starting API server")

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "sindi-assistant", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Conversation store
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := migrate(ctx, st); err != nil {
		return err
	}
	checks := map[string]handler.Check{"store": st.Ping}

	// Share cache
	var shareCache store.ShareCache
	if cfg.RedisAddr != "" {
		rdb, err := store.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Warn("share cache disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			cache := store.NewRedisShareCache(rdb)
			shareCache = cache
			checks["redis"] = cache.Ping
		}
	}

	// Event log
	var events service.EventPublisher = service.NoopPublisher{}
	var eventReader handler.EventReader
	if cfg.NATSEnabled {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			return fmt.Errorf("failed to ensure stream: %w", err)
		}
		events = streamManager
		eventReader = streamManager
		checks["nats"] = natsClient.Ping
	}

	// Language model
	llmClient, err := newLLMClient(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create llm client: %w", err)
	}
	log.Info("llm provider ready", zap.String("provider", llmClient.Name()))

	// Retrieval pipeline
	index := property.NewHTTPClient(cfg.PropertyIndexURL, cfg.PropertyIndexTimeout)
	grounder := search.NewGrounder(
		search.NewFilterExtractor(llmClient, cfg.UtilityModel, cfg.ExtractionTimeout, log.Named("extractor")),
		search.NewFanOut(
			search.NewGeoRetriever(index, cfg.NearbyRadiusMeters),
			search.NewKeywordRetriever(index),
			cfg.RetrievalTimeout,
			log.Named("retrieval"),
		),
		search.NewMerger(cfg.ContextTokenBudget),
		log.Named("grounder"),
	)

	// Initialize services
	conversationSvc := service.NewConversationService(st, shareCache, events, cfg.ShareTTL, log)
	titles := service.NewTitleGenerator(llmClient, cfg.UtilityModel, cfg.TitleTimeout, log.Named("titles"))
	chatSvc := service.NewChatService(conversationSvc, grounder, llmClient, titles, service.ChatConfig{
		Model:          cfg.ChatModel,
		MaxTokens:      cfg.ChatMaxTokens,
		HistoryWindow:  cfg.HistoryWindow,
		PartialPolicy:  cfg.PartialPolicy,
		PersistTimeout: cfg.PersistTimeout,
	}, log)

	router := handler.NewRouter(handler.RouterConfig{
		Health:            handler.NewHealthHandler(checks),
		Conversations:     handler.NewConversationHandler(conversationSvc, log),
		Messages:          handler.NewMessageHandler(conversationSvc, eventReader, log),
		Chat:              handler.NewChatHandler(chatSvc, log),
		JWTSecret:         cfg.JWTSecret,
		AllowedOrigins:    cfg.AllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		Logger:            log,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      otelhttp.NewHandler(router, "sindi-api"),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	if err := chatSvc.Drain(shutdownCtx); err != nil {
		log.Warn("pending chat persistence abandoned", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}
