package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"go.uber.org/zap"

	"github.com/lumapay/paybot/internal/audit"
	"github.com/lumapay/paybot/internal/config"
	"github.com/lumapay/paybot/internal/handler"
	"github.com/lumapay/paybot/internal/service/conversation"
	"github.com/lumapay/paybot/internal/service/responder"
	"github.com/lumapay/paybot/internal/service/tokenizer"
	"github.com/lumapay/paybot/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	sessions, cleanup, err := newSessionStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Fatal("failed to initialize session store", zap.String("backend", cfg.Store.Backend), zap.Error(err))
	}
	defer cleanup()

	var sink audit.Sink = audit.NopSink{}
	if cfg.Audit.Enabled {
		fileSink, err := audit.NewFileSink(cfg.Audit.Dir)
		if err != nil {
			logger.Fatal("failed to initialize audit sink", zap.String("dir", cfg.Audit.Dir), zap.Error(err))
		}
		sink = fileSink
	} else {
		logger.Info("audit sink disabled by configuration")
	}

	var assistant responder.Responder
	if cfg.AI.Enabled() {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			logger.Warn("failed to initialize chat model, continuing with scripted prompts", zap.Error(err))
		} else {
			assistant, err = responder.NewArkResponder(ctx, chatModel, logger)
			if err != nil {
				logger.Warn("failed to initialize responder, continuing with scripted prompts", zap.Error(err))
				assistant = nil
			} else {
				logger.Info("chat responder initialized", zap.String("model", cfg.AI.Model))
			}
		}
	} else {
		logger.Info("ark credentials not configured, using scripted prompts only")
	}

	tokens := tokenizer.NewStripeClient(tokenizer.Config{
		SecretKey:     cfg.Stripe.SecretKey,
		SecretKeyFile: cfg.Stripe.SecretKeyFile,
		BaseURL:       cfg.Stripe.BaseURL,
		Timeout:       cfg.Stripe.Timeout,
	}, logger)

	svc := conversation.NewService(sessions, assistant, tokens, sink, logger, conversation.Options{
		CancelWords:    cfg.Policy.CancelWords,
		TerminalPolicy: conversation.TerminalPolicy(cfg.Policy.TerminalSessions),
		VaultTTL:       cfg.Policy.VaultTTL,
	})

	router := handler.NewRouter(svc, logger)

	startServer(ctx, cfg.Server, router, logger)
}

func newSessionStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.SessionStore, func(), error) {
	switch cfg.Backend {
	case "redis":
		rs, err := store.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPrefix, cfg.SessionTTL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using redis session store", zap.String("addr", cfg.RedisAddr))
		return rs, func() { rs.Close() }, nil
	case "postgres":
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.PostgresDSN)))
		db := bun.NewDB(sqldb, pgdialect.New())
		ps := store.NewPostgresStore(db)
		if err := ps.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("using postgres session store")
		return ps, func() { db.Close() }, nil
	default:
		logger.Info("using in-memory session store")
		return store.NewMemoryStore(), func() {}, nil
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("payment collection service listening", zap.String("addr", serverCfg.Addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
