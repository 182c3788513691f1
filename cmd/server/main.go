package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/funsideprojects/open-network-backend/bus"
	"github.com/funsideprojects/open-network-backend/gateway"
	"github.com/funsideprojects/open-network-backend/notify"
	"github.com/funsideprojects/open-network-backend/pkg/telemetry"
	"github.com/funsideprojects/open-network-backend/presence"
	"github.com/funsideprojects/open-network-backend/registry"
	"github.com/funsideprojects/open-network-backend/relay"
	"github.com/funsideprojects/open-network-backend/store"
	"github.com/funsideprojects/open-network-backend/token"
)

func main() {
	ctx := context.Background()

	cfg := loadConfig()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)})))
	cfg.validate()

	otelShutdown, err := telemetry.Init(ctx)
	if err != nil {
		slog.Error("Failed to initialize OpenTelemetry", "error", err)
		os.Exit(1)
	}
	defer otelShutdown(ctx)

	slog.Info("Starting server", "addr", cfg.Addr, "environment", cfg.Environment)

	// Durable store, with the usual wait-for-dependency retry loop.
	client, err := store.Connect(ctx, cfg.MongoURI, 30)
	if err != nil {
		slog.Error("Failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	defer client.Disconnect(ctx)
	db := client.Database(cfg.MongoDB)
	users := store.NewMongoUserStore(db)
	notifications := store.NewMongoNotificationStore(db)
	slog.Info("Connected to MongoDB", "database", cfg.MongoDB)

	tokens, err := token.New(cfg.JWTSecret)
	if err != nil {
		slog.Error("Failed to initialize token service", "error", err)
		os.Exit(1)
	}

	eventBus := bus.New()
	reg := registry.New()
	coordinator := presence.NewCoordinator(reg, users, eventBus)
	notifier := notify.NewNotifier(eventBus)

	// The registry starts empty, so durable online flags left behind by a
	// previous process are stale. Reconcile before accepting connections.
	if err := coordinator.Reconcile(ctx); err != nil {
		slog.Error("Failed to reconcile online flags", "error", err)
		os.Exit(1)
	}

	// Cross-instance event relay, only when NATS is configured.
	relayCtx, relayCancel := context.WithCancel(ctx)
	defer relayCancel()
	if cfg.NatsURL != "" {
		nc, err := relay.Connect(cfg.NatsURL, "open-network-backend", 30)
		if err != nil {
			slog.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer nc.Drain()

		r := relay.New(nc, eventBus)
		if err := r.Start(relayCtx); err != nil {
			slog.Error("Failed to start event relay", "error", err)
			os.Exit(1)
		}
		defer r.Close()
		slog.Info("Connected to NATS", "url", nc.ConnectedUrl())
	}

	auth := &gateway.Auth{
		Tokens:        tokens,
		Users:         users,
		Notifications: notifications,
		Development:   cfg.development(),
	}
	socket := gateway.NewSocketHandler(tokens, coordinator, notifier)

	mux := http.NewServeMux()
	mux.Handle("/graphql/subscriptions", socket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           auth.Middleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Server shutdown", "error", err)
	}
	slog.Info("Shutdown complete")
}
