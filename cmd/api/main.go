package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/koomind/koomind-backend/internal/auth"
	"github.com/koomind/koomind-backend/internal/broker"
	"github.com/koomind/koomind-backend/internal/config"
	"github.com/koomind/koomind-backend/internal/data"
	"github.com/koomind/koomind-backend/internal/db"
	"github.com/koomind/koomind-backend/internal/messenger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration", "err", err)
	}
	logger := newLogger(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", "err", err)
	}
}

func newLogger(level string) *log.Logger {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
}

func newJWTManager(cfg *config.Config) (*auth.JWTManager, error) {
	if cfg.JWTKeys == "" {
		return auth.NewJWTManager(cfg.JWTSecret, cfg.JWTTTL).WithRefreshTTL(cfg.JWTRefreshTTL), nil
	}
	keys, err := config.ParseKeys(cfg.JWTKeys)
	if err != nil {
		return nil, err
	}
	return auth.NewJWTManagerFromKeys(keys, cfg.JWTActiveKid, cfg.JWTTTL).WithRefreshTTL(cfg.JWTRefreshTTL), nil
}

func run(cfg *config.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	dbClient, err := db.New(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
	cancel()
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = dbClient.Close(closeCtx)
	}()

	if err := dbClient.CreateIndexes(ctx); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}

	users := data.NewUsersStore(dbClient.UsersCollection())
	convs := data.NewConversationsStore(dbClient.ConversationsCollection())
	msgs := data.NewMessagesStore(dbClient.MessagesCollection())
	tasks := data.NewTasksStore(dbClient.TasksCollection())

	jwtMgr, err := newJWTManager(cfg)
	if err != nil {
		return err
	}

	bus, err := broker.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connect room bus: %w", err)
	}
	defer bus.Close()

	hub := NewHub()
	defer hub.Close()

	svc := messenger.NewService(convs, msgs, users, messenger.Options{
		EnforceMembership: cfg.EnforceMembers,
	}, logger)

	srv := newServer(cfg, logger, serverDeps{
		Messenger: svc,
		Users:     users,
		Tasks:     tasks,
		Tokens:    jwtMgr,
		Guard:     auth.NewGuard(jwtMgr),
		Hub:       hub,
		Bus:       bus,
		DB:        dbClient,
	})
	defer srv.Stop()

	if err := srv.subscribe(ctx); err != nil {
		return fmt.Errorf("subscribe to room bus: %w", err)
	}

	monitor := newHealthMonitor(logger, 15*time.Second,
		dependencyCheck{"mongo", dbClient},
		dependencyCheck{"bus", bus},
	)
	go monitor.run(ctx)

	grpcServer, err := newGRPCServer(cfg, monitor)
	if err != nil {
		return fmt.Errorf("load TLS certs: %w", err)
	}
	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.HealthGRPCPort))
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	e := srv.routes()
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC health server listening", "addr", grpcLis.Addr().String())
		if err := grpcServer.Serve(grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr, "tls", cfg.TLSEnabled(), "broker", cfg.Broker)
		var err error
		if cfg.TLSEnabled() {
			err = httpServer.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server failed, shutting down", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// hijacked websockets are not tracked by http.Server
	hub.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "err", err)
	}
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}
	return nil
}
