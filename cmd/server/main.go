package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"account-auth/backend/internal/account/handler"
	"account-auth/backend/internal/account/repository"
	"account-auth/backend/internal/account/service"
	"account-auth/backend/internal/config"
	"account-auth/backend/internal/db"
	"account-auth/backend/internal/db/migrate"
	"account-auth/backend/internal/delivery"
	"account-auth/backend/internal/health"
	"account-auth/backend/internal/logging"
	"account-auth/backend/internal/resetcode"
	"account-auth/backend/internal/security"
	"account-auth/backend/internal/server"
	"account-auth/backend/internal/telemetry"
	otelsetup "account-auth/backend/internal/telemetry/otel"
)

var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("server: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := otelsetup.NewProviders(ctx, otelsetup.Options{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Env,
		Insecure:       cfg.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.ServiceName, version, logging.Options{
		Format:         cfg.LogFormat,
		Level:          level,
		LoggerProvider: providers.LoggerProvider,
	})
	slog.SetDefault(logger)

	store, pool, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	hasher, err := security.NewHasher(strings.ToLower(cfg.PasswordHashAlgorithm), cfg.BcryptCost, security.Argon2Params{
		Time:    uint32(cfg.Argon2Time),
		Memory:  uint32(cfg.Argon2MemoryKB),
		Threads: uint8(cfg.Argon2Threads),
	})
	if err != nil {
		return err
	}
	tokens, err := newTokenProvider(cfg)
	if err != nil {
		return fmt.Errorf("tokens: %w", err)
	}

	sink, devCodes, err := newSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("close delivery sink", "error", err)
		}
	}()

	svc := service.NewAuthService(store, hasher, tokens, resetcode.NewGenerator(), logger.With("component", "auth"))
	metrics := telemetry.NewMetrics("account")

	var pinger health.Pinger
	if pool != nil {
		pinger = pool
	}
	checker := health.NewChecker(pinger)

	deps := server.RouterDeps{
		ServiceName:   cfg.ServiceName,
		Accounts:      handler.NewAccountHandler(svc, sink, metrics, logger),
		Authenticator: svc,
		Health:        checker,
		Metrics:       metrics,
		Logger:        logger,
	}
	if devCodes != nil {
		deps.DevCodes = devCodes
	}
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		grpcSrv = server.NewGRPCServer(checker, logger)
		go func() {
			logger.Info("grpc health server listening", "addr", cfg.GRPCAddr)
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("server failed", "error", runErr)
	}

	checker.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.Warn("otel shutdown", "error", err)
	}
	return runErr
}

// openStore returns the configured credential store. The pool is nil for the
// memory driver.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.Store, *sql.DB, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("using in-memory credential store; data is lost on restart")
		return repository.NewMemoryStore(), nil, nil
	}
	pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{ConnectRetries: uint64(cfg.DBConnectRetries)})
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}
	if cfg.AutoMigrate {
		if err := migrate.Run(cfg.DatabaseURL, migrate.Up); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied")
	}
	return repository.NewPostgresStore(pool, cfg.StoreTimeout()), pool, nil
}

func newTokenProvider(cfg *config.Config) (*security.TokenProvider, error) {
	if cfg.JWTSecret != "" {
		return security.NewHMACTokenProvider([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	}
	priv, pub, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		return nil, err
	}
	return security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
}

// newSink builds the reset-code sink. In dev mode a MemorySink is teed in
// and returned so the router can expose it.
func newSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (delivery.Sink, *delivery.MemorySink, error) {
	var (
		sink delivery.Sink
		mem  *delivery.MemorySink
	)
	switch cfg.ResetDelivery {
	case config.DeliveryKafka:
		k, err := delivery.NewKafkaSink(cfg.KafkaBrokersList(), cfg.KafkaResetTopic)
		if err != nil {
			return nil, nil, err
		}
		sink = k
	case config.DeliveryRedis:
		client, err := delivery.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		r, err := delivery.NewRedisSink(client, cfg.RedisResetQueue)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		sink = r
	case config.DeliveryMemory:
		mem = delivery.NewMemorySink(delivery.DefaultMemoryTTL)
		sink = mem
	default:
		sink = delivery.NewLogSink(logger.With("component", "delivery"))
	}

	if !cfg.DevResetCodes() {
		return sink, nil, nil
	}
	if mem == nil {
		mem = delivery.NewMemorySink(delivery.DefaultMemoryTTL)
		sink = delivery.Tee{sink, mem}
	}
	return sink, mem, nil
}
