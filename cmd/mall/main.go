package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"gorm.io/gorm"

	"mall-system/config"
	"mall-system/internal/database"
	"mall-system/internal/events"
	"mall-system/internal/utils"
)

const (
	shutdownTimeout = 15 * time.Second
	probeInterval   = 10 * time.Second
	eventPrefix     = "mall"
)

func main() {
	cfg := config.LoadConfig()

	logger, err := utils.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(cfg.DB.DSN)
	if err != nil {
		logger.Fatal("failed to connect to db", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	redisClient, err := config.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Warn("redis unavailable, running without cache", zap.Error(err))
	} else {
		defer redisClient.Close()
	}

	publisher, closePublisher := newPublisher(cfg.Events, redisClient, logger)
	defer closePublisher()

	issuer := utils.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	router, err := newRouter(cfg, newServices(db, redisClient, publisher, logger), issuer, db, logger)
	if err != nil {
		logger.Fatal("failed to build router", zap.Error(err))
	}

	srv := &http.Server{
		Addr:    ":" + cfg.HTTP.Port,
		Handler: router,
	}

	grpcServer, err := serveHealth(ctx, cfg.GRPC.HealthPort, db, logger)
	if err != nil {
		logger.Fatal("failed to start health server", zap.Error(err))
	}

	go func() {
		logger.Info("mall api listening", zap.String("port", cfg.HTTP.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	grpcServer.GracefulStop()
}

// newPublisher picks the event transport; it never fails startup.
func newPublisher(cfg config.EventsConfig, redisClient *redis.Client, logger *zap.Logger) (events.Publisher, func()) {
	noop := func() {}
	switch cfg.Driver {
	case "amqp":
		p, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.Exchange)
		if err != nil {
			logger.Warn("amqp unavailable, events disabled", zap.Error(err))
			return events.NopPublisher{}, noop
		}
		return p, func() {
			if err := p.Close(); err != nil {
				logger.Warn("failed to close amqp publisher", zap.Error(err))
			}
		}
	case "redis":
		if redisClient == nil {
			logger.Warn("redis event driver selected without redis, events disabled")
			return events.NopPublisher{}, noop
		}
		return events.NewRedisPublisher(redisClient, eventPrefix), noop
	default:
		return events.NopPublisher{}, noop
	}
}

// serveHealth exposes the grpc health protocol and keeps it in step with the database.
func serveHealth(ctx context.Context, port string, db *gorm.DB, logger *zap.Logger) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return nil, err
	}

	s := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, healthServer)
	reflection.Register(s)

	probe := func() {
		status := grpc_health_v1.HealthCheckResponse_SERVING
		if err := database.Ping(db); err != nil {
			logger.Warn("database ping failed", zap.Error(err))
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
		healthServer.SetServingStatus("", status)
	}
	probe()

	go func() {
		ticker := time.NewTicker(probeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				healthServer.Shutdown()
				return
			case <-ticker.C:
				probe()
			}
		}
	}()

	go func() {
		logger.Info("health server listening", zap.String("port", port))
		if err := s.Serve(lis); err != nil {
			logger.Error("health server stopped", zap.Error(err))
		}
	}()

	return s, nil
}
