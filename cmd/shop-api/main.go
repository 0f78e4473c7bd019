package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/fjod/freshmilk/internal/cart/cache"
	"github.com/fjod/freshmilk/internal/cart/consumer"
	cartrepo "github.com/fjod/freshmilk/internal/cart/repository"
	cartsvc "github.com/fjod/freshmilk/internal/cart/service"
	catalog "github.com/fjod/freshmilk/internal/catalog/repository"
	h "github.com/fjod/freshmilk/internal/http"
	"github.com/fjod/freshmilk/internal/order/publisher"
	orderrepo "github.com/fjod/freshmilk/internal/order/repository"
	ordersvc "github.com/fjod/freshmilk/internal/order/service"
	"github.com/fjod/freshmilk/internal/payment"
	"github.com/fjod/freshmilk/internal/platform/config"
	"github.com/fjod/freshmilk/internal/platform/logger"
	"github.com/fjod/freshmilk/internal/platform/postgres"
	"github.com/fjod/freshmilk/internal/platform/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("shop-api exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger.New(logger.Options{Service: "shop-api", Env: cfg.AppEnv, Level: cfg.LogLevel})
	slog.Info("shop-api starting", "http_port", cfg.HTTPPort, "grpc_port", cfg.GRPCPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTelEndpoint != "" {
		shutdownTracer, err := telemetry.SetupTracer(ctx, "shop-api", cfg.AppEnv, cfg.OTelEndpoint)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdownTracer(sctx); err != nil {
				slog.Warn("tracer shutdown failed", "error", err)
			}
		}()
	}

	// Postgres: catalog, orders, outbox
	db, err := postgres.Open(ctx, postgres.Credentials{
		Host:              cfg.Postgres.Host,
		Port:              cfg.Postgres.Port,
		User:              cfg.Postgres.User,
		Password:          cfg.Postgres.Password,
		DBName:            cfg.Postgres.DBName,
		MigrationsDirPath: cfg.Postgres.MigrationsPath,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := postgres.RunMigrations(db, cfg.Postgres.MigrationsPath); err != nil {
		return err
	}

	// Mongo + Redis: carts
	carts, err := cartrepo.OpenCartStore(ctx, cartrepo.MongoOptions{URI: cfg.MongoURI, Database: cfg.MongoDBName})
	if err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := carts.Close(dctx); err != nil {
			slog.Warn("mongo disconnect failed", "error", err)
		}
	}()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// the cart path falls back to Mongo on cache errors
		slog.Warn("redis unavailable, carts will be served from mongo", "addr", cfg.RedisAddr, "error", err)
	}
	cartCache := cache.NewRedisCache(redisClient)

	// Services
	products := catalog.NewRepository(db)
	cartService := cartsvc.NewCartService(carts, cartCache, products, cfg.DeliveryCharge)

	gateway := payment.NewClient(payment.Config{
		BaseURL:   cfg.Payment.GatewayURL,
		KeyID:     cfg.Payment.KeyID,
		KeySecret: cfg.Payment.KeySecret,
		Timeout:   cfg.Payment.Timeout,
	})
	verifier := payment.NewVerifier(cfg.Payment.KeySecret, cfg.Payment.WebhookSecret)

	orders := orderrepo.NewRepository(db)
	orderService := ordersvc.NewOrderService(orders, products, cartService, gateway, ordersvc.Options{
		Currency:          cfg.Currency,
		PendingPaymentTTL: cfg.PendingPaymentTTL,
	})

	// Background workers
	writer := publisher.NewWriter(cfg.OrderEventsTopic, cfg.KafkaBrokers...)
	defer writer.Close()
	poller := publisher.NewOutboxPoller(orders, orderService, writer)

	cartConsumer := consumer.NewConsumer(
		consumer.NewReader(cfg.KafkaBrokers, cfg.OrderEventsTopic, cfg.CartConsumerGroup),
		carts,
		cartCache,
	)
	defer cartConsumer.Close()

	// HTTP
	router := h.NewRouter(h.Handlers{
		Products: h.NewProductHandler(products, cfg.RequestTimeout),
		Cart:     h.NewCartHandler(cartService, cfg.RequestTimeout),
		Orders:   h.NewOrdersHandler(orderService, cfg.RequestTimeout),
		Payments: h.NewPaymentsHandler(orderService, verifier, cfg.RequestTimeout),
		Admin:    h.NewAdminHandler(orderService, cfg.RequestTimeout),
	}, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// gRPC health for the orchestrator
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port: %w", err)
	}
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("grpc server listening", "addr", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		poller.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return cartConsumer.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down shop-api")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			slog.Error("http server forced to shutdown", "error", err)
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("shop-api stopped")
	return nil
}
