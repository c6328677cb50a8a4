/**
 * @description
 * Entry point of the payflow checkout service. It loads configuration, builds
 * the notification producer, the PIN authenticator, the transaction executor
 * and the per-user workspace registry, then serves the checkout API until
 * SIGINT/SIGTERM.
 *
 * @dependencies
 * - github.com/joho/godotenv, internal/config: configuration.
 * - github.com/redis/go-redis/v9: PIN attempt lockout.
 * - pkg/rabbitmq: transaction events.
 * - pkg/transactionclient: transaction-service executor.
 * - github.com/prometheus/client_golang: /metrics.
 */

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/payflow/internal/api"
	"github.com/transfa/payflow/internal/app"
	"github.com/transfa/payflow/internal/config"
	"github.com/transfa/payflow/internal/domain"
	"github.com/transfa/payflow/internal/monitor"
	"github.com/transfa/payflow/pkg/logger"
	rmrabbit "github.com/transfa/payflow/pkg/rabbitmq"
	"github.com/transfa/payflow/pkg/transactionclient"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// simulatedBalance seeds the stand-in executor (1,000,000 NGN in kobo).
const simulatedBalance = int64(100_000_000)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	zlog, err := logger.New(cfg.AppEnv)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"logger init failed\" err=%v", err)
	}
	defer zlog.Sync() //nolint:errcheck
	restoreGlobals := logger.ReplaceGlobals(zlog)
	defer restoreGlobals()
	bootLog := zlog.With(zap.String("component", "bootstrap"))
	bootLog.Info("starting payflow", zap.String("port", cfg.ServerPort), zap.String("env", cfg.AppEnv))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitor.NewMetrics(reg)

	redisClient := connectRedis(cfg, bootLog)
	if redisClient != nil {
		defer redisClient.Close()
	}

	// A typed-nil *EventProducer must not reach the dispatcher.
	var publisher rmrabbit.Publisher
	if cfg.RabbitMQURL == "" {
		bootLog.Warn("rabbitmq url missing; transaction events will only be logged")
	} else if producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, zlog); err != nil {
		bootLog.Warn("rabbitmq producer unavailable; using fallback", zap.Error(err))
	} else {
		defer producer.Close()
		publisher = producer
		bootLog.Info("rabbitmq producer connected")
	}
	if publisher == nil {
		publisher = &rmrabbit.EventProducerFallback{Logger: zlog}
	}
	dispatcher := rmrabbit.NewEventDispatcher(publisher, cfg.EventsExchange)

	var limiter app.AttemptLimiter
	if redisClient != nil {
		limiter = app.NewRedisAttemptLimiter(redisClient, cfg.RedisAttemptPrefix)
	}
	pinStore := app.NewBcryptAuthenticator(bcrypt.DefaultCost)
	authenticator := app.NewAttemptLimitedAuthenticator(
		pinStore,
		limiter,
		cfg.PINMaxAttempts,
		cfg.PINLockout(),
		zlog,
	)

	registry := app.NewRegistry(app.WorkspaceConfig{
		Operation:          buildOperation(cfg, bootLog),
		Dispatcher:         dispatcher,
		Authenticator:      authenticator,
		PINStore:           pinStore,
		Limits:             app.Limits{MaxAmount: cfg.MaxTransactionAmountKobo},
		PINLength:          cfg.PINLength,
		MaxAttempts:        cfg.PINMaxAttempts,
		AllowBiometric:     cfg.BiometricEnabled,
		MismatchResetDelay: cfg.MismatchResetDelay(),
		ResendCooldown:     cfg.PINResendCooldown(),
		SuccessDuration:    cfg.SuccessDuration(),
		ErrorDuration:      cfg.ErrorDuration(),
		ToastTTL:           cfg.ToastTTL(),
		OperationTimeout:   cfg.OperationTimeout(),
		AlertTimeout:       cfg.AlertTimeout(),
		Logger:             zlog,
		Metrics:            metrics,
	})

	sweeper := app.NewSweeper(registry, cfg.WorkspaceSweepSchedule, cfg.WorkspaceIdle(), zlog)
	if err := sweeper.Start(); err != nil {
		bootLog.Fatal("workspace sweeper start failed", zap.Error(err))
	}

	var auth func(http.Handler) http.Handler
	switch {
	case cfg.ClerkJWKSURL != "":
		auth = api.ClerkAuthMiddleware(api.NewJWKSCache(cfg.ClerkJWKSURL, time.Hour), cfg.ClerkAudience, cfg.ClerkIssuer)
	case cfg.IsProduction():
		bootLog.Fatal("CLERK_JWKS_URL must be configured in production")
	default:
		bootLog.Warn("CLERK_JWKS_URL missing; trusting X-User-ID header (development only)")
		auth = api.HeaderAuthMiddleware("X-User-ID")
	}

	handlers := api.NewCheckoutHandlers(registry, zlog)
	router := api.CheckoutRoutes(handlers, auth, cfg.AllowedOrigins(), promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		bootLog.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			bootLog.Fatal("server stopped unexpectedly", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	bootLog.Info("shutdown signal received")

	<-sweeper.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		bootLog.Error("graceful shutdown failed", zap.Error(err))
	}
	registry.CloseAll()
	bootLog.Info("payflow stopped")
}

func connectRedis(cfg config.Config, bootLog *zap.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		bootLog.Warn("redis url missing; pin lockout limited to the open pin pad")
		return nil
	}
	options, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		bootLog.Warn("redis url parse failed; pin lockout limited to the open pin pad", zap.Error(err))
		return nil
	}
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		bootLog.Warn("redis ping failed; pin lockout limited to the open pin pad", zap.Error(err))
		_ = client.Close()
		return nil
	}
	bootLog.Info("redis connected")
	return client
}

// buildOperation sends transfers to the transaction-service when it is
// configured; everything else runs on the simulated executor.
func buildOperation(cfg config.Config, bootLog *zap.Logger) app.Operation {
	simulated := app.NewSimulatedOperation(simulatedBalance, 750*time.Millisecond, nil)
	if cfg.TransactionServiceURL == "" {
		bootLog.Warn("transaction service url missing; using simulated executor")
		return simulated
	}
	client := transactionclient.NewClient(cfg.TransactionServiceURL, transactionclient.WithServiceToken(cfg.TransactionServiceToken))
	bootLog.Info("transaction service configured", zap.String("url", cfg.TransactionServiceURL))
	return app.KindRouter{
		Routes:  map[domain.TransactionKind]app.Operation{domain.KindSendMoney: client},
		Default: simulated,
	}
}
