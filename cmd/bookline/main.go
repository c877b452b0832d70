package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bookline/bookline/internal/directory"
	"github.com/bookline/bookline/internal/handlers"
	"github.com/bookline/bookline/internal/identity"
	"github.com/bookline/bookline/internal/locker"
	"github.com/bookline/bookline/internal/outbox"
	"github.com/bookline/bookline/internal/reminder"
	"github.com/bookline/bookline/internal/scheduling"
	"github.com/bookline/bookline/internal/storage"
	"github.com/bookline/bookline/libs/config"
	"github.com/bookline/bookline/libs/db"
	"github.com/bookline/bookline/libs/httpx"
	"github.com/bookline/bookline/libs/kafkax"
	otelx "github.com/bookline/bookline/libs/otel"
	"github.com/bookline/bookline/libs/redisx"
	"github.com/bookline/bookline/libs/runtime"
)

func main() {
	service := config.String("SERVICE_NAME", "bookline")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	eventsRepo := outbox.NewRepository(pool)
	apptRepo := storage.NewAppointmentRepository(pool, eventsRepo)
	dir := directory.NewPostgres(pool)

	rdb := openRedis()
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}
	locks := newLocker(rdb, logger)

	svc := scheduling.NewService(apptRepo, dir, locks, logger, scheduling.Config{
		LockTTL:     config.Minutes("LOCK_TTL_MINUTES", 0),
		LockWait:    time.Duration(config.Int("LOCK_WAIT_MS", 2000)) * time.Millisecond,
		StartGrace:  config.Minutes("START_GRACE_MINUTES", 10),
		NoShowGrace: config.Minutes("NO_SHOW_GRACE_MINUTES", 15),
	})

	brokers := config.String("KAFKA_BROKERS", "")
	publisher := outbox.NewPublisher(pool, eventsRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go publisher.Run(ctx)

	reminders := reminder.NewWorker(pool, eventsRepo, logger, reminder.WorkerConfig{
		Interval: 30 * time.Second,
		Lead:     config.Minutes("REMINDER_LEAD_MINUTES", 24*60),
	})
	go reminders.Run(ctx)

	api := handlers.New(svc, identity.JWTProvider{Secret: jwtSecret}, storage.NewIdempotencyStore(pool), dir, logger)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	}
	if rdb != nil {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(rdb)})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	api.Register(mux)

	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	var rateLimitMW httpx.Middleware
	if rdb != nil {
		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		rateLimitMW = rl.Middleware(logger, isTruthy(config.String("RATE_LIMIT_FAIL_OPEN", "true")))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute)
	} else {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods:   parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,OPTIONS")),
			AllowedHeaders:   parseList(config.String("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id,Idempotency-Key")),
			AllowCredentials: isTruthy(config.String("CORS_ALLOW_CREDENTIALS", "false")),
			MaxAge:           time.Duration(config.Int("CORS_MAX_AGE_SECONDS", 600)) * time.Second,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(time.Duration(config.Int("REQUEST_TIMEOUT_SECONDS", 15))*time.Second),
		rateLimitMW,
	)
	httpHandler = otelhttp.NewHandler(httpHandler, service)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func openRedis() *redis.Client {
	addr := strings.TrimSpace(config.String("REDIS_ADDR", ""))
	if addr == "" {
		return nil
	}
	return redisx.Open(redisx.Options{
		Addr:     addr,
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       config.Int("REDIS_DB", 0),
	})
}

// newLocker prefers the Redis locker; the in-process one only serializes
// within a single instance.
func newLocker(rdb *redis.Client, logger *slog.Logger) locker.Locker {
	if rdb == nil {
		logger.Warn("REDIS_ADDR not set; using in-process slot locks")
		return locker.NewMemory()
	}
	return locker.NewRedis(rdb, logger)
}

func parseList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
