package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/example/fareflow/internal/rollup"
	"github.com/example/fareflow/internal/trip/domain"
	"github.com/example/fareflow/internal/trip/store"
	"github.com/example/fareflow/pkg/observability"
)

type appConfig struct {
	HTTPAddr           string
	RedisAddr          string
	NATSURL            string
	PostgresDSN        string
	CompletionsSubject string
	CompletionsQueue   string
	Debounce           time.Duration
	RetryMax           int
	Backoff            time.Duration
	CronSpec           string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger("aggregator")
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, "aggregator")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	cfg := loadConfig()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
	}

	var tripStore domain.StateStore
	if redisClient != nil {
		tripStore = store.NewRedis(redisClient, "")
	} else {
		logger.Warn("no redis configured, aggregating over an empty in-memory store")
		tripStore = store.NewMemory()
	}

	sink := buildSink(ctx, logger, cfg, redisClient)
	engine := rollup.NewEngine(tripStore, sink, logger.Named("engine"))
	trigger := rollup.NewTrigger(engine, logger.Named("trigger"), rollup.TriggerConfig{
		Debounce: cfg.Debounce,
		RetryMax: cfg.RetryMax,
		Backoff:  cfg.Backoff,
	})

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name("aggregator")); err == nil {
			natsConn = conn
			defer conn.Drain()
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}
	if natsConn != nil {
		sub, err := natsConn.QueueSubscribe(cfg.CompletionsSubject, cfg.CompletionsQueue, func(msg *nats.Msg) {
			trigger.HandleSignal(msg.Data)
		})
		if err != nil {
			logger.Fatal("completion subscription", zap.Error(err))
		}
		defer sub.Drain() //nolint:errcheck
	} else {
		logger.Warn("completion-driven triggering disabled, relying on schedule only")
	}

	go func() {
		if err := trigger.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("trigger stopped", zap.Error(err))
		}
	}()

	// Scheduled recomputation covers dates whose signals were lost and
	// re-closes yesterday once its late arrivals settle.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.CronSpec, func() {
		now := time.Now().UTC()
		trigger.Mark(domain.DayOf(now.AddDate(0, 0, -1)))
		trigger.Mark(domain.DayOf(now))
	}); err != nil {
		logger.Fatal("cron spec", zap.String("spec", cfg.CronSpec), zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	r := chi.NewRouter()
	r.Mount("/observability", observability.MetricsRouter())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("aggregator listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func buildSink(ctx context.Context, logger *zap.Logger, cfg appConfig, redisClient *redis.Client) domain.RollupSink {
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("postgres connect", zap.Error(err))
		}
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("postgres ping", zap.Error(err))
		}
		sink := rollup.NewPostgresSink(db)
		if err := sink.EnsureSchema(ctx); err != nil {
			logger.Fatal("rollup schema", zap.Error(err))
		}
		return sink
	}
	if redisClient != nil {
		return rollup.NewRedisSink(redisClient, "")
	}
	logger.Warn("no sink configured, rollups are in-memory only")
	return rollup.NewMemorySink()
}

func loadConfig() appConfig {
	return appConfig{
		HTTPAddr:           getenv("HTTP_ADDR", ":8081"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		NATSURL:            os.Getenv("NATS_URL"),
		PostgresDSN:        firstNonEmpty(os.Getenv("POSTGRES_DSN"), os.Getenv("DATABASE_URL")),
		CompletionsSubject: getenv("COMPLETIONS_SUBJECT", "trips.completions"),
		CompletionsQueue:   getenv("COMPLETIONS_QUEUE", "aggregators"),
		Debounce:           time.Duration(parseIntEnv("ROLLUP_DEBOUNCE_MS", 2000)) * time.Millisecond,
		RetryMax:           parseIntEnv("ROLLUP_RETRY_MAX", 3),
		Backoff:            time.Duration(parseIntEnv("ROLLUP_BACKOFF_MS", 200)) * time.Millisecond,
		CronSpec:           getenv("ROLLUP_CRON", "5 0 * * *"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}
