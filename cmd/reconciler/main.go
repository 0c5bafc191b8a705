package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/fareflow/internal/ingest"
	"github.com/example/fareflow/internal/rollup"
	"github.com/example/fareflow/internal/trip/domain"
	"github.com/example/fareflow/internal/trip/reconcile"
	tripsignal "github.com/example/fareflow/internal/trip/signal"
	"github.com/example/fareflow/internal/trip/store"
	"github.com/example/fareflow/pkg/observability"
)

type appConfig struct {
	HTTPAddr           string
	RedisAddr          string
	NATSURL            string
	EventsSubject      string
	EventsQueue        string
	DLQSubject         string
	CompletionsSubject string
	ApplyMaxAttempts   int
	ApplyBackoff       time.Duration
	SignalRetryMax     int
	SignalBackoff      time.Duration
	SweepTTL           time.Duration
	SweepInterval      time.Duration
	JWTSecret          string
	IngestRate         float64
	IngestBurst        float64
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger("reconciler")
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, "reconciler")
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

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name("reconciler")); err == nil {
			natsConn = conn
			defer conn.Drain()
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	var tripStore domain.StateStore
	if redisClient != nil {
		tripStore = store.NewRedis(redisClient, "")
	} else {
		logger.Warn("no redis configured, trip state is in-memory only")
		tripStore = store.NewMemory()
	}

	processor := reconcile.New(tripStore, logger.Named("reconcile"), reconcile.Config{
		MaxAttempts: cfg.ApplyMaxAttempts,
		Backoff:     cfg.ApplyBackoff,
	})
	emitter := tripsignal.NewEmitter(
		tripsignal.NewNATSPublisher(natsConn, cfg.CompletionsSubject),
		logger.Named("signal"),
		tripsignal.EmitterConfig{RetryMax: cfg.SignalRetryMax, Backoff: cfg.SignalBackoff},
	)

	consumer := ingest.NewConsumer(processor, emitter, natsConn, logger.Named("ingest"), ingest.ConsumerConfig{
		Subject:    cfg.EventsSubject,
		Queue:      cfg.EventsQueue,
		DLQSubject: cfg.DLQSubject,
	})
	if natsConn != nil {
		sub, err := consumer.Subscribe(ctx)
		if err != nil {
			logger.Fatal("event subscription", zap.Error(err))
		}
		defer sub.Drain() //nolint:errcheck
	} else {
		logger.Warn("event consumer disabled", zap.Bool("nats", natsConn != nil))
	}

	sweeper := reconcile.NewSweeper(tripStore, logger.Named("sweeper"), reconcile.SweeperConfig{
		TTL:      cfg.SweepTTL,
		Interval: cfg.SweepInterval,
	})
	go func() {
		if err := sweeper.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("sweeper stopped", zap.Error(err))
		}
	}()

	var rollups ingest.RollupReader
	var limiter *ingest.RateLimiter
	if redisClient != nil {
		rollups = rollup.NewRedisSink(redisClient, "")
		limiter = ingest.NewRateLimiter(redisClient, ingest.RateConfig{Rate: cfg.IngestRate, Burst: cfg.IngestBurst})
	}

	api := ingest.NewAPI(processor, emitter, tripStore, rollups, logger.Named("http"))
	r := chi.NewRouter()
	r.Mount("/", api.Router(ingest.RouterConfig{
		JWTSecret: cfg.JWTSecret,
		Roles:     []string{"ingest"},
		Limiter:   limiter,
	}))
	r.Mount("/observability", observability.MetricsRouter(readinessChecks(redisClient, natsConn)...))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("reconciler listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func readinessChecks(redisClient *redis.Client, natsConn *nats.Conn) []observability.ReadinessCheck {
	var checks []observability.ReadinessCheck
	if redisClient != nil {
		checks = append(checks, func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	if natsConn != nil {
		checks = append(checks, func(context.Context) error {
			if !natsConn.IsConnected() {
				return nats.ErrConnectionClosed
			}
			return nil
		})
	}
	return checks
}

func loadConfig() appConfig {
	return appConfig{
		HTTPAddr:           getenv("HTTP_ADDR", ":8080"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		NATSURL:            os.Getenv("NATS_URL"),
		EventsSubject:      getenv("EVENTS_SUBJECT", "trips.events"),
		EventsQueue:        getenv("EVENTS_QUEUE", "reconcilers"),
		DLQSubject:         getenv("EVENTS_DLQ_SUBJECT", "trips.events.dlq"),
		CompletionsSubject: getenv("COMPLETIONS_SUBJECT", "trips.completions"),
		ApplyMaxAttempts:   parseIntEnv("APPLY_MAX_ATTEMPTS", 5),
		ApplyBackoff:       time.Duration(parseIntEnv("APPLY_BACKOFF_MS", 20)) * time.Millisecond,
		SignalRetryMax:     parseIntEnv("SIGNAL_RETRY_MAX", 3),
		SignalBackoff:      time.Duration(parseIntEnv("SIGNAL_BACKOFF_MS", 100)) * time.Millisecond,
		SweepTTL:           time.Duration(parseIntEnv("SWEEP_TTL_MIN", 0)) * time.Minute,
		SweepInterval:      time.Duration(parseIntEnv("SWEEP_INTERVAL_SEC", 60)) * time.Second,
		JWTSecret:          os.Getenv("JWT_SECRET"),
		IngestRate:         parseFloatEnv("INGEST_RATE", 0),
		IngestBurst:        parseFloatEnv("INGEST_BURST", 0),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseFloatEnv(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
