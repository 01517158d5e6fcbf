package main

import (
	"context"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/video-collab/internal/platform/analytics"
	"github.com/example/video-collab/internal/platform/auth"
	"github.com/example/video-collab/internal/platform/db"
	"github.com/example/video-collab/internal/platform/httpserver"
	"github.com/example/video-collab/internal/platform/logging"
	"github.com/example/video-collab/internal/platform/natsconn"
	"github.com/example/video-collab/internal/platform/redisconn"
	"github.com/example/video-collab/internal/platform/run"
	"github.com/example/video-collab/services/comments/internal/config"
	"github.com/example/video-collab/services/comments/internal/events"
	"github.com/example/video-collab/services/comments/internal/handlers"
	"github.com/example/video-collab/services/comments/internal/idempotency"
	"github.com/example/video-collab/services/comments/internal/ratelimit"
	"github.com/example/video-collab/services/comments/internal/realtime"
	"github.com/example/video-collab/services/comments/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel, !cfg.IsProduction())
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	log = log.With(zap.String("service", cfg.ServiceName))

	instance := uuid.NewString()
	ctx := context.Background()

	comments, closeStore := initComments(ctx, cfg, log)
	if closeStore != nil {
		defer closeStore()
	}

	rdb := initRedis(ctx, cfg, log)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	nc := initNATS(cfg, log, instance)
	if nc != nil {
		defer nc.Close()
	}

	bus, err := initBus(cfg, log, nc, rdb)
	if err != nil {
		log.Error("event bus", zap.Error(err))
		run.Exit(1)
	}
	defer func() { _ = bus.Close() }()

	prefix := cfg.RedisPrefix
	if prefix == "" {
		prefix = "comments:delivered:"
	}
	// Scoped per instance: every instance must deliver each event once.
	var dedupClient redis.UniversalClient
	if rdb != nil {
		dedupClient = rdb
	}
	dedup, err := idempotency.NewStore(dedupClient, prefix+instance+":", idempotency.DefaultTTL, cfg.IsProduction())
	if err != nil {
		log.Error("delivery dedup", zap.Error(err))
		run.Exit(1)
	}

	var publisher *analytics.Publisher
	if nc != nil {
		publisher = analytics.New(nc, log)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hubCfg := realtime.DefaultConfig()
	hubCfg.AllowedOrigins = splitOrigins(cfg.HTTP.CORSOrigins)
	hub := realtime.NewHub(bus, dedup,
		realtime.WithConfig(hubCfg),
		realtime.WithLogger(log),
		realtime.WithMetrics(realtime.NewMetrics(reg)),
		realtime.WithAnalytics(publisher),
	)

	verifier := auth.JWTVerifier{Secret: []byte(cfg.JWTSecret)}
	limiter := ratelimit.New(cfg.RateLimit, cfg.RateBurst)
	deps := handlers.Deps{
		Store:     comments,
		Bus:       bus,
		Analytics: publisher,
		Log:       log,
		Validate:  handlers.NewValidator(),
	}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		ReadyFunc: func() error {
			pctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return comments.Ping(pctx)
		},
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Registry:    reg,
	})
	r.Route("/api", func(r chi.Router) {
		handlers.Routes(r, deps, verifier, limiter.Middleware)
	})
	r.With(auth.RequireUser(verifier)).Handle("/socket", hub)

	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, Logger: log, Router: r})

	runner := run.New(log)
	runner.Grace = cfg.ShutdownTimeout + 5*time.Second
	code := runner.WithSignals(func(ctx context.Context) error {
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return hub.Run(ctx) })
		g.Go(func() error { return srv.Run(ctx, cfg.ShutdownTimeout) })
		g.Go(func() error {
			sweepLimiter(ctx, limiter, log)
			return nil
		})
		return g.Wait()
	})

	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}

// initComments selects the CommentStore backend. Production configs always
// carry DATABASE_URL, and a failing database is fatal there.
func initComments(ctx context.Context, cfg config.Config, log *zap.Logger) (store.CommentStore, func()) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory comment store (development only)")
		return store.NewInMemoryCommentStore(), nil
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		if cfg.IsProduction() {
			log.Error("postgres is required in production but unavailable", zap.Error(err))
			_ = log.Sync()
			run.Exit(1)
		}
		log.Warn("postgres unavailable, falling back to in-memory comment store", zap.Error(err))
		return store.NewInMemoryCommentStore(), nil
	}

	pg := store.NewPostgresCommentStore(pool)
	if cfg.AutoMigrate {
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			log.Error("comment schema migration failed", zap.Error(err))
			_ = log.Sync()
			run.Exit(1)
		}
		log.Info("comment schema migrated")
	}

	log.Info("comments store: postgres")
	return pg, pool.Close
}

// initRedis connects when REDIS_URL is set. Redis backs the redis bus and
// delivery dedup, so a failure is fatal when either depends on it.
func initRedis(ctx context.Context, cfg config.Config, log *zap.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	rdb, err := redisconn.Connect(ctx, redisconn.Options{URL: cfg.RedisURL})
	if err != nil {
		if cfg.Bus == config.BusRedis || cfg.IsProduction() {
			log.Error("redis connect", zap.Error(err))
			_ = log.Sync()
			run.Exit(1)
		}
		log.Warn("redis unavailable, using in-memory dedup", zap.Error(err))
		return nil
	}
	return rdb
}

// initNATS connects for the nats bus (fatal on failure) and for analytics
// (best effort).
func initNATS(cfg config.Config, log *zap.Logger, instance string) *nats.Conn {
	if cfg.Bus != config.BusNATS && cfg.NATSURL == "" {
		return nil
	}
	nc, err := natsconn.Connect(natsconn.Options{
		URL:    cfg.NATSURL,
		Name:   cfg.ServiceName + "-" + instance[:8],
		Logger: log,
	})
	if err != nil {
		if cfg.Bus == config.BusNATS {
			log.Error("nats connect", zap.Error(err))
			_ = log.Sync()
			run.Exit(1)
		}
		log.Warn("nats unavailable, analytics disabled", zap.Error(err))
		return nil
	}
	return nc
}

func initBus(cfg config.Config, log *zap.Logger, nc *nats.Conn, rdb *redis.Client) (events.Bus, error) {
	switch cfg.Bus {
	case config.BusNATS:
		log.Info("event bus: nats")
		return events.NewNATSBus(nc, cfg.NATSSubject, false, log), nil
	case config.BusRedis:
		log.Info("event bus: redis")
		return events.NewRedisBus(rdb, "", log), nil
	default:
		log.Warn("event bus: local (single instance only)")
		return events.NewLocalBus(), nil
	}
}

func sweepLimiter(ctx context.Context, l *ratelimit.Limiter, log *zap.Logger) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := l.Sweep(); n > 0 {
				log.Debug("rate limiter swept", zap.Int("buckets", n))
			}
		}
	}
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
