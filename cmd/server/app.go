package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"evv/internal/evv/adapters/cache"
	"evv/internal/evv/adapters/directory"
	"evv/internal/evv/adapters/syncdocs"
	"evv/internal/evv/compliance"
	"evv/internal/evv/elements"
	"evv/internal/evv/geofence"
	evvhandler "evv/internal/evv/handler"
	evvmetrics "evv/internal/evv/metrics"
	"evv/internal/evv/ports"
	"evv/internal/evv/service"
	evvstore "evv/internal/evv/store"
	jwttoken "evv/internal/jwt_token"
	ratelimitmw "evv/internal/ratelimit/middleware"
	ratelimitmodels "evv/internal/ratelimit/models"
	ratelimitstore "evv/internal/ratelimit/store"
	"evv/internal/platform/config"
	httpmetrics "evv/internal/platform/metrics"
	"evv/internal/platform/postgres"
	"evv/internal/platform/redis"
	syncsvc "evv/internal/sync"
	synchandler "evv/internal/sync/handler"
	syncmodels "evv/internal/sync/models"
	syncstore "evv/internal/sync/store"
	"evv/pkg/platform/audit"
	"evv/pkg/platform/audit/publisher"
	kafkasink "evv/pkg/platform/audit/store/kafka"
	auditmemory "evv/pkg/platform/audit/store/memory"
	auditpostgres "evv/pkg/platform/audit/store/postgres"
	"evv/pkg/platform/httputil"
	"evv/pkg/platform/middleware/auth"
	"evv/pkg/platform/middleware/device"
	"evv/pkg/platform/middleware/metadata"
	"evv/pkg/platform/middleware/requesttime"
)

type app struct {
	router  http.Handler
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

type infra struct {
	db    *sql.DB
	pool  *pgxpool.Pool
	redis *redis.Client
	kafka *kafkasink.Sink
}

// build assembles the process. Every optional backend falls back to its
// in-memory counterpart when its URL is unset.
func build(ctx context.Context, cfg config.Server, log *slog.Logger) (*app, error) {
	a := &app{}
	in, err := connect(ctx, cfg, log, a)
	if err != nil {
		a.close()
		return nil, err
	}

	var (
		auditStore audit.Store = auditmemory.NewInMemoryStore()
		stores     evvstore.Stores
		tx         evvstore.TxRunner
	)
	if in.db != nil {
		auditStore = auditpostgres.New(in.db)
		stores, tx = evvstore.NewPostgresStores(in.db)
	} else {
		stores, tx = evvstore.NewMemoryStores()
	}
	if err := assemble(ctx, cfg, log, a, in, auditStore, stores, tx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func connect(ctx context.Context, cfg config.Server, log *slog.Logger, a *app) (*infra, error) {
	in := &infra{}
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.DefaultOptions())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, err
		}
		in.db = db
	}
	if cfg.SyncDatabaseURL != "" {
		pool, err := postgres.OpenPool(ctx, cfg.SyncDatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		in.pool = pool
	}
	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		a.closers = append(a.closers, func() { _ = rc.Close() })
		in.redis = rc
	}
	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := kafkasink.New(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic)
		if err != nil {
			return nil, fmt.Errorf("kafka audit sink: %w", err)
		}
		a.closers = append(a.closers, sink.Close)
		if err := sink.EnsureTopic(ctx, 3, 1); err != nil {
			log.WarnContext(ctx, "could not ensure audit topic", "topic", cfg.Kafka.EventsTopic, "error", err)
		}
		in.kafka = sink
	}
	return in, nil
}

func assemble(ctx context.Context, cfg config.Server, log *slog.Logger, a *app, in *infra,
	auditStore audit.Store, stores evvstore.Stores, tx evvstore.TxRunner) error {
	pubOpts := []publisher.Option{publisher.WithLogger(log), publisher.WithAsyncBuffer(256)}
	if in.kafka != nil {
		pubOpts = append(pubOpts, publisher.WithSink(in.kafka))
	}
	pub := publisher.NewPublisher(auditStore, pubOpts...)
	a.closers = append(a.closers, func() { _ = pub.Close() })

	dir := directory.New()
	if cfg.EVV.DirectorySeedPath != "" {
		if err := dir.LoadFile(cfg.EVV.DirectorySeedPath); err != nil {
			return err
		}
	}
	var visits ports.VisitPort = dir
	if in.redis != nil {
		visits = cache.NewVisitCache(in.redis.Client, dir,
			cache.WithTTL(cfg.EVV.VisitCacheTTL),
			cache.WithLogger(log),
		)
	}

	profile, err := elements.ProfileByName(cfg.EVV.ComplianceProfile)
	if err != nil {
		return err
	}
	validator := geofence.NewValidator(geofence.WithStrictAccuracy(cfg.EVV.GPSStrictAccuracyMeters))
	aggregator := compliance.NewAggregator(
		compliance.WithProfile(profile),
		compliance.WithGeofenceValidator(validator),
		compliance.WithGraceMinutes(cfg.EVV.GraceMinutes),
		compliance.WithVMURAgeDays(cfg.EVV.VMURAgeDays),
	)
	m := evvmetrics.New()

	capture, err := service.New(stores, tx, service.Collaborators{
		Visits:        visits,
		Clients:       dir,
		Caregivers:    dir,
		Authorization: dir,
	},
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithAuditor(pub),
		service.WithAggregator(aggregator),
		service.WithGeofenceValidator(validator),
		service.WithCollaboratorTimeout(cfg.EVV.CollaboratorTimeout),
		service.WithDefaultGeofenceRadius(cfg.EVV.DefaultRadiusMeters),
		service.WithGeofenceVariance(cfg.EVV.VarianceMeters),
	)
	if err != nil {
		return err
	}

	var (
		docs    syncstore.DocumentStore = syncstore.NewMemoryDocumentStore()
		history syncstore.HistoryStore  = syncstore.NewMemoryHistoryStore()
	)
	if in.pool != nil {
		docs = syncstore.NewPostgresDocumentStore(in.pool)
		history = syncstore.NewPostgresHistoryStore(in.pool)
	}
	evvDocs, err := syncdocs.New(capture)
	if err != nil {
		return err
	}
	routed := syncstore.NewRouted(docs, map[syncmodels.RecordType]syncstore.DocumentStore{
		syncmodels.RecordTypeEVV: evvDocs,
	})
	resolver := syncsvc.NewResolver()
	resolver.ClockSkew = cfg.Sync.ClockSkew
	reconciler, err := syncsvc.NewService(routed, history,
		syncsvc.WithLogger(log),
		syncsvc.WithMetrics(m),
		syncsvc.WithAuditor(pub),
		syncsvc.WithEvaluator(evvDocs),
		syncsvc.WithResolver(resolver),
		syncsvc.WithMaxAttempts(cfg.Sync.MaxAttempts),
	)
	if err != nil {
		return err
	}

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	transport := httpmetrics.New()
	limiter := newLimiter(cfg.RateLimit, in, log)

	r := chi.NewRouter()
	r.Use(metadata.RequestID, requesttime.Middleware, transport.Middleware)
	r.Handle("/metrics", transport.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", readiness(in))
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(jwttoken.NewJWTServiceAdapter(jwtService), log), device.Middleware)
		r.Group(func(r chi.Router) {
			r.Use(limiter.ByMethod(ratelimitmodels.ClassCapture))
			evvhandler.New(capture, log).Register(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(limiter.ByMethod(ratelimitmodels.ClassSync))
			synchandler.New(reconciler, log).Register(r)
		})
	})
	a.router = r

	log.InfoContext(ctx, "evv components assembled", "profile", profile.Name)
	return nil
}

// newLimiter shares budgets through Redis when it is configured so every
// replica sees the same window.
func newLimiter(cfg config.RateLimitConfig, in *infra, log *slog.Logger) *ratelimitmw.Middleware {
	var store ratelimitmw.BucketStore = ratelimitstore.NewInMemoryBucketStore()
	if in.redis != nil {
		store = ratelimitstore.NewRedisBucketStore(in.redis.Client)
	}
	perMinute := func(n int) ratelimitmodels.Limit {
		return ratelimitmodels.Limit{Requests: n, Window: time.Minute}
	}
	return ratelimitmw.New(store, log,
		ratelimitmw.WithDisabled(cfg.Disabled),
		ratelimitmw.WithLimit(ratelimitmodels.ClassCapture, perMinute(cfg.CapturePerMinute)),
		ratelimitmw.WithLimit(ratelimitmodels.ClassSync, perMinute(cfg.SyncPerMinute)),
		ratelimitmw.WithLimit(ratelimitmodels.ClassRead, perMinute(cfg.ReadPerMinute)),
	)
}

// readiness pings each configured backend.
func readiness(in *infra) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		checks := map[string]string{}
		ready := true
		check := func(name string, err error) {
			checks[name] = "ok"
			if err != nil {
				checks[name] = err.Error()
				ready = false
			}
		}
		if in.db != nil {
			check("postgres", in.db.PingContext(ctx))
		}
		if in.pool != nil {
			check("sync_postgres", in.pool.Ping(ctx))
		}
		if in.redis != nil {
			check("redis", in.redis.Health(ctx))
		}
		if in.kafka != nil {
			check("kafka", in.kafka.Ping(ctx))
		}
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, checks)
	}
}
