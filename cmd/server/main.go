package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"rolodex/internal/audit"
	"rolodex/internal/contacts/handler"
	"rolodex/internal/contacts/importer"
	contactmetrics "rolodex/internal/contacts/metrics"
	"rolodex/internal/contacts/service"
	"rolodex/internal/contacts/store/directory"
	"rolodex/internal/contacts/store/phoneindex"
	"rolodex/internal/platform/config"
	"rolodex/internal/platform/httpserver"
	"rolodex/internal/platform/logger"
	"rolodex/internal/platform/metrics"
	"rolodex/internal/platform/postgres"
	platformredis "rolodex/internal/platform/redis"
	"rolodex/pkg/platform/httputil"
)

const auditQueueSize = 1024

// infra holds the optional backing services; nil fields mean in-process fallbacks.
type infra struct {
	db    *sql.DB
	redis *platformredis.Client
	kafka *kgo.Client
}

func (i *infra) Close() {
	if i.kafka != nil {
		i.kafka.Close()
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
	if i.db != nil {
		_ = i.db.Close()
	}
}

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	deps := &infra{}
	defer deps.Close()

	directoryStore, err := openDirectory(ctx, cfg, log, deps)
	if err != nil {
		return err
	}
	index, locker, err := openIndex(ctx, cfg, log, deps)
	if err != nil {
		return err
	}
	if locker == nil && deps.db != nil {
		locker = postgres.NewAdvisoryLock(deps.db, postgres.DirectoryLockKey)
	}
	if locker == nil {
		locker = service.NewMutexLocker()
	}
	sink, err := openAuditSink(ctx, cfg, log, deps)
	if err != nil {
		return err
	}

	reg := prometheus.DefaultRegisterer
	contactMetrics := contactmetrics.New(reg)
	httpMetrics := metrics.New(reg)

	queue := audit.NewQueue(auditQueueSize)
	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(contactMetrics),
		service.WithAuditPublisher(audit.NewPublisher(queue)),
		service.WithWriteTx(service.NewWriteTx(locker, cfg.WriteTimeout)),
		service.WithReconciler(importer.New(importer.WithWorkers(cfg.ImportWorkers), importer.WithLogger(log))),
	}
	if cfg.LazyPriming {
		opts = append(opts, service.WithLazyPriming())
	}
	contacts, err := service.New(directoryStore, index, opts...)
	if err != nil {
		return err
	}
	if !cfg.LazyPriming {
		if err := contacts.Prime(ctx); err != nil {
			return err
		}
	}

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", healthHandler(deps))
	handler.New(contacts, log, httpMetrics,
		handler.WithMaxUploadBytes(cfg.MaxUploadBytes),
	).Register(r)

	srv := httpserver.New(cfg.Addr, r)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := audit.NewWorker(sink, queue.Events(), log).Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return httpserver.Run(gctx, srv, log)
	})
	return g.Wait()
}

func openDirectory(ctx context.Context, cfg config.Server, log *slog.Logger, deps *infra) (service.Directory, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set; contacts are kept in memory")
		return directory.NewInMemory(), nil
	}
	if err := postgres.Migrate(ctx, cfg.DatabaseURL); err != nil {
		return nil, err
	}
	db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.Config{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	deps.db = db
	return directory.NewPostgres(db), nil
}

func openIndex(ctx context.Context, cfg config.Server, log *slog.Logger, deps *infra) (service.PhoneIndex, service.Locker, error) {
	client, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		log.Info("REDIS_URL not set; phone index is process local")
		return phoneindex.NewInMemory(), nil, nil
	}
	deps.redis = client
	index := phoneindex.NewRedis(client.Client, phoneindex.WithKeyPrefix(client.Prefix()))
	lock := platformredis.NewLock(client.Client, client.Key(platformredis.DirectoryLockName),
		platformredis.WithLockTTL(cfg.Redis.LockTTL),
	)
	return index, lock, nil
}

func openAuditSink(ctx context.Context, cfg config.Server, log *slog.Logger, deps *infra) (audit.Store, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return audit.NewInMemoryStore(), nil
	}
	client, err := audit.NewKafkaClient(cfg.Kafka.Brokers, cfg.Kafka.ClientID)
	if err != nil {
		return nil, err
	}
	deps.kafka = client
	if err := audit.EnsureTopic(ctx, client, cfg.Kafka.Topic, 1, 1); err != nil {
		return nil, err
	}
	log.Info("audit events published to kafka", "topic", cfg.Kafka.Topic)
	return audit.NewKafkaSink(client, cfg.Kafka.Topic), nil
}

func healthHandler(deps *infra) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"status": "ok"}
		code := http.StatusOK
		if deps.db != nil {
			if err := deps.db.PingContext(ctx); err != nil {
				status["postgres"], code = err.Error(), http.StatusServiceUnavailable
			}
		}
		if deps.redis != nil {
			if err := deps.redis.Health(ctx); err != nil {
				status["redis"], code = err.Error(), http.StatusServiceUnavailable
			}
		}
		if code != http.StatusOK {
			status["status"] = "degraded"
		}
		httputil.WriteJSON(w, code, status)
	}
}
