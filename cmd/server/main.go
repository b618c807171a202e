package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"humanitylink/internal/attestation"
	attesthandler "humanitylink/internal/attestation/handler"
	"humanitylink/internal/audit"
	"humanitylink/internal/identity"
	"humanitylink/internal/identity/cache"
	"humanitylink/internal/identity/directory"
	"humanitylink/internal/platform/config"
	"humanitylink/internal/platform/crypto"
	"humanitylink/internal/platform/httpserver"
	"humanitylink/internal/platform/logger"
	"humanitylink/internal/platform/metrics"
	"humanitylink/internal/platform/postgres"
	"humanitylink/internal/platform/redis"
	profilehandler "humanitylink/internal/profile/handler"
	"humanitylink/internal/profile/service"
	"humanitylink/internal/profile/store"
	httptransport "humanitylink/internal/transport/http"
	"humanitylink/pkg/platform/circuit"
)

// auditBuffer is the number of audit events queued ahead of the Kafka producer.
const auditBuffer = 1024

// directoryBackend is what both directory implementations offer.
type directoryBackend interface {
	identity.Directory
	store.UserMetadata
}

// main wires dependencies and owns the server lifecycle. Business logic
// lives in the internal service packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	m := metrics.New()
	checks := map[string]httptransport.HealthCheck{}
	var cleanups []func()
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()

	auditor, stopAudit, err := buildAuditor(ctx, cfg.Kafka, log)
	if err != nil {
		return err
	}
	cleanups = append(cleanups, stopAudit)

	dir, err := buildDirectory(cfg.Directory, log)
	if err != nil {
		return err
	}
	if client, ok := dir.(*directory.Client); ok {
		checks["directory"] = func(context.Context) error {
			if client.BreakerState() == circuit.StateOpen {
				return errors.New("circuit open")
			}
			return nil
		}
	}

	resolverOpts := []identity.Option{
		identity.WithPageSize(cfg.Directory.PageSize),
		identity.WithLogger(log),
		identity.WithMetrics(m),
		identity.WithAuditor(auditor),
	}
	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		cleanups = append(cleanups, func() { _ = rdb.Close() })
		checks["redis"] = rdb.Health
		resolverOpts = append(resolverOpts, identity.WithCache(cache.NewRedis(rdb.Client, cfg.Redis.IdentityTTL)))
		log.InfoContext(ctx, "identity cache backed by redis")
	}
	resolver := identity.NewResolver(dir, resolverOpts...)

	profileStore, db, err := buildProfileStore(ctx, cfg.Profile, dir)
	if err != nil {
		return err
	}
	if db != nil {
		cleanups = append(cleanups, func() { _ = db.Close() })
		checks["postgres"] = db.PingContext
	}
	profiles := service.New(profileStore,
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithAuditor(auditor),
	)

	invoker := attestation.NewInvoker(attestation.Config{
		Command:     cfg.Attestation.Command,
		Args:        cfg.Attestation.Args,
		Dir:         cfg.Attestation.Dir,
		ValueSuffix: cfg.Attestation.ValueSuffix,
		Timeout:     cfg.Attestation.Timeout,
	}, attestation.WithLogger(log), attestation.WithMetrics(m))

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:  log,
		Metrics: m,
		Checks:  checks,
		Handlers: []httptransport.Registrar{
			attesthandler.New(invoker, cfg.Attestation.AgeThreshold, log),
			profilehandler.New(resolver, profiles, log),
		},
	})
	srv := httpserver.New(cfg.Server.Addr, router, cfg.Server.ReadHeaderTimeout, cfg.Attestation.Timeout)

	errCh := make(chan error, 1)
	go func() {
		log.InfoContext(ctx, "starting humanitylink",
			"addr", cfg.Server.Addr,
			"directory_mode", cfg.Directory.Mode,
			"profile_backend", cfg.Profile.Backend,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// buildAuditor sends audit events to Kafka through a buffered worker when
// brokers are configured, and to the log otherwise.
func buildAuditor(ctx context.Context, cfg config.Kafka, log *slog.Logger) (*audit.Publisher, func(), error) {
	if len(cfg.Brokers) == 0 {
		return audit.NewPublisher(audit.NewLogSink(log), log), func() {}, nil
	}

	sink, err := audit.NewKafkaSink(ctx, cfg.Brokers, cfg.AuditTopic)
	if err != nil {
		return nil, nil, fmt.Errorf("audit kafka sink: %w", err)
	}
	worker := audit.NewWorker(sink, auditBuffer, log)

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = worker.Run(workerCtx)
	}()
	stop := func() {
		cancel()
		<-done
		sink.Close()
	}
	log.InfoContext(ctx, "audit events published to kafka", "topic", cfg.AuditTopic)
	return audit.NewPublisher(worker, log), stop, nil
}

func buildDirectory(cfg config.Directory, log *slog.Logger) (directoryBackend, error) {
	if cfg.Mode == config.DirectoryModeMemory {
		log.Warn("using in-memory identity directory; identities are lost on restart")
		return directory.NewInMemory(), nil
	}
	client, err := directory.NewClient(directory.Config{
		BaseURL:          cfg.BaseURL,
		AppID:            cfg.AppID,
		AppSecret:        cfg.AppSecret,
		Timeout:          cfg.Timeout,
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.Cooldown,
	}, directory.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("identity directory: %w", err)
	}
	return client, nil
}

func buildProfileStore(ctx context.Context, cfg config.Profile, dir directoryBackend) (service.Store, *sql.DB, error) {
	if cfg.Backend == config.ProfileBackendMemory {
		return store.NewInMemory(), nil, nil
	}

	key, err := cfg.Key()
	if err != nil {
		return nil, nil, err
	}
	sealer, err := crypto.NewSealer(key)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Backend == config.ProfileBackendDirectory {
		return store.NewDirectory(dir, sealer), nil, nil
	}

	db, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.MaxConns)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store.NewPostgres(db, sealer), db, nil
}
