// Package app wires every component (C1-C8) into the worker process and
// starts the ops HTTP surface alongside it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hypoth/edi835/internal/auditlog"
	"github.com/hypoth/edi835/internal/config"
	"github.com/hypoth/edi835/internal/httpserver"
	"github.com/hypoth/edi835/internal/platform"
	"github.com/hypoth/edi835/internal/telemetry"
	"github.com/hypoth/edi835/pkg/bucket"
	"github.com/hypoth/edi835/pkg/changefeed"
	"github.com/hypoth/edi835/pkg/checkpay"
	"github.com/hypoth/edi835/pkg/claim"
	"github.com/hypoth/edi835/pkg/eventbus"
	"github.com/hypoth/edi835/pkg/filegen"
	"github.com/hypoth/edi835/pkg/ingest"
	"github.com/hypoth/edi835/pkg/scheduler"
)

const consumerID = "edi835-worker"

// Run reads cfg, connects to infrastructure, and starts the appropriate
// mode ("worker" or "migrate").
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)

	logger.Info("starting edi835", "mode", cfg.Mode)

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "edi835", "dev")
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	if cfg.Mode == "migrate" {
		if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("migrations applied")
		return nil
	}

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if cfg.Mode != "worker" {
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	audit := auditlog.NewWriter(db, logger)
	audit.Start(ctx)
	defer audit.Close()

	bus := eventbus.New(logger, eventbus.WithQueueSize(cfg.FileGenQueueSize), eventbus.WithWorkers(cfg.FileGenPoolMax))

	// --- C5/C6 persistence, built first so C8's payment gate can share the
	// same bucket.Store instance the state machine uses. ---
	bucketConfigStore := bucket.NewPostgresConfigStore(db)
	bucketStore := bucket.NewPostgresStore(db)
	bucketLocker := bucket.NewRedisLocker(rdb, 10*time.Second, 50*time.Millisecond, 5*time.Second)
	claimStore := claim.NewPostgresStore(db)

	// --- C8: check payment assignment, wired before the state machine so
	// it can back C6's payment gate without pkg/bucket ever importing
	// pkg/checkpay. ---
	voidWindow, err := time.ParseDuration(cfg.CheckVoidWindow)
	if err != nil {
		return fmt.Errorf("parsing CHECK_VOID_WINDOW %q: %w", cfg.CheckVoidWindow, err)
	}
	checkStore := checkpay.NewPostgresStore(db)
	checkService := checkpay.NewService(checkStore, bucketStore, checkpay.VoidPolicy{
		Window:          voidWindow,
		AuthorizedRoles: splitRoles(cfg.CheckVoidAuthorizedRoles),
	}, logger)

	// --- C5/C6: bucket aggregation and the generation/approval state machine. ---
	machine := bucket.NewStateMachine(bucketConfigStore, bucketStore, bucketLocker, checkService, bus, audit, logger)
	aggregator := bucket.NewAggregator(bucketConfigStore, bucketStore, claimStore, bucketLocker, machine, audit, logger)
	sweeper := bucket.NewSweeper(bucketStore, machine, logger)

	// --- C7: file generation and SFTP delivery, subscribed to bucket's
	// GENERATING transitions on the event bus. ---
	fileConfigStore := filegen.NewPostgresConfigStore(db)
	fileHistoryStore := filegen.NewPostgresStore(db)
	sftpDialer := filegen.NewProductionDialer(time.Duration(cfg.SFTPConnectionTimeoutMs) * time.Millisecond)
	sessions := filegen.NewCachingSessionFactory(cfg.SFTPPoolSize, sftpDialer, filegen.IdentityDecryptor, time.Duration(cfg.SFTPConnectionTimeoutMs)*time.Millisecond)
	generator := filegen.NewGenerator(bucketStore, claimStore, fileConfigStore, fileHistoryStore, filegen.NewFixedWidthSerializer(), machine, audit, logger)
	generator.Subscribe(bus)
	deliverer := filegen.NewDeliverer(fileHistoryStore, fileConfigStore, sessions, cfg.FileGenMaxRetries, logger)
	defer sessions.CloseAll()

	// --- C4: NCPDP claim ingestion, feeding the bucket aggregator. ---
	ingestStore := ingest.NewPostgresStore(db)
	ingestController := ingest.NewController(ingestStore, aggregator, audit, logger, ingest.Config{
		BatchSize:      cfg.NCPDPBatchSize,
		MaxRetries:     cfg.NCPDPMaxRetries,
		StuckThreshold: time.Duration(cfg.NCPDPStuckThresholdMin) * time.Minute,
	})

	// --- C1: the change-feed consumer dispatches raw_ncpdp_claims inserts
	// to C4 without importing pkg/ingest from pkg/changefeed. ---
	changeFeedStore := changefeed.NewPostgresStore(db)
	idempotencyCache := changefeed.NewRedisCache(rdb, db, logger)
	consumer := changefeed.NewConsumer(consumerID, cfg.ChangeFeedBatchSize, changeFeedStore, idempotencyCache, logger)
	consumer.RegisterHandler("raw_ncpdp_claims", func(ctx context.Context, change changefeed.DataChange) error {
		return ingestController.ChangeFeedHandler(ctx, change.RowID)
	})

	sched := scheduler.New(logger)
	sched.Register("changefeed-poll", time.Duration(cfg.ChangeFeedPollIntervalMs)*time.Millisecond, consumer.RunCycle)
	sched.Register("ncpdp-process-pending", time.Duration(cfg.NCPDPPollIntervalMs)*time.Millisecond, ingestController.ProcessPending)
	sched.Register("ncpdp-retry-failed", time.Duration(cfg.NCPDPRetrySweepMs)*time.Millisecond, ingestController.RetryFailed)
	sched.Register("ncpdp-detect-stuck", time.Duration(cfg.NCPDPStuckSweepMs)*time.Millisecond, ingestController.DetectStuck)
	sched.Register("bucket-threshold-sweep", time.Duration(cfg.BucketSweepIntervalMs)*time.Millisecond, sweeper.Run)
	sched.Register("filegen-delivery", time.Duration(cfg.FileGenDeliveryIntervalMs)*time.Millisecond, deliverer.Run)

	srv := httpserver.New(db, rdb, logger, metricsReg)
	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv.Router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ops server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	go func() {
		if err := bus.Run(ctx); err != nil {
			logger.Error("event bus stopped with error", "error", err)
		}
	}()

	go sched.Run(ctx)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func splitRoles(csv string) []string {
	var roles []string
	for _, part := range strings.Split(csv, ",") {
		if role := strings.TrimSpace(part); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}
