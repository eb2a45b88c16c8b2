package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/railzwaylabs/experiment-broker/internal/adapter/remotestore/kinto"
	"github.com/railzwaylabs/experiment-broker/internal/adapter/repository/postgres"
	"github.com/railzwaylabs/experiment-broker/internal/adapter/stream/kafka"
	"github.com/railzwaylabs/experiment-broker/internal/api"
	"github.com/railzwaylabs/experiment-broker/internal/broker"
	"github.com/railzwaylabs/experiment-broker/internal/config"
	"github.com/railzwaylabs/experiment-broker/internal/domain/bucket"
	"github.com/railzwaylabs/experiment-broker/internal/domain/changelog"
	"github.com/railzwaylabs/experiment-broker/internal/domain/experiment"
	"github.com/railzwaylabs/experiment-broker/internal/domain/remotestore"
	"github.com/railzwaylabs/experiment-broker/internal/outbox"
	"github.com/railzwaylabs/experiment-broker/internal/reconciler"
	"github.com/railzwaylabs/experiment-broker/pkg/db"
	"github.com/railzwaylabs/experiment-broker/pkg/kintoclient"
	zaplog "github.com/railzwaylabs/experiment-broker/pkg/log"
	"github.com/railzwaylabs/experiment-broker/pkg/snowflake"
	"github.com/railzwaylabs/experiment-broker/pkg/telemetry/correlation"
	"github.com/railzwaylabs/experiment-broker/sql/migrations"
)

// brokerOptions wires the broker and everything it depends on.
func brokerOptions() fx.Option {
	return fx.Options(
		fx.Provide(
			// Config
			config.Load,
			newBrokerConfig,
			newOutboxConfig,

			// Infrastructure (Adapters)
			kintoclient.NewFromEnv,
			newChangelogPublisher,

			// Domain Adapters (Bind Interfaces)
			fx.Annotate(
				postgres.NewRepository,
				fx.As(new(experiment.Repository)),
			),
			fx.Annotate(
				postgres.NewChangelogRecorder,
				fx.As(new(changelog.Recorder)),
				fx.As(new(api.History)),
			),
			fx.Annotate(
				newBucketAllocator,
				fx.As(new(bucket.Allocator)),
			),
			fx.Annotate(
				postgres.NewAdvisoryLocker,
				fx.As(new(broker.Locker)),
			),
			fx.Annotate(
				kinto.NewAdapterFromClient,
				fx.As(new(remotestore.Client)),
			),
			fx.Annotate(
				outbox.NewDispatcher,
				fx.As(new(broker.Dispatcher)),
			),

			fx.Annotate(
				broker.New,
				fx.As(fx.Self()),
				fx.As(new(outbox.Pusher)),
				fx.As(new(api.Operator)),
			),
			outbox.NewProcessor,
		),
		db.Module,        // Database Module
		snowflake.Module, // Snowflake ID Module
		zaplog.Module,    // Logger Module
	)
}

// RunServer starts the HTTP server and background workers.
func RunServer() {
	app := fx.New(
		brokerOptions(),
		fx.Provide(
			newReconciler,
			api.NewRouter,
		),
		fx.Invoke(registerHooks),
	)

	app.Run()
}

// RunTask runs one broker operation once and exits. A push queue drain also
// processes the push it dispatched, since no outbox processor is running.
func RunTask(name string, args []string) error {
	var (
		b         *broker.Broker
		processor *outbox.Processor
		logger    *zap.Logger
	)

	app := fx.New(
		brokerOptions(),
		fx.Populate(&b, &processor, &logger),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	ctx, cid := correlation.EnsureCorrelationID(context.Background())
	logger.Info("task_started", zap.String("task", name), zap.String("correlation_id", cid))

	var err error
	switch name {
	case "push":
		if len(args) != 1 {
			return errors.New("push requires exactly one experiment id")
		}
		id, perr := strconv.ParseInt(args[0], 10, 64)
		if perr != nil {
			return fmt.Errorf("invalid experiment id %q: %w", args[0], perr)
		}
		err = b.PushExperiment(ctx, id)
	case broker.PassPushQueue:
		if err = b.CheckPushQueue(ctx); err == nil {
			err = processor.RunOnce(ctx)
		}
	default:
		run, ok := b.Pass(name)
		if !ok {
			return fmt.Errorf("unknown task: %s", name)
		}
		err = run(ctx)
	}
	if err != nil {
		logger.Error("task_failed", zap.String("task", name), zap.String("correlation_id", cid), zap.Error(err))
		return err
	}

	logger.Info("task_completed", zap.String("task", name), zap.String("correlation_id", cid))
	return nil
}

// RunMigrations executes database migrations (up or down).
func RunMigrations(command string) error {
	if command == "" {
		command = "up"
	}

	cfg := config.Load()
	logger, err := zaplog.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("migration_started", zap.String("command", command))

	m, err := migrations.New(cfg.DatabaseURL())
	if err != nil {
		return err
	}
	defer m.Close()

	switch command {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	default:
		return fmt.Errorf("unknown migration command: %s", command)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("migration_no_change", zap.String("command", command))
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", command, err)
	}

	logger.Info("migration_applied", zap.String("command", command))
	return nil
}

func registerHooks(lc fx.Lifecycle, cfg *config.Config, router *api.Router, processor *outbox.Processor, rec *reconciler.Reconciler, logger *zap.Logger) {
	var processorCancel context.CancelFunc
	var reconcilerCancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("http_server_starting", zap.String("port", cfg.Port))

			processorCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			processorCancel = cancel
			go processor.Run(processorCtx)

			reconcilerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			reconcilerCancel = cancel
			go rec.Run(reconcilerCtx)

			go func() {
				if err := router.Run(); err != nil && err != http.ErrServerClosed {
					logger.Fatal("http_server_failed", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("http_server_stopping")

			if processorCancel != nil {
				processorCancel()
			}
			if reconcilerCancel != nil {
				reconcilerCancel()
			}

			shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()

			if err := router.Shutdown(shutdownCtx); err != nil {
				logger.Error("http_server_forced_shutdown", zap.Error(err))
				return err
			}

			logger.Info("http_server_stopped")
			return nil
		},
	})
}

func newBrokerConfig(cfg *config.Config) broker.Config {
	return broker.Config{Actor: cfg.ChangelogActor}
}

func newOutboxConfig(cfg *config.Config) outbox.Config {
	return outbox.Config{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
		StaleAfter:   cfg.OutboxStaleAfter,
	}
}

func newBucketAllocator(conn *gorm.DB, node *snowflake.Node, cfg *config.Config) *postgres.BucketAllocator {
	return postgres.NewBucketAllocator(conn, node, cfg.BucketTotal, cfg.BucketCount)
}

// newChangelogPublisher returns a nil publisher when no Kafka brokers are configured.
func newChangelogPublisher(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (changelog.Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Info("changelog_stream_disabled")
		return nil, nil
	}

	publisher, err := kafka.NewPublisher(kafka.Config{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaChangelogTopic,
		Timeout: cfg.KafkaPublishTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}

func newReconciler(b *broker.Broker, cfg *config.Config, logger *zap.Logger) *reconciler.Reconciler {
	return reconciler.NewReconciler([]reconciler.Task{
		{Name: broker.PassPushQueue, Interval: cfg.PushQueueInterval, Run: b.CheckPushQueue},
		{Name: broker.PassLive, Interval: cfg.LiveCheckInterval, Run: b.CheckExperimentsAreLive},
		{Name: broker.PassComplete, Interval: cfg.CompleteCheckInterval, Run: b.CheckExperimentsAreComplete},
	}, logger)
}
