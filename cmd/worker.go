package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"

	"github.com/mazuri-stores/mazuri-api/internal/core/events"
	"github.com/mazuri-stores/mazuri-api/internal/payment"
	"github.com/mazuri-stores/mazuri-api/internal/reconcile"
	txPostgres "github.com/mazuri-stores/mazuri-api/internal/transaction/postgres"
	"github.com/mazuri-stores/mazuri-api/pkg/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start background workers: the stale payment reconciler and the payment event consumer.`,
}

var reconcileWorkerCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Start the pending payment reconciler",
	Long:  `Periodically query M-Pesa for pending transactions whose callback never arrived`,
	Run: func(cmd *cobra.Command, args []string) {
		startReconcileWorker()
	},
}

var eventWorkerCmd = &cobra.Command{
	Use:   "events",
	Short: "Start the payment event consumer",
	Long:  `Consume payment events from the Kafka payments topic`,
	Run: func(cmd *cobra.Command, args []string) {
		startEventWorker()
	},
}

var (
	maxWorkers   int
	jobQueueSize int
	batchSize    int
	runOnce      bool
)

func startReconcileWorker() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := initializeDependencies(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close(context.Background())

	cfg := deps.Config.Reconcile
	cfg.MaxWorkers = getIntFlag(maxWorkers, cfg.MaxWorkers)
	cfg.JobQueueSize = getIntFlag(jobQueueSize, cfg.JobQueueSize)
	cfg.BatchSize = getIntFlag(batchSize, cfg.BatchSize)

	var locker reconcile.Locker = reconcile.NoopLocker{}
	if deps.Redis != nil {
		locker = reconcile.NewRedisLocker(deps.Redis, "mazuri:")
	}

	sweeper := reconcile.NewSweeper(txPostgres.NewPendingFinder(deps.DB), deps.Reconciler, locker, deps.Metrics, cfg, deps.Logger)

	deps.Logger.Info("starting reconcile worker",
		"interval", cfg.Interval,
		"min_age", cfg.MinAge,
		"batch_size", cfg.BatchSize,
		"max_workers", cfg.MaxWorkers,
		"distributed_lock", deps.Redis != nil)

	if runOnce {
		sweeper.StartWorkers()
		if _, err := sweeper.Sweep(ctx); err != nil {
			deps.Logger.Error("reconcile sweep failed", "error", err)
		}
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		if err := sweeper.Wait(waitCtx); err != nil {
			deps.Logger.Warn("reconcile jobs did not finish", "error", err)
		}
		sweeper.Shutdown()
		drainBus(deps.Bus, deps.Logger)
		return
	}

	sweeper.Start(ctx)
	deps.Logger.Info("reconcile worker is running. Press Ctrl+C to stop.")

	<-ctx.Done()
	deps.Logger.Info("received signal, shutting down reconcile worker")

	shutdownDone := make(chan struct{})
	go func() {
		sweeper.Shutdown()
		close(shutdownDone)
	}()

	timeout, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	select {
	case <-shutdownDone:
		deps.Logger.Info("reconcile worker pool shutdown complete")
	case <-timeout.Done():
		deps.Logger.Warn("shutdown timeout reached, forcing exit")
	}
	drainBus(deps.Bus, deps.Logger)
}

func drainBus(bus *events.EventBus, lg *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := bus.Wait(ctx); err != nil {
		lg.Warn("event handlers did not drain", "error", err)
	}
}

func startEventWorker() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	lg := logger.Configure(logger.Options{
		Level:  config.Observability.Logging.Level,
		Format: config.Observability.Logging.Format,
	})

	if !config.Kafka.Enabled {
		fmt.Fprintln(os.Stderr, "kafka is disabled; set kafka.enabled to consume payment events")
		os.Exit(1)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  splitBrokers(config.Kafka.Brokers),
		Topic:    config.Kafka.Topic,
		GroupID:  config.Kafka.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	handler := payment.NewEventHandler(lg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lg.Info("payment event consumer started", "topic", config.Kafka.Topic, "group_id", config.Kafka.GroupID)

	consumeEvents(ctx, reader, handler, lg)

	lg.Info("payment event consumer shutdown complete")
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type envelopeHandler interface {
	HandleEnvelope(ctx context.Context, env events.Envelope) error
}

const (
	fetchBackoffMin = 200 * time.Millisecond
	fetchBackoffMax = 10 * time.Second
)

// consumeEvents runs until ctx is cancelled or the reader is closed. Fetch
// errors back off exponentially up to fetchBackoffMax.
func consumeEvents(ctx context.Context, reader messageReader, handler envelopeHandler, lg *slog.Logger) {
	backoff := fetchBackoffMin
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return
			}
			lg.Error("error reading message from kafka", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, fetchBackoffMax)
			continue
		}
		backoff = fetchBackoffMin

		env, err := events.DecodeMessage(msg)
		if err != nil {
			lg.Error("skipping undecodable event", "error", err, "offset", msg.Offset, "partition", msg.Partition)
		} else if err := handler.HandleEnvelope(ctx, env); err != nil {
			lg.Error("event handler failed", "error", err, "event_id", env.ID, "event_type", env.Type)
		}

		if err := reader.CommitMessages(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("failed to commit kafka offset", "error", err, "offset", msg.Offset)
		}
	}
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	reconcileWorkerCmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "Maximum number of workers (overrides config)")
	reconcileWorkerCmd.Flags().IntVar(&jobQueueSize, "job-queue-size", 0, "Job queue buffer size (overrides config)")
	reconcileWorkerCmd.Flags().IntVar(&batchSize, "batch-size", 0, "Transactions listed per sweep (overrides config)")
	reconcileWorkerCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single sweep and exit")

	workerCmd.AddCommand(reconcileWorkerCmd)
	workerCmd.AddCommand(eventWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
