package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"career-docgen/pkg/config"
	"career-docgen/pkg/database"
	"career-docgen/pkg/generator"
	"career-docgen/pkg/job"
	"career-docgen/pkg/mq"
	"career-docgen/pkg/observability"
	"career-docgen/pkg/result"
	"career-docgen/pkg/service"
)

// jobConsumer is the slice of the queue client the consume loop needs.
type jobConsumer interface {
	ConsumeJobs(kind job.Kind) (<-chan amqp.Delivery, error)
}

func main() {
	logger := observability.NewLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.AnthropicAPIKey == "" {
		slog.Error("ANTHROPIC_API_KEY is required for the worker")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := database.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	mqClient, err := mq.New(cfg.RabbitURL)
	if err != nil {
		slog.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer mqClient.Close()

	if err := mqClient.SetupTopology(); err != nil {
		slog.Error("failed to setup rabbitmq topology", "error", err)
		os.Exit(1)
	}

	observability.StartMetricsServer(cfg.MetricsAddr)

	resultStore := result.NewStore(dbClient.Pool(), cfg.ResultRetention)
	gen := generator.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	worker := service.NewWorker(dbClient, mqClient, resultStore, gen,
		cfg.MaxAttempts, cfg.GenerationTimeout, logger)

	// A consume failure for any kind cancels the group and the binary exits
	// non-zero; a worker quietly covering only some queues is worse than a
	// crash the deployment restarts.
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range job.Kinds {
		kind := kind
		g.Go(func() error {
			return consumeKind(gctx, mqClient, worker, kind, cfg.WorkerConcurrency, logger)
		})
	}

	slog.Info("all workers started, waiting for jobs")

	if err := g.Wait(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
	slog.Info("all workers stopped gracefully")
}

func consumeKind(ctx context.Context, consumer jobConsumer, worker *service.Worker,
	kind job.Kind, concurrency int, logger *slog.Logger) error {
	deliveryChan, err := consumer.ConsumeJobs(kind)
	if err != nil {
		return fmt.Errorf("failed to start consuming %s jobs: %w", kind, err)
	}

	logger.Info("worker started", "kind", kind, "concurrency", concurrency)

	innerWg := sync.WaitGroup{}
	innerWg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer innerWg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-deliveryChan:
					if !ok {
						return
					}
					handleMessage(ctx, worker, kind, msg, logger)
				}
			}
		}()
	}

	<-ctx.Done()
	innerWg.Wait()
	logger.Info("worker shutting down", "kind", kind)
	return nil
}

// handleMessage runs one delivery through the worker and settles the message
// per the returned disposition. Per-message settlement keeps a poison
// message from failing its siblings.
func handleMessage(ctx context.Context, worker *service.Worker, kind job.Kind, msg amqp.Delivery, logger *slog.Logger) {
	jobID := string(msg.Body)
	attempt := mq.Attempt(msg)

	switch worker.Process(ctx, kind, jobID, attempt) {
	case service.Ack:
		if err := msg.Ack(false); err != nil {
			logger.Error("failed to ack message", "job_id", jobID, "error", err)
		}
	case service.NackRequeue:
		if err := msg.Nack(false, true); err != nil {
			logger.Error("failed to nack message", "job_id", jobID, "error", err)
		}
	case service.NackDead:
		// Requeue=false routes the message to the dead-letter exchange,
		// where the queue-depth alarm picks it up.
		if err := msg.Nack(false, false); err != nil {
			logger.Error("failed to dead-letter message", "job_id", jobID, "error", err)
		}
	}
}
