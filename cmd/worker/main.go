package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/cardsync/internal/archive"
	"github.com/dvloznov/cardsync/internal/categorize"
	"github.com/dvloznov/cardsync/internal/classifier"
	"github.com/dvloznov/cardsync/internal/config"
	"github.com/dvloznov/cardsync/internal/infra/bigquery"
	"github.com/dvloznov/cardsync/internal/jobs"
	"github.com/dvloznov/cardsync/internal/jobs/inmemory"
	"github.com/dvloznov/cardsync/internal/logger"
	"github.com/dvloznov/cardsync/internal/pipeline"
	"github.com/dvloznov/cardsync/internal/reconcile"
	"github.com/dvloznov/cardsync/internal/source"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New("info")
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(cfg.Logging.Level)
	log.Info().Msg("Starting pipeline worker")

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := bigquery.NewRepository(ctx, cfg.Storage.ProjectID, cfg.Storage.Dataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery repository")
	}
	defer repo.Close()

	var archiver archive.Archiver
	if cfg.Storage.ArchiveBucket != "" {
		archiver = archive.NewGCS(cfg.Storage.ArchiveBucket)
		log.Info().Str("bucket", cfg.Storage.ArchiveBucket).Msg("Raw payload archiving enabled")
	}

	src := source.NewHTTPClient(cfg.Source.BaseURL, cfg.Source.Timeout)
	reconciler := reconcile.NewEngine(repo, src, archiver, log, cfg.Scan)
	categorizer := categorize.NewEngine(repo, classifier.NewGemini(cfg.Classify.Model), log, cfg.Classify)

	// Initialize job store and queue
	// In production, this would be replaced with Cloud Tasks or Pub/Sub
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore)

	orchestrator := pipeline.NewOrchestrator(repo, reconciler, categorizer, jobQueue, log, cfg.Scan.FailureThreshold)

	handler := func(ctx context.Context, job *jobs.PipelineJob) error {
		log.Info().
			Str("job_id", job.JobID).
			Str("type", string(job.Type)).
			Strs("users", job.UserEmails).
			Msg("Processing pipeline job")

		switch job.Type {
		case jobs.JobTypeScan:
			return orchestrator.RunScan(ctx, job.UserEmails)
		case jobs.JobTypeCategorize:
			return orchestrator.RunCategorization(ctx, job.UserEmails)
		case jobs.JobTypeAggregate:
			// Picked up by the spending aggregation service; nothing to do here.
			log.Info().
				Strs("users", job.UserEmails).
				Bool("deep", job.DeepAggregation).
				Msg("Aggregation handoff emitted")
			return nil
		default:
			return fmt.Errorf("unexpected job type: %s", job.Type)
		}
	}

	// Start consuming jobs
	if err := jobQueue.Start(ctx, handler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	// Periodically enqueue the passes
	scanTicker := time.NewTicker(cfg.Scan.Interval)
	defer scanTicker.Stop()
	classifyTicker := time.NewTicker(cfg.Classify.Interval)
	defer classifyTicker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-scanTicker.C:
				if err := jobQueue.PublishPipelineJob(ctx, &jobs.PipelineJob{Type: jobs.JobTypeScan}); err != nil {
					log.Error().Err(err).Msg("Failed to enqueue scan job")
				}
			case <-classifyTicker.C:
				if err := jobQueue.PublishPipelineJob(ctx, &jobs.PipelineJob{Type: jobs.JobTypeCategorize}); err != nil {
					log.Error().Err(err).Msg("Failed to enqueue categorize job")
				}
			}
		}
	}()

	log.Info().
		Dur("scan_interval", cfg.Scan.Interval).
		Dur("classify_interval", cfg.Classify.Interval).
		Msg("Pipeline worker started, waiting for jobs...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down pipeline worker...")

	// Cancel context to stop workers
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Pipeline worker exited")
}
