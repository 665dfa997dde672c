package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/cardsync/internal/api/handlers"
	"github.com/dvloznov/cardsync/internal/api/middleware"
	"github.com/dvloznov/cardsync/internal/archive"
	"github.com/dvloznov/cardsync/internal/categorize"
	"github.com/dvloznov/cardsync/internal/classifier"
	"github.com/dvloznov/cardsync/internal/config"
	infraBQ "github.com/dvloznov/cardsync/internal/infra/bigquery"
	"github.com/dvloznov/cardsync/internal/jobs"
	"github.com/dvloznov/cardsync/internal/jobs/inmemory"
	"github.com/dvloznov/cardsync/internal/logger"
	"github.com/dvloznov/cardsync/internal/pipeline"
	"github.com/dvloznov/cardsync/internal/reconcile"
	"github.com/dvloznov/cardsync/internal/source"
)

// Serves the trigger/status API with an embedded job worker, so a single
// instance can both accept manual runs and execute them.
func main() {
	port := flag.String("port", "8080", "HTTP server port")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log := logger.New("info")
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(cfg.Logging.Level)

	ctx := context.Background()

	repo, err := infraBQ.NewRepository(ctx, cfg.Storage.ProjectID, cfg.Storage.Dataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery repository")
	}
	defer repo.Close()

	var archiver archive.Archiver
	if cfg.Storage.ArchiveBucket != "" {
		archiver = archive.NewGCS(cfg.Storage.ArchiveBucket)
	}

	src := source.NewHTTPClient(cfg.Source.BaseURL, cfg.Source.Timeout)
	reconciler := reconcile.NewEngine(repo, src, archiver, log, cfg.Scan)
	categorizer := categorize.NewEngine(repo, classifier.NewGemini(cfg.Classify.Model), log, cfg.Classify)

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore)

	orchestrator := pipeline.NewOrchestrator(repo, reconciler, categorizer, jobQueue, log, cfg.Scan.FailureThreshold)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	jobHandler := func(ctx context.Context, job *jobs.PipelineJob) error {
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
			log.Info().
				Strs("users", job.UserEmails).
				Bool("deep", job.DeepAggregation).
				Msg("Aggregation handoff emitted")
			return nil
		default:
			return fmt.Errorf("unexpected job type: %s", job.Type)
		}
	}

	if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	// Initialize handlers
	jobsHandler := handlers.NewJobsHandler(jobStore, jobQueue, log)

	// Create router
	mux := http.NewServeMux()

	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			jobsHandler.TriggerJob(w, r)
		case http.MethodGet:
			jobsHandler.ListJobs(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		if jobID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		jobsHandler.GetJob(w, r, jobID)
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(mux),
		),
	)

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server exited")
}
