package main

import (
	"context"
	"flag"
	"strings"

	"github.com/dvloznov/cardsync/internal/archive"
	"github.com/dvloznov/cardsync/internal/categorize"
	"github.com/dvloznov/cardsync/internal/classifier"
	"github.com/dvloznov/cardsync/internal/config"
	"github.com/dvloznov/cardsync/internal/infra/bigquery"
	"github.com/dvloznov/cardsync/internal/logger"
	"github.com/dvloznov/cardsync/internal/pipeline"
	"github.com/dvloznov/cardsync/internal/reconcile"
	"github.com/dvloznov/cardsync/internal/source"
)

var (
	usersFlag      = flag.String("users", "", "Comma-separated user emails for a focused pass (default: all eligible users)")
	categorizeOnly = flag.Bool("categorize-only", false, "Skip fetching and only categorize unparsed transactions")
)

// One-shot pipeline trigger, mainly for operations and debugging. The same
// passes normally run on the worker's tickers.
func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log := logger.New("info")
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(cfg.Logging.Level)
	ctx := context.Background()

	repo, err := bigquery.NewRepository(ctx, cfg.Storage.ProjectID, cfg.Storage.Dataset)
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
	orchestrator := pipeline.NewOrchestrator(repo, reconciler, categorizer, nil, log, cfg.Scan.FailureThreshold)

	var users []string
	if *usersFlag != "" {
		for _, email := range strings.Split(*usersFlag, ",") {
			if email = strings.TrimSpace(email); email != "" {
				users = append(users, email)
			}
		}
	}

	if *categorizeOnly {
		if err := orchestrator.RunCategorization(ctx, users); err != nil {
			log.Fatal().Err(err).Msg("Categorization pass failed")
		}
		log.Info().Msg("Categorization pass completed")
		return
	}

	if err := orchestrator.RunScan(ctx, users); err != nil {
		log.Fatal().Err(err).Msg("Scan pass failed")
	}
	log.Info().Msg("Scan pass completed")
}
