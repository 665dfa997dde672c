// Package pipeline chains the processing passes: reconciliation fetches and
// merges provider charges, categorization resolves the categories of
// whatever came out unparsed, and an aggregation handoff job tells the
// downstream spending aggregation service what changed.
package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/cardsync/internal/domain"
	"github.com/dvloznov/cardsync/internal/jobs"
	"github.com/dvloznov/cardsync/internal/reconcile"
)

// UserDirectory resolves which users take part in a pass.
type UserDirectory interface {
	ListScannableUsers(ctx context.Context, failureThreshold int) ([]*domain.User, error)
}

// Reconciler runs the reconciliation pass over a set of users.
type Reconciler interface {
	Run(ctx context.Context, users []*domain.User) (reconcile.Result, error)
}

// Categorizer runs the categorization pass. An empty userEmails slice means
// all users with unparsed transactions.
type Categorizer interface {
	Run(ctx context.Context, userEmails []string) error
}

// Orchestrator wires the passes together.
type Orchestrator struct {
	users       UserDirectory
	reconciler  Reconciler
	categorizer Categorizer
	publisher   jobs.Publisher

	log              zerolog.Logger
	failureThreshold int
}

// NewOrchestrator creates a pipeline orchestrator. The publisher is optional;
// without one no aggregation handoff jobs are emitted.
func NewOrchestrator(users UserDirectory, rec Reconciler, cat Categorizer, pub jobs.Publisher, log zerolog.Logger, failureThreshold int) *Orchestrator {
	return &Orchestrator{
		users:            users,
		reconciler:       rec,
		categorizer:      cat,
		publisher:        pub,
		log:              log.With().Str("component", "pipeline").Logger(),
		failureThreshold: failureThreshold,
	}
}

// RunScan runs a full pipeline pass: reconcile the given users (all eligible
// users when userEmails is empty), categorize the ones that got new data,
// and hand the same set off to aggregation.
func (o *Orchestrator) RunScan(ctx context.Context, userEmails []string) error {
	users, err := o.resolveUsers(ctx, userEmails)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		o.log.Info().Msg("no users to scan")
		return nil
	}

	o.log.Info().Int("users", len(users)).Msg("starting scan pass")

	res, err := o.reconciler.Run(ctx, users)
	if err != nil {
		return fmt.Errorf("pipeline: reconciliation pass: %w", err)
	}
	if len(res.UpdatedUsers) == 0 {
		o.log.Info().Msg("scan pass produced no new data")
		return nil
	}

	o.log.Info().Strs("users", res.UpdatedUsers).Bool("deep", res.DeepAggregation).Msg("scan pass produced new data")

	if err := o.categorizer.Run(ctx, res.UpdatedUsers); err != nil {
		return fmt.Errorf("pipeline: categorization pass: %w", err)
	}

	o.publishAggregation(ctx, res)
	return nil
}

// RunCategorization runs only the categorization pass.
func (o *Orchestrator) RunCategorization(ctx context.Context, userEmails []string) error {
	if err := o.categorizer.Run(ctx, userEmails); err != nil {
		return fmt.Errorf("pipeline: categorization pass: %w", err)
	}
	return nil
}

// resolveUsers lists the eligible users, narrowed to the requested ones for
// a focused pass. Requested users that are not eligible are skipped with a
// warning rather than scanned anyway.
func (o *Orchestrator) resolveUsers(ctx context.Context, userEmails []string) ([]*domain.User, error) {
	users, err := o.users.ListScannableUsers(ctx, o.failureThreshold)
	if err != nil {
		return nil, fmt.Errorf("pipeline: listing users: %w", err)
	}
	if len(userEmails) == 0 {
		return users, nil
	}

	eligible := make(map[string]*domain.User, len(users))
	for _, u := range users {
		eligible[u.Email] = u
	}

	var selected []*domain.User
	for _, email := range userEmails {
		u, ok := eligible[email]
		if !ok {
			o.log.Warn().Str("user", email).Msg("requested user is not eligible for scanning, skipping")
			continue
		}
		selected = append(selected, u)
	}
	return selected, nil
}

// publishAggregation emits the aggregation handoff job. Best effort: the
// pipeline's own results are already committed at this point.
func (o *Orchestrator) publishAggregation(ctx context.Context, res reconcile.Result) {
	if o.publisher == nil {
		return
	}
	job := &jobs.PipelineJob{
		Type:            jobs.JobTypeAggregate,
		UserEmails:      res.UpdatedUsers,
		DeepAggregation: res.DeepAggregation,
	}
	if err := o.publisher.PublishPipelineJob(ctx, job); err != nil {
		o.log.Error().Err(err).Msg("publishing aggregation handoff failed")
		return
	}
	o.log.Debug().Strs("users", res.UpdatedUsers).Bool("deep", res.DeepAggregation).Msg("aggregation handoff published")
}
