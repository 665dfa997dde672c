// Package reconcile merges freshly fetched provider charges into stored
// state. Each user's pass decides how far back to fetch, splits fetched
// records into new inserts, pending promotions and duplicates, expands due
// recurring templates, and commits the whole result atomically.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/cardsync/internal/archive"
	"github.com/dvloznov/cardsync/internal/config"
	"github.com/dvloznov/cardsync/internal/domain"
	"github.com/dvloznov/cardsync/internal/recurring"
	"github.com/dvloznov/cardsync/internal/source"
)

// Repository is the persistence surface the reconciliation engine needs.
type Repository interface {
	ListActiveTransactions(ctx context.Context, userEmail string) ([]*domain.Transaction, error)
	ListRecurringTemplates(ctx context.Context, userEmail string) ([]*domain.RecurringTemplate, error)
	CommitReconciliation(ctx context.Context, commit domain.ReconcileCommit) error
	RecordScanFailure(ctx context.Context, userEmail string) error
}

// Result summarizes one reconciliation run across users.
type Result struct {
	// UpdatedUsers lists the users whose pass inserted at least one
	// transaction; they are the ones worth forwarding to categorization.
	UpdatedUsers []string
	// DeepAggregation is set when at least one user was fetched with a
	// deep lookback window, which means downstream aggregation must
	// recompute history instead of only the recent period.
	DeepAggregation bool
}

// Engine runs the reconciliation pass.
type Engine struct {
	repo     Repository
	source   source.Client
	archiver archive.Archiver

	log          zerolog.Logger
	deepScanDays int
	staleAfter   time.Duration

	now func() time.Time
}

// NewEngine creates a reconciliation engine. The archiver is optional; a nil
// archiver disables raw payload archiving.
func NewEngine(repo Repository, src source.Client, arch archive.Archiver, log zerolog.Logger, cfg config.ScanConfig) *Engine {
	return &Engine{
		repo:         repo,
		source:       src,
		archiver:     arch,
		log:          log.With().Str("component", "reconcile").Logger(),
		deepScanDays: cfg.DeepScanDays,
		staleAfter:   cfg.StaleAfter,
		now:          time.Now,
	}
}

// Run reconciles each user in turn. Fetch failures are recorded against the
// user's failure counter and skip the user; persistence failures abort only
// that user's pass. Both are logged, neither aborts the run.
func (e *Engine) Run(ctx context.Context, users []*domain.User) (Result, error) {
	var res Result
	for _, u := range users {
		outcome, err := e.reconcileUser(ctx, u)
		if err != nil {
			e.log.Error().Err(err).Str("user", u.Email).Msg("reconciliation failed")
			continue
		}
		if outcome.hasNewData {
			res.UpdatedUsers = append(res.UpdatedUsers, u.Email)
		}
		if outcome.deepScan {
			res.DeepAggregation = true
		}
	}
	return res, nil
}

type userOutcome struct {
	hasNewData bool
	deepScan   bool
}

func (e *Engine) reconcileUser(ctx context.Context, u *domain.User) (userOutcome, error) {
	now := e.now()
	window, deep := e.scanWindow(u.LastScanDate, now)

	e.log.Debug().Str("user", u.Email).Bool("deep", deep).Msg("fetching transactions")

	records, err := e.source.Fetch(ctx, u.Credentials, window)
	if err != nil {
		e.log.Error().Err(err).Str("user", u.Email).Msg("fetch failed")
		if recordErr := e.repo.RecordScanFailure(ctx, u.Email); recordErr != nil {
			e.log.Error().Err(recordErr).Str("user", u.Email).Msg("recording scan failure failed")
		}
		return userOutcome{}, nil
	}

	e.log.Debug().Str("user", u.Email).Int("fetched", len(records)).Msg("fetch done")
	e.archiveRecords(ctx, u.Email, now, records)

	existing, err := e.repo.ListActiveTransactions(ctx, u.Email)
	if err != nil {
		return userOutcome{}, fmt.Errorf("listing existing transactions: %w", err)
	}

	inserts, deletePendingIDs := e.merge(u.Email, records, existing)

	templates, err := e.repo.ListRecurringTemplates(ctx, u.Email)
	if err != nil {
		return userOutcome{}, fmt.Errorf("listing recurring templates: %w", err)
	}
	templateIDs := make([]string, 0, len(templates))
	for _, tmpl := range templates {
		instances := recurring.Materialize(tmpl, now)
		if len(instances) > 0 {
			e.log.Debug().Str("user", u.Email).Str("template", tmpl.ID).Int("due", len(instances)).Msg("materialized recurring instances")
		}
		inserts = append(inserts, instances...)
		templateIDs = append(templateIDs, tmpl.ID)
	}

	commit := domain.ReconcileCommit{
		UserEmail:        u.Email,
		Inserts:          inserts,
		DeletePendingIDs: deletePendingIDs,
		TemplateIDs:      templateIDs,
		ScanTime:         now,
	}
	if err := e.repo.CommitReconciliation(ctx, commit); err != nil {
		return userOutcome{}, fmt.Errorf("committing reconciliation: %w", err)
	}

	e.log.Info().Str("user", u.Email).Int("inserted", len(inserts)).Int("promoted", len(deletePendingIDs)).Msg("reconciliation committed")
	return userOutcome{hasNewData: len(inserts) > 0, deepScan: deep}, nil
}

// scanWindow picks the fetch window. A user with no checkpoint, or with a
// checkpoint older than the stale threshold, gets a deep lookback window;
// everyone else gets the provider's default current view.
func (e *Engine) scanWindow(lastScan *time.Time, now time.Time) (*source.Window, bool) {
	if lastScan != nil && now.Sub(*lastScan) <= e.staleAfter {
		return nil, false
	}
	return &source.Window{
		Start: now.AddDate(0, 0, -e.deepScanDays),
		End:   now,
	}, true
}

// merge classifies fetched records against stored state. Promotion is
// checked before the new-record path, so a confirmed charge whose
// authorization key matches a stored pending charge always replaces it
// rather than being treated as an unrelated insert.
func (e *Engine) merge(userEmail string, records []source.RawRecord, existing []*domain.Transaction) ([]*domain.Transaction, []string) {
	confirmedByRef := make(map[string]*domain.Transaction)
	pendingByKey := make(map[string]*domain.Transaction)
	for _, t := range existing {
		if t.IsPending {
			if t.PendingKey != "" {
				pendingByKey[t.PendingKey] = t
			}
		} else if t.SourceReference != "" {
			confirmedByRef[t.SourceReference] = t
		}
	}

	var inserts []*domain.Transaction
	var deletePendingIDs []string
	for _, rec := range records {
		if rec.Reference == "" && rec.PendingKey == "" {
			e.log.Warn().Str("user", userEmail).Str("merchant", rec.MerchantLabel).Msg("record has no reference and no pending key, skipping")
			continue
		}

		if rec.IsPending() {
			if _, ok := pendingByKey[rec.PendingKey]; ok {
				continue
			}
			t := newTransaction(userEmail, rec)
			inserts = append(inserts, t)
			pendingByKey[rec.PendingKey] = t
			continue
		}

		if old, ok := pendingByKey[rec.PendingKey]; ok && rec.PendingKey != "" {
			t := newTransaction(userEmail, rec)
			t.CategoryID = old.CategoryID
			inserts = append(inserts, t)
			deletePendingIDs = append(deletePendingIDs, old.ID)
			delete(pendingByKey, rec.PendingKey)
			confirmedByRef[rec.Reference] = t
			continue
		}
		if _, ok := confirmedByRef[rec.Reference]; ok {
			continue
		}
		t := newTransaction(userEmail, rec)
		inserts = append(inserts, t)
		confirmedByRef[rec.Reference] = t
	}
	return inserts, deletePendingIDs
}

// newTransaction builds a stored transaction from a fetched record. New
// records always start unparsed; the provider's own category hint is not
// trusted. A pending record's identity is derived from its authorization
// key, a confirmed one's from its reference.
func newTransaction(userEmail string, rec source.RawRecord) *domain.Transaction {
	t := &domain.Transaction{
		SourceReference: rec.Reference,
		UserEmail:       userEmail,
		CategoryID:      domain.CategoryUnparsed,
		Amount:          rec.Amount,
		OriginalAmount:  rec.OriginalAmount,
		Currency:        rec.Currency,
		PaymentDate:     rec.PaymentDate,
		PurchaseDate:    rec.PurchaseDate,
		MerchantLabel:   rec.MerchantLabel,
		PendingKey:      rec.PendingKey,
	}
	if rec.IsPending() {
		t.IsPending = true
		t.ID = domain.TransactionID(userEmail, rec.PendingKey)
	} else {
		t.ID = domain.TransactionID(userEmail, rec.Reference)
	}
	return t
}

// archiveRecords snapshots the raw fetch payload for later inspection.
// Archiving is best effort and never fails the pass.
func (e *Engine) archiveRecords(ctx context.Context, userEmail string, fetchedAt time.Time, records []source.RawRecord) {
	if e.archiver == nil || len(records) == 0 {
		return
	}
	payload, err := json.Marshal(records)
	if err != nil {
		e.log.Warn().Err(err).Str("user", userEmail).Msg("marshaling fetch payload for archive failed")
		return
	}
	uri, err := e.archiver.Store(ctx, userEmail, fetchedAt, payload)
	if err != nil {
		e.log.Warn().Err(err).Str("user", userEmail).Msg("archiving fetch payload failed")
		return
	}
	e.log.Debug().Str("user", userEmail).Str("uri", uri).Msg("fetch payload archived")
}
