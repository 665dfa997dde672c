package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/cardsync/internal/config"
	"github.com/dvloznov/cardsync/internal/domain"
	"github.com/dvloznov/cardsync/internal/source"
)

type fakeRepo struct {
	existing  []*domain.Transaction
	templates []*domain.RecurringTemplate
	commits   []domain.ReconcileCommit
	failures  []string
}

func (f *fakeRepo) ListActiveTransactions(ctx context.Context, userEmail string) ([]*domain.Transaction, error) {
	return f.existing, nil
}

func (f *fakeRepo) ListRecurringTemplates(ctx context.Context, userEmail string) ([]*domain.RecurringTemplate, error) {
	return f.templates, nil
}

func (f *fakeRepo) CommitReconciliation(ctx context.Context, commit domain.ReconcileCommit) error {
	f.commits = append(f.commits, commit)
	return nil
}

func (f *fakeRepo) RecordScanFailure(ctx context.Context, userEmail string) error {
	f.failures = append(f.failures, userEmail)
	return nil
}

type fakeSource struct {
	records []source.RawRecord
	err     error
	windows []*source.Window
}

func (f *fakeSource) Fetch(ctx context.Context, creds domain.SourceCredentials, window *source.Window) ([]source.RawRecord, error) {
	f.windows = append(f.windows, window)
	return f.records, f.err
}

func newTestEngine(repo *fakeRepo, src *fakeSource, now time.Time) *Engine {
	e := NewEngine(repo, src, nil, zerolog.Nop(), config.ScanConfig{
		DeepScanDays: 365,
		StaleAfter:   30 * 24 * time.Hour,
	})
	e.now = func() time.Time { return now }
	return e
}

func testUser(lastScan *time.Time) *domain.User {
	return &domain.User{
		Email:        "alice@example.com",
		ShouldScan:   true,
		LastScanDate: lastScan,
		Credentials:  domain.SourceCredentials{Username: "alice", Password: "pw", IdentityID: "123"},
	}
}

func confirmedRecord(ref, pendingKey string) source.RawRecord {
	return source.RawRecord{
		Reference:     ref,
		PendingKey:    pendingKey,
		Amount:        decimal.NewFromInt(42),
		Currency:      "ILS",
		PaymentDate:   time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		PurchaseDate:  time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC),
		MerchantLabel: "STARBUCKS*1234",
	}
}

func TestRunInsertsNewAndSkipsDuplicates(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	lastScan := now.Add(-24 * time.Hour)

	repo := &fakeRepo{}
	src := &fakeSource{records: []source.RawRecord{confirmedRecord("REF1", "PK1")}}
	engine := newTestEngine(repo, src, now)

	res, err := engine.Run(context.Background(), []*domain.User{testUser(&lastScan)})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(repo.commits) != 1 || len(repo.commits[0].Inserts) != 1 {
		t.Fatalf("first run commits = %+v, want one commit with one insert", repo.commits)
	}
	insert := repo.commits[0].Inserts[0]
	if insert.ID != "alice@example.com_REF1" {
		t.Errorf("insert.ID = %q, want derived from user and reference", insert.ID)
	}
	if insert.CategoryID != domain.CategoryUnparsed {
		t.Errorf("insert.CategoryID = %d, want unparsed sentinel", insert.CategoryID)
	}
	if len(res.UpdatedUsers) != 1 || res.UpdatedUsers[0] != "alice@example.com" {
		t.Errorf("UpdatedUsers = %v, want the scanned user", res.UpdatedUsers)
	}

	// A second run over the same fetch must be a no-op.
	repo2 := &fakeRepo{existing: repo.commits[0].Inserts}
	engine2 := newTestEngine(repo2, src, now)
	res2, err := engine2.Run(context.Background(), []*domain.User{testUser(&lastScan)})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if len(repo2.commits) != 1 || len(repo2.commits[0].Inserts) != 0 {
		t.Fatalf("second run inserts = %+v, want none", repo2.commits)
	}
	if len(res2.UpdatedUsers) != 0 {
		t.Errorf("second run UpdatedUsers = %v, want none", res2.UpdatedUsers)
	}
}

func TestRunPromotesPendingAndPreservesCategory(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	lastScan := now.Add(-24 * time.Hour)

	pending := &domain.Transaction{
		ID:            domain.TransactionID("alice@example.com", "PK1"),
		UserEmail:     "alice@example.com",
		CategoryID:    4,
		IsPending:     true,
		PendingKey:    "PK1",
		MerchantLabel: "STARBUCKS*1234",
	}
	repo := &fakeRepo{existing: []*domain.Transaction{pending}}
	src := &fakeSource{records: []source.RawRecord{confirmedRecord("REF1", "PK1")}}
	engine := newTestEngine(repo, src, now)

	if _, err := engine.Run(context.Background(), []*domain.User{testUser(&lastScan)}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(repo.commits) != 1 {
		t.Fatalf("commits = %d, want 1", len(repo.commits))
	}
	commit := repo.commits[0]
	if len(commit.Inserts) != 1 {
		t.Fatalf("inserts = %+v, want exactly the promoted record", commit.Inserts)
	}
	promoted := commit.Inserts[0]
	if promoted.CategoryID != 4 {
		t.Errorf("promoted.CategoryID = %d, want 4 inherited from the pending record", promoted.CategoryID)
	}
	if promoted.IsPending || promoted.SourceReference != "REF1" {
		t.Errorf("promoted = %+v, want a confirmed record with the fetched reference", promoted)
	}
	if len(commit.DeletePendingIDs) != 1 || commit.DeletePendingIDs[0] != pending.ID {
		t.Errorf("DeletePendingIDs = %v, want the superseded pending row", commit.DeletePendingIDs)
	}
}

func TestRunRecordsFetchFailureAndSkipsUser(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	lastScan := now.Add(-24 * time.Hour)

	repo := &fakeRepo{}
	src := &fakeSource{err: source.ErrAuthentication}
	engine := newTestEngine(repo, src, now)

	res, err := engine.Run(context.Background(), []*domain.User{testUser(&lastScan)})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(repo.failures) != 1 || repo.failures[0] != "alice@example.com" {
		t.Errorf("failures = %v, want the failed user recorded once", repo.failures)
	}
	if len(repo.commits) != 0 {
		t.Errorf("commits = %+v, want none after a fetch failure", repo.commits)
	}
	if len(res.UpdatedUsers) != 0 {
		t.Errorf("UpdatedUsers = %v, want none", res.UpdatedUsers)
	}
}

func TestRunScanWindowDepth(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-24 * time.Hour)
	stale := now.Add(-31 * 24 * time.Hour)

	tests := []struct {
		name     string
		lastScan *time.Time
		wantDeep bool
	}{
		{name: "never scanned", lastScan: nil, wantDeep: true},
		{name: "stale checkpoint", lastScan: &stale, wantDeep: true},
		{name: "recent checkpoint", lastScan: &recent, wantDeep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeRepo{}
			src := &fakeSource{}
			engine := newTestEngine(repo, src, now)

			res, err := engine.Run(context.Background(), []*domain.User{testUser(tt.lastScan)})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if len(src.windows) != 1 {
				t.Fatalf("fetch calls = %d, want 1", len(src.windows))
			}
			window := src.windows[0]
			if tt.wantDeep {
				if window == nil {
					t.Fatal("window = nil, want a deep lookback window")
				}
				if want := now.AddDate(0, 0, -365); !window.Start.Equal(want) {
					t.Errorf("window.Start = %v, want %v", window.Start, want)
				}
				if !window.End.Equal(now) {
					t.Errorf("window.End = %v, want %v", window.End, now)
				}
			} else if window != nil {
				t.Errorf("window = %+v, want nil for the default current view", window)
			}
			if res.DeepAggregation != tt.wantDeep {
				t.Errorf("DeepAggregation = %v, want %v", res.DeepAggregation, tt.wantDeep)
			}
		})
	}
}

func TestRunMaterializesDueRecurringInstances(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	lastScan := now.Add(-24 * time.Hour)
	scannedAt := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	tmpl := &domain.RecurringTemplate{
		ID:                  "tmpl-1",
		UserEmail:           "alice@example.com",
		LinkedTransactionID: "alice@example.com_REF0",
		FrequencyValue:      1,
		FrequencyUnit:       domain.FrequencyMonths,
		StartDate:           time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
		ScannedAt:           &scannedAt,
		Linked: &domain.Transaction{
			ID:            "alice@example.com_REF0",
			UserEmail:     "alice@example.com",
			CategoryID:    7,
			Amount:        decimal.NewFromInt(100),
			Currency:      "ILS",
			MerchantLabel: "LANDLORD",
		},
	}
	repo := &fakeRepo{templates: []*domain.RecurringTemplate{tmpl}}
	src := &fakeSource{}
	engine := newTestEngine(repo, src, now)

	res, err := engine.Run(context.Background(), []*domain.User{testUser(&lastScan)})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(repo.commits) != 1 {
		t.Fatalf("commits = %d, want 1", len(repo.commits))
	}
	commit := repo.commits[0]
	if len(commit.Inserts) != 1 {
		t.Fatalf("inserts = %+v, want the single due occurrence", commit.Inserts)
	}
	instance := commit.Inserts[0]
	if want := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC); !instance.PaymentDate.Equal(want) {
		t.Errorf("instance.PaymentDate = %v, want %v", instance.PaymentDate, want)
	}
	if instance.CategoryID != 7 {
		t.Errorf("instance.CategoryID = %d, want 7 from the linked transaction", instance.CategoryID)
	}
	if len(commit.TemplateIDs) != 1 || commit.TemplateIDs[0] != "tmpl-1" {
		t.Errorf("TemplateIDs = %v, want the materialized template's checkpoint advanced", commit.TemplateIDs)
	}
	if !commit.ScanTime.Equal(now) {
		t.Errorf("ScanTime = %v, want %v", commit.ScanTime, now)
	}
	if len(res.UpdatedUsers) != 1 {
		t.Errorf("UpdatedUsers = %v, want the user with a materialized instance", res.UpdatedUsers)
	}
}
