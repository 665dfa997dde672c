package categorize

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/cardsync/internal/config"
	"github.com/dvloznov/cardsync/internal/domain"
)

type fakeRepo struct {
	mu         sync.Mutex
	unparsed   map[string][]*domain.Transaction
	categories []domain.Category
	mappings   []domain.MerchantMapping
	updates    []domain.CategoryUpdate
	learned    []domain.MerchantMapping
}

func (f *fakeRepo) ListUnparsedTransactions(ctx context.Context, userEmails []string) (map[string][]*domain.Transaction, error) {
	return f.unparsed, nil
}

func (f *fakeRepo) ListCategories(ctx context.Context, userEmail string) ([]domain.Category, error) {
	return f.categories, nil
}

func (f *fakeRepo) ListMerchantMappings(ctx context.Context, userEmail string) ([]domain.MerchantMapping, error) {
	return f.mappings, nil
}

func (f *fakeRepo) ApplyCategoryUpdates(ctx context.Context, updates []domain.CategoryUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, updates...)
	return nil
}

func (f *fakeRepo) InsertMerchantMappings(ctx context.Context, mappings []domain.MerchantMapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.learned = append(f.learned, mappings...)
	return nil
}

type fakeClassifier struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, prompt string) (string, error)
}

func (f *fakeClassifier) Classify(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(ctx, prompt)
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestEngine(repo *fakeRepo, cls *fakeClassifier, cfg config.ClassifyConfig) *Engine {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 8
	}
	if cfg.MaxParallel == 0 {
		cfg.MaxParallel = 4
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return NewEngine(repo, cls, zerolog.Nop(), cfg)
}

func unparsedTxn(id, email, label string) *domain.Transaction {
	return &domain.Transaction{
		ID:            id,
		UserEmail:     email,
		CategoryID:    domain.CategoryUnparsed,
		MerchantLabel: label,
	}
}

func TestRunUsesCacheBeforeModel(t *testing.T) {
	repo := &fakeRepo{
		unparsed: map[string][]*domain.Transaction{
			"alice@example.com": {
				unparsedTxn("t1", "alice@example.com", "STARBUCKS*1234"),
				unparsedTxn("t2", "alice@example.com", "AMAZON"),
			},
		},
		categories: []domain.Category{
			{ID: 2, Name: "Coffee"},
			{ID: 3, Name: "Shopping"},
			{ID: 5, Name: "My Coffee", Owner: "alice@example.com"},
		},
		mappings: []domain.MerchantMapping{
			{MerchantKey: "STARBUCKS", CategoryID: 2},
			{MerchantKey: "STARBUCKS", UserEmail: "alice@example.com", CategoryID: 5},
			{MerchantKey: "AMAZON", CategoryID: 3},
		},
	}
	cls := &fakeClassifier{fn: func(ctx context.Context, prompt string) (string, error) {
		t.Error("classifier should not be called when every merchant is cached")
		return "", nil
	}}

	engine := newTestEngine(repo, cls, config.ClassifyConfig{})
	if err := engine.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if cls.callCount() != 0 {
		t.Errorf("classifier calls = %d, want 0", cls.callCount())
	}
	want := []domain.CategoryUpdate{
		{TransactionID: "t1", CategoryID: 5},
		{TransactionID: "t2", CategoryID: 3},
	}
	if len(repo.updates) != len(want) {
		t.Fatalf("updates = %v, want %v", repo.updates, want)
	}
	for i, u := range want {
		if repo.updates[i] != u {
			t.Errorf("updates[%d] = %v, want %v", i, repo.updates[i], u)
		}
	}
	if len(repo.learned) != 0 {
		t.Errorf("cache hits should not produce new mappings, got %v", repo.learned)
	}
}

func TestRunClassifiesAndLearnsMappings(t *testing.T) {
	repo := &fakeRepo{
		unparsed: map[string][]*domain.Transaction{
			"alice@example.com": {
				unparsedTxn("t1", "alice@example.com", "STARBUCKS*1234"),
				unparsedTxn("t2", "alice@example.com", "LOCAL GYM #42"),
			},
		},
		categories: []domain.Category{
			{ID: 2, Name: "Coffee"},
			{ID: 9, Name: "Fitness", Owner: "alice@example.com"},
		},
	}
	cls := &fakeClassifier{fn: func(ctx context.Context, prompt string) (string, error) {
		return "Category for #1: Coffee\nCategory for #2: Fitness\nEND OF OUTPUT", nil
	}}

	engine := newTestEngine(repo, cls, config.ClassifyConfig{})
	if err := engine.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if cls.callCount() != 1 {
		t.Fatalf("classifier calls = %d, want 1", cls.callCount())
	}
	wantUpdates := []domain.CategoryUpdate{
		{TransactionID: "t1", CategoryID: 2},
		{TransactionID: "t2", CategoryID: 9},
	}
	if len(repo.updates) != len(wantUpdates) {
		t.Fatalf("updates = %v, want %v", repo.updates, wantUpdates)
	}
	for i, u := range wantUpdates {
		if repo.updates[i] != u {
			t.Errorf("updates[%d] = %v, want %v", i, repo.updates[i], u)
		}
	}

	wantLearned := []domain.MerchantMapping{
		{MerchantKey: "STARBUCKS", CategoryID: 2},
		{MerchantKey: "LOCAL GYM", UserEmail: "alice@example.com", CategoryID: 9},
	}
	if len(repo.learned) != len(wantLearned) {
		t.Fatalf("learned = %v, want %v", repo.learned, wantLearned)
	}
	for i, m := range wantLearned {
		if repo.learned[i] != m {
			t.Errorf("learned[%d] = %v, want %v", i, repo.learned[i], m)
		}
	}
}

func TestRunShortResponseLeavesTailUnparsed(t *testing.T) {
	repo := &fakeRepo{
		unparsed: map[string][]*domain.Transaction{
			"alice@example.com": {
				unparsedTxn("t1", "alice@example.com", "STARBUCKS"),
				unparsedTxn("t2", "alice@example.com", "AMAZON"),
				unparsedTxn("t3", "alice@example.com", "LOCAL GYM"),
			},
		},
		categories: []domain.Category{
			{ID: 2, Name: "Coffee"},
			{ID: 3, Name: "Shopping"},
		},
	}
	cls := &fakeClassifier{fn: func(ctx context.Context, prompt string) (string, error) {
		return "Category for #1: Coffee\nCategory for #2: Shopping\nEND OF OUTPUT", nil
	}}

	engine := newTestEngine(repo, cls, config.ClassifyConfig{})
	if err := engine.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(repo.updates) != 2 {
		t.Fatalf("updates = %v, want exactly 2", repo.updates)
	}
	for _, u := range repo.updates {
		if u.TransactionID == "t3" {
			t.Errorf("t3 should stay unparsed when the model answers fewer lines than asked")
		}
	}
}

func TestRunUnknownCategorySkipped(t *testing.T) {
	repo := &fakeRepo{
		unparsed: map[string][]*domain.Transaction{
			"alice@example.com": {
				unparsedTxn("t1", "alice@example.com", "STARBUCKS"),
			},
		},
		categories: []domain.Category{
			{ID: 2, Name: "Coffee"},
		},
	}
	cls := &fakeClassifier{fn: func(ctx context.Context, prompt string) (string, error) {
		return "Category for #1: Lunar Expenses\nEND OF OUTPUT", nil
	}}

	engine := newTestEngine(repo, cls, config.ClassifyConfig{})
	if err := engine.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(repo.updates) != 0 {
		t.Errorf("made-up category should not update anything, got %v", repo.updates)
	}
	if len(repo.learned) != 0 {
		t.Errorf("made-up category should not learn a mapping, got %v", repo.learned)
	}
}

func TestRunShadowedCategoryListedOncePerName(t *testing.T) {
	repo := &fakeRepo{
		unparsed: map[string][]*domain.Transaction{
			"alice@example.com": {
				unparsedTxn("t1", "alice@example.com", "STARBUCKS"),
			},
		},
		categories: []domain.Category{
			{ID: 2, Name: "Coffee"},
			{ID: 3, Name: "Shopping"},
			{ID: 9, Name: "Coffee", Owner: "alice@example.com"},
		},
	}
	var gotPrompt string
	cls := &fakeClassifier{fn: func(ctx context.Context, prompt string) (string, error) {
		gotPrompt = prompt
		return "Category for #1: Coffee\nEND OF OUTPUT", nil
	}}

	engine := newTestEngine(repo, cls, config.ClassifyConfig{})
	if err := engine.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if n := strings.Count(gotPrompt, "Coffee"); n != 1 {
		t.Errorf("prompt lists Coffee %d times, want once:\n%s", n, gotPrompt)
	}
	if len(repo.updates) != 1 || repo.updates[0].CategoryID != 9 {
		t.Errorf("updates = %v, want t1 -> the user-owned Coffee", repo.updates)
	}
}

func TestRunTimeoutIsolatesSlowChunk(t *testing.T) {
	repo := &fakeRepo{
		unparsed: map[string][]*domain.Transaction{
			"alice@example.com": {
				unparsedTxn("t1", "alice@example.com", "SLOW MERCHANT"),
				unparsedTxn("t2", "alice@example.com", "STARBUCKS"),
			},
		},
		categories: []domain.Category{
			{ID: 2, Name: "Coffee"},
		},
	}
	cls := &fakeClassifier{fn: func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "SLOW MERCHANT") {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "Category for #1: Coffee\nEND OF OUTPUT", nil
	}}

	engine := newTestEngine(repo, cls, config.ClassifyConfig{
		ChunkSize:   1,
		MaxParallel: 2,
		Timeout:     100 * time.Millisecond,
	})

	start := time.Now()
	if err := engine.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Run() took %v, slow chunk was not isolated", elapsed)
	}

	if len(repo.updates) != 1 {
		t.Fatalf("updates = %v, want only the fast chunk's", repo.updates)
	}
	if repo.updates[0].TransactionID != "t2" || repo.updates[0].CategoryID != 2 {
		t.Errorf("updates[0] = %v, want t2 -> 2", repo.updates[0])
	}
}
