// Package categorize assigns categories to transactions that came out of
// reconciliation unparsed. Known merchants are resolved from the learned
// mapping cache; the rest are classified by the model in fixed-size chunks
// processed in parallel, so one slow chunk never stalls the whole pass.
package categorize

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/cardsync/internal/classifier"
	"github.com/dvloznov/cardsync/internal/config"
	"github.com/dvloznov/cardsync/internal/domain"
	"github.com/dvloznov/cardsync/internal/merchant"
)

// Repository is the persistence surface the categorization engine needs.
type Repository interface {
	ListUnparsedTransactions(ctx context.Context, userEmails []string) (map[string][]*domain.Transaction, error)
	ListCategories(ctx context.Context, userEmail string) ([]domain.Category, error)
	ListMerchantMappings(ctx context.Context, userEmail string) ([]domain.MerchantMapping, error)
	ApplyCategoryUpdates(ctx context.Context, updates []domain.CategoryUpdate) error
	InsertMerchantMappings(ctx context.Context, mappings []domain.MerchantMapping) error
}

// Engine runs the categorization pass.
type Engine struct {
	repo        Repository
	classifier  classifier.Classifier
	log         zerolog.Logger
	chunkSize   int
	maxParallel int
	timeout     time.Duration
}

// NewEngine creates a categorization engine.
func NewEngine(repo Repository, cls classifier.Classifier, log zerolog.Logger, cfg config.ClassifyConfig) *Engine {
	return &Engine{
		repo:        repo,
		classifier:  cls,
		log:         log.With().Str("component", "categorize").Logger(),
		chunkSize:   cfg.ChunkSize,
		maxParallel: cfg.MaxParallel,
		timeout:     cfg.Timeout,
	}
}

// pendingItem pairs an unparsed transaction with its normalized merchant key.
type pendingItem struct {
	txn *domain.Transaction
	key string
}

// chunkResult is what one classified chunk contributes.
type chunkResult struct {
	updates []domain.CategoryUpdate
	learned []domain.MerchantMapping
}

// Run categorizes the unparsed transactions of the given users. An empty
// userEmails slice means all users with unparsed transactions. Per-user
// failures are logged and do not abort the remaining users.
func (e *Engine) Run(ctx context.Context, userEmails []string) error {
	byUser, err := e.repo.ListUnparsedTransactions(ctx, userEmails)
	if err != nil {
		return fmt.Errorf("categorize: listing unparsed transactions: %w", err)
	}

	for email, txns := range byUser {
		if len(txns) == 0 {
			e.log.Info().Str("user", email).Msg("no transactions to categorize")
			continue
		}
		if err := e.categorizeUser(ctx, email, txns); err != nil {
			e.log.Error().Err(err).Str("user", email).Msg("categorization failed")
		}
	}
	return nil
}

func (e *Engine) categorizeUser(ctx context.Context, email string, txns []*domain.Transaction) error {
	e.log.Info().Str("user", email).Int("count", len(txns)).Msg("categorizing transactions")

	categories, err := e.repo.ListCategories(ctx, email)
	if err != nil {
		return fmt.Errorf("listing categories: %w", err)
	}
	mappings, err := e.repo.ListMerchantMappings(ctx, email)
	if err != nil {
		return fmt.Errorf("listing merchant mappings: %w", err)
	}

	nameIndex := indexCategories(categories)
	cacheIndex := indexMappings(mappings)

	// Cache pass: merchants with a learned mapping never reach the model.
	var cached []domain.CategoryUpdate
	var pending []pendingItem
	for _, t := range txns {
		key := merchant.Key(t.MerchantLabel)
		if categoryID, ok := cacheIndex[key]; ok {
			cached = append(cached, domain.CategoryUpdate{TransactionID: t.ID, CategoryID: categoryID})
			continue
		}
		pending = append(pending, pendingItem{txn: t, key: key})
	}

	e.log.Debug().Str("user", email).Int("cached", len(cached)).Int("pending", len(pending)).Msg("cache pass done")

	if len(cached) > 0 {
		if err := e.repo.ApplyCategoryUpdates(ctx, cached); err != nil {
			return fmt.Errorf("applying cached categories: %w", err)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	// A user-owned category shadowing a default of the same name must not
	// list the name twice in the prompt.
	categoryNames := make([]string, 0, len(nameIndex))
	seen := make(map[string]bool, len(nameIndex))
	for _, c := range categories {
		if _, ok := nameIndex[c.Name]; !ok || seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		categoryNames = append(categoryNames, c.Name)
	}

	chunks := splitIntoChunks(pending, e.chunkSize)
	learnedKeys := make(map[string]bool, len(cacheIndex))
	for key := range cacheIndex {
		learnedKeys[key] = true
	}

	for start := 0; start < len(chunks); start += e.maxParallel {
		end := start + e.maxParallel
		if end > len(chunks) {
			end = len(chunks)
		}

		updates, learned := e.processBatch(ctx, email, chunks[start:end], categoryNames, nameIndex)

		var fresh []domain.MerchantMapping
		for _, m := range learned {
			if learnedKeys[m.MerchantKey] {
				continue
			}
			learnedKeys[m.MerchantKey] = true
			fresh = append(fresh, m)
		}

		if len(updates) > 0 {
			if err := e.repo.ApplyCategoryUpdates(ctx, updates); err != nil {
				return fmt.Errorf("applying classified categories: %w", err)
			}
		}
		if len(fresh) > 0 {
			if err := e.repo.InsertMerchantMappings(ctx, fresh); err != nil {
				return fmt.Errorf("saving learned mappings: %w", err)
			}
		}
	}
	return nil
}

// processBatch classifies up to maxParallel chunks concurrently under a
// shared deadline. A chunk that misses the deadline is discarded whole; its
// transactions stay unparsed and are retried on the next pass.
func (e *Engine) processBatch(ctx context.Context, email string, batch [][]pendingItem, categoryNames []string, nameIndex map[string]domain.Category) ([]domain.CategoryUpdate, []domain.MerchantMapping) {
	batchCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	results := make([]chan chunkResult, len(batch))
	for i, chunk := range batch {
		results[i] = make(chan chunkResult, 1)
		go func(chunk []pendingItem, out chan<- chunkResult) {
			out <- e.classifyChunk(batchCtx, email, chunk, categoryNames, nameIndex)
		}(chunk, results[i])
	}

	var updates []domain.CategoryUpdate
	var learned []domain.MerchantMapping
	completed := 0
	for i, ch := range results {
		select {
		case res := <-ch:
			updates = append(updates, res.updates...)
			learned = append(learned, res.learned...)
			completed++
		case <-batchCtx.Done():
			select {
			case res := <-ch:
				updates = append(updates, res.updates...)
				learned = append(learned, res.learned...)
				completed++
			default:
				e.log.Warn().Str("user", email).Int("chunk", i).Int("size", len(batch[i])).Msg("chunk discarded, deadline reached")
			}
		}
	}

	e.log.Debug().Str("user", email).Int("completed", completed).Int("total", len(batch)).Msg("batch processed")
	return updates, learned
}

// classifyChunk sends one chunk to the model and aligns the response lines
// with the chunk positionally.
func (e *Engine) classifyChunk(ctx context.Context, email string, chunk []pendingItem, categoryNames []string, nameIndex map[string]domain.Category) chunkResult {
	merchants := make([]string, len(chunk))
	for i, item := range chunk {
		merchants[i] = item.key
	}

	raw, err := e.classifier.Classify(ctx, buildPrompt(categoryNames, merchants))
	if err != nil {
		e.log.Warn().Err(err).Str("user", email).Int("size", len(chunk)).Msg("chunk classification failed")
		return chunkResult{}
	}

	names := parseResponse(raw)
	if len(names) < len(chunk) {
		e.log.Warn().Str("user", email).Int("answers", len(names)).Int("size", len(chunk)).Msg("model answered fewer lines than asked")
	}

	var res chunkResult
	for i, name := range names {
		if i >= len(chunk) {
			e.log.Warn().Str("user", email).Int("answers", len(names)).Int("size", len(chunk)).Msg("model answered more lines than asked")
			break
		}
		if name == "" {
			continue
		}
		cat, ok := nameIndex[name]
		if !ok {
			e.log.Warn().Str("user", email).Str("category", name).Str("merchant", chunk[i].key).Msg("model chose an unknown category")
			continue
		}

		res.updates = append(res.updates, domain.CategoryUpdate{TransactionID: chunk[i].txn.ID, CategoryID: cat.ID})

		mapping := domain.MerchantMapping{MerchantKey: chunk[i].key, CategoryID: cat.ID}
		if cat.UserOwned() {
			mapping.UserEmail = email
		}
		res.learned = append(res.learned, mapping)
	}
	return res
}

// indexCategories maps category names to categories, with a user's own
// category shadowing a default one of the same name. The unparsed sentinel
// never appears as a choice.
func indexCategories(categories []domain.Category) map[string]domain.Category {
	index := make(map[string]domain.Category, len(categories))
	for _, c := range categories {
		if c.ID == domain.CategoryUnparsed || c.UserOwned() {
			continue
		}
		index[c.Name] = c
	}
	for _, c := range categories {
		if c.ID == domain.CategoryUnparsed || !c.UserOwned() {
			continue
		}
		index[c.Name] = c
	}
	return index
}

// indexMappings maps merchant keys to category IDs, with a user-scoped
// mapping shadowing a global one for the same merchant.
func indexMappings(mappings []domain.MerchantMapping) map[string]int64 {
	index := make(map[string]int64, len(mappings))
	for _, m := range mappings {
		if m.UserEmail == "" {
			index[m.MerchantKey] = m.CategoryID
		}
	}
	for _, m := range mappings {
		if m.UserEmail != "" {
			index[m.MerchantKey] = m.CategoryID
		}
	}
	return index
}

func splitIntoChunks(items []pendingItem, size int) [][]pendingItem {
	var chunks [][]pendingItem
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
