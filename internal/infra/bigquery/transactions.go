package bigquery

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/cardsync/internal/domain"
)

// numericScale is the scale used when converting BigQuery NUMERIC values
// back into decimals.
const numericScale = 9

// TransactionRow is the transactions table schema.
type TransactionRow struct {
	TransactionID   string `bigquery:"transaction_id"`
	SourceReference string `bigquery:"source_reference"`
	UserEmail       string `bigquery:"user_email"`
	CategoryID      int64  `bigquery:"category_id"`

	Amount         *big.Rat `bigquery:"amount"`          // NUMERIC
	OriginalAmount *big.Rat `bigquery:"original_amount"` // NUMERIC
	Currency       string   `bigquery:"currency"`

	PaymentTS  time.Time `bigquery:"payment_ts"`
	PurchaseTS time.Time `bigquery:"purchase_ts"`

	MerchantLabel string `bigquery:"merchant_label"`

	IsRecurring bool   `bigquery:"is_recurring"`
	IsPending   bool   `bigquery:"is_pending"`
	PendingKey  string `bigquery:"pending_key"`
	IsDeleted   bool   `bigquery:"is_deleted"`

	CreatedTS time.Time `bigquery:"created_ts"`
}

func transactionFromRow(row *TransactionRow) *domain.Transaction {
	t := &domain.Transaction{
		ID:              row.TransactionID,
		SourceReference: row.SourceReference,
		UserEmail:       row.UserEmail,
		CategoryID:      row.CategoryID,
		Currency:        row.Currency,
		PaymentDate:     row.PaymentTS,
		PurchaseDate:    row.PurchaseTS,
		MerchantLabel:   row.MerchantLabel,
		IsRecurring:     row.IsRecurring,
		IsPending:       row.IsPending,
		PendingKey:      row.PendingKey,
		IsDeleted:       row.IsDeleted,
	}
	if row.Amount != nil {
		t.Amount = decimal.NewFromBigRat(row.Amount, numericScale)
	}
	if row.OriginalAmount != nil {
		t.OriginalAmount = decimal.NewFromBigRat(row.OriginalAmount, numericScale)
	}
	return t
}

// ListActiveTransactions returns every non-deleted transaction owned by the
// user, pending and confirmed alike.
func (r *Repository) ListActiveTransactions(ctx context.Context, userEmail string) ([]*domain.Transaction, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT
		  transaction_id, source_reference, user_email, category_id,
		  amount, original_amount, currency,
		  payment_ts, purchase_ts, merchant_label,
		  is_recurring, is_pending, pending_key, is_deleted, created_ts
		FROM %s
		WHERE user_email = @user_email
		  AND is_deleted = FALSE
	`, r.table("transactions")))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_email", Value: userEmail},
	}

	return r.queryTransactions(ctx, q)
}

// ListUnparsedTransactions returns non-deleted transactions still carrying
// the unparsed category sentinel, grouped by owner. An empty email list
// selects every user.
func (r *Repository) ListUnparsedTransactions(ctx context.Context, userEmails []string) (map[string][]*domain.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT
		  transaction_id, source_reference, user_email, category_id,
		  amount, original_amount, currency,
		  payment_ts, purchase_ts, merchant_label,
		  is_recurring, is_pending, pending_key, is_deleted, created_ts
		FROM %s
		WHERE category_id = @unparsed
		  AND is_deleted = FALSE
	`, r.table("transactions"))

	params := []bigquery.QueryParameter{
		{Name: "unparsed", Value: domain.CategoryUnparsed},
	}
	if len(userEmails) > 0 {
		query += "  AND user_email IN UNNEST(@user_emails)\n"
		params = append(params, bigquery.QueryParameter{Name: "user_emails", Value: userEmails})
	}

	q := r.client.Query(query)
	q.Parameters = params

	txs, err := r.queryTransactions(ctx, q)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]*domain.Transaction)
	for _, tx := range txs {
		grouped[tx.UserEmail] = append(grouped[tx.UserEmail], tx)
	}
	return grouped, nil
}

func (r *Repository) queryTransactions(ctx context.Context, q *bigquery.Query) ([]*domain.Transaction, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("queryTransactions: query read: %w", err)
	}

	var txs []*domain.Transaction
	for {
		var row TransactionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("queryTransactions: iter next: %w", err)
		}
		txs = append(txs, transactionFromRow(&row))
	}
	return txs, nil
}

// categoryUpdateParam is the STRUCT shape of one category assignment in the
// bulk update statement.
type categoryUpdateParam struct {
	TransactionID string
	CategoryID    int64
}

// ApplyCategoryUpdates bulk-assigns categories to transactions.
func (r *Repository) ApplyCategoryUpdates(ctx context.Context, updates []domain.CategoryUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	params := make([]categoryUpdateParam, 0, len(updates))
	for _, u := range updates {
		params = append(params, categoryUpdateParam{TransactionID: u.TransactionID, CategoryID: u.CategoryID})
	}

	q := r.client.Query(fmt.Sprintf(`
		UPDATE %s t
		SET t.category_id = u.CategoryID
		FROM UNNEST(@updates) AS u
		WHERE t.transaction_id = u.TransactionID
	`, r.table("transactions")))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "updates", Value: params},
	}

	if err := r.runDML(ctx, q); err != nil {
		return fmt.Errorf("ApplyCategoryUpdates: %w", err)
	}
	return nil
}
