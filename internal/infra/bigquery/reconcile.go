package bigquery

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/cardsync/internal/domain"
)

// transactionInsertParam is the STRUCT shape of one new transaction in the
// reconciliation commit script.
type transactionInsertParam struct {
	TransactionID   string
	SourceReference string
	UserEmail       string
	CategoryID      int64
	Amount          *big.Rat
	OriginalAmount  *big.Rat
	Currency        string
	PaymentTS       time.Time
	PurchaseTS      time.Time
	MerchantLabel   string
	IsRecurring     bool
	IsPending       bool
	PendingKey      string
}

// CommitReconciliation applies one user's reconciliation result as a single
// multi-statement BigQuery transaction: insert the new records, tombstone
// the pending records superseded by confirmed ones, advance the recurring
// template checkpoints and the user's scan checkpoint. Either every
// statement commits or none does, so a failure leaves the next run free to
// retry from the old checkpoint.
func (r *Repository) CommitReconciliation(ctx context.Context, commit domain.ReconcileCommit) error {
	inserts := make([]transactionInsertParam, 0, len(commit.Inserts))
	for _, t := range commit.Inserts {
		inserts = append(inserts, transactionInsertParam{
			TransactionID:   t.ID,
			SourceReference: t.SourceReference,
			UserEmail:       t.UserEmail,
			CategoryID:      t.CategoryID,
			Amount:          t.Amount.Rat(),
			OriginalAmount:  t.OriginalAmount.Rat(),
			Currency:        t.Currency,
			PaymentTS:       t.PaymentDate,
			PurchaseTS:      t.PurchaseDate,
			MerchantLabel:   t.MerchantLabel,
			IsRecurring:     t.IsRecurring,
			IsPending:       t.IsPending,
			PendingKey:      t.PendingKey,
		})
	}

	deleteIDs := commit.DeletePendingIDs
	if deleteIDs == nil {
		deleteIDs = []string{}
	}
	templateIDs := commit.TemplateIDs
	if templateIDs == nil {
		templateIDs = []string{}
	}

	q := r.client.Query(fmt.Sprintf(`
		BEGIN TRANSACTION;

		INSERT INTO %[1]s (
		  transaction_id, source_reference, user_email, category_id,
		  amount, original_amount, currency,
		  payment_ts, purchase_ts, merchant_label,
		  is_recurring, is_pending, pending_key, is_deleted, created_ts
		)
		SELECT
		  t.TransactionID, t.SourceReference, t.UserEmail, t.CategoryID,
		  t.Amount, t.OriginalAmount, t.Currency,
		  t.PaymentTS, t.PurchaseTS, t.MerchantLabel,
		  t.IsRecurring, t.IsPending, t.PendingKey, FALSE, CURRENT_TIMESTAMP()
		FROM UNNEST(@inserts) AS t;

		UPDATE %[1]s
		SET is_deleted = TRUE
		WHERE transaction_id IN UNNEST(@delete_ids)
		  AND user_email = @user_email;

		UPDATE %[2]s
		SET scanned_at = @scan_ts
		WHERE template_id IN UNNEST(@template_ids)
		  AND user_email = @user_email;

		UPDATE %[3]s
		SET last_scan_ts = @scan_ts
		WHERE email = @user_email;

		COMMIT TRANSACTION;
	`, r.table("transactions"), r.table("recurring_templates"), r.table("users")))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "inserts", Value: inserts},
		{Name: "delete_ids", Value: deleteIDs},
		{Name: "template_ids", Value: templateIDs},
		{Name: "scan_ts", Value: commit.ScanTime},
		{Name: "user_email", Value: commit.UserEmail},
	}

	if err := r.runDML(ctx, q); err != nil {
		return fmt.Errorf("CommitReconciliation: %w", err)
	}
	return nil
}
