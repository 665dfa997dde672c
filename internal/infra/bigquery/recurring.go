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

// recurringTemplateRow joins a recurring template with the transaction it
// is linked to; the linked columns carry the defaults cloned into
// materialized instances.
type recurringTemplateRow struct {
	TemplateID          string                 `bigquery:"template_id"`
	UserEmail           string                 `bigquery:"user_email"`
	LinkedTransactionID string                 `bigquery:"linked_transaction_id"`
	FrequencyValue      int64                  `bigquery:"frequency_value"`
	FrequencyUnit       string                 `bigquery:"frequency_unit"`
	StartTS             time.Time              `bigquery:"start_ts"`
	ScannedAt           bigquery.NullTimestamp `bigquery:"scanned_at"`

	LinkedCategoryID     int64    `bigquery:"linked_category_id"`
	LinkedAmount         *big.Rat `bigquery:"linked_amount"`
	LinkedOriginalAmount *big.Rat `bigquery:"linked_original_amount"`
	LinkedCurrency       string   `bigquery:"linked_currency"`
	LinkedMerchantLabel  string   `bigquery:"linked_merchant_label"`
}

// ListRecurringTemplates returns the user's recurring templates with their
// linked transactions resolved. Templates whose linked transaction has been
// deleted are omitted.
func (r *Repository) ListRecurringTemplates(ctx context.Context, userEmail string) ([]*domain.RecurringTemplate, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT
		  rt.template_id, rt.user_email, rt.linked_transaction_id,
		  rt.frequency_value, rt.frequency_unit, rt.start_ts, rt.scanned_at,
		  l.category_id AS linked_category_id,
		  l.amount AS linked_amount,
		  l.original_amount AS linked_original_amount,
		  l.currency AS linked_currency,
		  l.merchant_label AS linked_merchant_label
		FROM %s rt
		JOIN %s l ON l.transaction_id = rt.linked_transaction_id
		WHERE rt.user_email = @user_email
		  AND l.is_deleted = FALSE
	`, r.table("recurring_templates"), r.table("transactions")))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_email", Value: userEmail},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRecurringTemplates: query read: %w", err)
	}

	var templates []*domain.RecurringTemplate
	for {
		var row recurringTemplateRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRecurringTemplates: iter next: %w", err)
		}

		tmpl := &domain.RecurringTemplate{
			ID:                  row.TemplateID,
			UserEmail:           row.UserEmail,
			LinkedTransactionID: row.LinkedTransactionID,
			FrequencyValue:      int(row.FrequencyValue),
			FrequencyUnit:       domain.FrequencyUnit(row.FrequencyUnit),
			StartDate:           row.StartTS,
			Linked: &domain.Transaction{
				ID:            row.LinkedTransactionID,
				UserEmail:     row.UserEmail,
				CategoryID:    row.LinkedCategoryID,
				Currency:      row.LinkedCurrency,
				MerchantLabel: row.LinkedMerchantLabel,
				IsRecurring:   true,
			},
		}
		if row.LinkedAmount != nil {
			tmpl.Linked.Amount = decimal.NewFromBigRat(row.LinkedAmount, numericScale)
		}
		if row.LinkedOriginalAmount != nil {
			tmpl.Linked.OriginalAmount = decimal.NewFromBigRat(row.LinkedOriginalAmount, numericScale)
		}
		if row.ScannedAt.Valid {
			scannedAt := row.ScannedAt.Timestamp
			tmpl.ScannedAt = &scannedAt
		}
		templates = append(templates, tmpl)
	}
	return templates, nil
}
