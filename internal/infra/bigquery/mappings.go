package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/cardsync/internal/domain"
)

// merchantMappingRow is the merchant_mappings table schema. A NULL
// user_email marks a global mapping.
type merchantMappingRow struct {
	MerchantKey string              `bigquery:"merchant_key"`
	UserEmail   bigquery.NullString `bigquery:"user_email"`
	CategoryID  int64               `bigquery:"category_id"`
	CreatedTS   time.Time           `bigquery:"created_ts"`
}

// ListMerchantMappings returns the global mappings plus the ones scoped to
// the given user.
func (r *Repository) ListMerchantMappings(ctx context.Context, userEmail string) ([]domain.MerchantMapping, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT merchant_key, user_email, category_id, created_ts
		FROM %s
		WHERE user_email IS NULL OR user_email = @user_email
	`, r.table("merchant_mappings")))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_email", Value: userEmail},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListMerchantMappings: query read: %w", err)
	}

	var mappings []domain.MerchantMapping
	for {
		var row merchantMappingRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListMerchantMappings: iter next: %w", err)
		}
		m := domain.MerchantMapping{
			MerchantKey: row.MerchantKey,
			CategoryID:  row.CategoryID,
		}
		if row.UserEmail.Valid {
			m.UserEmail = row.UserEmail.StringVal
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}

// InsertMerchantMappings appends newly learned mappings. Mappings are only
// ever inserted by the pipeline, never updated or deleted.
func (r *Repository) InsertMerchantMappings(ctx context.Context, mappings []domain.MerchantMapping) error {
	if len(mappings) == 0 {
		return nil
	}

	rows := make([]*merchantMappingRow, 0, len(mappings))
	now := time.Now()
	for _, m := range mappings {
		row := &merchantMappingRow{
			MerchantKey: m.MerchantKey,
			CategoryID:  m.CategoryID,
			CreatedTS:   now,
		}
		if m.UserEmail != "" {
			row.UserEmail = bigquery.NullString{StringVal: m.UserEmail, Valid: true}
		}
		rows = append(rows, row)
	}

	inserter := r.client.Dataset(r.dataset).Table("merchant_mappings").Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("InsertMerchantMappings: inserting rows: %w", err)
	}
	return nil
}
