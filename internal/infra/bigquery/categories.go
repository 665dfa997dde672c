package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/cardsync/internal/domain"
)

// categoryRow is the categories table schema. A NULL owner marks a default
// category shared by every user.
type categoryRow struct {
	CategoryID int64               `bigquery:"category_id"`
	Name       string              `bigquery:"category_name"`
	Owner      bigquery.NullString `bigquery:"owner"`
}

// ListCategories returns the default categories plus the ones owned by the
// given user.
func (r *Repository) ListCategories(ctx context.Context, userEmail string) ([]domain.Category, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT category_id, category_name, owner
		FROM %s
		WHERE owner IS NULL OR owner = @user_email
		ORDER BY category_name
	`, r.table("categories")))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_email", Value: userEmail},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListCategories: query read: %w", err)
	}

	var categories []domain.Category
	for {
		var row categoryRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListCategories: iter next: %w", err)
		}
		c := domain.Category{
			ID:   row.CategoryID,
			Name: row.Name,
		}
		if row.Owner.Valid {
			c.Owner = row.Owner.StringVal
		}
		categories = append(categories, c)
	}
	return categories, nil
}
