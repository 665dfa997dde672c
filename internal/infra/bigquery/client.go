// Package bigquery implements the pipeline's repository on top of a
// BigQuery dataset. All tables live in a single dataset; the atomic
// reconciliation commit is a multi-statement BigQuery transaction.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

// Repository holds a shared BigQuery client to avoid creating a new
// connection for each operation.
type Repository struct {
	client  *bigquery.Client
	dataset string
}

// NewRepository creates a repository bound to the given project and dataset.
func NewRepository(ctx context.Context, projectID, dataset string) (*Repository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	return &Repository{client: client, dataset: dataset}, nil
}

// Close closes the underlying BigQuery client.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *Repository) table(name string) string {
	return fmt.Sprintf("%s.%s", r.dataset, name)
}

// runDML runs a DML or script query and waits for it to complete.
func (r *Repository) runDML(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
