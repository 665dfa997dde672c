package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/cardsync/internal/domain"
)

// userRow is the users table schema. Provider credentials live alongside
// the scan bookkeeping columns.
type userRow struct {
	Email           string                 `bigquery:"email"`
	ShouldScan      bool                   `bigquery:"should_scan"`
	LastScanTS      bigquery.NullTimestamp `bigquery:"last_scan_ts"`
	FailedScanCount int64                  `bigquery:"failed_scan_count"`
	SrcUsername     string                 `bigquery:"src_username"`
	SrcPassword     string                 `bigquery:"src_password"`
	SrcIdentityID   string                 `bigquery:"src_identity_id"`
}

// ListScannableUsers returns users enrolled in automatic scanning whose
// failure counter has not reached the exclusion threshold.
func (r *Repository) ListScannableUsers(ctx context.Context, failureThreshold int) ([]*domain.User, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT
		  email, should_scan, last_scan_ts, failed_scan_count,
		  src_username, src_password, src_identity_id
		FROM %s
		WHERE should_scan = TRUE
		  AND failed_scan_count < @threshold
	`, r.table("users")))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "threshold", Value: int64(failureThreshold)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListScannableUsers: query read: %w", err)
	}

	var users []*domain.User
	for {
		var row userRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListScannableUsers: iter next: %w", err)
		}

		u := &domain.User{
			Email:           row.Email,
			ShouldScan:      row.ShouldScan,
			FailedScanCount: int(row.FailedScanCount),
			Credentials: domain.SourceCredentials{
				Username:   row.SrcUsername,
				Password:   row.SrcPassword,
				IdentityID: row.SrcIdentityID,
			},
		}
		if row.LastScanTS.Valid {
			lastScan := row.LastScanTS.Timestamp
			u.LastScanDate = &lastScan
		}
		users = append(users, u)
	}
	return users, nil
}

// RecordScanFailure increments the user's failure counter. The counter is
// only reset by manual action, so a user with persistently bad credentials
// eventually drops out of automatic scans.
func (r *Repository) RecordScanFailure(ctx context.Context, userEmail string) error {
	q := r.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET failed_scan_count = failed_scan_count + 1
		WHERE email = @user_email
	`, r.table("users")))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_email", Value: userEmail},
	}

	if err := r.runDML(ctx, q); err != nil {
		return fmt.Errorf("RecordScanFailure: %w", err)
	}
	return nil
}
