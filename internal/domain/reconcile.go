package domain

import "time"

// ReconcileCommit is the atomic write produced by one user's reconciliation
// pass: new transactions to insert, pending records superseded by confirmed
// counterparts to tombstone, recurring template checkpoints to advance, and
// the user's scan checkpoint. It is applied in a single storage transaction
// so a failed commit leaves every checkpoint untouched.
type ReconcileCommit struct {
	UserEmail        string
	Inserts          []*Transaction
	DeletePendingIDs []string
	TemplateIDs      []string
	ScanTime         time.Time
}
