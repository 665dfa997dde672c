package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CategoryUnparsed is the sentinel category of a transaction that has not
// been categorized yet. The categorizer only ever touches transactions
// carrying this value, so a failed or skipped classification leaves the
// transaction eligible for the next pass.
const CategoryUnparsed int64 = -1

// Transaction represents one charge owned by a single user. Confirmed
// transactions are keyed by the provider-assigned SourceReference; pending
// (not yet settled) charges have no reference and are correlated through
// PendingKey, the provider's authorization identifier.
type Transaction struct {
	ID              string
	SourceReference string
	UserEmail       string
	CategoryID      int64

	Amount         decimal.Decimal
	OriginalAmount decimal.Decimal
	Currency       string

	PaymentDate  time.Time
	PurchaseDate time.Time

	MerchantLabel string

	IsRecurring bool
	IsPending   bool
	PendingKey  string
	IsDeleted   bool
}

// TransactionID derives the stable identity of a confirmed transaction from
// its owner and provider reference. The same record fetched twice always
// maps to the same ID, which is what makes the dedup pass idempotent.
func TransactionID(userEmail, sourceReference string) string {
	return fmt.Sprintf("%s_%s", userEmail, sourceReference)
}

// IsConfirmed reports whether the transaction has settled with the provider.
func (t *Transaction) IsConfirmed() bool {
	return !t.IsPending && t.SourceReference != ""
}
