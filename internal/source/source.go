// Package source talks to the external card provider. The pipeline consumes
// it through the Client interface; the concrete implementation logs in with
// the user's provider credentials and scrapes the transactions endpoint.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/cardsync/internal/domain"
)

// Fetch failures are recorded against the user's failure counter rather
// than raised out of the reconciliation run, so they are classified into
// two sentinel kinds the caller can distinguish for logging.
var (
	// ErrAuthentication means the provider rejected the user's credentials.
	ErrAuthentication = errors.New("source: authentication failed")
	// ErrUnavailable means the provider could not be reached or returned
	// a malformed or unexpected payload.
	ErrUnavailable = errors.New("source: unavailable")
)

// Window is an explicit fetch date range. A nil window asks the provider
// for its default current view.
type Window struct {
	Start time.Time
	End   time.Time
}

// RawRecord is one charge as reported by the provider. Reference is empty
// for charges that have not settled yet; those are correlated with their
// later confirmed counterpart through PendingKey. CategoryHint is the
// provider's own categorization and is ignored by the pipeline, which
// re-derives categories itself.
type RawRecord struct {
	Reference      string
	PendingKey     string
	Amount         decimal.Decimal
	OriginalAmount decimal.Decimal
	Currency       string
	PaymentDate    time.Time
	PurchaseDate   time.Time
	MerchantLabel  string
	CategoryHint   int64
}

// IsPending reports whether the charge has not settled yet.
func (r RawRecord) IsPending() bool {
	return r.Reference == ""
}

// Client fetches a user's transactions from the provider.
type Client interface {
	Fetch(ctx context.Context, creds domain.SourceCredentials, window *Window) ([]RawRecord, error)
}
