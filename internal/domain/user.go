package domain

import "time"

// SourceCredentials are the user's credentials for the external card
// provider, used by the source adapter to log in before fetching.
type SourceCredentials struct {
	Username   string
	Password   string
	IdentityID string
}

// User is an account whose transactions are scanned on a schedule.
// FailedScanCount is incremented on every fetch failure; once it reaches
// the configured threshold the user is excluded from automatic scans until
// it is reset manually.
type User struct {
	Email           string
	ShouldScan      bool
	LastScanDate    *time.Time
	FailedScanCount int

	Credentials SourceCredentials
}
