package domain

import "time"

// FrequencyUnit is the unit of a recurring template's schedule.
type FrequencyUnit string

const (
	FrequencyDays   FrequencyUnit = "days"
	FrequencyWeeks  FrequencyUnit = "weeks"
	FrequencyMonths FrequencyUnit = "months"
)

// Valid reports whether the unit is one of the supported values. Templates
// with an invalid unit are rejected at creation time; the materializer
// assumes validity.
func (u FrequencyUnit) Valid() bool {
	switch u {
	case FrequencyDays, FrequencyWeeks, FrequencyMonths:
		return true
	}
	return false
}

// RecurringTemplate is a user-defined schedule that periodically generates
// concrete transaction records. The linked transaction owns the amount,
// category, merchant and currency defaults for materialized instances.
// ScannedAt is the checkpoint of the last materialization pass; nil forces
// re-evaluation from StartDate (user edits reset it).
type RecurringTemplate struct {
	ID                  string
	UserEmail           string
	LinkedTransactionID string

	FrequencyValue int
	FrequencyUnit  FrequencyUnit

	StartDate time.Time
	ScannedAt *time.Time

	// Linked is the resolved linked transaction, populated by the
	// repository when templates are loaded for materialization.
	Linked *Transaction
}
