// Package recurring expands recurring templates into due concrete
// transactions. A template's schedule is the series startDate,
// nextOccurrence(startDate), ... ; a materialization pass emits every
// occurrence that falls after the last checkpoint and at or before now.
package recurring

import (
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/cardsync/internal/domain"
)

// NextOccurrence returns the occurrence that follows cur on the given
// schedule. Days and weeks advance by a fixed number of days. Months
// advance by calendar months: the target month and year are computed by
// integer rollover and the day is clamped to the last valid day of the
// target month, so Jan 31 + 1 month lands on Feb 28 (or 29), never Mar 3.
func NextOccurrence(cur time.Time, value int, unit domain.FrequencyUnit) time.Time {
	switch unit {
	case domain.FrequencyDays:
		return cur.AddDate(0, 0, value)
	case domain.FrequencyWeeks:
		return cur.AddDate(0, 0, 7*value)
	case domain.FrequencyMonths:
		months := int(cur.Month()) - 1 + value
		year := cur.Year() + months/12
		month := time.Month(months%12 + 1)
		day := cur.Day()
		if last := lastDayOfMonth(year, month); day > last {
			day = last
		}
		return time.Date(year, month, day,
			cur.Hour(), cur.Minute(), cur.Second(), cur.Nanosecond(), cur.Location())
	}
	return cur
}

func lastDayOfMonth(year int, month time.Month) int {
	// Day 0 of the following month.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Materialize returns the concrete transactions due for the template up to
// now. Occurrences at or before the ScannedAt checkpoint were emitted by an
// earlier pass and are skipped, so persisting ScannedAt = now after the
// pass resumes the series with no gaps or repeats even when now falls
// between occurrences. Templates with a broken configuration or an
// unresolved linked transaction produce nothing.
func Materialize(tmpl *domain.RecurringTemplate, now time.Time) []*domain.Transaction {
	if tmpl.Linked == nil || tmpl.FrequencyValue <= 0 || !tmpl.FrequencyUnit.Valid() {
		return nil
	}

	var out []*domain.Transaction
	for occ := tmpl.StartDate; !occ.After(now); occ = NextOccurrence(occ, tmpl.FrequencyValue, tmpl.FrequencyUnit) {
		if tmpl.ScannedAt != nil && !occ.After(*tmpl.ScannedAt) {
			continue
		}
		out = append(out, newInstance(tmpl, occ))
	}
	return out
}

// newInstance clones the template's linked transaction into a fresh record
// for one occurrence. Copied: amount, original amount, currency, category,
// merchant label. Reset: identity (a generated reference), both dates (the
// occurrence date), and the pending and recurring flags.
func newInstance(tmpl *domain.RecurringTemplate, occurrence time.Time) *domain.Transaction {
	ref := uuid.NewString()
	return &domain.Transaction{
		ID:              domain.TransactionID(tmpl.UserEmail, ref),
		SourceReference: ref,
		UserEmail:       tmpl.UserEmail,
		CategoryID:      tmpl.Linked.CategoryID,
		Amount:          tmpl.Linked.Amount,
		OriginalAmount:  tmpl.Linked.OriginalAmount,
		Currency:        tmpl.Linked.Currency,
		PaymentDate:     occurrence,
		PurchaseDate:    occurrence,
		MerchantLabel:   tmpl.Linked.MerchantLabel,
	}
}
