package domain

// Category is a spending category a transaction can be assigned to.
// Owner is empty for default categories shared by every user.
type Category struct {
	ID    int64
	Name  string
	Owner string
}

// UserOwned reports whether the category belongs to a single user rather
// than the shared default set.
func (c Category) UserOwned() bool {
	return c.Owner != ""
}

// MerchantMapping is a learned merchant-key to category assignment. An empty
// UserEmail marks a global mapping shared by all users; user-scoped mappings
// take precedence over global ones for the same key. Mappings are only ever
// inserted, never deleted, by the pipeline.
type MerchantMapping struct {
	MerchantKey string
	UserEmail   string
	CategoryID  int64
}

// CategoryUpdate assigns a category to one transaction.
type CategoryUpdate struct {
	TransactionID string
	CategoryID    int64
}
