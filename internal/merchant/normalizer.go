// Package merchant normalizes raw merchant labels into stable lookup keys.
// Providers decorate labels with store numbers, terminal ids and separators
// ("STARBUCKS*1234", "PAYPAL *SPOTIFY 35314369001"); the key is the part of
// the label that stays stable across charges from the same merchant.
package merchant

import (
	"regexp"
	"strings"
)

var (
	keyCutRegex     = regexp.MustCompile(`[^\p{L} ]`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// Key maps a raw merchant label to its lookup key: everything from the
// first digit or special character onward is stripped and whitespace is
// collapsed. Labels that start with a digit or symbol would produce an
// empty key, so those fall back to the collapsed label itself.
func Key(label string) string {
	cut := label
	if loc := keyCutRegex.FindStringIndex(label); loc != nil {
		cut = label[:loc[0]]
	}
	cut = strings.TrimSpace(whitespaceRegex.ReplaceAllString(cut, " "))
	if cut == "" {
		return strings.TrimSpace(whitespaceRegex.ReplaceAllString(label, " "))
	}
	return cut
}
