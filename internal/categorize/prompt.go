package categorize

import (
	"fmt"
	"strings"
)

const (
	promptHeader = "Choose the best category for each of the given transactions from the given categories list.\n" +
		"- DO NOT MAKE UP CATEGORIES.\n" +
		"- DO NOT PROVIDE ANY TEXT OTHER THAN THE EXPECTED OUTPUT.\n" +
		"- IF UNCERTAIN, USE THE 'General' CATEGORY.\n"

	responseLinePrefix = "Category for"
	responseTerminator = "END OF OUTPUT"
)

// buildPrompt renders the classification prompt for one chunk of merchant
// keys. The model is asked to answer one line per merchant, in order.
func buildPrompt(categories []string, merchants []string) string {
	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString("Categories list:\n")
	b.WriteString(strings.Join(categories, ","))
	b.WriteString(".\n")
	b.WriteString("Transactions:\n")
	for _, m := range merchants {
		fmt.Fprintf(&b, "%q\n", m)
	}
	b.WriteString("Expected Output:\n")
	b.WriteString("\"Category for #{index_number}: [chosen_category_1]\"\n")
	b.WriteString("\"Category for #{index_number}: [chosen_category_2]\"\n")
	b.WriteString(responseTerminator)
	return b.String()
}

// parseResponse extracts the category names from the model's raw response.
// Answers are positional: the i-th recognized line belongs to the i-th
// merchant in the prompt. Lines that do not match the expected shape yield
// an empty string at that position so alignment is preserved.
func parseResponse(raw string) []string {
	raw = strings.ReplaceAll(raw, responseTerminator, "")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var names []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.Contains(line, responseLinePrefix) {
			names = append(names, "")
			continue
		}
		_, after, found := strings.Cut(line, ": ")
		if !found {
			names = append(names, "")
			continue
		}
		names = append(names, strings.Trim(strings.TrimSpace(after), "\"[]"))
	}
	return names
}
