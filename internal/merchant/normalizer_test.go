package merchant

import "testing"

func TestKey(t *testing.T) {
	tests := []struct {
		label string
		want  string
	}{
		{"STARBUCKS*1234", "STARBUCKS"},
		{"PAYPAL *SPOTIFY 35314369001", "PAYPAL"},
		{"AMAZON MKTPLACE 123-4567", "AMAZON MKTPLACE"},
		{"  Cafe   Noir  ", "Cafe Noir"},
		{"McDonald's #42", "McDonald"},
		{"UBER   TRIP", "UBER TRIP"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			if got := Key(tt.label); got != tt.want {
				t.Errorf("Key(%q) = %q, want %q", tt.label, got, tt.want)
			}
		})
	}
}

func TestKey_SymbolPrefixFallsBack(t *testing.T) {
	// A label with no leading letters would otherwise normalize to "".
	if got := Key("7-ELEVEN 120"); got != "7-ELEVEN 120" {
		t.Errorf("Key(%q) = %q, want the collapsed label", "7-ELEVEN 120", got)
	}
}

func TestKey_StableAcrossCharges(t *testing.T) {
	a := Key("STARBUCKS*1234")
	b := Key("STARBUCKS*9876")
	if a != b {
		t.Errorf("keys differ for the same merchant: %q vs %q", a, b)
	}
}
