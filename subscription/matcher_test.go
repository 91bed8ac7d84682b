package subscription

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern   string
		eventType string
		want      bool
	}{
		// Wildcard "*" matches everything.
		{"*", "order.created", true},
		{"*", "user.deleted", true},
		{"*", "x", true},

		// Exact match.
		{"order.created", "order.created", true},
		{"user.deleted", "user.deleted", true},

		// Exact mismatch.
		{"order.created", "order.paid", false},
		{"order.created", "user.created", false},

		// Single-segment wildcard.
		{"order.*", "order.created", true},
		{"order.*", "order.paid", true},
		{"order.*", "user.created", false},
		{"*.created", "order.created", true},
		{"*.created", "user.created", true},
		{"*.created", "order.paid", false},

		// Multi-segment with wildcard.
		{"order.*.completed", "order.payment.completed", true},
		{"order.*.completed", "order.payment.failed", false},
		{"*.payment.*", "order.payment.completed", true},
		{"*.payment.*", "order.refund.completed", false},

		// Segment count mismatch.
		{"order.*", "order.payment.completed", false},
		{"order.*.completed", "order.paid", false},
		{"order", "order.created", false},

		// Edge cases.
		{"", "", true},
		{"a", "a", true},
		{"a", "b", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"_vs_"+tt.eventType, func(t *testing.T) {
			got := Match(tt.pattern, tt.eventType)
			if got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.eventType, got, tt.want)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeNone, false},
		{"none", ModeNone, false},
		{"stripe", ModeStripe, false},
		{"stripe-style", ModeStripe, false},
		{"slack", ModeSlack, false},
		{"slack-style", ModeSlack, false},
		{"smoke-signal", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseMode(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMode(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
