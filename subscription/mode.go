package subscription

import "fmt"

// Mode selects the verification handshake protocol for a subscription.
// It is a closed set: adding a protocol means adding a constant here and a
// branch in the verification coordinator.
type Mode string

const (
	// ModeNone skips verification; the subscription activates immediately.
	ModeNone Mode = "none"

	// ModeStripe is the token-ping handshake: a verification payload is
	// POSTed to the endpoint and any 2xx response activates the subscription.
	ModeStripe Mode = "stripe"

	// ModeSlack is the challenge-echo handshake: the endpoint must respond
	// 2xx with a body echoing the exact challenge value.
	ModeSlack Mode = "slack"
)

// ParseMode parses a verification mode string. The "-style" suffixed
// spellings used by API callers are accepted as aliases. An empty string
// parses as ModeNone.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", string(ModeNone):
		return ModeNone, nil
	case string(ModeStripe), "stripe-style":
		return ModeStripe, nil
	case string(ModeSlack), "slack-style":
		return ModeSlack, nil
	default:
		return "", fmt.Errorf("unknown verification mode %q", s)
	}
}
