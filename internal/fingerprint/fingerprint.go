// Package fingerprint collects machine-identifying strings and performs
// threshold matching against a license hardware binding. Collection is
// platform-specific, so it sits behind the Provider interface; validation
// logic is tested with synthetic providers.
package fingerprint

// Provider supplies the machine-identifying strings observed on the local
// host. Implementations must drop empty or unavailable values.
type Provider interface {
	Collect() []string
}

// StaticProvider returns a fixed fingerprint set. Used in tests and for
// signing tools that bind a license to fingerprints reported by a customer.
type StaticProvider struct {
	Fingerprints []string
}

// Collect returns the configured fingerprints.
func (p *StaticProvider) Collect() []string {
	return append([]string(nil), p.Fingerprints...)
}

// Match reports whether at least minMatching of the bound fingerprints are
// present in the collected set, in any order.
//
// The threshold policy tolerates partial hardware replacement (a swapped
// network card) while still requiring most identifiers to match. An empty
// bound set with minMatching > 0 can never match, and minMatching <= 0 is
// an invalid binding: both fail closed.
func Match(collected, bound []string, minMatching int) bool {
	if minMatching <= 0 || minMatching > len(bound) {
		return false
	}

	seen := make(map[string]struct{}, len(collected))
	for _, f := range collected {
		if f != "" {
			seen[f] = struct{}{}
		}
	}

	matches := 0
	for _, f := range bound {
		if _, ok := seen[f]; ok {
			matches++
			if matches >= minMatching {
				return true
			}
		}
	}
	return false
}
