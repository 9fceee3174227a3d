package resign

import "strings"

// downgrade decides whether a signer/verifier failure becomes a
// warning instead of a fatal error. "no identity found" is never
// downgradable, matching spec's IdentityNotFound rule.
func downgrade(stderr string, ignore bool) bool {
	if isIdentityNotFound(stderr) {
		return false
	}
	return ignore
}

// isIdentityNotFound reports whether stderr contains the signer's
// "no identity found" failure (case-insensitive), which gets its own
// ErrorKind instead of the generic SignFailed.
func isIdentityNotFound(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "no identity found")
}
