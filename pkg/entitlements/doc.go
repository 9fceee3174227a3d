// Package entitlements reconciles a binary's embedded entitlements, a
// provisioning profile's entitlements, and an optional user override
// into the single document handed to the signer for one binary.
package entitlements
