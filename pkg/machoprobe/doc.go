// Package machoprobe inspects Mach-O binaries without modifying them:
// magic-number detection, FairPlay encryption checks, existing
// entitlements, and dynamic library dependencies.
package machoprobe
