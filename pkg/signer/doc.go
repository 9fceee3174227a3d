// Package signer drives an external code-signing tool (typically
// Apple's codesign) as a subprocess. It never constructs a signature
// itself; that responsibility belongs to the external tool.
package signer
