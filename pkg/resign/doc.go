// Package resign drives the full IPA resigning pipeline: unpack,
// discover, rewrite metadata, embed a provisioning profile, reconcile
// entitlements, sign in dependency order, verify, repack, cleanup.
//
// A Session moves through the state machine
//
//	INIT → UNPACKED → DISCOVERED → METADATA_READY → ENTITLEMENTS_READY
//	     → SIGNED → VERIFIED → REPACKED → DONE
//
// or FAILED from any stage. Progress and warnings are delivered on
// Session.Events; the terminal outcome is the *Result returned by Run.
package resign
