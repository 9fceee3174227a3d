// Package archive extracts and repacks IPA files, which are plain
// PKZIP archives containing a Payload/*.app bundle.
package archive
