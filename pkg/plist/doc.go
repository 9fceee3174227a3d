// Package plist reads and writes Apple property lists in XML or binary
// form on top of howett.net/plist.
package plist
