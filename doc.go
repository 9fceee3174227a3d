// Package main provides the ipasign CLI tool for resigning IPA files.
//
// For the library API, see the resign subpackage:
//
//	import "github.com/ipasign/ipasign/pkg/resign"
//
// # Installation
//
// Install the CLI:
//
//	go install github.com/ipasign/ipasign@latest
package main
