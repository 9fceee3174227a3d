// Package depsolve orders a bundle's Mach-O binaries for signing so
// that every dylib is signed before anything that links against it.
package depsolve
