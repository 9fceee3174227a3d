// Package bundle walks an extracted .app directory and classifies its
// Mach-O binaries by role: main executable, nested app, framework,
// plug-in, or plain dylib.
package bundle
