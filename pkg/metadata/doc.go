// Package metadata mutates an app bundle's Info.plist: bundle
// identifier, URL type name, and device-family constraints.
package metadata
