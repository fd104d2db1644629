// Package version holds the build version string.
package version

// Version is the messengerq release version
const Version = "0.1.0"
