// Package merlin holds the version of the merlin agent.
package merlin

// Version is the current release.
const Version = "0.1.0"

// GetVersion returns the current version string.
func GetVersion() string {
	return Version
}
