// Package version carries build metadata injected with -ldflags, e.g.
// -X flightwatch/internal/version.Version=v1.2.0.
package version

var (
	// Version is the release tag of the binary.
	Version = "dev"
	// Commit is the git commit hash.
	Commit = "unknown"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)
