// Package version exposes the service identity and build metadata stamped
// in via ldflags.
package version

// Service is the canonical service name, reported by the root endpoint.
const Service = "kloth.me"

//nolint:revive // Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
