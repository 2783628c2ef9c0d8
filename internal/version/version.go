// Package version holds the daemon's build-time version, the sole input
// to the self-restart check described in the lifecycle package.
package version

// Version is the installed package version. Overridden at build time via
// -ldflags "-X github.com/pushhq/pushd/internal/version.Version=1.2.3".
var Version = "dev"
