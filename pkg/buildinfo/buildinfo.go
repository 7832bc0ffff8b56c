// Package buildinfo provides build metadata injected via ldflags at compile time.
package buildinfo

import (
	"fmt"
	"runtime"
)

// These variables are set at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// String returns a formatted build info string.
func String() string {
	return fmt.Sprintf("fips-installer %s (commit: %s, built: %s, %s)",
		Version, GitCommit, BuildDate, runtime.Version())
}

// Short returns the version and an abbreviated commit.
func Short() string {
	commit := GitCommit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return Version + "+" + commit
}
