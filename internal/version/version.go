package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build information for a binary's -version flag.
func String(binary string) string {
	return fmt.Sprintf("%s %s (git %s, built %s, %s/%s)", binary, Version, GitSHA, BuildTime, runtime.GOOS, runtime.GOARCH)
}
