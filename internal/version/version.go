// Package version carries build metadata injected with -ldflags.
package version

import "runtime"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders build metadata for binary, including the target platform
// since the pipe transport differs per OS.
func String(binary string) string {
	return binary + " " + Version +
		" (commit=" + Commit +
		", date=" + Date +
		", go=" + runtime.Version() +
		", platform=" + runtime.GOOS + "/" + runtime.GOARCH + ")"
}
