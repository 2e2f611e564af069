//go:build !windows

package pipe

import (
	"os"
	"path/filepath"
	"strings"
)

// Address maps an endpoint name onto a socket path under XDG_RUNTIME_DIR
// (or the temp dir). Absolute paths are used unchanged.
func Address(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	dir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, name+".sock")
}
