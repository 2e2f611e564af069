//go:build !windows

package pipe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressUsesXDGRuntimeDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)
	require.Equal(t, filepath.Join(dir, "SamplePipe.sock"), Address("SamplePipe"))
}

func TestAddressFallsBackToTempDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")
	require.Equal(t, filepath.Join(os.TempDir(), "SamplePipe.sock"), Address("SamplePipe"))
}

func TestAddressKeepsAbsolutePath(t *testing.T) {
	require.Equal(t, "/run/user/1000/custom.sock", Address("/run/user/1000/custom.sock"))
}
