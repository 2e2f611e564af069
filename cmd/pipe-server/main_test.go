package main

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rbright/samplepipe/internal/pipe"
	"github.com/rbright/samplepipe/internal/security"
)

func TestSecondServerUnderLiveNameExitsWithErrno(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("endpoint transport is linux-only in this test")
	}

	name := filepath.Join(t.TempDir(), "SamplePipe.sock")
	policy, err := security.New(security.DefaultSDDL)
	require.NoError(t, err)

	endpoint, err := pipe.NewTransport(0).Listen(name, policy)
	require.NoError(t, err)
	defer endpoint.Close()

	output, err := runMainSubprocess(t, []string{
		"XDG_RUNTIME_DIR=" + t.TempDir(),
		"XDG_STATE_HOME=" + t.TempDir(),
		"XDG_CONFIG_HOME=" + t.TempDir(),
	}, "--pipe", name)
	require.Error(t, err)

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, int(syscall.EADDRINUSE), exitErr.ExitCode(), string(output))
	require.Contains(t, string(output), "create endpoint")

	// the live endpoint survives the failed attempt
	_, err = os.Stat(name)
	require.NoError(t, err)
}

func TestServerUsageErrorExits64(t *testing.T) {
	output, err := runMainSubprocess(t, nil, "--bogus")
	require.Error(t, err)

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, 64, exitErr.ExitCode())
	require.Contains(t, string(output), "unknown flag")
}

func TestServerHelpDoesNotListen(t *testing.T) {
	output, err := runMainSubprocess(t, nil, "--help")
	require.NoError(t, err, string(output))
	require.Contains(t, string(output), "pipe-server")
}

func TestMainHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	args := os.Args
	dashIndex := -1
	for i, arg := range args {
		if arg == "--" {
			dashIndex = i
			break
		}
	}

	os.Args = []string{"pipe-server"}
	if dashIndex >= 0 && dashIndex+1 < len(args) {
		os.Args = append(os.Args, args[dashIndex+1:]...)
	}

	main()
}

func runMainSubprocess(t *testing.T, env []string, args ...string) ([]byte, error) {
	t.Helper()

	cmdArgs := []string{"-test.run=TestMainHelperProcess", "--"}
	cmdArgs = append(cmdArgs, args...)

	cmd := exec.Command(os.Args[0], cmdArgs...)
	cmd.Env = append(append(os.Environ(), env...), "GO_WANT_HELPER_PROCESS=1")
	return cmd.CombinedOutput()
}
