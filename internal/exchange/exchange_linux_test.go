package exchange

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/rbright/samplepipe/internal/message"
	"github.com/rbright/samplepipe/internal/pipe"
	"github.com/rbright/samplepipe/internal/security"
)

func TestEndToEndDefaultExchange(t *testing.T) {
	name := filepath.Join(t.TempDir(), "SamplePipe.sock")
	maxBytes := message.MaxBytes(message.DefaultMaxUnits)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var serverConsole bytes.Buffer
	server := Server{
		Transport: pipe.NewTransport(maxBytes),
		Name:      name,
		SDDL:      security.DefaultSDDL,
		Response:  "Default response from server",
		Console:   &serverConsole,
	}
	serverDone := make(chan Result, 1)
	go func() { serverDone <- server.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(name)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	var clientConsole bytes.Buffer
	client := Client{
		Transport: pipe.NewTransport(maxBytes),
		Name:      name,
		Request:   "Default request from client",
		RetryWait: time.Second,
		Console:   &clientConsole,
	}
	clientResult := client.Run(ctx)
	serverResult := <-serverDone

	require.NoError(t, clientResult.Err)
	require.NoError(t, serverResult.Err)
	require.Equal(t, 0, ExitCode(clientResult.Err))
	require.Equal(t, 0, ExitCode(serverResult.Err))

	require.Equal(t, "Default request from client", serverResult.Received)
	require.Equal(t, 56, serverResult.BytesReceived)
	require.Equal(t, "Default response from server", clientResult.Received)
	require.Equal(t, 58, clientResult.BytesReceived)

	require.Contains(t, serverConsole.String(), "Received 56 bytes from client: Default request from client")
	require.Contains(t, clientConsole.String(), "Received 58 bytes from server: Default response from server")

	_, err := os.Stat(name)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestEndToEndClientWithoutServer(t *testing.T) {
	client := Client{
		Transport: pipe.NewTransport(0),
		Name:      filepath.Join(t.TempDir(), "missing.sock"),
		Request:   "Default request from client",
		RetryWait: time.Second,
	}

	result := client.Run(context.Background())
	require.ErrorIs(t, result.Err, pipe.ErrNotFound)
	require.Equal(t, 0, result.Waits)
	require.Equal(t, int(syscall.ENOENT), ExitCode(result.Err))
}

func TestEndToEndClientWithStaleSocketFailsFast(t *testing.T) {
	name := filepath.Join(t.TempDir(), "SamplePipe.sock")
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	require.NoError(t, err)
	require.NoError(t, unix.Bind(fd, &unix.SockaddrUnix{Name: name}))
	require.NoError(t, unix.Close(fd))

	client := Client{
		Transport: pipe.NewTransport(0),
		Name:      name,
		Request:   "Default request from client",
		RetryWait: 5 * time.Second,
	}

	start := time.Now()
	result := client.Run(context.Background())
	require.ErrorIs(t, result.Err, pipe.ErrNotFound)
	require.Equal(t, 0, result.Waits)
	require.Equal(t, int(syscall.ENOENT), ExitCode(result.Err))
	require.Less(t, time.Since(start), time.Second)
}

func TestEndToEndSecondServerCollides(t *testing.T) {
	name := filepath.Join(t.TempDir(), "SamplePipe.sock")
	transport := pipe.NewTransport(0)
	policy, err := security.New(security.DefaultSDDL)
	require.NoError(t, err)

	endpoint, err := transport.Listen(name, policy)
	require.NoError(t, err)
	defer endpoint.Close()

	server := Server{Transport: transport, Name: name, SDDL: security.DefaultSDDL, Response: "x"}
	result := server.Run(context.Background())
	require.ErrorIs(t, result.Err, pipe.ErrNameInUse)
	require.Equal(t, int(syscall.EADDRINUSE), ExitCode(result.Err))
}
