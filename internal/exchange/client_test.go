package exchange

import (
	"bytes"
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/samplepipe/internal/fsm"
	"github.com/rbright/samplepipe/internal/pipe"
)

func newClient(transport *fakeTransport, console *bytes.Buffer) Client {
	return Client{
		Transport: transport,
		Name:      "SamplePipe",
		Request:   "Default request from client",
		RetryWait: 5 * time.Second,
		Console:   console,
	}
}

func TestClientRunHappyPath(t *testing.T) {
	conn := &fakeConn{inbound: encoded("Default response from server"), chunk: 32}
	transport := &fakeTransport{conn: conn}
	var console bytes.Buffer

	result := newClient(transport, &console).Run(context.Background())
	require.NoError(t, result.Err)
	require.Equal(t, fsm.StateClosed, result.State)
	require.Equal(t, 1, result.Attempts)
	require.Equal(t, 0, result.Waits)
	require.Empty(t, transport.waits)

	require.True(t, conn.messageMode)
	require.Equal(t, [][]byte{encoded("Default request from client")}, conn.written)
	require.Equal(t, 56, result.BytesSent)
	require.Equal(t, "Default response from server", result.Received)
	require.Equal(t, 58, result.BytesReceived)
	require.Equal(t, 2, result.Chunks)
	require.Equal(t, 1, conn.closed)

	require.Contains(t, console.String(), "Sent 56 bytes to server: Default request from client")
	require.Contains(t, console.String(), "Received 58 bytes from server: Default response from server")
}

func TestClientNotFoundDoesNotWait(t *testing.T) {
	transport := &fakeTransport{openErrs: []error{notFoundErr()}}

	result := newClient(transport, &bytes.Buffer{}).Run(context.Background())
	require.ErrorIs(t, result.Err, pipe.ErrNotFound)
	require.Equal(t, 1, transport.opens)
	require.Empty(t, transport.waits)
	require.Equal(t, int(syscall.ENOENT), ExitCode(result.Err))
	require.Equal(t, fsm.StateClosed, result.State)
}

func TestClientBusyWaitsOnceThenConnects(t *testing.T) {
	conn := &fakeConn{inbound: encoded("ok")}
	transport := &fakeTransport{openErrs: []error{busyErr()}, conn: conn}

	result := newClient(transport, &bytes.Buffer{}).Run(context.Background())
	require.NoError(t, result.Err)
	require.Equal(t, 2, result.Attempts)
	require.Equal(t, 1, result.Waits)
	require.Equal(t, []time.Duration{5 * time.Second}, transport.waits)
	require.Equal(t, []fsm.State{
		fsm.StateDisconnected,
		fsm.StateConnecting,
		fsm.StateConnecting,
		fsm.StateConnected,
		fsm.StateExchanging,
		fsm.StateClosed,
	}, result.Trace)
}

func TestClientRetriesWhileBusy(t *testing.T) {
	conn := &fakeConn{inbound: encoded("ok")}
	transport := &fakeTransport{openErrs: []error{busyErr(), busyErr(), busyErr()}, conn: conn}

	result := newClient(transport, &bytes.Buffer{}).Run(context.Background())
	require.NoError(t, result.Err)
	require.Equal(t, 4, result.Attempts)
	require.Len(t, transport.waits, 3)
}

func TestClientWaitTimeoutIsFatal(t *testing.T) {
	transport := &fakeTransport{
		openErrs: []error{busyErr()},
		waitErr:  &pipe.OpError{Op: "wait", Name: "fake", Kind: pipe.ErrWaitTimeout, Err: syscall.ETIMEDOUT},
	}
	var console bytes.Buffer

	result := newClient(transport, &console).Run(context.Background())
	require.ErrorIs(t, result.Err, pipe.ErrWaitTimeout)
	require.Equal(t, 1, transport.opens)
	require.Equal(t, int(syscall.ETIMEDOUT), ExitCode(result.Err))
	require.Contains(t, console.String(), "Could not open named pipe")
}

func TestClientClosesConnOnFailure(t *testing.T) {
	tests := []struct {
		name     string
		conn     *fakeConn
		wantStep string
	}{
		{name: "message mode", conn: &fakeConn{modeErr: errBroken}, wantStep: "set message mode"},
		{name: "write", conn: &fakeConn{writeErr: syscall.EPIPE}, wantStep: "send"},
		{name: "read", conn: &fakeConn{readErr: syscall.ECONNRESET}, wantStep: "receive"},
		{name: "odd payload", conn: &fakeConn{inbound: []byte{'x'}}, wantStep: "decode response"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			transport := &fakeTransport{conn: tc.conn}
			result := newClient(transport, &bytes.Buffer{}).Run(context.Background())
			require.Error(t, result.Err)
			require.Contains(t, result.Err.Error(), tc.wantStep)
			require.Equal(t, 1, tc.conn.closed)
			require.Equal(t, fsm.StateClosed, result.State)
		})
	}
}

func TestClientRejectsOversizedRequest(t *testing.T) {
	conn := &fakeConn{}
	client := newClient(&fakeTransport{conn: conn}, &bytes.Buffer{})
	client.MaxUnits = 8

	result := client.Run(context.Background())
	require.Error(t, result.Err)
	require.Contains(t, result.Err.Error(), "encode request")
	require.Empty(t, conn.written)
}
