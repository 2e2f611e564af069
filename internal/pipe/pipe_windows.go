package pipe

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/Microsoft/go-winio"
	"golang.org/x/sys/windows"

	"github.com/rbright/samplepipe/internal/message"
	"github.com/rbright/samplepipe/internal/security"
)

// dialAttemptTimeout bounds a single Open so a busy pipe is reported
// instead of waited on.
const dialAttemptTimeout = waitPollInterval

// errorSemTimeout is ERROR_SEM_TIMEOUT, the code WaitNamedPipe reports.
const errorSemTimeout = windows.Errno(121)

type winTransport struct {
	maxBytes int

	mu   sync.Mutex
	held Conn
}

// NewTransport returns the platform transport. maxBytes bounds a single
// message in each direction.
func NewTransport(maxBytes int) Transport {
	if maxBytes <= 0 {
		maxBytes = message.MaxBytes(message.DefaultMaxUnits)
	}
	return &winTransport{maxBytes: maxBytes}
}

// Listen creates the first instance of a message-mode duplex pipe carrying
// the policy's security descriptor.
func (t *winTransport) Listen(name string, policy *security.Policy) (Endpoint, error) {
	path := Address(name)
	cfg := &winio.PipeConfig{
		MessageMode:      true,
		InputBufferSize:  int32(t.maxBytes),
		OutputBufferSize: int32(t.maxBytes),
	}
	if policy != nil {
		cfg.SecurityDescriptor = policy.SDDL()
	}

	ln, err := winio.ListenPipe(path, cfg)
	if err != nil {
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) || errors.Is(err, windows.ERROR_PIPE_BUSY) {
			return nil, opError("create", path, ErrNameInUse, err)
		}
		return nil, opError("create", path, nil, err)
	}
	return &winEndpoint{path: path, listener: ln, maxBytes: t.maxBytes}, nil
}

// Open attaches to name, returning a connection held by an earlier Wait
// when there is one.
func (t *winTransport) Open(name string) (Conn, error) {
	t.mu.Lock()
	held := t.held
	t.held = nil
	t.mu.Unlock()
	if held != nil {
		return held, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialAttemptTimeout)
	defer cancel()
	return t.dial(ctx, name, ErrBusy, windows.ERROR_PIPE_BUSY)
}

// Wait blocks up to timeout for a free instance. A successful attach is kept
// for the next Open.
func (t *winTransport) Wait(ctx context.Context, name string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := t.dial(waitCtx, name, ErrWaitTimeout, errorSemTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	t.mu.Lock()
	if t.held != nil {
		_ = t.held.Close()
	}
	t.held = conn
	t.mu.Unlock()
	return nil
}

// dial attaches until ctx expires; expiry is reported as timeoutKind.
func (t *winTransport) dial(ctx context.Context, name string, timeoutKind error, code windows.Errno) (Conn, error) {
	path := Address(name)
	conn, err := winio.DialPipeContext(ctx, path)
	if err != nil {
		switch {
		case errors.Is(err, windows.ERROR_FILE_NOT_FOUND):
			return nil, opError("open", path, ErrNotFound, err)
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, winio.ErrTimeout):
			return nil, opError("open", path, timeoutKind, code)
		default:
			return nil, opError("open", path, nil, err)
		}
	}
	return &winConn{conn: conn, path: path, maxBytes: t.maxBytes}, nil
}

type winEndpoint struct {
	path     string
	maxBytes int

	mu       sync.Mutex
	listener net.Listener
	accepted bool
	closed   bool
}

func (e *winEndpoint) Address() string {
	return e.path
}

// Accept waits for one client. The listener keeps its next instance open
// until Close, so a second client blocks until the server exits.
func (e *winEndpoint) Accept(ctx context.Context) (Conn, error) {
	e.mu.Lock()
	if e.closed || e.accepted {
		e.mu.Unlock()
		return nil, opError("connect", e.path, ErrClosed, nil)
	}
	e.accepted = true
	listener := e.listener
	e.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	conn, err := listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, opError("connect", e.path, nil, err)
	}
	return &winConn{conn: conn, path: e.path, maxBytes: e.maxBytes}, nil
}

func (e *winEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return opError("close", e.path, ErrClosed, nil)
	}
	e.closed = true
	if err := e.listener.Close(); err != nil && !errors.Is(err, winio.ErrPipeListenerClosed) {
		return err
	}
	return nil
}

// winConn finds message boundaries by the trailing UTF-16 terminator, since
// go-winio presents message pipes as byte streams.
type winConn struct {
	conn     net.Conn
	path     string
	maxBytes int
	current  []byte
}

func (c *winConn) ReadChunk(p []byte) (int, error) {
	n, err := c.conn.Read(p)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return n, io.EOF
		}
		return n, opError("read", c.path, nil, err)
	}

	c.current = append(c.current, p[:n]...)
	if len(c.current) > c.maxBytes {
		c.current = c.current[:0]
		return n, opError("read", c.path, message.ErrTooLarge, windows.ERROR_MORE_DATA)
	}
	if message.Terminated(c.current) {
		c.current = c.current[:0]
		return n, nil
	}
	return n, ErrMoreData
}

func (c *winConn) WriteMessage(p []byte) (int, error) {
	if len(p) > c.maxBytes {
		return 0, opError("write", c.path, message.ErrTooLarge, windows.ERROR_INSUFFICIENT_BUFFER)
	}
	n, err := c.conn.Write(p)
	if err != nil {
		return n, opError("write", c.path, nil, err)
	}
	if n != len(p) {
		return n, opError("write", c.path, nil, io.ErrShortWrite)
	}
	return n, nil
}

// SetMessageMode switches the client handle to PIPE_READMODE_MESSAGE.
func (c *winConn) SetMessageMode() error {
	h, err := c.handle()
	if err != nil {
		return err
	}
	mode := uint32(windows.PIPE_READMODE_MESSAGE)
	if err := windows.SetNamedPipeHandleState(h, &mode, nil, nil); err != nil {
		return opError("set mode", c.path, nil, err)
	}
	return nil
}

// Flush blocks until the client has read all written data.
func (c *winConn) Flush(context.Context) error {
	h, err := c.handle()
	if err != nil {
		return err
	}
	if err := windows.FlushFileBuffers(h); err != nil {
		return opError("flush", c.path, nil, err)
	}
	return nil
}

// Disconnect writes the zero-length message that ends the exchange.
func (c *winConn) Disconnect() error {
	cw, ok := c.conn.(interface{ CloseWrite() error })
	if !ok {
		return nil
	}
	if err := cw.CloseWrite(); err != nil {
		return opError("disconnect", c.path, nil, err)
	}
	return nil
}

func (c *winConn) Close() error {
	return c.conn.Close()
}

func (c *winConn) handle() (windows.Handle, error) {
	fd, ok := c.conn.(interface{ Fd() uintptr })
	if !ok {
		return 0, opError("handle", c.path, nil, windows.ERROR_INVALID_HANDLE)
	}
	return windows.Handle(fd.Fd()), nil
}
