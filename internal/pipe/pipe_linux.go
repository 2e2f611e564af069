package pipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/rbright/samplepipe/internal/message"
	"github.com/rbright/samplepipe/internal/security"
)

// flushPollInterval paces the outgoing-queue check in Flush.
const flushPollInterval = 5 * time.Millisecond

type unixTransport struct {
	maxBytes int

	mu   sync.Mutex
	held Conn
}

// NewTransport returns the platform transport. maxBytes bounds a single
// message in each direction.
func NewTransport(maxBytes int) Transport {
	return &unixTransport{maxBytes: maxBytes}
}

// Listen binds a SOCK_SEQPACKET socket at the endpoint address. The socket
// does not accept connections until Accept is called. A socket file left by
// a server that died without cleanup is reclaimed; a live one is ErrNameInUse.
func (t *unixTransport) Listen(name string, policy *security.Policy) (Endpoint, error) {
	path := Address(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, opError("create", path, nil, err)
	}

	lock, err := acquireOwner(path)
	if err != nil {
		return nil, err
	}

	fd, err := bindSeqpacket(path)
	if errors.Is(err, unix.EADDRINUSE) {
		// The owner lock is ours, so whatever sits at path is stale.
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			_ = lock.Close()
			return nil, opError("create", path, nil, rmErr)
		}
		fd, err = bindSeqpacket(path)
	}
	if err != nil {
		_ = lock.Close()
		if errors.Is(err, unix.EADDRINUSE) {
			return nil, opError("create", path, ErrNameInUse, err)
		}
		return nil, opError("create", path, nil, err)
	}

	mode := os.FileMode(0o600)
	if policy != nil {
		mode = policy.FileMode()
	}
	if err := os.Chmod(path, mode); err != nil {
		_ = unix.Close(fd)
		_ = os.Remove(path)
		_ = lock.Close()
		return nil, opError("create", path, nil, err)
	}

	return &unixEndpoint{path: path, fd: fd, lock: lock, maxBytes: t.maxBytes}, nil
}

// acquireOwner takes an exclusive flock on path+".lock" for the lifetime of
// the endpoint. The lock file itself is left in place and is world-readable
// so clients can test it with a shared lock.
func acquireOwner(path string) (*os.File, error) {
	lockPath := path + ".lock"
	lock, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, opError("create", path, nil, err)
	}

	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = lock.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, opError("create", path, ErrNameInUse, unix.EADDRINUSE)
		}
		return nil, opError("create", path, nil, os.NewSyscallError("flock", err))
	}
	return lock, nil
}

// ownerAlive reports whether a server holds the owner lock for path. A
// refused connection with no owner is a socket file left by a dead server.
// Anything short of proof that the lock is free counts as alive.
func ownerAlive(path string) bool {
	fd, err := unix.Open(path+".lock", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return !errors.Is(err, unix.ENOENT)
	}
	defer unix.Close(fd)

	if err := unix.Flock(fd, unix.LOCK_SH|unix.LOCK_NB); err != nil {
		return true
	}
	_ = unix.Flock(fd, unix.LOCK_UN)
	return false
}

func bindSeqpacket(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		return -1, os.NewSyscallError("bind", err)
	}
	return fd, nil
}

// Open attaches to name, returning a connection held by an earlier Wait
// when there is one.
func (t *unixTransport) Open(name string) (Conn, error) {
	t.mu.Lock()
	held := t.held
	t.held = nil
	t.mu.Unlock()
	if held != nil {
		return held, nil
	}
	return t.dial(name)
}

// Wait retries attaching until an instance frees up or timeout elapses. A
// successful attach is kept for the next Open.
func (t *unixTransport) Wait(ctx context.Context, name string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		conn, err := t.dial(name)
		if err == nil {
			t.mu.Lock()
			if t.held != nil {
				_ = t.held.Close()
			}
			t.held = conn
			t.mu.Unlock()
			return nil
		}
		if !errors.Is(err, ErrBusy) {
			return err
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return opError("wait", Address(name), ErrWaitTimeout, unix.ETIMEDOUT)
		case <-ticker.C:
		}
	}
}

func (t *unixTransport) dial(name string) (Conn, error) {
	path := Address(name)
	conn, err := net.DialUnix("unixpacket", nil, &net.UnixAddr{Name: path, Net: "unixpacket"})
	if err != nil {
		switch {
		case errors.Is(err, unix.ENOENT):
			return nil, opError("open", path, ErrNotFound, err)
		case errors.Is(err, unix.ECONNREFUSED) && !ownerAlive(path):
			return nil, opError("open", path, ErrNotFound, unix.ENOENT)
		case errors.Is(err, unix.ECONNREFUSED), errors.Is(err, unix.EAGAIN):
			return nil, opError("open", path, ErrBusy, err)
		default:
			return nil, opError("open", path, nil, err)
		}
	}
	return newUnixConn(conn, path, t.maxBytes), nil
}

type unixEndpoint struct {
	path     string
	maxBytes int

	mu       sync.Mutex
	fd       int
	lock     *os.File
	listener *net.UnixListener
	closed   bool
}

func (e *unixEndpoint) Address() string {
	return e.path
}

// Accept starts listening with a backlog of one and returns the first
// client. The listener is closed afterwards so later clients see ErrBusy.
func (e *unixEndpoint) Accept(ctx context.Context) (Conn, error) {
	listener, err := e.startListening()
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	conn, err := listener.AcceptUnix()
	e.stopListening()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, opError("connect", e.path, nil, err)
	}
	return newUnixConn(conn, e.path, e.maxBytes), nil
}

func (e *unixEndpoint) startListening() (*net.UnixListener, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.fd < 0 {
		return nil, opError("connect", e.path, ErrClosed, nil)
	}
	if err := unix.Listen(e.fd, 1); err != nil {
		return nil, opError("connect", e.path, nil, os.NewSyscallError("listen", err))
	}

	f := os.NewFile(uintptr(e.fd), e.path)
	ln, err := net.FileListener(f)
	_ = f.Close()
	e.fd = -1
	if err != nil {
		return nil, opError("connect", e.path, nil, err)
	}

	listener, ok := ln.(*net.UnixListener)
	if !ok {
		_ = ln.Close()
		return nil, opError("connect", e.path, nil, fmt.Errorf("unexpected listener type %T", ln))
	}
	e.listener = listener
	return listener, nil
}

func (e *unixEndpoint) stopListening() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener != nil {
		_ = e.listener.Close()
		e.listener = nil
	}
}

// Close releases the socket, unlinks its path, and drops the owner lock.
func (e *unixEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return opError("close", e.path, ErrClosed, nil)
	}
	e.closed = true

	var errs []error
	if e.fd >= 0 {
		errs = append(errs, os.NewSyscallError("close", unix.Close(e.fd)))
		e.fd = -1
	}
	if e.listener != nil {
		errs = append(errs, e.listener.Close())
		e.listener = nil
	}
	if err := os.Remove(e.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	if e.lock != nil {
		errs = append(errs, e.lock.Close())
		e.lock = nil
	}
	return errors.Join(errs...)
}

type unixConn struct {
	conn     *net.UnixConn
	path     string
	maxBytes int
	inbuf    []byte
	pending  []byte
}

func newUnixConn(conn *net.UnixConn, path string, maxBytes int) *unixConn {
	if maxBytes <= 0 {
		maxBytes = message.MaxBytes(message.DefaultMaxUnits)
	}
	return &unixConn{conn: conn, path: path, maxBytes: maxBytes, inbuf: make([]byte, maxBytes)}
}

func (c *unixConn) ReadChunk(p []byte) (int, error) {
	if len(c.pending) == 0 {
		n, _, flags, _, err := c.conn.ReadMsgUnix(c.inbuf, nil)
		if err != nil {
			return 0, opError("read", c.path, nil, err)
		}
		if flags&unix.MSG_TRUNC != 0 {
			return 0, opError("read", c.path, message.ErrTooLarge, unix.EMSGSIZE)
		}
		if n == 0 {
			return 0, io.EOF
		}
		c.pending = c.inbuf[:n]
	}

	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	if len(c.pending) > 0 {
		return n, ErrMoreData
	}
	return n, nil
}

func (c *unixConn) WriteMessage(p []byte) (int, error) {
	if len(p) > c.maxBytes {
		return 0, opError("write", c.path, message.ErrTooLarge, unix.EMSGSIZE)
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

// SetMessageMode is a no-op: SOCK_SEQPACKET always preserves boundaries.
func (c *unixConn) SetMessageMode() error {
	return nil
}

// Flush waits until the kernel reports an empty outgoing queue, which for
// AF_UNIX means the peer has read every queued message.
func (c *unixConn) Flush(ctx context.Context) error {
	raw, err := c.conn.SyscallConn()
	if err != nil {
		return opError("flush", c.path, nil, err)
	}

	ticker := time.NewTicker(flushPollInterval)
	defer ticker.Stop()

	for {
		var (
			queued   int
			ioctlErr error
		)
		if err := raw.Control(func(fd uintptr) {
			queued, ioctlErr = unix.IoctlGetInt(int(fd), unix.SIOCOUTQ)
		}); err != nil {
			return opError("flush", c.path, nil, err)
		}
		if ioctlErr != nil {
			return opError("flush", c.path, nil, os.NewSyscallError("ioctl", ioctlErr))
		}
		if queued == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Disconnect shuts down the write side so the peer reads EOF after draining.
func (c *unixConn) Disconnect() error {
	if err := c.conn.CloseWrite(); err != nil {
		return opError("disconnect", c.path, nil, err)
	}
	return nil
}

func (c *unixConn) Close() error {
	return c.conn.Close()
}
