package exchange

import (
	"context"
	"errors"
	"syscall"
	"time"

	"github.com/rbright/samplepipe/internal/message"
	"github.com/rbright/samplepipe/internal/pipe"
	"github.com/rbright/samplepipe/internal/security"
)

type fakeConn struct {
	inbound  []byte
	chunk    int
	readErr  error
	writeErr error
	flushErr error
	modeErr  error

	written      [][]byte
	flushed      int
	disconnected int
	closed       int
	messageMode  bool
}

func (c *fakeConn) ReadChunk(p []byte) (int, error) {
	if c.readErr != nil {
		return 0, c.readErr
	}
	limit := len(p)
	if c.chunk > 0 && c.chunk < limit {
		limit = c.chunk
	}
	n := copy(p[:limit], c.inbound)
	c.inbound = c.inbound[n:]
	if len(c.inbound) > 0 {
		return n, pipe.ErrMoreData
	}
	return n, nil
}

func (c *fakeConn) WriteMessage(p []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.written = append(c.written, append([]byte(nil), p...))
	return len(p), nil
}

func (c *fakeConn) SetMessageMode() error {
	if c.modeErr != nil {
		return c.modeErr
	}
	c.messageMode = true
	return nil
}

func (c *fakeConn) Flush(context.Context) error {
	c.flushed++
	return c.flushErr
}

func (c *fakeConn) Disconnect() error {
	c.disconnected++
	return nil
}

func (c *fakeConn) Close() error {
	c.closed++
	return nil
}

type fakeEndpoint struct {
	conn      *fakeConn
	acceptErr error
	policy    *security.Policy

	closed                int
	policyReleasedAtClose bool
}

func (e *fakeEndpoint) Accept(context.Context) (pipe.Conn, error) {
	if e.acceptErr != nil {
		return nil, e.acceptErr
	}
	return e.conn, nil
}

func (e *fakeEndpoint) Close() error {
	e.closed++
	e.policyReleasedAtClose = e.policy.Released()
	return nil
}

func (e *fakeEndpoint) Address() string {
	return "fake"
}

type fakeTransport struct {
	endpoint  *fakeEndpoint
	listenErr error
	policy    *security.Policy

	openErrs []error
	conn     *fakeConn
	waitErr  error

	opens int
	waits []time.Duration
}

func (t *fakeTransport) Listen(_ string, policy *security.Policy) (pipe.Endpoint, error) {
	t.policy = policy
	if t.listenErr != nil {
		return nil, t.listenErr
	}
	t.endpoint.policy = policy
	return t.endpoint, nil
}

func (t *fakeTransport) Open(string) (pipe.Conn, error) {
	t.opens++
	if len(t.openErrs) > 0 {
		err := t.openErrs[0]
		t.openErrs = t.openErrs[1:]
		return nil, err
	}
	return t.conn, nil
}

func (t *fakeTransport) Wait(_ context.Context, _ string, timeout time.Duration) error {
	t.waits = append(t.waits, timeout)
	return t.waitErr
}

func encoded(text string) []byte {
	raw, err := message.Encode(text, message.DefaultMaxUnits)
	if err != nil {
		panic(err)
	}
	return raw
}

func busyErr() error {
	return &pipe.OpError{Op: "open", Name: "fake", Kind: pipe.ErrBusy, Err: syscall.ECONNREFUSED}
}

func notFoundErr() error {
	return &pipe.OpError{Op: "open", Name: "fake", Kind: pipe.ErrNotFound, Err: syscall.ENOENT}
}

var errBroken = errors.New("broken pipe")
