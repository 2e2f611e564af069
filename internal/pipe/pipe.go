// Package pipe provides the named, message-oriented, bidirectional endpoint
// shared by the samplepipe server and client processes.
package pipe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbright/samplepipe/internal/message"
	"github.com/rbright/samplepipe/internal/security"
)

var (
	// ErrNotFound reports that no endpoint exists under the requested name.
	ErrNotFound = errors.New("pipe not found")
	// ErrBusy reports an endpoint that exists but has no free instance.
	ErrBusy = errors.New("all pipe instances are busy")
	// ErrNameInUse reports a second endpoint creation under a live name.
	ErrNameInUse = errors.New("pipe name already in use")
	// ErrWaitTimeout reports that no instance freed up within the wait bound.
	ErrWaitTimeout = errors.New("wait for pipe instance timed out")
	// ErrClosed reports use of an endpoint after Close or a second Accept.
	ErrClosed = errors.New("pipe endpoint closed")
	// ErrMoreData is returned by Conn.ReadChunk while a message continues.
	ErrMoreData = message.ErrMoreData
)

// OpError carries the failing operation, the error class, and the
// underlying OS error.
type OpError struct {
	Op   string
	Name string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	switch {
	case e.Kind != nil && e.Err != nil:
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Name, e.Kind, e.Err)
	case e.Kind != nil:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Kind)
	default:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
	}
}

func (e *OpError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Conn is one attached instance of an endpoint.
type Conn interface {
	// ReadChunk reads part of the current message into p and returns
	// ErrMoreData while more of that message remains.
	ReadChunk(p []byte) (int, error)
	// WriteMessage writes p as one message.
	WriteMessage(p []byte) (int, error)
	// SetMessageMode switches reads to discrete message units.
	SetMessageMode() error
	// Flush blocks until the peer has consumed everything written.
	Flush(ctx context.Context) error
	// Disconnect signals end of exchange to the peer.
	Disconnect() error
	Close() error
}

// Endpoint is the server-side object bound to a name.
type Endpoint interface {
	// Accept blocks until one client attaches.
	Accept(ctx context.Context) (Conn, error)
	Close() error
	Address() string
}

// Transport creates and attaches to endpoints.
type Transport interface {
	Listen(name string, policy *security.Policy) (Endpoint, error)
	// Open attaches to an existing endpoint without waiting.
	Open(name string) (Conn, error)
	// Wait blocks up to timeout for a free instance of name.
	Wait(ctx context.Context, name string, timeout time.Duration) error
}

// waitPollInterval paces attach attempts inside Wait.
const waitPollInterval = 10 * time.Millisecond

func opError(op, name string, kind, err error) error {
	return &OpError{Op: op, Name: name, Kind: kind, Err: err}
}
