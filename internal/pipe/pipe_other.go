//go:build !linux && !windows

package pipe

import (
	"context"
	"errors"
	"time"

	"github.com/rbright/samplepipe/internal/security"
)

var errUnsupported = errors.New("message-mode pipes are not supported on this platform")

type unsupportedTransport struct{}

// NewTransport returns a transport whose operations all fail: the unix
// implementation needs SOCK_SEQPACKET, which only Linux provides here.
func NewTransport(int) Transport {
	return unsupportedTransport{}
}

func (unsupportedTransport) Listen(name string, _ *security.Policy) (Endpoint, error) {
	return nil, opError("create", Address(name), nil, errUnsupported)
}

func (unsupportedTransport) Open(name string) (Conn, error) {
	return nil, opError("open", Address(name), nil, errUnsupported)
}

func (unsupportedTransport) Wait(_ context.Context, name string, _ time.Duration) error {
	return opError("wait", Address(name), nil, errUnsupported)
}
