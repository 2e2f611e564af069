package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/rbright/samplepipe/internal/fsm"
	"github.com/rbright/samplepipe/internal/message"
	"github.com/rbright/samplepipe/internal/pipe"
	"github.com/rbright/samplepipe/internal/security"
)

// Server creates the endpoint, serves exactly one client, and tears down.
type Server struct {
	Transport pipe.Transport
	Name      string
	SDDL      string
	MaxUnits  int
	Response  string
	Console   io.Writer
	Logger    *slog.Logger
}

// Run performs create, accept, receive, send, flush+disconnect, teardown.
// The policy and endpoint are released exactly once on every path.
func (s Server) Run(ctx context.Context) (result Result) {
	console := orDiscard(s.Console)
	logger := orNoop(s.Logger)
	life := newLifecycle(logger, "server")
	result.StartedAt = time.Now()
	defer life.finish(&result)

	policy, err := security.New(s.SDDL)
	if err != nil {
		fmt.Fprintf(console, "Creating pipe security failed: %v\n", err)
		result.Err = step("create pipe security", err)
		return result
	}

	var endpoint pipe.Endpoint
	defer func() {
		if err := teardown(policy, endpoint); err != nil {
			logger.Error("teardown failed", "error", err.Error())
			if result.Err == nil {
				result.Err = step("teardown", err)
			}
		}
	}()

	if err := life.advance(fsm.EventStart); err != nil {
		result.Err = err
		return result
	}

	endpoint, err = s.Transport.Listen(s.Name, policy)
	if err != nil {
		fmt.Fprintf(console, "Creating named pipe failed: %v\n", err)
		result.Err = step("create endpoint", err)
		return result
	}
	logger.Info("endpoint created", "address", endpoint.Address(), "sddl", policy.SDDL())
	fmt.Fprintf(console, "The named pipe (%s) has been successfully created.\n", endpoint.Address())
	fmt.Fprintln(console, "Waiting for the client to connect.")

	conn, err := endpoint.Accept(ctx)
	if err != nil {
		fmt.Fprintf(console, "Waiting for a client failed: %v\n", err)
		result.Err = step("await connection", err)
		return result
	}
	defer func() { _ = conn.Close() }()

	if err := life.advance(fsm.EventAttach); err != nil {
		result.Err = err
		return result
	}
	fmt.Fprintln(console, "Client is connected.")

	if err := life.advance(fsm.EventExchange); err != nil {
		result.Err = err
		return result
	}

	if err := s.receive(conn, console, &result); err != nil {
		result.Err = err
		return result
	}
	if err := s.send(conn, console, &result); err != nil {
		result.Err = err
		return result
	}

	if err := conn.Flush(ctx); err != nil {
		fmt.Fprintf(console, "Flushing the pipe failed: %v\n", err)
		result.Err = step("flush", err)
		return result
	}
	if err := conn.Disconnect(); err != nil {
		fmt.Fprintf(console, "Disconnecting the client failed: %v\n", err)
		result.Err = step("disconnect", err)
		return result
	}

	if err := life.advance(fsm.EventComplete); err != nil {
		result.Err = err
	}
	return result
}

func (s Server) receive(conn pipe.Conn, console io.Writer, result *Result) error {
	maxUnits := s.maxUnits()
	raw, err := message.Receive(conn, chunkSize(maxUnits), message.MaxBytes(maxUnits), func(int) { result.Chunks++ })
	if err != nil {
		fmt.Fprintf(console, "Reading the request failed: %v\n", err)
		return step("receive", err)
	}

	text, err := message.Decode(raw)
	if err != nil {
		fmt.Fprintf(console, "Decoding the request failed: %v\n", err)
		return step("decode request", err)
	}
	result.Received = text
	result.BytesReceived = len(raw)
	fmt.Fprintf(console, "Received %d bytes from client: %s\n", len(raw), text)
	return nil
}

func (s Server) send(conn pipe.Conn, console io.Writer, result *Result) error {
	raw, err := message.Encode(s.Response, s.maxUnits())
	if err != nil {
		fmt.Fprintf(console, "Encoding the response failed: %v\n", err)
		return step("encode response", err)
	}

	n, err := conn.WriteMessage(raw)
	result.BytesSent = n
	if err != nil {
		fmt.Fprintf(console, "Writing the response failed: %v\n", err)
		return step("send", err)
	}
	result.Sent = s.Response
	fmt.Fprintf(console, "Sent %d bytes to client: %s\n", n, s.Response)
	return nil
}

func (s Server) maxUnits() int {
	if s.MaxUnits <= 0 {
		return message.DefaultMaxUnits
	}
	return s.MaxUnits
}

// teardown releases the policy, then the endpoint. Either may be absent
// when setup failed early.
func teardown(policy *security.Policy, endpoint pipe.Endpoint) error {
	var errs []error
	if policy != nil {
		errs = append(errs, policy.Release())
	}
	if endpoint != nil {
		errs = append(errs, endpoint.Close())
	}
	return errors.Join(errs...)
}
