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
)

// Client attaches to the endpoint, sends one request, and drains one response.
type Client struct {
	Transport pipe.Transport
	Name      string
	MaxUnits  int
	Request   string
	RetryWait time.Duration
	Console   io.Writer
	Logger    *slog.Logger
}

// Run performs connect, set message mode, send, receive, teardown.
func (c Client) Run(ctx context.Context) (result Result) {
	console := orDiscard(c.Console)
	logger := orNoop(c.Logger)
	life := newLifecycle(logger, "client")
	result.StartedAt = time.Now()
	defer life.finish(&result)

	if err := life.advance(fsm.EventStart); err != nil {
		result.Err = err
		return result
	}

	conn, err := c.connect(ctx, life, console, logger, &result)
	if err != nil {
		result.Err = step("connect", err)
		return result
	}
	defer func() { _ = conn.Close() }()

	if err := life.advance(fsm.EventAttach); err != nil {
		result.Err = err
		return result
	}
	fmt.Fprintf(console, "The named pipe %s is now connected.\n", pipe.Address(c.Name))

	if err := conn.SetMessageMode(); err != nil {
		fmt.Fprintf(console, "Setting message mode failed: %v\n", err)
		result.Err = step("set message mode", err)
		return result
	}

	if err := life.advance(fsm.EventExchange); err != nil {
		result.Err = err
		return result
	}

	if err := c.send(conn, console, &result); err != nil {
		result.Err = err
		return result
	}
	if err := c.receive(conn, console, &result); err != nil {
		result.Err = err
		return result
	}

	if err := life.advance(fsm.EventComplete); err != nil {
		result.Err = err
	}
	return result
}

// connect opens the endpoint, waiting up to RetryWait each time every
// instance is busy. Only the busy class is retried; attempts are unbounded.
func (c Client) connect(
	ctx context.Context,
	life *lifecycle,
	console io.Writer,
	logger *slog.Logger,
	result *Result,
) (pipe.Conn, error) {
	for {
		result.Attempts++
		conn, err := c.Transport.Open(c.Name)
		if err == nil {
			return conn, nil
		}
		if !errors.Is(err, pipe.ErrBusy) {
			fmt.Fprintf(console, "Unable to open named pipe: %v\n", err)
			return nil, err
		}

		if err := life.advance(fsm.EventBusy); err != nil {
			return nil, err
		}
		result.Waits++
		logger.Info("all pipe instances busy; waiting", "name", c.Name, "attempt", result.Attempts, "wait_ms", c.RetryWait.Milliseconds())

		if err := c.Transport.Wait(ctx, c.Name, c.RetryWait); err != nil {
			fmt.Fprintf(console, "Could not open named pipe: %v\n", err)
			return nil, err
		}
	}
}

func (c Client) send(conn pipe.Conn, console io.Writer, result *Result) error {
	raw, err := message.Encode(c.Request, c.maxUnits())
	if err != nil {
		fmt.Fprintf(console, "Encoding the request failed: %v\n", err)
		return step("encode request", err)
	}

	n, err := conn.WriteMessage(raw)
	result.BytesSent = n
	if err != nil {
		fmt.Fprintf(console, "Writing the request failed: %v\n", err)
		return step("send", err)
	}
	result.Sent = c.Request
	fmt.Fprintf(console, "Sent %d bytes to server: %s\n", n, c.Request)
	return nil
}

func (c Client) receive(conn pipe.Conn, console io.Writer, result *Result) error {
	maxUnits := c.maxUnits()
	raw, err := message.Receive(conn, chunkSize(maxUnits), message.MaxBytes(maxUnits), func(int) { result.Chunks++ })
	if err != nil {
		fmt.Fprintf(console, "Reading the response failed: %v\n", err)
		return step("receive", err)
	}

	text, err := message.Decode(raw)
	if err != nil {
		fmt.Fprintf(console, "Decoding the response failed: %v\n", err)
		return step("decode response", err)
	}
	result.Received = text
	result.BytesReceived = len(raw)
	fmt.Fprintf(console, "Received %d bytes from server: %s\n", len(raw), text)
	return nil
}

func (c Client) maxUnits() int {
	if c.MaxUnits <= 0 {
		return message.DefaultMaxUnits
	}
	return c.MaxUnits
}
