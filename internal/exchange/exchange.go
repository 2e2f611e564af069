// Package exchange runs the single request/response exchange over a named
// pipe endpoint, as the server that owns it or as the client that attaches.
package exchange

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"syscall"
	"time"

	"github.com/rbright/samplepipe/internal/fsm"
	"github.com/rbright/samplepipe/internal/message"
)

// Result is the outcome of one Run, successful or not.
type Result struct {
	State         fsm.State
	Trace         []fsm.State
	Sent          string
	Received      string
	BytesSent     int
	BytesReceived int
	Chunks        int
	Attempts      int
	Waits         int
	Err           error
	StartedAt     time.Time
	FinishedAt    time.Time
}

// ExitCode maps a run error onto a process exit status: 0 on success, the
// OS error code when one is wrapped, otherwise 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) && errno != 0 {
		return int(errno)
	}
	return 1
}

// lifecycle tracks fsm state for one run and records every state entered.
type lifecycle struct {
	logger *slog.Logger
	role   string
	state  fsm.State
	trace  []fsm.State
}

func newLifecycle(logger *slog.Logger, role string) *lifecycle {
	return &lifecycle{
		logger: logger,
		role:   role,
		state:  fsm.StateDisconnected,
		trace:  []fsm.State{fsm.StateDisconnected},
	}
}

func (l *lifecycle) advance(event fsm.Event) error {
	next, err := fsm.Transition(l.state, event)
	if err != nil {
		return err
	}
	l.logger.Debug("state transition", "role", l.role, "from", l.state, "event", event, "to", next)
	l.state = next
	l.trace = append(l.trace, next)
	return nil
}

// finish closes out result, moving to the closed state on failure.
func (l *lifecycle) finish(result *Result) {
	if result.Err != nil && l.state != fsm.StateClosed {
		_ = l.advance(fsm.EventFail)
	}
	result.State = l.state
	result.Trace = l.trace
	result.FinishedAt = time.Now()

	fields := []any{
		"role", l.role,
		"state", result.State,
		"attempts", result.Attempts,
		"waits", result.Waits,
		"bytes_sent", result.BytesSent,
		"bytes_received", result.BytesReceived,
		"chunks", result.Chunks,
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
	}
	if result.Err != nil {
		l.logger.Error("exchange failed", append(fields, "error", result.Err.Error(), "exit_code", ExitCode(result.Err))...)
		return
	}
	l.logger.Info("exchange complete", fields...)
}

// chunkSize is the read buffer used to drain one message.
func chunkSize(maxUnits int) int {
	return message.MaxBytes(maxUnits)
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

func orNoop(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}

func step(name string, err error) error {
	return fmt.Errorf("%s: %w", name, err)
}
