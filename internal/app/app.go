package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/rbright/samplepipe/internal/cli"
	"github.com/rbright/samplepipe/internal/config"
	"github.com/rbright/samplepipe/internal/doctor"
	"github.com/rbright/samplepipe/internal/exchange"
	"github.com/rbright/samplepipe/internal/logging"
	"github.com/rbright/samplepipe/internal/message"
	"github.com/rbright/samplepipe/internal/pipe"
	"github.com/rbright/samplepipe/internal/version"
)

// ExitUsage is the sysexits EX_USAGE status for command-line errors. It
// differs from every errno the pipe transport reports, ENOENT included.
const ExitUsage = 64

type Runner struct {
	Binary    string
	Stdout    io.Writer
	Stderr    io.Writer
	Logger    *slog.Logger
	Transport pipe.Transport
}

func Execute(ctx context.Context, binary string, args []string, stdout, stderr io.Writer) int {
	r := Runner{Binary: binary, Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

// WithCommand appends cmd for single-purpose binaries unless args already
// ask for help or version output.
func WithCommand(args []string, cmd cli.Command) []string {
	for _, arg := range args {
		switch arg {
		case "-h", "--help", "--version", "help", "version":
			return args
		}
	}
	return append(slices.Clone(args), string(cmd))
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	binary := r.Binary
	if binary == "" {
		binary = "samplepipe"
	}

	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText(binary))
		return ExitUsage
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText(binary))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String(binary))
		return 0
	}

	cfgLoaded, err := loadConfig(parsed)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	level, _ := config.ParseLogLevel(cfgLoaded.Config.Log.Level)
	logRuntime, err := logging.New(string(parsed.Command), level)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
		"pipe", cfgLoaded.Config.Pipe.Name,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandServer:
		return r.commandServer(ctx, cfgLoaded.Config, logger)
	case cli.CommandClient:
		return r.commandClient(ctx, cfgLoaded.Config, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return ExitUsage
	}
}

// loadConfig loads the config file and applies the --pipe override.
func loadConfig(parsed cli.Parsed) (config.Loaded, error) {
	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		return config.Loaded{}, err
	}
	if parsed.PipeName == "" {
		return cfgLoaded, nil
	}

	cfgLoaded.Config.Pipe.Name = parsed.PipeName
	if _, err := config.Validate(cfgLoaded.Config); err != nil {
		return config.Loaded{}, fmt.Errorf("--pipe: %w", err)
	}
	return cfgLoaded, nil
}

func (r Runner) transport(cfg config.Config) pipe.Transport {
	if r.Transport != nil {
		return r.Transport
	}
	return pipe.NewTransport(message.MaxBytes(cfg.Pipe.MaxMessageUnits))
}

func (r Runner) commandServer(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	server := exchange.Server{
		Transport: r.transport(cfg),
		Name:      cfg.Pipe.Name,
		SDDL:      cfg.Security.SDDL,
		MaxUnits:  cfg.Pipe.MaxMessageUnits,
		Response:  cfg.Server.Response,
		Console:   r.Stdout,
		Logger:    logger,
	}

	result := server.Run(ctx)
	return r.report(result)
}

func (r Runner) commandClient(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	client := exchange.Client{
		Transport: r.transport(cfg),
		Name:      cfg.Pipe.Name,
		MaxUnits:  cfg.Pipe.MaxMessageUnits,
		Request:   cfg.Client.Request,
		RetryWait: cfg.Client.RetryWait(),
		Console:   r.Stdout,
		Logger:    logger,
	}

	result := client.Run(ctx)
	return r.report(result)
}

func (r Runner) report(result exchange.Result) int {
	code := exchange.ExitCode(result.Err)
	if result.Err != nil {
		fmt.Fprintf(r.Stderr, "error: %v (exit code %d)\n", result.Err, code)
	}
	return code
}
