// Package main runs the single-client pipe server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rbright/samplepipe/internal/app"
	"github.com/rbright/samplepipe/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := app.WithCommand(os.Args[1:], cli.CommandServer)
	os.Exit(app.Execute(ctx, "pipe-server", args, os.Stdout, os.Stderr))
}
