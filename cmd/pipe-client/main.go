// Package main runs the pipe client: one request, one response.
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

	args := app.WithCommand(os.Args[1:], cli.CommandClient)
	os.Exit(app.Execute(ctx, "pipe-client", args, os.Stdout, os.Stderr))
}
