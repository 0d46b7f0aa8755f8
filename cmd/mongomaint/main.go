// Package main provides the entry point for the mongomaint CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Aman-CERP/mongomaint/cmd/mongomaint/cmd"
)

func main() {
	// SIGINT/SIGTERM cancel the run context. Engines observe cancellation at
	// their suspension points and the checkpoint survives, so the next run
	// resumes where this one stopped.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		os.Exit(1)
	}
}
