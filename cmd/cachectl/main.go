// Command cachectl inspects and maintains a cinder cache directory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var (
	// Version is set during build
	Version = "dev"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
