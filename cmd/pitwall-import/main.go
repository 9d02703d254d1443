package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(defaultImportFactories(), os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "pitwall-import:", err)
		cancel()
		os.Exit(1)
	}
}
