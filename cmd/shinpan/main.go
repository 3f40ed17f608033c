// Command shinpan runs the long-lived match server: the observer HTTP API,
// the SSE event stream, the MCP surface, and the in-process orchestrators.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kifulabs/shinpan"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := shinpan.New(shinpan.WithVersion(version))
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	if err := app.Run(ctx); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}
