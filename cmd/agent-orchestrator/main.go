package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/dwizi/agent-orchestrator/internal/cli"
	"github.com/dwizi/agent-orchestrator/internal/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.LogLevel()})).
		With("service", "agent-orchestrator")
	if err := cli.NewRoot(logger).ExecuteContext(context.Background()); err != nil {
		logger.Error("command failed", "args", os.Args[1:], "error", err)
		os.Exit(1)
	}
}
