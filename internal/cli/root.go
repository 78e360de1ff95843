package cli

import (
	"context"
	"os/signal"
	"syscall"
)

// Run is the main CLI entry point. It parses args and dispatches to the
// appropriate subcommand, returning a process exit code.
func Run(args []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(args) == 0 {
		return runWatch(ctx, nil)
	}

	switch args[0] {
	case "serve", "server":
		return runServe(ctx, args[1:])
	case "watch":
		return runWatch(ctx, args[1:])
	case "login":
		return runLogin(args[1:])
	case "send":
		return runSend(ctx, args[1:])
	case "apikey":
		return runAPIKeyAdmin(ctx, args[1:])
	case "version", "--version", "-v":
		printVersion()
		return 0
	case "-h", "--help", "help":
		printUsage()
		return 0
	default:
		return runWatch(ctx, args)
	}
}
