package cli

import (
	"context"
	"flag"
	"fmt"
	"os"

	ilog "github.com/jjnetworks/notify/internal/log"
	"github.com/jjnetworks/notify/internal/messenger"
	"github.com/jjnetworks/notify/internal/store/sqlite"
)

// runSend delivers a one-off Messenger message to a client, bypassing the
// server. Useful for smoke-testing page credentials and templates.
func runSend(ctx context.Context, args []string) int {
	loadEnvFromDotEnv(".env")

	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	var (
		dbPath   = fs.String("db", defaultDBPath(), "sqlite db path")
		clientID = fs.Int64("client", 0, "client id")
		title    = fs.String("title", "MANUAL", "message log title")
		message  = fs.String("message", "", "message text")
		token    = fs.String("token", envOr("NOTIFY_PAGE_ACCESS_TOKEN", ""), "page access token")
		dryRun   = fs.Bool("dry-run", false, "log the message without contacting the Graph API")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *clientID == 0 {
		fmt.Fprintln(os.Stderr, "missing --client")
		return 2
	}
	if *message == "" {
		fmt.Fprintln(os.Stderr, "missing --message")
		return 2
	}

	logger := ilog.New(envOr("NOTIFY_LOG_LEVEL", "info"))

	store, err := sqlite.Open(*dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	if err := store.Migrate(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "db migrate error:", err)
		return 1
	}

	target, err := store.GetClient(ctx, *clientID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "client lookup error:", err)
		return 1
	}

	sender := messenger.NewClient(*token, !*dryRun, logger)
	svc := messenger.NewService(sender, store, logger)
	if err := svc.Deliver(ctx, target, *title, *message); err != nil {
		fmt.Fprintln(os.Stderr, "send error:", err)
		return 1
	}
	fmt.Printf("delivered to %s (client %d)\n", target.Name, target.ID)
	return 0
}
