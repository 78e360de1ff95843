package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jjnetworks/notify/internal/cache"
	"github.com/jjnetworks/notify/internal/client"
	"github.com/jjnetworks/notify/internal/clientsettings"
	"github.com/jjnetworks/notify/internal/config"
	ilog "github.com/jjnetworks/notify/internal/log"
	"github.com/jjnetworks/notify/internal/notify"
	"github.com/jjnetworks/notify/internal/stream"
)

// watchRedrawInterval is how often the terminal view is repainted.
const watchRedrawInterval = 500 * time.Millisecond

func runWatch(ctx context.Context, args []string) int {
	loadEnvFromDotEnv(".env")

	// Saved login credentials back-fill the env so flags still win.
	if saved, err := clientsettings.Load(); err == nil {
		if os.Getenv("NOTIFY_SERVER") == "" {
			_ = os.Setenv("NOTIFY_SERVER", saved.ServerURL)
		}
		if os.Getenv("NOTIFY_API_KEY") == "" {
			_ = os.Setenv("NOTIFY_API_KEY", saved.APIKey)
		}
	}

	cfg, err := config.ParseWatchFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "watch config error:", err)
		return 2
	}
	logger := ilog.New(cfg.LogLevel)

	api := client.NewAPI(cfg, logger)
	store := cache.New(api.FetchClients, logger)

	clients, err := api.FetchClients(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "initial fetch error:", err)
		return 1
	}
	store.Replace(clients)

	display := client.NewDisplay(Version, cfg.ServerURL)
	notifier := notify.New(notify.DefaultDismissAfter, nil)
	defer notifier.Close()

	wsURL, err := stream.WSURL(cfg.ServerURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "watch config error:", err)
		return 2
	}
	mgr := stream.New(stream.Config{
		URL:               wsURL,
		APIKey:            cfg.APIKey,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, store, stream.Hooks{OnNotify: notifier.Publish}, logger)

	mgr.Start()
	defer mgr.Stop()

	ticker := time.NewTicker(watchRedrawInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return 0
		case <-ticker.C:
			var notePtr *notify.Notification
			if note, ok := notifier.Current(); ok {
				notePtr = &note
			}
			display.Update(string(mgr.State()), store.Snapshot(), notePtr)
		}
	}
}
