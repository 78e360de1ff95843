package cli

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jjnetworks/notify/internal/access"
	"github.com/jjnetworks/notify/internal/billing"
	"github.com/jjnetworks/notify/internal/config"
	"github.com/jjnetworks/notify/internal/debughttp"
	"github.com/jjnetworks/notify/internal/domain"
	ilog "github.com/jjnetworks/notify/internal/log"
	"github.com/jjnetworks/notify/internal/messenger"
	"github.com/jjnetworks/notify/internal/netwatch"
	"github.com/jjnetworks/notify/internal/router"
	"github.com/jjnetworks/notify/internal/server"
	"github.com/jjnetworks/notify/internal/store/sqlite"
)

func runServe(ctx context.Context, args []string) int {
	loadEnvFromDotEnv(".env")

	cfg, err := config.ParseServerFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "serve config error:", err)
		return 2
	}
	logger := ilog.New(cfg.LogLevel)

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	if err := store.Migrate(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "db migrate error:", err)
		return 1
	}

	pepper, err := resolveServerPepper(ctx, store, cfg.APIKeyPepper)
	if err != nil {
		fmt.Fprintln(os.Stderr, "serve config error:", err)
		return 2
	}
	cfg.APIKeyPepper = pepper

	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("unknown timezone, using UTC", "tz", cfg.Timezone)
		tz = time.UTC
	}

	if err := debughttp.StartPprofServer(ctx, cfg.PprofAddr, logger); err != nil {
		fmt.Fprintln(os.Stderr, "pprof error:", err)
		return 1
	}

	// A toggle persisted through /settings/messenger outlives restarts and
	// wins over the configured default.
	sendEnabled := cfg.MessengerSend
	if stored, ok, err := store.GetMessengerSend(ctx); err != nil {
		logger.Warn("messenger toggle lookup failed", "err", err)
	} else if ok {
		sendEnabled = stored
	}

	msgClient := messenger.NewClient(cfg.PageAccessToken, sendEnabled, logger)
	msgSvc := messenger.NewService(msgClient, store, logger)
	queue := messenger.NewQueue(msgSvc, cfg.GroupRateLimit, logger)

	pool := router.NewPool(cfg.RouterMap, cfg.RouterUser, cfg.RouterPass, logger)

	srv := server.New(server.Config{
		Listen:       cfg.Listen,
		Store:        store,
		Deliverer:    msgSvc,
		Messenger:    msgClient,
		Guard:        access.New(cfg.AdminUser, cfg.AdminPasswordHash),
		Logger:       logger,
		APIKeyPepper: cfg.APIKeyPepper,
	})

	engine := billing.NewEngine(billing.Config{
		Store: store,
		RouterFor: func(group string) (billing.RouterControl, bool) {
			return pool.ForGroup(group)
		},
		Deliverer: msgSvc,
		Broadcast: srv,
		Logger:    logger,
		Timezone:  tz,
		Filter:    domain.PrefixPrivate,
	})
	srv.SetBilling(engine)

	go queue.Run(ctx)
	go billing.NewScheduler(engine, cfg.BillingHour, tz, logger).Run(ctx)

	sources := make(map[string]netwatch.Source, len(pool.Groups()))
	for _, group := range pool.Groups() {
		if device, ok := pool.ForGroup(group); ok {
			sources[group] = device
		}
	}
	if len(sources) > 0 {
		poller := netwatch.NewPoller(netwatch.Config{
			Store:        store,
			Sources:      sources,
			Queue:        queue,
			Broadcast:    srv,
			Logger:       logger,
			PollInterval: cfg.PollInterval,
			SpikeWindow:  cfg.SpikeWindow,
		})
		go poller.Run(ctx)
	} else {
		logger.Info("no routers configured, netwatch polling disabled")
	}

	if err := srv.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "server error:", err)
		return 1
	}
	return 0
}

func resolveServerPepper(ctx context.Context, store *sqlite.Store, configured string) (string, error) {
	configured = strings.TrimSpace(configured)
	if configured != "" {
		return store.ResolveServerPepper(ctx, configured)
	}

	current, exists, err := store.GetServerPepper(ctx)
	if err != nil {
		return "", err
	}
	if exists {
		return current, nil
	}
	return store.ResolveServerPepper(ctx, chooseServerPepper())
}

func chooseServerPepper() string {
	machineID := detectMachineID()
	if machineID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte("notify-pepper:" + machineID))
	return hex.EncodeToString(sum[:])
}

func detectMachineID() string {
	for _, p := range []string{
		"/etc/machine-id",
		"/var/lib/dbus/machine-id",
	} {
		if b, err := os.ReadFile(p); err == nil {
			if v := strings.TrimSpace(string(b)); v != "" {
				return v
			}
		}
	}
	return ""
}
