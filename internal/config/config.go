package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// WatchConfig configures a dashboard session (`notify watch`).
type WatchConfig struct {
	ServerURL         string // base URL, e.g. http://10.0.0.2:8000
	APIKey            string
	Timeout           time.Duration
	HeartbeatInterval time.Duration
	LogLevel          string
}

// ServerConfig configures the notify daemon (`notify serve`).
type ServerConfig struct {
	Listen   string
	DBPath   string
	LogLevel string

	APIKeyPepper string

	// Messenger delivery.
	PageAccessToken string
	MessengerSend   bool
	GroupRateLimit  int // messages per second per group

	// Router polling (netwatch).
	RouterMap    map[string]string // group name -> RouterOS host
	RouterUser   string
	RouterPass   string
	PollInterval time.Duration
	SpikeWindow  time.Duration

	// Billing.
	BillingHour int // local hour the daily billing cycle runs at
	Timezone    string

	// Admin credentials for mutating endpoints (basic auth).
	AdminUser         string
	AdminPasswordHash string

	// PprofAddr enables the profiling endpoint when non-empty.
	PprofAddr string
}

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultServerListen      = ":8000"
	defaultServerDBPath      = "./notify.db"
	defaultPollInterval      = 30 * time.Second
	defaultSpikeWindow       = 3 * time.Minute
	defaultGroupRateLimit    = 5
	defaultBillingHour       = 8
	defaultTimezone          = "Asia/Manila"
)

// ParseWatchFlags builds a WatchConfig from env defaults and flags.
func ParseWatchFlags(args []string) (WatchConfig, error) {
	cfg := WatchConfig{
		ServerURL:         envOrDefault("NOTIFY_SERVER", ""),
		APIKey:            envOrDefault("NOTIFY_API_KEY", ""),
		Timeout:           30 * time.Second,
		HeartbeatInterval: defaultHeartbeatInterval,
		LogLevel:          envOrDefault("NOTIFY_LOG_LEVEL", "info"),
	}

	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Server base URL (e.g. http://10.0.0.2:8000)")
	fs.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "API key")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	cfg.ServerURL = strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")
	if cfg.ServerURL == "" {
		return cfg, errors.New("missing --server or NOTIFY_SERVER")
	}
	return cfg, nil
}

// ParseServerFlags builds a ServerConfig from env defaults and flags.
func ParseServerFlags(args []string) (ServerConfig, error) {
	cfg := ServerConfig{
		Listen:            envOrDefault("NOTIFY_LISTEN", defaultServerListen),
		DBPath:            envOrDefault("NOTIFY_DB_PATH", defaultServerDBPath),
		LogLevel:          envOrDefault("NOTIFY_LOG_LEVEL", "info"),
		APIKeyPepper:      envOrDefault("NOTIFY_API_KEY_PEPPER", ""),
		PageAccessToken:   envOrDefault("NOTIFY_PAGE_ACCESS_TOKEN", ""),
		MessengerSend:     envBoolOrDefault("NOTIFY_MESSENGER_SEND", true),
		GroupRateLimit:    envIntOrDefault("NOTIFY_GROUP_RATE_LIMIT", defaultGroupRateLimit),
		RouterUser:        envOrDefault("NOTIFY_ROUTER_USER", "admin"),
		RouterPass:        envOrDefault("NOTIFY_ROUTER_PASS", ""),
		PollInterval:      envDurationOrDefault("NOTIFY_POLL_INTERVAL", defaultPollInterval),
		SpikeWindow:       envDurationOrDefault("NOTIFY_SPIKE_WINDOW", defaultSpikeWindow),
		BillingHour:       envIntOrDefault("NOTIFY_BILLING_HOUR", defaultBillingHour),
		Timezone:          envOrDefault("NOTIFY_TZ", defaultTimezone),
		AdminUser:         envOrDefault("NOTIFY_ADMIN_USER", "admin"),
		AdminPasswordHash: envOrDefault("NOTIFY_ADMIN_PASSWORD_HASH", ""),
		PprofAddr:         envOrDefault("NOTIFY_PPROF_ADDR", ""),
	}

	routerMapJSON := envOrDefault("NOTIFY_ROUTER_MAP_JSON", "{}")

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&routerMapJSON, "router-map", routerMapJSON, `Router map JSON, e.g. {"G1":"192.168.4.1"}`)
	fs.BoolVar(&cfg.MessengerSend, "messenger-send", cfg.MessengerSend, "Enable outbound Messenger delivery")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Netwatch poll interval")
	fs.IntVar(&cfg.BillingHour, "billing-hour", cfg.BillingHour, "Local hour (0-23) the daily billing cycle runs")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	routerMap, err := parseRouterMap(routerMapJSON)
	if err != nil {
		return cfg, err
	}
	cfg.RouterMap = routerMap

	if cfg.PollInterval <= 0 {
		return cfg, errors.New("poll interval must be > 0")
	}
	if cfg.SpikeWindow < 0 {
		return cfg, errors.New("spike window must be >= 0")
	}
	if cfg.GroupRateLimit <= 0 {
		return cfg, errors.New("group rate limit must be > 0")
	}
	if cfg.BillingHour < 0 || cfg.BillingHour > 23 {
		return cfg, errors.New("billing hour must be between 0 and 23")
	}
	return cfg, nil
}

func parseRouterMap(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]string{}, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("invalid router map JSON: %w", err)
	}
	out := make(map[string]string, len(m))
	for group, host := range m {
		group = strings.ToUpper(strings.TrimSpace(group))
		host = strings.TrimSpace(host)
		if group == "" || host == "" {
			continue
		}
		out[group] = host
	}
	return out, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBoolOrDefault(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes"
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
