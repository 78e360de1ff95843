package cli

import (
	"fmt"
	"os/exec"
	"strings"
)

func printUsage() {
	fmt.Println(`notify - ISP client notification and monitoring service

Monitors RouterOS netwatch, runs the daily billing cycle, delivers Messenger
notifications, and streams live updates to watch dashboards.

Usage:
  notify serve                          Start the notification server
  notify watch                          Live terminal dashboard (reads NOTIFY_SERVER)
  notify watch --server URL             Dashboard against an explicit server
  notify login --server URL --api-key K Save watch credentials
  notify send --client ID --message M   Send a one-off Messenger message
  notify apikey create --name NAME      Create a new API key
  notify apikey list                    List all API keys
  notify apikey revoke --id=ID          Revoke an API key
  notify version                        Print version
  notify help                           Show this help

Quick Start:
  1. notify serve                                   # start server
  2. notify apikey create --name dashboard           # create API key
  3. notify watch --server http://10.0.0.2:8000 --api-key KEY

Environment Variables:
  NOTIFY_SERVER             Server base URL for watch (e.g. http://10.0.0.2:8000)
  NOTIFY_API_KEY            API key for dashboard authentication
  NOTIFY_LISTEN             Server listen address (default: :8000)
  NOTIFY_DB_PATH            SQLite database path (default: ./notify.db)
  NOTIFY_PAGE_ACCESS_TOKEN  Facebook page access token for Messenger delivery
  NOTIFY_MESSENGER_SEND     Enable outbound delivery (default: true)
  NOTIFY_ROUTER_MAP_JSON    Group-to-router map, e.g. {"G1":"192.168.4.1"}
  NOTIFY_ROUTER_USER        RouterOS REST username (default: admin)
  NOTIFY_ROUTER_PASS        RouterOS REST password
  NOTIFY_BILLING_HOUR       Local hour for the daily billing cycle (default: 8)
  NOTIFY_TZ                 Billing timezone (default: Asia/Manila)
  NOTIFY_ADMIN_USER         Basic auth user for mutating endpoints
  NOTIFY_ADMIN_PASSWORD_HASH  bcrypt hash guarding mutating endpoints
  NOTIFY_LOG_LEVEL          Log level: debug|info|warn|error (default: info)`)
}

// Version is set at build time via -ldflags.
var Version = "dev"

func init() {
	if Version == "dev" {
		if desc, err := exec.Command("git", "describe", "--tags", "--always").Output(); err == nil {
			if v := strings.TrimSpace(string(desc)); v != "" {
				Version = v + "-dev"
			}
		}
	}
	// Normalize: release builds inject the version without the "v" prefix
	// while git-describe keeps it.
	if Version != "dev" && !strings.HasPrefix(Version, "v") {
		Version = "v" + Version
	}
}

func printVersion() {
	fmt.Println("notify", Version)
}
