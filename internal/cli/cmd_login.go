package cli

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/jjnetworks/notify/internal/clientsettings"
)

// runLogin saves the server URL and API key so later `notify watch` runs
// need no flags.
func runLogin(args []string) int {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	var (
		serverURL = fs.String("server", envOr("NOTIFY_SERVER", ""), "server base URL (e.g. http://10.0.0.2:8000)")
		apiKey    = fs.String("api-key", envOr("NOTIFY_API_KEY", ""), "API key")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*serverURL) == "" {
		fmt.Fprintln(os.Stderr, "missing --server")
		return 2
	}

	if err := clientsettings.Save(clientsettings.Settings{ServerURL: *serverURL, APIKey: *apiKey}); err != nil {
		fmt.Fprintln(os.Stderr, "login error:", err)
		return 1
	}
	fmt.Println("saved:", clientsettings.Path())
	return 0
}
