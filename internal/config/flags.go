package config

import (
	"flag"
	"os"
	"time"

	"github.com/zadahmed/everwith-entitlements/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   base URL of the backend API (default from Config)
//	-p string   base URL of the entitlement provider
//	-k string   provider API key
//	-d string   path of the local database file
//	-r int      refresh cooldown in seconds
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-p", "-k", "-d", "-r"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.APIBaseURL, "a", cfg.APIBaseURL, "base URL of the backend API")
	fs.StringVar(&cfg.ProviderBaseURL, "p", cfg.ProviderBaseURL, "base URL of the entitlement provider")
	fs.StringVar(&cfg.ProviderAPIKey, "k", cfg.ProviderAPIKey, "provider API key")
	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "path of the local database file")
	refreshCooldown := fs.Int("r", int(cfg.RefreshCooldown.Seconds()), "refresh cooldown (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.RefreshCooldown = time.Duration(*refreshCooldown) * time.Second
}
