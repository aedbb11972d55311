// Package cli is the interactive front end for the entitlement engine:
// sign-in, status, access checks, purchases and gated photo processing.
package cli

import (
	"bufio"
	"context"
	"log"
	"os"

	"github.com/zadahmed/everwith-entitlements/internal/config"
	"github.com/zadahmed/everwith-entitlements/internal/engine"
	"github.com/zadahmed/everwith-entitlements/internal/logging"
	"github.com/zadahmed/everwith-entitlements/internal/provider"

	_ "modernc.org/sqlite"
)

type App struct {
	config *config.Config
	engine *engine.Engine
	reader *bufio.Reader
}

// NewApp builds the engine behind the CLI. With a provider API key
// configured, reads go to the provider's REST API while purchases run
// through the simulated store sheet; without one the whole provider is
// simulated, which keeps the demo self-contained.
func NewApp(c *config.Config, logger logging.Logger) (*App, error) {
	ctx := context.Background()

	store := newSimStore()

	var prov provider.Provider
	if c.ProviderAPIKey != "" {
		prov = provider.NewRESTClient(c.ProviderBaseURL, c.ProviderAPIKey, localAppUserID(), simBridge{store})
	} else {
		prov = newSimProvider(store)
	}

	eng, err := engine.New(ctx, c, logger, prov, store)
	if err != nil {
		log.Printf("error initializing engine: %s", err.Error())
		return nil, err
	}

	return &App{config: c, engine: eng, reader: bufio.NewReader(os.Stdin)}, nil
}

func (a *App) Run(ctx context.Context) {
	defer a.engine.Close()

	a.engine.Start(ctx)
	a.Main(ctx)
}

func (a *App) isLoggedIn() bool {
	return a.engine.SignedIn()
}

// localAppUserID is the anonymous id handed to the provider before sign-in.
func localAppUserID() string {
	host, err := os.Hostname()
	if err != nil {
		return "anonymous"
	}
	return "local-" + host
}
