package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/zadahmed/everwith-entitlements/internal/cli"
	"github.com/zadahmed/everwith-entitlements/internal/config"
	"github.com/zadahmed/everwith-entitlements/internal/logging"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	app, err := cli.NewApp(cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	app.Run(ctx)

}
