// kioskd is the unattended checkpoint kiosk daemon: it owns the scan
// pipeline (keyboard wedge, camera, manual entry), drives the workflow state
// machine against the remote checkpoint service, and exposes the kiosk HTTP
// API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gatekeeper/internal/config"
	"gatekeeper/internal/daemon"
	"gatekeeper/internal/log"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("kioskd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	path := strings.TrimSpace(*configPath)
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "kioskd: %v\n", err)
		os.Exit(1)
	}

	log.Configure(log.Config{Level: cfg.LogLevel, Service: "kioskd"})
	logger := log.WithComponent("main")
	logger.Info().
		Str(log.FieldEvent, "daemon.starting").
		Str("version", version).
		Str("listen", cfg.Listen).
		Msg("starting kiosk daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	holder := config.NewHolder(cfg, loader, path)
	app := daemon.New(holder)
	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "daemon.failed").Msg("daemon exited with error")
		os.Exit(1)
	}
}
