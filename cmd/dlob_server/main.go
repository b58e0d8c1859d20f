package main

import (
	"context"
	"dlob_engine/internal/bootstrap"
	"flag"
	"fmt"
	"os"
	"time"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/dlob_server.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("dlob_server version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	app, err := bootstrap.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}

	app.Logger.Info("Starting dlob_server",
		"version", version,
		"markets", len(app.Cfg.Markets),
		"http_port", app.Cfg.Server.HTTPPort,
	)

	eng, err := buildEngine(app.Cfg, app.Logger)
	if err != nil {
		app.Logger.Error("Failed to build engine", "error", err)
		_ = app.Close(context.Background())
		os.Exit(1)
	}

	runErr := app.Run(eng.runners()...)
	eng.close()

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Close(closeCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown: %v\n", err)
	}
	if runErr != nil {
		os.Exit(1)
	}
}
