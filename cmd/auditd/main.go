// Package main runs the audit report service: the credits ledger, the
// report access gate and the curator API.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/R3E-Network/audit_layer/internal/app/runtime"
	"github.com/R3E-Network/audit_layer/internal/config"
)

func main() {
	envFile := flag.String("env", "", "Optional .env file loaded before the environment is decoded")
	checkOnly := flag.Bool("check", false, "Validate configuration and exit")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("Failed to load %s: %v", *envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *checkOnly {
		log.Printf("Configuration OK (backend=%s, addr=%s)", cfg.Database.Backend, cfg.Server.Addr())
		os.Exit(0)
	}

	app, err := runtime.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialise: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := app.Run(ctx)
	if runErr != nil {
		log.Printf("Server stopped: %v", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	if runErr != nil {
		os.Exit(1)
	}
}
