package main

import (
	"flag"
	"fmt"
	"os"

	"ArbRelay/internal/di"
	"ArbRelay/pkg/config"
	"ArbRelay/pkg/server"
)

func main() {
	configPath := flag.String("config", "config/relay.yaml", "config file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("config load failed", err)
	}
	if err := cfg.ValidateRelay(); err != nil {
		fatal("invalid config", err)
	}

	app, err := di.InitializeRelay(cfg)
	if err != nil {
		fatal("relay initialization failed", err)
	}

	if err := server.Run(app); err != nil {
		fatal("relay error", err)
	}
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
