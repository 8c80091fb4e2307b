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
	configPath := flag.String("config", "config/agent.yaml", "config file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("config load failed", err)
	}
	if err := cfg.ValidateAgent(); err != nil {
		fatal("invalid config", err)
	}

	app, err := di.InitializeAgent(cfg)
	if err != nil {
		fatal("agent initialization failed", err)
	}

	if err := server.Run(app); err != nil {
		fatal("agent error", err)
	}
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
