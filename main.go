package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/saharix/chatline/internal/app"
	"github.com/saharix/chatline/internal/config"
)

var (
	configPath = flag.String("config", "config.json", "Path to the config file")
	version    = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("chatline v%s\n", appVersion)
		return
	}

	cfg, created, err := config.Ensure(*configPath)
	if err != nil {
		log.Fatalf("Config: %v", err)
	}
	if created {
		fmt.Printf("Wrote default config to %s. Fill in server.token and profile.user_id, then run again.\n", *configPath)
		return
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Startup: %v", err)
	}
	if err := a.Run(ctx); err != nil {
		log.Fatalf("Run: %v", err)
	}
}
