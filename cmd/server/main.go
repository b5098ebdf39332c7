package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/acme/voice-campaign-control/internal/api"
	"github.com/acme/voice-campaign-control/internal/api/handlers"
	"github.com/acme/voice-campaign-control/internal/app"
	"github.com/acme/voice-campaign-control/internal/telemetry"
)

// The HTTP server and the scheduler run in one process: terminal webhooks
// must release the same in-memory concurrency slots the dialing loop
// acquires.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App.Name)
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		log.Fatalf("failed to ensure kafka topics: %v", err)
	}

	if err := container.RegisterEngineWebhook(ctx); err != nil {
		log.Fatalf("failed to register engine webhook: %v", err)
	}

	go container.Orchestrator().Run(ctx)

	handlerSet := handlers.NewHandlerSet(container)
	server := api.NewServer(container, handlerSet)
	if err := server.Start(ctx); err != nil {
		log.Fatalf("server terminated: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
