package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"form-relay/internal/config"
	"form-relay/internal/manager"
	"form-relay/internal/metrics"
)

// @title Form Relay
// @version 1.0
// @description Accepts the message form over HTTP and relays submissions to a document store
// @host localhost:3000
// @BasePath /
// @schemes http
func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	mode := flag.String("mode", "", "components to run: all, ingress or relay (overrides config)")
	flag.Parse()

	// Init Metrics
	metrics.Init()

	// Optional .env for local runs
	_ = godotenv.Load()

	// Load Configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *mode != "" {
		cfg.Mode = *mode
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	log.Printf("Configuration loaded (mode %s)", cfg.Mode)

	// Graceful Shutdown Setup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := manager.NewManager(cfg, cfg.Mode)
	if err := m.Start(ctx); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	<-ctx.Done() // Wait for interrupt signal
	log.Println("Shutdown initiated...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	m.ShutdownAll(shutdownCtx)

	log.Println("Graceful shutdown complete")
}
