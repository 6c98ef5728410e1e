package app

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"warden/internal/app/bootstrap"
	"warden/internal/config"
)

// Run boots the engine daemon and blocks until SIGINT or SIGTERM.
func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	log.SetLevel(log.DebugLevel)

	productionFlag := flag.Bool("production", false, "Run in production mode")
	flag.Parse()

	config.SetProductionMode(*productionFlag)
	if *productionFlag {
		log.SetLevel(log.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := bootstrap.Setup(ctx)
	defer rt.Close()

	log.Info("Warden running")
	<-ctx.Done()
	log.Info("Shutdown signal received")
	return nil
}
