package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/mahaj/dupahar-sync/pkg/backend"
	"github.com/mama165/sdk-go/logs"
)

type Config struct {
	Backend  backend.Config
	GroupID  string        `env:"RECONCILER_GROUP_ID,default=mirror-reconciler"`
	Grace    time.Duration `env:"RECONCILER_GRACE,default=3s"`
	LogLevel string        `env:"LOG_LEVEL,default=INFO"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if config.Backend.LogBackend != backend.Scylla {
		return fmt.Errorf("the append feed needs LOG_BACKEND=%s, got %q", backend.Scylla, config.Backend.LogBackend)
	}
	instance := uuid.NewString()
	log := logs.GetLoggerFromString(config.LogLevel).With("instance", instance)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backends, err := backend.Open(ctx, config.Backend, log)
	if err != nil {
		return fmt.Errorf("backends: %w", err)
	}
	defer func() {
		log.Info("Closing backends...")
		_ = backends.Close()
	}()

	consumer := NewConsumer(
		backend.Split(config.Backend.KafkaBrokers), config.Backend.KafkaTopic,
		config.GroupID, "reconciler-"+instance,
		NewReconciler(backends.Docs, log), config.Grace, log,
	)
	defer consumer.Close()

	log.Info("Starting mirror reconciler", "topic", config.Backend.KafkaTopic, "group", config.GroupID)
	return consumer.Consume(ctx)
}
