package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mahaj/dupahar-sync/pkg/auth"
	"github.com/mahaj/dupahar-sync/pkg/backend"
	"github.com/mama165/sdk-go/logs"
)

type Config struct {
	Backend       backend.Config
	JWTSecret     string        `env:"JWT_SECRET,required=true"`
	TokenTTL      time.Duration `env:"TOKEN_TTL,default=24h"`
	LogLevel      string        `env:"LOG_LEVEL,default=INFO"`
	Host          string        `env:"HOST,default=0.0.0.0"`
	Port          int           `env:"PORT,default=8080"`
	TypingIdle    time.Duration `env:"TYPING_IDLE,default=2s"`
	WideThreshold int           `env:"WIDE_THRESHOLD,default=600"`
	SendBuffer    int           `env:"SEND_BUFFER,default=256"`
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
	log := logs.GetLoggerFromString(config.LogLevel)

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

	issuer, err := auth.NewIssuer(config.JWTSecret, config.TokenTTL)
	if err != nil {
		return err
	}

	hub := NewHub(backends.Docs, log)
	gw := &Gateway{
		hub:      hub,
		issuer:   issuer,
		backends: backends,
		log:      log,
		config:   config,
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Gateway listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down gateway...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Server shutdown", "error", err)
	}
	hub.CloseAll()
	gw.Wait()
	return nil
}
