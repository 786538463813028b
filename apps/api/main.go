package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
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
	"github.com/mahaj/dupahar-sync/pkg/realtime"
	"github.com/mama165/sdk-go/logs"
)

type Config struct {
	Backend   backend.Config
	JWTSecret string        `env:"JWT_SECRET,required=true"`
	TokenTTL  time.Duration `env:"TOKEN_TTL,default=24h"`
	LogLevel  string        `env:"LOG_LEVEL,default=INFO"`
	Host      string        `env:"HOST,default=0.0.0.0"`
	Port      int           `env:"PORT,default=8081"`
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if r.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(w, r)
	})
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

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:           NewRouter(issuer, backends, log),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API listening", "addr", server.Addr)
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

	log.Info("Shutting down API...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// NewRouter mounts every endpoint. Everything but /login requires a token.
func NewRouter(issuer *auth.Issuer, backends *backend.Backends, log *slog.Logger) http.Handler {
	protect := AuthMiddleware(issuer, log)
	mux := http.NewServeMux()
	mux.Handle("/login", CORSMiddleware(LoginHandler(issuer, log)))
	mux.Handle("/history", CORSMiddleware(protect(NewHistoryHandler(realtime.NewMessages(backends.Log), log))))
	mux.Handle("/conversations", CORSMiddleware(protect(ConversationsHandler(realtime.NewIndex(backends.Docs, log), backends.Profiles, log))))
	mux.Handle("/presence", CORSMiddleware(protect(NewPresenceHandler(realtime.NewPresence(backends.Docs), log))))
	mux.Handle("/profile", CORSMiddleware(protect(ProfileHandler(backends.Profiles, log))))
	return mux
}
