package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pos-offline-sync/internal/stub"
	"pos-offline-sync/internal/utils"
)

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// remote-stub serves an in-memory remote API for local development
func main() {
	_ = godotenv.Load()
	utils.SetupLogging(getEnvWithDefault("LOG_LEVEL", "info"))

	port := getEnvWithDefault("STUB_PORT", "8091")
	token := getEnvWithDefault("REMOTE_API_TOKEN", "demo-token")

	remote := stub.New(token, stub.DefaultProducts(), nil)
	defer remote.Close()

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           remote,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		slog.Info("Shutting down remote stub...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
	}()

	slog.Info("Remote stub ready", "address", server.Addr, "products", len(stub.DefaultProducts()))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Remote stub failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Remote stub stopped")
}
