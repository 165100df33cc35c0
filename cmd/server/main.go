package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/mama165/sdk-go/logs"

	"chat-relay/auth"
	"chat-relay/infrastructure/ws"
	"chat-relay/internal"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
)

// Exit codes to provide meaningful status to the operating system or
// service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// main is a thin wrapper: call run() and hand the OS its exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting, so deferred cleanup (database close) always
// executes before the process exits.
func run() (int, error) {
	// 1. Configuration & logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	logger := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Storage (BadgerDB + bluge search index)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	blugeWriter, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer func() {
		logger.Info("Closing Bluge...")
		_ = blugeWriter.Close()
	}()

	userRepository := repositories.NewUserRepository(db, blugeWriter, logger)
	messageRepository := repositories.NewMessageRepository(db, logger)

	// 3. Core: presence registry, broadcast, services
	registry := runtime.NewRegistry()
	broadcaster := runtime.NewBroadcaster(logger, registry, config.PresenceBufferSize, config.SinkTimeout)
	locks := runtime.NewMessageLocks()

	messageService := services.NewMessageService(logger, messageRepository, registry, locks, config.DeliveryTimeout)
	directoryService := services.NewDirectoryService(logger, userRepository, messageRepository, registry, config.DeliveryTimeout)

	tokenCodec := auth.NewTokenCodec(config.JWTSecret, config.JWTIssuer, config.AuthTokenDuration)
	verifier := auth.NewVerifier(tokenCodec, userRepository, logger)

	// 4. Supervised background workers
	supervisor := workers.NewSupervisor(logger)
	supervisor.Add(broadcaster)
	supervisor.Add(workers.NewHealthMonitor(logger, registry, config.HealthInterval))
	go supervisor.Run(ctx)

	// 5. Transport
	handler := ws.NewHandler(logger, verifier, registry, broadcaster,
		messageService, directoryService, userRepository, config.ConnectionBufferSize)

	e := echo.New()
	e.HideBanner = true
	handler.RegisterRoutes(e)

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	go func() {
		logger.Info("Server listening", "addr", address)
		if err := e.Start(address); err != nil && err != http.ErrServerClosed {
			logger.Error("Listener stopped", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "err", err)
	}
	supervisor.Stop()

	return exitOK, nil
}
