package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"chat-relay/gateway"
	"chat-relay/internal"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the operating system or
// service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// The main function acts as a thin wrapper.
	// Its only responsibility is to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting, so every defer (database close, worker
// drain) executes before the process exits.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()

	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(config.LogLevel)
	ctx := context.Background()

	// 2. Database (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		// Defer ensures the database lock is released and buffers are
		// flushed before the function returns.
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Engine assembly
	historyRepository := repositories.NewHistoryRepository(db, logger)
	stats := observability.NewRelayStats()
	registry := runtime.NewRegistry()

	var moderator *moderation.Moderator
	if config.CensoredWordsPath != "" {
		words, err := moderation.LoadWords(config.CensoredWordsPath)
		if err != nil {
			return exitConfig, fmt.Errorf("loading censored words: %w", err)
		}
		moderator, err = moderation.NewModerator(words, charReplacement)
		if err != nil {
			return exitConfig, fmt.Errorf("building moderator: %w", err)
		}
		logger.Info(fmt.Sprintf("%d censored words loaded", len(words)))
	}

	appendQueue := make(chan repositories.StoredMessage, config.PersistQueueSize)
	engine := runtime.NewEngine(logger, registry, historyRepository,
		appendQueue, moderator, stats, config.HistoryLimit)

	sup := workers.NewSupervisor(logger)
	sup.Add(workers.NewPersistenceWorker(historyRepository, appendQueue, stats, logger))
	sup.Add(workers.NewHeartbeatWorker(logger, config.HeartbeatInterval, stats))

	// 4. Context & Signals
	// NotifyContext captures OS signals and cancels the context to
	// trigger a shutdown.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	supDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supDone)
	}()

	// 5. WebSocket gateway
	gw := gateway.NewGateway(logger, engine, config.ConnectionBufferSize, config.MaxFrameBytes)
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := gateway.CreateServer(address, gw.Handler())

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Relay listening", "address", address)
		if err := server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 6. Wait for Stop or Error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		return exitRuntime, err
	}

	// 7. Graceful Shutdown
	// Active connections get a drain window, then the workers flush the
	// remaining appends.
	logger.Info("Shutting down gracefully...")
	if err := gateway.ShutdownServer(server, config.ShutdownTimeout); err != nil {
		logger.Warn("gateway shutdown incomplete", "error", err)
	}
	sup.Stop()
	<-supDone
	logger.Info("Program stopped cleanly")

	return exitOK, nil
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}

	return options
}
