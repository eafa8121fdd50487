package main

import (
	"context"
	"ephemeral-chat/auth"
	"ephemeral-chat/contract"
	httpx "ephemeral-chat/infrastructure/http"
	"ephemeral-chat/infrastructure/relay"
	"ephemeral-chat/infrastructure/storage"
	"ephemeral-chat/internal"
	"ephemeral-chat/repositories"
	"ephemeral-chat/runtime"
	"ephemeral-chat/runtime/workers"
	"ephemeral-chat/services"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/nats-io/nats.go"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until a signal or a server error.
// Returning instead of exiting lets the deferred cleanups run.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	config, err := internal.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Store
	var nc *nats.Conn
	if config.NatsURL != "" {
		nc, err = relay.Dial(config.NatsURL, "ephemeral-chat", log)
		if err != nil {
			return err
		}
		defer nc.Close()
	}
	store, closeStore, err := openStore(config, nc, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. Components
	rooms := repositories.NewRoomRepository(store, log, config.RoomTTL())
	messages := repositories.NewMessageRepository(store, log)
	issuer := auth.NewTokenIssuer(rooms, auth.NewTokenCodec([]byte(config.TokenSecret)), log, config.MaxMembers)
	registry := runtime.NewRegistry(log)
	sup := workers.NewSupervisor(log, config.RestartInterval)

	orchestrator := runtime.NewOrchestrator(
		log, sup, registry, rooms, messages, issuer,
		config.MessageLimits(), config.MaxMembers, config.SubscriberBufferSize,
	)
	orchestrator.AddWorkers(workers.NewStatsReporter(log, registry, orchestrator.DroppedEvents, config.StatsInterval))

	if sweeper, ok := store.(contract.Sweeper); ok {
		orchestrator.AddWorkers(workers.NewExpirySweeper(log, sweeper, config.SweepInterval))
	}

	// 4. Cross-instance relay, only over a store every instance shares
	if config.Relayed() {
		r := relay.NewRelay(nc, registry, log, config.NatsSubjectPrefix)
		orchestrator.UsePublisher(r)
		orchestrator.AddWorkers(r)
	}

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		orchestrator.Start(ctx)
	}()

	// 6. HTTP Server Setup
	handler := httpx.NewHandler(services.NewRoomService(orchestrator), log, config.SSEKeepAlive)
	server := &http.Server{
		Addr:              config.Address(),
		Handler:           httpx.NewRouter(handler, log),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: event streams stay open for the life of the room.
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", server.Addr, "store", config.StoreBackend,
			"room_ttl", config.RoomTTL(), "max_members", config.MaxMembers)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// 7. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		stop()
		<-workersDone
		return err
	}

	// 8. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", "error", err)
	}
	orchestrator.Stop()
	<-workersDone
	log.Info("Program stopped cleanly")

	return nil
}

func openStore(config internal.Config, nc *nats.Conn, log *slog.Logger) (contract.Store, func(), error) {
	switch config.StoreBackend {
	case internal.BackendMemory:
		log.Warn("Using the in-process memory store, rooms are not shared between instances")
		return storage.NewMemoryStore(), func() {}, nil
	case internal.BackendNats:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store, err := storage.OpenNatsStore(ctx, nc, config.NatsKVBucket, config.RoomTTL(), log)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}

	opts := badger.DefaultOptions(config.BadgerFilepath).WithLoggingLevel(badger.WARNING)
	if config.BadgerInMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.WARNING)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("database opening failed: %w", err)
	}
	return storage.NewBadgerStore(db, log), func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}, nil
}
