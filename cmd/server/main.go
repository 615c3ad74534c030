package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"hr-messenger/auth"
	httpserver "hr-messenger/infrastructure/http/server"
	"hr-messenger/infrastructure/storage"
	wsserver "hr-messenger/infrastructure/ws/server"
	"hr-messenger/observability"
	"hr-messenger/runtime"
	"hr-messenger/runtime/workers"
	"hr-messenger/services"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until SIGINT/SIGTERM. Deferred cleanups run before main exits.
func run() error {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repository, closeStore, err := openStore(ctx, config, log)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	tokens := auth.NewTokens(config.AuthSecret)
	if !tokens.Enabled() {
		log.Warn("AUTH_SECRET is empty, identities are not verified")
	}

	rooms := runtime.NewRegistry()
	service := services.NewChatService(log, repository, rooms, metrics, config.MaxContentLength, config.SinkTimeout)
	gateway := wsserver.NewGateway(log, service, tokens, wsserver.Config{
		BufferSize:     config.ConnectionBufferSize,
		SendTimeout:    config.SendTimeout,
		WriteWait:      config.WriteWait,
		PongWait:       config.PongWait,
		MaxFrameSize:   config.MaxFrameSize,
		MaxTextLength:  config.MaxContentLength,
		AllowedOrigins: config.Origins(),
	})
	router := httpserver.NewRouter(httpserver.RouterConfig{
		AllowedOrigins: config.Origins(),
		GinMode:        config.GinMode,
	}, log, service, tokens, metrics, registry, gateway)

	address := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	server := &http.Server{Addr: address, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	supervisor := workers.NewSupervisor(log, config.RestartInterval)
	supervisor.Add(
		workers.NewHTTPServerWorker(log, server, config.ShutdownTimeout),
		workers.NewPresenceReporter(log, rooms, metrics, config.StatsInterval),
	)

	log.Info("Starting server", "address", address, "store", config.StoreDriver, "auth", tokens.Enabled())
	supervisor.Run(ctx)
	// Realtime connections outlive the HTTP server and must be gone before the store closes.
	gateway.Close()
	log.Info("Program stopped cleanly")
	return nil
}

// openStore builds the message store selected by STORE_DRIVER and returns its cleanup.
func openStore(ctx context.Context, config Config, log *slog.Logger) (storage.IMessageRepository, func(), error) {
	clock := storage.NewClock(nil)

	switch config.StoreDriver {
	case "badger":
		db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).WithLoggingLevel(badger.WARNING))
		if err != nil {
			return nil, nil, fmt.Errorf("database opening failed: %w", err)
		}
		repository, err := storage.NewMessageRepository(db, log, clock)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return repository, func() {
			log.Info("Closing BadgerDB...")
			closeQuietly(log, repository)
			closeQuietly(log, db)
		}, nil

	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(config.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("mongo connection failed: %w", err)
		}
		if err := client.Ping(connectCtx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("mongo ping failed: %w", err)
		}
		coll := client.Database(config.MongoDatabase).Collection(config.MongoCollection)
		repository := storage.NewMongoMessageRepository(coll, log, clock)
		if err := repository.EnsureIndexes(connectCtx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("mongo indexes: %w", err)
		}
		return repository, func() {
			log.Info("Disconnecting MongoDB...")
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(disconnectCtx); err != nil {
				log.Warn("Mongo disconnect failed", "error", err)
			}
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", config.StoreDriver)
	}
}

func closeQuietly(log *slog.Logger, c io.Closer) {
	if err := c.Close(); err != nil {
		log.Warn("Close failed", "error", err)
	}
}
