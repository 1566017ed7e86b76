package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"

	"omnidesk-backend/internal/api"
	"omnidesk-backend/internal/api/router"
	"omnidesk-backend/internal/database"
	"omnidesk-backend/internal/env"
	"omnidesk-backend/internal/eventbus"
	"omnidesk-backend/internal/queue"
	"omnidesk-backend/internal/service/ingest"
)

func main() {
	queueManager := queue.NewRequestQueueManager(100, 10)
	db, err := database.NewDatabase()
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}

	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if addr := env.Get(env.EventRedisURL); addr != "" {
		bridge := eventbus.NewBridge(bus, redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: env.Get(env.EventRedisPass),
			DB:       0,
		}))
		go bridge.Run(ctx)
	}

	// Agent replies go through the same pipeline as inbound traffic.
	// No assignment hook here: replies never create contacts.
	pipeline := ingest.New(db, bus)

	server := api.NewAPIServer(
		":81",
		queueManager,
		db,
		bus,
		router.UtilsRoutes("/api/agent/v1"),
		router.AuthRoutes("/api/agent/v1"),
		router.ChannelRoutes("/api/agent/v1"),
		router.InboxRoutes("/api/agent/v1", pipeline),
	)

	go server.Run()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc

	cancel()
	pipeline.Flush()
	queueManager.Shutdown()
}
