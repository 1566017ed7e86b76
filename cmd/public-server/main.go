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
	"omnidesk-backend/internal/channel/whatsapp"
	"omnidesk-backend/internal/database"
	"omnidesk-backend/internal/env"
	"omnidesk-backend/internal/eventbus"
	"omnidesk-backend/internal/queue"
	"omnidesk-backend/internal/service/assignment"
	channelservice "omnidesk-backend/internal/service/channel"
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

	pipeline := ingest.New(db, bus)
	pipeline.SetAssignFunc(assignment.New(db, bus).AutoAssign)

	// A gateway instance can push events over a websocket instead of
	// webhooks. Optional: configured per deployment.
	if wsURL := env.Get(env.WhatsAppGatewayWS); wsURL != "" {
		channels := channelservice.New(db)
		gatewayChannel, err := channels.GetChannelByAPIKey(ctx, env.Get(env.WhatsAppGatewayAPIKey))
		if err != nil {
			log.Fatalf("whatsapp gateway channel: %v", err)
		}
		listener := whatsapp.NewListener(wsURL, gatewayChannel, whatsapp.NewRouter(pipeline, channels))
		go func() {
			if err := listener.Run(ctx); err != nil {
				log.Printf("whatsapp listener stopped: %v", err)
			}
		}()
	}

	server := api.NewAPIServer(
		":82",
		queueManager,
		db,
		bus,
		router.UtilsRoutes("/api/public/v1"),
		router.WidgetRoutes("/api/public/v1", pipeline),
		router.WebhookRoutes("/api/public/v1", pipeline),
	)

	go server.Run()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc

	cancel()
	pipeline.Flush()
	queueManager.Shutdown()
}
