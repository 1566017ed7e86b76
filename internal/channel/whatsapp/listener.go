package whatsapp

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"omnidesk-backend/internal/model"

	"github.com/gorilla/websocket"
)

const (
	listenerPongWait   = 60 * time.Second
	listenerPingPeriod = (listenerPongWait * 9) / 10
	maxReconnectDelay  = 30 * time.Second
)

// Listener keeps a websocket subscription open against the gateway's
// event socket and feeds every envelope through the Router, as an
// alternative to webhook delivery for deployments where the gateway
// cannot reach us over HTTP.
type Listener struct {
	url     string
	channel model.ChannelItem
	router  *Router
	dialer  *websocket.Dialer
}

func NewListener(url string, channel model.ChannelItem, router *Router) *Listener {
	return &Listener{
		url:     url,
		channel: channel,
		router:  router,
		dialer:  websocket.DefaultDialer,
	}
}

// Run blocks until ctx is cancelled, reconnecting with capped backoff
// whenever the socket drops.
func (l *Listener) Run(ctx context.Context) error {
	delay := time.Second
	for {
		if err := l.runOnce(ctx); err != nil {
			log.Printf("whatsapp: gateway socket %s: %v", l.url, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (l *Listener) runOnce(ctx context.Context) error {
	conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Close the socket when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(listenerPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(listenerPongWait))
		return nil
	})

	go l.pingLoop(ctx, conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var event WebhookEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			log.Printf("whatsapp: bad gateway frame: %v", err)
			continue
		}
		if err := l.router.HandleEvent(ctx, l.channel, event); err != nil {
			log.Printf("whatsapp: handle %s: %v", event.Event, err)
		}
	}
}

func (l *Listener) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(listenerPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
