package sse

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"omnidesk-backend/internal/eventbus"
)

const (
	defaultHeartbeatInterval = 25 * time.Second

	// eventBuffer decouples bus publishes from socket writes. A client
	// that falls this far behind is evicted; it re-fetches history on
	// reconnect, which is the streaming contract.
	eventBuffer = 64
)

// Filter decides whether an event is written to this stream. The
// subscription itself is never split per filter; filtering happens just
// before the write.
type Filter func(eventbus.Event) bool

type Options struct {
	HeartbeatInterval time.Duration
	Filter            Filter
}

// OpenStream subscribes to topic and writes framed events to w until
// the client disconnects. It blocks for the lifetime of the stream.
//
// Streaming bypasses the JSON response pipeline, so access-control
// headers are set explicitly on the raw response before the first
// write; the security boundary is the auth check that gated the call,
// not origin restriction.
func OpenStream(w http.ResponseWriter, r *http.Request, bus *eventbus.Bus, topic eventbus.Topic, opts Options) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("sse: response writer does not support flushing")
	}

	interval := opts.HeartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}

	if origin := r.Header.Get("Origin"); origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	events := make(chan eventbus.Event, eventBuffer)
	evicted := make(chan struct{})
	unsubscribe := bus.Subscribe(topic, func(ev eventbus.Event) {
		select {
		case events <- ev:
		default:
			// Client too slow; close rather than silently drop frames.
			select {
			case <-evicted:
			default:
				close(evicted)
			}
		}
	})

	heartbeat := time.NewTicker(interval)

	// Unsubscribe and heartbeat teardown always happen together: a
	// lingering subscription would publish into a dead socket and a
	// leaked ticker never stops.
	defer func() {
		unsubscribe()
		heartbeat.Stop()
		decStreams()
	}()
	incStreams()

	if err := writeFrame(w, flusher, "connected", []byte(`{}`)); err != nil {
		return nil
	}

	for {
		select {
		case <-r.Context().Done():
			return nil
		case <-evicted:
			incEvicted()
			log.Printf("sse: evicting slow stream on %s:%s", topic.Kind, topic.ID)
			return nil
		case ev := <-events:
			if opts.Filter != nil && !opts.Filter(ev) {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("sse: marshal event: %v", err)
				continue
			}
			if err := writeFrame(w, flusher, string(ev.Type), data); err != nil {
				return nil
			}
			addDelivered(1)
		case <-heartbeat.C:
			if err := writeComment(w, flusher, "ping"); err != nil {
				return nil
			}
		}
	}
}

func writeFrame(w http.ResponseWriter, flusher http.Flusher, name string, data []byte) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// writeComment emits a comment-only frame. Clients ignore it; it exists
// to defeat intermediary idle-connection timeouts.
func writeComment(w http.ResponseWriter, flusher http.Flusher, text string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", text); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
