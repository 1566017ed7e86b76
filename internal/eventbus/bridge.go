package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const bridgeChannelPrefix = "events:"

type bridgeEnvelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// Bridge relays bus events across processes through redis pub/sub.
// Each publish is mirrored onto a channel named after the topic; remote
// envelopes are dispatched back into the local bus. Envelopes carry the
// origin process id so a relay never loops back into itself.
type Bridge struct {
	bus    *Bus
	client *redis.Client
	origin string
}

func NewBridge(bus *Bus, client *redis.Client) *Bridge {
	br := &Bridge{
		bus:    bus,
		client: client,
		origin: uuid.NewString(),
	}
	bus.SetRelay(br.relay)
	return br
}

func channelName(topic Topic) string {
	return fmt.Sprintf("%s%s:%s", bridgeChannelPrefix, topic.Kind, topic.ID)
}

func parseChannelName(channel string) (Topic, bool) {
	rest, ok := strings.CutPrefix(channel, bridgeChannelPrefix)
	if !ok {
		return Topic{}, false
	}
	kind, id, ok := strings.Cut(rest, ":")
	if !ok || id == "" {
		return Topic{}, false
	}
	switch TopicKind(kind) {
	case TopicOrganization, TopicContact:
		return Topic{Kind: TopicKind(kind), ID: id}, true
	}
	return Topic{}, false
}

func (br *Bridge) relay(topic Topic, event Event) {
	envelope := bridgeEnvelope{
		Origin: br.origin,
		Event:  event,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("eventbus bridge: marshal envelope: %v", err)
		return
	}
	if err := br.client.Publish(context.Background(), channelName(topic), string(data)).Err(); err != nil {
		log.Printf("eventbus bridge: redis publish: %v", err)
	}
}

// Run blocks consuming remote events until ctx is cancelled.
func (br *Bridge) Run(ctx context.Context) {
	sub := br.client.PSubscribe(ctx, bridgeChannelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			topic, valid := parseChannelName(msg.Channel)
			if !valid {
				continue
			}
			var envelope bridgeEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				log.Printf("eventbus bridge: bad envelope on %s: %v", msg.Channel, err)
				continue
			}
			if envelope.Origin == br.origin {
				continue
			}
			br.bus.Dispatch(topic, envelope.Event)
		}
	}
}
