package relay

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"palmcontroller/pkg/protocol"
)

// Publisher is the producer side used by capability modules and palmctl.
type Publisher struct {
	client  *redis.Client
	channel string
}

func NewPublisher(client *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{client: client, channel: channel}
}

// Publish sends msg to clientID, or to every controller when clientID is
// empty. It returns the number of relays that received it.
func (p *Publisher) Publish(ctx context.Context, clientID string, msg *protocol.ControlMessage) (int64, error) {
	data, err := NewEnvelope(clientID, msg)
	if err != nil {
		return 0, err
	}
	n, err := p.client.Publish(ctx, p.channel, data).Result()
	if err != nil {
		return 0, fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	return n, nil
}
