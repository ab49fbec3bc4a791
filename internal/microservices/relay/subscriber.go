package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"palmcontroller/pkg/protocol"
)

// Target is the session manager surface the relay delivers into.
type Target interface {
	SendToClient(clientID string, msg *protocol.ControlMessage) error
	Broadcast(msg *protocol.ControlMessage) error
	BroadcastVolumeStatus(level float64, muted bool) error
}

type Subscriber struct {
	client  *redis.Client
	channel string
	target  Target
	logger  *slog.Logger
}

func NewSubscriber(client *redis.Client, channel string, target Target, logger *slog.Logger) *Subscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{client: client, channel: channel, target: target, logger: logger}
}

// Run delivers published envelopes until ctx is done. go-redis reconnects
// the subscription by itself, so Run only fails when the first subscribe does.
func (s *Subscriber) Run(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	// wait for the subscription confirmation before reporting ready
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	s.logger.Info("relay_subscribed", "channel", s.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("relay_stopped", "channel", s.channel)
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			if err := s.Deliver([]byte(m.Payload)); err != nil {
				s.logger.Warn("relay_delivery_failed", "channel", m.Channel, "error", err)
			}
		}
	}
}

// Deliver routes one published envelope to its client or to everyone.
func (s *Subscriber) Deliver(data []byte) error {
	clientID, msg, err := DecodeEnvelope(data)
	if err != nil {
		return err
	}

	switch {
	case clientID != "":
		return s.target.SendToClient(clientID, msg)
	case msg.Type == protocol.TypeVolumeStatus:
		// keep the volume cache in step with what controllers see
		if vol, ok := msg.Payload.(*protocol.VolumeStatus); ok {
			return s.target.BroadcastVolumeStatus(vol.Volume, vol.Muted)
		}
		return s.target.Broadcast(msg)
	default:
		return s.target.Broadcast(msg)
	}
}
