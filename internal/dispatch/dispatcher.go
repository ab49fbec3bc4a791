// Package dispatch routes decoded controller messages to the capability
// that handles their type, and feeds capability results back to clients
// through the session manager.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"palmcontroller/pkg/protocol"
)

// Sender is the part of the session manager capabilities talk back through.
type Sender interface {
	SendToClient(clientID string, msg *protocol.ControlMessage) error
	Broadcast(msg *protocol.ControlMessage) error
	BroadcastVolumeStatus(level float64, muted bool) error
	SendCurrentVolumeStatus(clientID string) error
}

// Capability handles one family of control messages.
type Capability interface {
	Handle(ctx context.Context, clientID string, msg *protocol.ControlMessage) error
}

// CapabilityFunc adapts a function to a Capability.
type CapabilityFunc func(ctx context.Context, clientID string, msg *protocol.ControlMessage) error

func (f CapabilityFunc) Handle(ctx context.Context, clientID string, msg *protocol.ControlMessage) error {
	return f(ctx, clientID, msg)
}

const DefaultHandleTimeout = 10 * time.Second

// Dispatcher is a session event listener that routes messages by type.
type Dispatcher struct {
	sender  Sender
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.RWMutex
	routes  map[protocol.MessageType]Capability
	pairing *PairingAuth
}

func New(sender Sender, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		sender:  sender,
		logger:  logger,
		timeout: DefaultHandleTimeout,
		routes:  make(map[protocol.MessageType]Capability),
	}
	d.Handle(protocol.TypeHeartbeat, CapabilityFunc(d.heartbeat))
	// acks from the controller need no handling
	d.Handle(protocol.TypeResponse, CapabilityFunc(func(context.Context, string, *protocol.ControlMessage) error { return nil }))
	return d
}

// Handle registers c for messages of type t, replacing any previous route.
func (d *Dispatcher) Handle(t protocol.MessageType, c Capability) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes[t] = c
}

// UsePairing routes auth messages to p and, when p requires a password,
// holds back every other message from clients that have not paired.
func (d *Dispatcher) UsePairing(p *PairingAuth) {
	d.mu.Lock()
	d.pairing = p
	d.mu.Unlock()
	d.Handle(protocol.TypeAuth, p)
}

func (d *Dispatcher) route(t protocol.MessageType) (Capability, *PairingAuth) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.routes[t], d.pairing
}

func (d *Dispatcher) OnClientConnected(clientID string) {
	// a freshly connected controller renders its volume slider from this
	if err := d.sender.SendCurrentVolumeStatus(clientID); err != nil {
		d.logger.Warn("initial_volume_send_failed", "client_id", clientID, "error", err)
	}
}

func (d *Dispatcher) OnClientDisconnected(clientID string) {
	d.mu.RLock()
	pairing := d.pairing
	d.mu.RUnlock()
	if pairing != nil {
		pairing.Forget(clientID)
	}
}

func (d *Dispatcher) OnStatusChanged(status string) {
	d.logger.Info("session_status", "status", status)
}

func (d *Dispatcher) OnMessageReceived(clientID string, msg *protocol.ControlMessage) {
	capability, pairing := d.route(msg.Type)

	if pairing != nil && !pairing.Authenticated(clientID) && !exemptFromPairing(msg.Type) {
		d.logger.Warn("unauthenticated_message_dropped",
			"client_id", clientID,
			"message_type", msg.Type,
		)
		reply := protocol.NewAuthResult(msg.ID, false, "authentication required", "")
		if err := d.sender.SendToClient(clientID, reply); err != nil {
			d.logger.Debug("auth_required_send_failed", "client_id", clientID, "error", err)
		}
		return
	}

	if capability == nil {
		d.logger.Warn("unhandled_message_type",
			"client_id", clientID,
			"message_id", msg.ID,
			"message_type", msg.Type,
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := capability.Handle(ctx, clientID, msg); err != nil {
		d.logger.Error("capability_failed",
			"client_id", clientID,
			"message_id", msg.ID,
			"message_type", msg.Type,
			"error", err,
		)
	}
}

func exemptFromPairing(t protocol.MessageType) bool {
	return t == protocol.TypeAuth || t == protocol.TypeHeartbeat || t == protocol.TypeResponse
}

func (d *Dispatcher) heartbeat(_ context.Context, clientID string, msg *protocol.ControlMessage) error {
	d.logger.Debug("heartbeat", "client_id", clientID, "message_id", msg.ID)
	return nil
}
