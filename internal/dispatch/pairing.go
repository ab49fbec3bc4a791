package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"palmcontroller/internal/middleware/auth"
	"palmcontroller/pkg/protocol"
)

// PairingAuth answers auth messages. With a password hash configured a
// controller must present the matching password before anything else it
// sends is routed; without one every controller is trusted.
type PairingAuth struct {
	passwordHash string
	tokens       *auth.TokenService // nil: no token in auth_result
	sender       Sender
	logger       *slog.Logger

	mu     sync.RWMutex
	paired map[string]bool
}

func NewPairingAuth(passwordHash string, tokens *auth.TokenService, sender Sender, logger *slog.Logger) *PairingAuth {
	if logger == nil {
		logger = slog.Default()
	}
	return &PairingAuth{
		passwordHash: passwordHash,
		tokens:       tokens,
		sender:       sender,
		logger:       logger,
		paired:       make(map[string]bool),
	}
}

func (p *PairingAuth) Required() bool {
	return p.passwordHash != ""
}

func (p *PairingAuth) Authenticated(clientID string) bool {
	if !p.Required() {
		return true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paired[clientID]
}

// Forget drops the pairing of a disconnected client.
func (p *PairingAuth) Forget(clientID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.paired, clientID)
}

func (p *PairingAuth) Handle(_ context.Context, clientID string, msg *protocol.ControlMessage) error {
	password := ""
	switch payload := msg.Payload.(type) {
	case *protocol.Auth:
		password = payload.Password
	case protocol.Raw:
		password = payload.String("password")
	}

	if p.Required() {
		if err := auth.VerifyPassword(p.passwordHash, password); err != nil {
			p.logger.Warn("pairing_failed", "client_id", clientID, "error", err)
			reason := "invalid password"
			if !errors.Is(err, auth.ErrPasswordMismatch) {
				reason = "authentication unavailable"
			}
			return p.sender.SendToClient(clientID, protocol.NewAuthResult(msg.ID, false, reason, ""))
		}
		p.mu.Lock()
		p.paired[clientID] = true
		p.mu.Unlock()
	}

	token := ""
	if p.tokens != nil {
		var err error
		if token, err = p.tokens.Issue(clientID, auth.ScopeController); err != nil {
			p.logger.Error("pairing_token_failed", "client_id", clientID, "error", err)
		}
	}
	p.logger.Info("client_paired", "client_id", clientID, "password_required", p.Required())
	return p.sender.SendToClient(clientID, protocol.NewAuthResult(msg.ID, true, "", token))
}
