package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"palmcontroller/pkg/protocol"
)

const DefaultChannel = "palm:notify"

var ErrEmptyEnvelope = errors.New("envelope carries no message")

// Envelope is what capability modules publish. An empty ClientID means
// every connected controller.
type Envelope struct {
	ClientID string          `json:"clientId,omitempty"`
	Message  json.RawMessage `json:"message"`
}

// NewEnvelope wraps msg for delivery to clientID ("" broadcasts).
func NewEnvelope(clientID string, msg *protocol.ControlMessage) ([]byte, error) {
	data, err := protocol.Encode(msg)
	if err != nil {
		return nil, err
	}
	return sonic.ConfigStd.Marshal(Envelope{ClientID: clientID, Message: data})
}

// DecodeEnvelope parses an envelope and the control message inside it.
func DecodeEnvelope(data []byte) (string, *protocol.ControlMessage, error) {
	var env Envelope
	if err := sonic.ConfigStd.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if len(env.Message) == 0 {
		return "", nil, ErrEmptyEnvelope
	}
	msg, err := protocol.Decode(env.Message)
	if err != nil {
		return "", nil, err
	}
	return env.ClientID, msg, nil
}
