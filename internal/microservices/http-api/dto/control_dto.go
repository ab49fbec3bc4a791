package dto

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"palmcontroller/internal/microservices/tcp"
	"palmcontroller/pkg/protocol"
)

// SendMessageRequest: a control message pushed by an operator
type SendMessageRequest struct {
	MessageID string          `json:"messageId"`
	Type      string          `json:"type" binding:"required"`
	Payload   json.RawMessage `json:"payload"`
}

// ToMessage runs the request through the wire decoder so the payload gets
// the same typed shape a client message would. A missing id is generated.
func (r SendMessageRequest) ToMessage() (*protocol.ControlMessage, error) {
	if r.MessageID == "" {
		r.MessageID = protocol.NewID()
	}
	line, err := sonic.ConfigStd.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	msg, err := protocol.Decode(line)
	if err != nil {
		return nil, err
	}
	msg.Timestamp = time.Now()
	return msg, nil
}

// VolumeRequest: new volume state to broadcast
type VolumeRequest struct {
	Level *float64 `json:"level" binding:"required"`
	Muted bool     `json:"muted"`
}

// DiscoveryStatus: presence broadcaster counters
type DiscoveryStatus struct {
	Running       bool   `json:"running"`
	Announcements uint64 `json:"announcements"`
	Probes        uint64 `json:"probes"`
}

// StatusResponse: snapshot of the host services
type StatusResponse struct {
	Running   bool             `json:"running"`
	IPAddress string           `json:"ipAddress"`
	Port      int              `json:"port"`
	Clients   int              `json:"clients"`
	Volume    tcp.VolumeState  `json:"volume"`
	Discovery *DiscoveryStatus `json:"discovery,omitempty"`
}

// ClientListResponse: connected controllers
type ClientListResponse struct {
	Clients []tcp.ClientInfo `json:"clients"`
	Total   int              `json:"total"`
}
