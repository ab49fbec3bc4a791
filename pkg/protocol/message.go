// Package protocol defines the control message exchanged between the phone
// client and the host, its newline-delimited JSON wire form and the typed
// payload carried by every well-known message type.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType selects the semantics of a ControlMessage payload.
// New types are additive: a receiver must never fail on a type it does not know.
type MessageType string

const (
	TypeMouseControl    MessageType = "mouse_control"
	TypeKeyboardControl MessageType = "keyboard_control"
	TypeMediaControl    MessageType = "media_control"
	TypeSystemControl   MessageType = "system_control"
	TypeVolumeStatus    MessageType = "volume_status"
	TypeAuth            MessageType = "auth"
	TypeAuthResult      MessageType = "auth_result"
	TypeHeartbeat       MessageType = "heartbeat"
	TypeResponse        MessageType = "response"

	// extension types, interpreted by capability modules only
	TypeFileOperation        MessageType = "file_operation"
	TypeFileListResponse     MessageType = "file_list_response"
	TypeFileDownload         MessageType = "file_download"
	TypeImagePreviewResponse MessageType = "image_preview_response"
	TypeHardwareInfo         MessageType = "hardware_info"
	TypePerformanceData      MessageType = "performance_data"
	TypeFindCursor           MessageType = "find_cursor"
	TypeShutdownDelayed      MessageType = "shutdown_delayed"
	TypeRestartDelayed       MessageType = "restart_delayed"
	TypeLockDelayed          MessageType = "lock_delayed"
	TypeRunCommand           MessageType = "run_command"
)

// Typed reports whether the type has a dedicated payload shape.
// Every other type travels as a Raw payload.
func (t MessageType) Typed() bool {
	switch t {
	case TypeMouseControl, TypeKeyboardControl, TypeMediaControl, TypeSystemControl,
		TypeVolumeStatus, TypeAuth, TypeAuthResult, TypeHeartbeat, TypeResponse:
		return true
	}
	return false
}

func (t MessageType) String() string { return string(t) }

// ControlMessage is the unit of protocol exchange.
type ControlMessage struct {
	ID        string      // messageId, correlates a request with its response
	Type      MessageType // type tag
	Timestamp time.Time   // creation time on the sender clock
	Payload   Payload     // shape depends on Type

	// RawPayload holds the payload bytes exactly as received. It is only set
	// by Decode and lets capability modules read fields the typed shape drops.
	RawPayload json.RawMessage
}

// NewID returns a fresh message id for host generated messages.
func NewID() string {
	return uuid.NewString()
}

// IsAck reports whether the message is a bare acknowledgment, which is never
// answered with another response.
func (m *ControlMessage) IsAck() bool {
	return m.Type == TypeResponse
}

func (m *ControlMessage) String() string {
	return fmt.Sprintf("ControlMessage(id=%s, type=%s, timestamp=%s)",
		m.ID, m.Type, m.Timestamp.Format(time.RFC3339))
}
