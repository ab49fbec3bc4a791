package audit

import "time"

const (
	KindConnected    = "connected"
	KindDisconnected = "disconnected"
	KindMessage      = "message"
)

// SessionEvent is one row of the session audit log.
type SessionEvent struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Kind        string    `gorm:"size:16;not null;index" json:"kind"`
	ClientID    string    `gorm:"size:64;not null;index" json:"clientId"`
	MessageID   string    `gorm:"size:128" json:"messageId,omitempty"`
	MessageType string    `gorm:"size:64" json:"messageType,omitempty"`
	OccurredAt  time.Time `gorm:"not null;index" json:"occurredAt"`
}

func (SessionEvent) TableName() string {
	return "session_events"
}
