package protocol

import "time"

// volume status payloads carry a human readable time as well
const volumeTimestampLayout = "2006-01-02 15:04:05"

// NewMessage builds a message of any type, stamped with the current time.
func NewMessage(id string, t MessageType, payload Payload) *ControlMessage {
	if payload == nil {
		payload = Raw{}
	}
	return &ControlMessage{
		ID:        id,
		Type:      t,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

func NewMouseControl(id, action string, deltaX, deltaY float64, button string, clicks int) *ControlMessage {
	if button == "" {
		button = "left"
	}
	return NewMessage(id, TypeMouseControl, &MouseControl{
		Action: action,
		DeltaX: deltaX,
		DeltaY: deltaY,
		Button: button,
		Clicks: clicks,
	})
}

func NewKeyboardControl(id, action, keyCode, text string, modifiers []string) *ControlMessage {
	if modifiers == nil {
		modifiers = []string{}
	}
	return NewMessage(id, TypeKeyboardControl, &KeyboardControl{
		Action:    action,
		KeyCode:   keyCode,
		Text:      text,
		Modifiers: modifiers,
	})
}

func NewMediaControl(id, action string) *ControlMessage {
	return NewMessage(id, TypeMediaControl, &MediaControl{Action: action})
}

func NewSystemControl(id, action string) *ControlMessage {
	return NewMessage(id, TypeSystemControl, &SystemControl{Action: action})
}

// NewVolumeStatus reports the host volume level (0.0 - 1.0) and mute state.
func NewVolumeStatus(id string, volume float64, muted bool) *ControlMessage {
	now := time.Now()
	return &ControlMessage{
		ID:        id,
		Type:      TypeVolumeStatus,
		Timestamp: now,
		Payload: &VolumeStatus{
			Volume:    volume,
			Muted:     muted,
			Timestamp: now.Format(volumeTimestampLayout),
		},
	}
}

// NewAuth builds an authentication request; an empty password is omitted.
func NewAuth(id, password string) *ControlMessage {
	return NewMessage(id, TypeAuth, &Auth{Password: password})
}

func NewAuthResult(id string, success bool, message, token string) *ControlMessage {
	return NewMessage(id, TypeAuthResult, &AuthResult{
		Success: success,
		Message: message,
		Token:   token,
	})
}

func NewHeartbeat(id string) *ControlMessage {
	return NewMessage(id, TypeHeartbeat, &Heartbeat{})
}

// NewResponse acknowledges the message identified by id.
func NewResponse(id string, success bool, message string) *ControlMessage {
	return NewMessage(id, TypeResponse, &Response{Success: success, Message: message})
}

// NewHardwareInfo wraps a hardware snapshot produced by a capability module.
func NewHardwareInfo(id string, data any) *ControlMessage {
	return NewMessage(id, TypeHardwareInfo, Raw{"data": data})
}

func NewPerformanceData(id string, data any) *ControlMessage {
	return NewMessage(id, TypePerformanceData, Raw{"data": data})
}
