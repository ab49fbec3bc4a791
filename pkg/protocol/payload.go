package protocol

// Payload is the tagged union carried by a ControlMessage. The concrete shape
// is selected by the message type; Raw covers unknown and extension types.
type Payload interface {
	isPayload()
}

// MouseControl drives the host pointer.
// action: "move" | "click" | "scroll"
type MouseControl struct {
	Action string  `json:"action"`
	DeltaX float64 `json:"deltaX"`
	DeltaY float64 `json:"deltaY"`
	Button string  `json:"button"`
	Clicks int     `json:"clicks"`
}

// KeyboardControl injects a key press or a text input.
// action: "key_press" | "text_input"
type KeyboardControl struct {
	Action    string   `json:"action"`
	KeyCode   string   `json:"keyCode,omitempty"`
	Text      string   `json:"text,omitempty"`
	Modifiers []string `json:"modifiers"`
}

// MediaControl carries media key actions, including the volume actions
// ("volume_up", "volume_down", "mute", "get_volume_status", "set_volume:<v>").
type MediaControl struct {
	Action string `json:"action"`
}

type SystemControl struct {
	Action string `json:"action"`
}

// VolumeStatus is pushed by the host whenever the volume changes.
type VolumeStatus struct {
	Volume    float64 `json:"volume"` // 0.0 - 1.0
	Muted     bool    `json:"muted"`
	Timestamp string  `json:"timestamp,omitempty"` // "2006-01-02 15:04:05"
}

type Auth struct {
	Password string `json:"password,omitempty"`
}

// AuthResult answers an auth message once the password has been checked.
type AuthResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Token   string `json:"token,omitempty"`
}

type Heartbeat struct{}

// Response is the best-effort acknowledgment correlated by messageId.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Raw is the generic payload: heterogeneous values keyed by string.
type Raw map[string]any

func (*MouseControl) isPayload()    {}
func (*KeyboardControl) isPayload() {}
func (*MediaControl) isPayload()    {}
func (*SystemControl) isPayload()   {}
func (*VolumeStatus) isPayload()    {}
func (*Auth) isPayload()            {}
func (*AuthResult) isPayload()      {}
func (*Heartbeat) isPayload()       {}
func (*Response) isPayload()        {}
func (Raw) isPayload()              {}

// newTypedPayload returns an empty payload of the shape registered for t,
// or nil when t has no typed shape.
func newTypedPayload(t MessageType) Payload {
	switch t {
	case TypeMouseControl:
		return &MouseControl{}
	case TypeKeyboardControl:
		return &KeyboardControl{}
	case TypeMediaControl:
		return &MediaControl{}
	case TypeSystemControl:
		return &SystemControl{}
	case TypeVolumeStatus:
		return &VolumeStatus{}
	case TypeAuth:
		return &Auth{}
	case TypeAuthResult:
		return &AuthResult{}
	case TypeHeartbeat:
		return &Heartbeat{}
	case TypeResponse:
		return &Response{}
	}
	return nil
}

// String returns the string value stored under key, or "".
func (r Raw) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Float returns the numeric value stored under key.
func (r Raw) Float(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
