package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// LineSeparator terminates every encoded message on the wire.
const LineSeparator = '\n'

// ErrMalformedMessage wraps every decode failure.
var ErrMalformedMessage = errors.New("malformed control message")

// std-compatible config: escapes control characters inside strings, so an
// encoded message never contains a raw line separator
var codec = sonic.ConfigStd

// timestamp layouts accepted from clients, most specific first
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999", // ISO without zone (Dart local time)
	"2006-01-02 15:04:05",
}

type wireMessage struct {
	MessageID string          `json:"messageId"`
	Type      MessageType     `json:"type"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type wireMessageOut struct {
	MessageID string      `json:"messageId"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload"`
}

// Encode serializes the message to its single-line JSON form (no separator).
func Encode(m *ControlMessage) ([]byte, error) {
	if m == nil {
		return nil, errors.New("encode: nil message")
	}
	var payload any = m.Payload
	if m.Payload == nil {
		payload = Raw{}
	}
	data, err := codec.Marshal(wireMessageOut{
		MessageID: m.ID,
		Type:      m.Type,
		Timestamp: m.Timestamp,
		Payload:   payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", m.Type, err)
	}
	return data, nil
}

// EncodeLine serializes the message and appends the line separator.
func EncodeLine(m *ControlMessage) ([]byte, error) {
	data, err := Encode(m)
	if err != nil {
		return nil, err
	}
	return append(data, LineSeparator), nil
}

// Decode parses one line into a ControlMessage. It never panics; every
// failure is returned wrapped in ErrMalformedMessage.
func Decode(line []byte) (*ControlMessage, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, fmt.Errorf("%w: empty line", ErrMalformedMessage)
	}

	var wire wireMessage
	if err := codec.Unmarshal(line, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if strings.TrimSpace(wire.MessageID) == "" {
		return nil, fmt.Errorf("%w: missing messageId", ErrMalformedMessage)
	}
	if strings.TrimSpace(string(wire.Type)) == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}

	payload, err := decodePayload(wire.Type, wire.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	return &ControlMessage{
		ID:         wire.MessageID,
		Type:       wire.Type,
		Timestamp:  parseTimestamp(wire.Timestamp),
		Payload:    payload,
		RawPayload: wire.Payload,
	}, nil
}

// decodePayload picks the typed shape for t. A payload that does not fit the
// typed shape is kept as Raw: schema checks belong to the capability module.
func decodePayload(t MessageType, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	if typed := newTypedPayload(t); typed != nil {
		if err := codec.Unmarshal(raw, typed); err == nil {
			return typed, nil
		}
	}
	var fields Raw
	if err := codec.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("payload is not an object: %v", err)
	}
	if fields == nil {
		fields = Raw{}
	}
	return fields, nil
}

// parseTimestamp is lenient: a missing or unreadable timestamp yields the
// zero time and never rejects the message.
func parseTimestamp(raw json.RawMessage) time.Time {
	var s string
	if len(raw) == 0 || codec.Unmarshal(raw, &s) != nil || s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return ts
		}
	}
	return time.Time{}
}
