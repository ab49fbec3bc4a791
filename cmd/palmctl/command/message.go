package command

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/bytedance/sonic"

	"palmcontroller/pkg/protocol"
)

// buildMessage turns the --type/--payload flags into a control message with
// the same typed payload the host would decode.
func buildMessage(id, msgType, payload string) (*protocol.ControlMessage, error) {
	if msgType == "" {
		return nil, fmt.Errorf("--type is required")
	}
	if id == "" {
		id = protocol.NewID()
	}
	if payload == "" {
		payload = "{}"
	}
	if !json.Valid([]byte(payload)) {
		return nil, fmt.Errorf("--payload is not valid JSON")
	}

	line, err := sonic.ConfigStd.Marshal(map[string]any{
		"messageId": id,
		"type":      msgType,
		"payload":   json.RawMessage(payload),
	})
	if err != nil {
		return nil, err
	}
	msg, err := protocol.Decode(line)
	if err != nil {
		return nil, err
	}
	msg.Timestamp = time.Now()
	return msg, nil
}

func printMessage(w io.Writer, prefix string, msg *protocol.ControlMessage) {
	if asJSON {
		line, err := protocol.Encode(msg)
		if err == nil {
			fmt.Fprintln(w, string(line))
			return
		}
	}
	payload, _ := sonic.ConfigStd.Marshal(msg.Payload)
	fmt.Fprintf(w, "%s %-16s %s %s\n", prefix, msg.Type, msg.ID, payload)
}
