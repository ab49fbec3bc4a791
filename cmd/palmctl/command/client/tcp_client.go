package client

// tcp_client.go speaks the controller side of the line protocol, for
// poking a running host from the terminal.

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"palmcontroller/pkg/protocol"
)

const maxLineSize = 1 << 20

// ControlClient is a minimal controller connection.
type ControlClient struct {
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
}

// Dial connects to a host at addr (host:port).
func Dial(ctx context.Context, addr string) (*ControlClient, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	return &ControlClient{conn: conn, reader: bufio.NewReaderSize(conn, 64*1024)}, nil
}

func (c *ControlClient) Close() error {
	return c.conn.Close()
}

// Send writes one message as a line.
func (c *ControlClient) Send(msg *protocol.ControlMessage) error {
	line, err := protocol.EncodeLine(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.conn.Write(line)
	return err
}

// ReadLine returns the next raw line without the separator.
func (c *ControlClient) ReadLine(timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}
	var line []byte
	for {
		chunk, isPrefix, err := c.reader.ReadLine()
		if err != nil {
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > maxLineSize {
			return nil, fmt.Errorf("line exceeds %d bytes", maxLineSize)
		}
		if !isPrefix {
			return line, nil
		}
	}
}

// ReadMessage decodes the next line. Malformed lines are returned as errors
// wrapping protocol.ErrMalformedMessage.
func (c *ControlClient) ReadMessage(timeout time.Duration) (*protocol.ControlMessage, error) {
	line, err := c.ReadLine(timeout)
	if err != nil {
		return nil, err
	}
	return protocol.Decode(line)
}

// ErrNoReply is returned when the correlated reply never arrives.
var ErrNoReply = errors.New("no reply before timeout")

// Request sends msg and reads until a response or auth_result carrying the
// same message id arrives. Every other message read on the way is passed to
// onOther, if set.
func (c *ControlClient) Request(msg *protocol.ControlMessage, timeout time.Duration, onOther func(*protocol.ControlMessage)) (*protocol.ControlMessage, error) {
	if err := c.Send(msg); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrNoReply
		}
		reply, err := c.ReadMessage(remaining)
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedMessage) {
				continue
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, ErrNoReply
			}
			return nil, err
		}
		if reply.ID == msg.ID && (reply.Type == protocol.TypeResponse || reply.Type == protocol.TypeAuthResult) {
			return reply, nil
		}
		if onOther != nil {
			onOther(reply)
		}
	}
}

// Pair sends the password and fails unless the host accepts it.
func (c *ControlClient) Pair(password string, timeout time.Duration) (*protocol.AuthResult, error) {
	reply, err := c.Request(protocol.NewAuth(protocol.NewID(), password), timeout, nil)
	if err != nil {
		return nil, err
	}
	// the session manager acks every message, the auth_result follows it
	for reply.Type != protocol.TypeAuthResult {
		if reply, err = c.awaitAuthResult(reply.ID, timeout); err != nil {
			return nil, err
		}
	}
	result, ok := reply.Payload.(*protocol.AuthResult)
	if !ok {
		return nil, fmt.Errorf("unexpected auth_result payload %T", reply.Payload)
	}
	if !result.Success {
		return result, fmt.Errorf("pairing rejected: %s", result.Message)
	}
	return result, nil
}

func (c *ControlClient) awaitAuthResult(id string, timeout time.Duration) (*protocol.ControlMessage, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		reply, err := c.ReadMessage(time.Until(deadline))
		if errors.Is(err, protocol.ErrMalformedMessage) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if reply.ID == id && reply.Type == protocol.TypeAuthResult {
			return reply, nil
		}
	}
	return nil, ErrNoReply
}
