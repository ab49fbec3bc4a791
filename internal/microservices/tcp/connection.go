package tcp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"palmcontroller/pkg/protocol"
)

// messages are small control frames, anything bigger is a broken or hostile client
const (
	DefaultMaxMessageSize = 1024 * 1024 // 1MB
	DefaultWriteTimeout   = 5 * time.Second
	readChunkSize         = 4096
)

type ClientConnection struct {
	ID          string // unique identifier = key in registry
	ConnectedAt time.Time
	conn        net.Conn
	framer      *lineFramer
	Limiter     *rate.Limiter // nil when rate limiting is disabled

	writeMu      sync.Mutex // one writer at a time, a message is never interleaved
	writer       *bufio.Writer
	writeTimeout time.Duration
	idleTimeout  time.Duration

	closeOnce sync.Once
	closeErr  error
}

// ClientInfo is the read-only view of a connection exposed to callers.
type ClientInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remoteAddr"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// constructor for Connection
func NewClientConnection(conn net.Conn, opts Options) *ClientConnection {
	c := &ClientConnection{
		ID:           uuid.NewString(),
		ConnectedAt:  time.Now(),
		conn:         conn,
		framer:       newLineFramer(opts.MaxMessageSize),
		writer:       bufio.NewWriter(conn),
		writeTimeout: opts.WriteTimeout,
		idleTimeout:  opts.IdleTimeout,
	}
	if opts.RateLimit > 0 {
		// the limiter depletes tokens on Allow and refills over time
		c.Limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst)
	}
	return c
}

func (c *ClientConnection) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (c *ClientConnection) Info() ClientInfo {
	return ClientInfo{ID: c.ID, RemoteAddr: c.RemoteAddr(), ConnectedAt: c.ConnectedAt}
}

// Listen reads the connection in fixed chunks and hands every complete line
// to onLine, in arrival order. It returns when the peer closes the stream or
// the connection fails; a clean close returns nil. onOverflow is called when
// an oversized line had to be dropped.
func (c *ClientConnection) Listen(onLine func(line []byte), onOverflow func()) error {
	buf := make([]byte, readChunkSize)
	for {
		if c.idleTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
		}
		n, err := c.conn.Read(buf)
		if n > 0 {
			lines, overflow := c.framer.Feed(buf[:n])
			if overflow && onOverflow != nil {
				onOverflow()
			}
			for _, line := range lines {
				onLine(line)
			}
		}
		if err != nil {
			if isClosedErr(err) {
				return nil
			}
			return err
		}
	}
}

// isClosedErr reports errors that mean the stream ended normally:
// peer EOF or our own Close during shutdown.
func isClosedErr(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	// On Windows: "wsarecv: An established connection was aborted by the software in your host machine."
	//             "wsarecv: An existing connection was forcibly closed by the remote host."
	msg := err.Error()
	return strings.Contains(msg, "closed network connection") ||
		strings.Contains(msg, "connection was aborted") ||
		strings.Contains(msg, "forcibly closed") ||
		strings.Contains(msg, "connection reset by peer")
}

func isTimeoutErr(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Send writes one frame: data followed by the line separator, then flushes.
// A failed write leaves the buffer empty so the next frame starts clean.
func (c *ClientConnection) Send(data []byte) (err error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	defer func() {
		if err != nil {
			c.writer.Reset(c.conn)
		}
	}()

	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := c.writer.WriteByte(protocol.LineSeparator); err != nil {
		return fmt.Errorf("failed to write separator: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

// SendMessage encodes msg and writes it as a single frame.
func (c *ClientConnection) SendMessage(msg *protocol.ControlMessage) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// method to close the connection, safe to call more than once
func (c *ClientConnection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
