package tcp

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

type ConnectionManager struct {
	clients map[string]*ClientConnection
	// key: client ID, value: ClientConnection pointer
	mu     sync.RWMutex // read-write mutex, readers are far more common than writers
	closed bool         // set by CloseAllConnections, refuses late registrations
	logger *slog.Logger
}

// constructor for ConnectionManager
func NewConnectionManager(logger *slog.Logger) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionManager{
		clients: make(map[string]*ClientConnection),
		logger:  logger,
	}
}

// reopen accepts registrations again after a shutdown.
func (m *ConnectionManager) reopen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = false
}

// AddConnection registers client. It returns false when the manager has been
// shut down, in which case the caller owns closing the connection.
func (m *ConnectionManager) AddConnection(client *ClientConnection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.clients[client.ID] = client
	m.logger.Info("client_added",
		"client_id", client.ID,
		"remote_addr", client.RemoteAddr(),
		"client_count", len(m.clients),
	)
	return true
}

// RemoveConnection unregisters client if it is still the registered
// connection for its ID, reporting whether anything was removed.
func (m *ConnectionManager) RemoveConnection(client *ClientConnection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.clients[client.ID]; !ok || cur != client {
		return false
	}
	delete(m.clients, client.ID)
	m.logger.Info("client_removed",
		"client_id", client.ID,
		"client_count", len(m.clients),
	)
	return true
}

func (m *ConnectionManager) Get(id string) (*ClientConnection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	return c, ok
}

// Snapshot returns the registered connections at this instant. Sends go
// through the snapshot so no lock is held during network writes.
func (m *ConnectionManager) Snapshot() []*ClientConnection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ClientConnection, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	return out
}

func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

func (m *ConnectionManager) Clients() []ClientInfo {
	snapshot := m.Snapshot()
	out := make([]ClientInfo, 0, len(snapshot))
	for _, c := range snapshot {
		out = append(out, c.Info())
	}
	return out
}

// method to close all connections
func (m *ConnectionManager) CloseAllConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, client := range m.clients {
		client.Close()
		m.logger.Info("client_connection_closed",
			"client_id", id,
		)
	}
	// reset the map, dropping all references
	m.clients = make(map[string]*ClientConnection)
}

// Broadcast writes data to every registered connection concurrently and
// waits for all writes. A failing connection is logged and skipped; its read
// loop notices the broken socket and cleans it up.
func (m *ConnectionManager) Broadcast(data []byte) (sent, failed int) {
	snapshot := m.Snapshot()
	if len(snapshot) == 0 {
		return 0, 0
	}

	var wg sync.WaitGroup
	var okCount, failCount atomic.Int64
	for _, c := range snapshot {
		wg.Add(1)
		go func(c *ClientConnection) {
			defer wg.Done()
			if err := c.Send(data); err != nil {
				failCount.Add(1)
				m.logger.Warn("failed_to_send_broadcast",
					"client_id", c.ID,
					"error", err.Error(),
				)
				return
			}
			okCount.Add(1)
		}(c)
	}
	wg.Wait()
	return int(okCount.Load()), int(failCount.Load())
}
