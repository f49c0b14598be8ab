package tcp

import (
	"log/slog"
	"strings"
	"sync"

	"proxysync/internal/crossproxy"
)

// ConnectionManager tracks open connections and the logged-in sessions among
// them. It is the local session registry the cross-proxy handlers act on.
// Register and Unregister run on the host loop; lookups may run anywhere.
type ConnectionManager struct {
	clients map[string]*ClientConnection
	// every open connection, keyed by connection ID
	sessions map[string]*ClientConnection
	// logged-in sessions, keyed by user ID
	servers       map[string]bool
	defaultServer string
	mu            sync.RWMutex // read-write mutex for concurrent access
	logger        *slog.Logger
}

// constructor for ConnectionManager
func NewConnectionManager(servers []string, defaultServer string, logger *slog.Logger) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	known := make(map[string]bool, len(servers))
	for _, s := range servers {
		known[s] = true
	}
	return &ConnectionManager{
		clients:       make(map[string]*ClientConnection),
		sessions:      make(map[string]*ClientConnection),
		servers:       known,
		defaultServer: defaultServer,
		logger:        logger,
	}
}

// method to add a new connection
func (m *ConnectionManager) AddConnection(client *ClientConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[client.connID] = client
	m.logger.Info("client_added",
		"client_id", client.connID,
	)
}

// method to remove a connection
func (m *ConnectionManager) RemoveConnection(client *ClientConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, client.connID)
	m.logger.Info("client_removed",
		"client_id", client.connID,
	)
}

// Register makes client the session for its user ID and returns the session
// it replaced, if any.
func (m *ConnectionManager) Register(client *ClientConnection) *ClientConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.sessions[client.UserID]
	m.sessions[client.UserID] = client
	m.logger.Info("session_registered",
		"client_id", client.connID,
		"session_id", client.UserID,
		"username", client.Username,
	)
	if old == client {
		return nil
	}
	return old
}

// Unregister removes client if it is still the registered session for its
// user ID. It reports whether anything was removed.
func (m *ConnectionManager) Unregister(client *ClientConnection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[client.UserID] != client {
		return false
	}
	delete(m.sessions, client.UserID)
	m.logger.Info("session_unregistered",
		"client_id", client.connID,
		"session_id", client.UserID,
	)
	return true
}

func (m *ConnectionManager) Session(id string) (crossproxy.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return c, true
}

// SessionByName matches display names case-insensitively.
func (m *ConnectionManager) SessionByName(name string) (crossproxy.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.sessions {
		if strings.EqualFold(c.Username, name) {
			return c, true
		}
	}
	return nil, false
}

func (m *ConnectionManager) Sessions() []crossproxy.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]crossproxy.Session, 0, len(m.sessions))
	for _, c := range m.sessions {
		out = append(out, c)
	}
	return out
}

func (m *ConnectionManager) HasServer(name string) bool {
	return m.servers[name]
}

func (m *ConnectionManager) DefaultServer() string {
	return m.defaultServer
}

// SessionCount is the number of logged-in sessions.
func (m *ConnectionManager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// method to close all connections
func (m *ConnectionManager) CloseAllConnections() {
	m.mu.RLock()
	clients := make([]*ClientConnection, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	// closing triggers RemoveConnection from each handler goroutine
	for _, client := range clients {
		client.Close()
		m.logger.Info("client_connection_closed",
			"client_id", client.connID,
		)
	}
}

func (m *ConnectionManager) BroadcastSystemMessage(text string) {
	m.Broadcast(systemFrame(text))
}

func (m *ConnectionManager) Broadcast(msg Message) {
	m.mu.RLock() // use read lock because we are only reading from the map, by that
	// allowing multiple concurrent broadcasts
	defer m.mu.RUnlock()
	for id, c := range m.clients {
		if err := c.Send(msg); err != nil {
			m.logger.Warn("failed_to_send_broadcast",
				"client_id", id,
				"error", err.Error(),
			)
		}
	}
}
