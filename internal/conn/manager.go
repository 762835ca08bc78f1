package conn

import (
	"sync"

	"github.com/ConclaveHQ/conclave/internal/metrics"
	"github.com/ConclaveHQ/conclave/internal/protocol"
)

// Manager tracks connected clients and enforces admission limits.
type Manager struct {
	mu         sync.RWMutex
	clients    map[string]*Client
	maxClients int
}

// NewManager creates a connection manager admitting at most maxClients.
func NewManager(maxClients int) *Manager {
	return &Manager{
		clients:    make(map[string]*Client),
		maxClients: maxClients,
	}
}

// Add admits a client. It fails with MAX_CLIENTS_REACHED when the server
// is full and CLIENT_ID_IN_USE when the ID is already connected.
func (m *Manager) Add(c *Client) *protocol.Error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.clients) >= m.maxClients {
		return protocol.Errorf(protocol.CodeMaxClientsReached,
			"server full: %d clients connected", len(m.clients))
	}
	if _, exists := m.clients[c.ID]; exists {
		return protocol.Errorf(protocol.CodeClientIDInUse,
			"client ID already connected: %s", c.ID)
	}

	m.clients[c.ID] = c
	metrics.ConnectedClients.Set(float64(len(m.clients)))
	return nil
}

// Remove drops a client. Removing an unknown ID is a no-op. Remove is
// idempotent so the disconnect path and the reader teardown can race.
func (m *Manager) Remove(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[clientID]; !ok {
		return
	}
	delete(m.clients, clientID)
	metrics.ConnectedClients.Set(float64(len(m.clients)))
}

// Get returns a connected client by ID.
func (m *Manager) Get(clientID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[clientID]
	return c, ok
}

// Count returns the number of connected clients.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// List returns a snapshot of all connected clients.
func (m *Manager) List() []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	return out
}
