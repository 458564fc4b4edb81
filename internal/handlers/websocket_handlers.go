package handlers

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/sand/netdisk-market-ledger/backend/internal/entities"
)

// Manager tracks websocket subscribers of the reconciliation anomaly feed and
// fans each report out to them.
type Manager struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

func (m *Manager) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return m.upgrader.Upgrade(w, r, nil)
}

func (m *Manager) add(conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[conn] = struct{}{}
}

func (m *Manager) remove(conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, conn)
	conn.Close()
}

// Broadcast pushes a reconciliation report to every connected client.
// Clients that fail to accept the write are dropped.
func (m *Manager) Broadcast(report *entities.ReconciliationReport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for conn := range m.clients {
		if err := conn.WriteJSON(report); err != nil {
			m.logger.Error("Failed to push report to subscriber", "error", err)
			delete(m.clients, conn)
			conn.Close()
		}
	}
}

type WebSocketHandler struct {
	logger  *slog.Logger
	manager *Manager
}

func NewWebSocketHandler(logger *slog.Logger, manager *Manager) *WebSocketHandler {
	return &WebSocketHandler{
		logger:  logger,
		manager: manager,
	}
}

func (h *WebSocketHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws/anomalies", h.HandleConnection)
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.manager.Upgrade(w, r)
	if err != nil {
		h.logger.Error("Error upgrading connection", "error", err)
		return
	}

	h.logger.Info("New anomaly feed subscriber", "remote", conn.RemoteAddr().String())
	h.manager.add(conn)

	// Keep the connection open and detect the client going away.
	for {
		if _, _, readErr := conn.ReadMessage(); readErr != nil {
			h.logger.Info("Anomaly feed subscriber disconnected", "remote", conn.RemoteAddr().String())
			h.manager.remove(conn)
			return
		}
	}
}
