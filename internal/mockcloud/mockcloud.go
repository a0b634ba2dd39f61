// Package mockcloud is a test-only fake of the cloud's REST identity API and remote-access
// WebSocket endpoint, used by end-to-end tests that exercise the full engine without a real
// cloud deployment.
package mockcloud

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// Config mirrors the pieces of device/credential state the engine's REST calls depend on.
type Config struct {
	// DeviceName is the external identifier resolved by /inventory/managedObjects.
	DeviceName string
	// InternalID is the id returned for DeviceName.
	InternalID string
	// ConfigName is the c8y_RemoteAccessList entry name the engine requests.
	ConfigName string

	// RejectLogin, when set, makes every login attempt fail with 401.
	RejectLogin bool
	// DeviceNotFound, when set, makes device resolution return zero matches.
	DeviceNotFound bool
}

// DefaultConfig returns a Config with a single resolvable device.
func DefaultConfig() Config {
	return Config{
		DeviceName: "test-device",
		InternalID: "12345",
		ConfigName: "PASSTHROUGH",
	}
}

// Server is a fake cloud deployment: one httptest.Server answering both the REST identity API
// and the remote-access WebSocket upgrade for one device.
type Server struct {
	cfg Config
	srv *httptest.Server

	mu       sync.Mutex
	wsHandle func(*websocket.Conn)

	dialCount atomic.Int64
}

// New starts a Server. handler is invoked once per accepted WebSocket connection and owns it
// until it returns; the connection is closed afterward. handler may be replaced at any time
// via SetTunnelHandler to change behavior across reconnects within one test.
func New(cfg Config, handler func(*websocket.Conn)) *Server {
	m := &Server{cfg: cfg, wsHandle: handler}
	up := websocket.Upgrader{}
	mux := http.NewServeMux()

	mux.HandleFunc("/tenant/currentTenant", func(w http.ResponseWriter, r *http.Request) {
		if m.cfg.RejectLogin {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/inventory/managedObjects", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if m.cfg.DeviceNotFound {
			json.NewEncoder(w).Encode(map[string]any{"managedObjects": []any{}})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"managedObjects": []map[string]string{{"id": m.cfg.InternalID, "name": m.cfg.DeviceName}},
		})
	})
	mux.HandleFunc("/inventory/managedObjects/"+cfg.InternalID, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"c8y_RemoteAccessList": []map[string]string{{"name": m.cfg.ConfigName}},
		})
	})
	mux.HandleFunc("/service/remoteaccess/devices/"+cfg.InternalID+"/configurations/"+cfg.ConfigName,
		func(w http.ResponseWriter, r *http.Request) {
			c, err := up.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer c.Close()
			m.dialCount.Add(1)
			m.mu.Lock()
			h := m.wsHandle
			m.mu.Unlock()
			if h != nil {
				h(c)
			}
		})

	m.srv = httptest.NewServer(mux)
	return m
}

// SetTunnelHandler replaces the handler used for subsequent WebSocket connections.
func (m *Server) SetTunnelHandler(h func(*websocket.Conn)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wsHandle = h
}

// DialCount returns how many times the tunnel endpoint has been upgraded.
func (m *Server) DialCount() int64 { return m.dialCount.Load() }

// URL is the fake cloud's base REST URL.
func (m *Server) URL() string { return m.srv.URL }

// Client returns an *http.Client configured against the embedded httptest.Server.
func (m *Server) Client() *http.Client { return m.srv.Client() }

// Close releases the underlying listener.
func (m *Server) Close() { m.srv.Close() }

// EchoHandler is a tunnel handler that writes back every frame it receives unchanged.
func EchoHandler(c *websocket.Conn) {
	for {
		mt, b, err := c.ReadMessage()
		if err != nil {
			return
		}
		if err := c.WriteMessage(mt, b); err != nil {
			return
		}
	}
}
