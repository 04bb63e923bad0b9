// SPDX-License-Identifier: MIT
package transport

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	applog "wakeword/internal/log"
)

// WebSocketTransport broadcasts detection events as JSON to every
// connected WebSocket client. Clients subscribe at /events.
type WebSocketTransport struct {
	addr      string
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan any
	server    *http.Server
	done      chan struct{}
	closeOnce sync.Once
}

// NewWebSocketTransport creates the transport and starts its HTTP server
// on addr. Events sent before any client connects are dropped silently.
func NewWebSocketTransport(addr string) *WebSocketTransport {
	wst := &WebSocketTransport{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Local tooling connects from arbitrary origins.
				return true
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan any, 256),
		done:      make(chan struct{}),
	}

	wst.server = &http.Server{Addr: addr, Handler: wst.Handler()}
	go func() {
		applog.Infof("websocket: serving detection events on %s/events", addr)
		if err := wst.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			applog.Errorf("websocket: server error: %v", err)
		}
	}()
	go wst.handleBroadcasts()

	return wst
}

// Handler returns the HTTP handler serving the /events endpoint. Exposed
// so tests can drive the transport without binding a real port.
func (wst *WebSocketTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", wst.handleEvents)
	return mux
}

func (wst *WebSocketTransport) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Warnf("websocket: upgrade error: %v", err)
		return
	}

	wst.clientsMu.Lock()
	wst.clients[conn] = true
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	applog.Infof("websocket: client connected, total: %d", total)

	// The read pump exists only to observe disconnects; clients are not
	// expected to send anything.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		wst.clientsMu.Lock()
		delete(wst.clients, conn)
		total := len(wst.clients)
		wst.clientsMu.Unlock()
		conn.Close()
		applog.Infof("websocket: client disconnected, total: %d", total)
	}()
}

func (wst *WebSocketTransport) handleBroadcasts() {
	for {
		select {
		case data := <-wst.broadcast:
			wst.clientsMu.Lock()
			for client := range wst.clients {
				if err := client.WriteJSON(data); err != nil {
					applog.Warnf("websocket: dropping client: %v", err)
					client.Close()
					delete(wst.clients, client)
				}
			}
			wst.clientsMu.Unlock()
		case <-wst.done:
			return
		}
	}
}

// Send queues data for broadcast. A full queue drops the event rather
// than blocking the detection path.
func (wst *WebSocketTransport) Send(data any) error {
	select {
	case wst.broadcast <- data:
	default:
		applog.Debugf("websocket: broadcast queue full, event dropped")
	}
	return nil
}

// Close disconnects all clients and shuts down the HTTP server.
// Idempotent.
func (wst *WebSocketTransport) Close() error {
	var err error
	wst.closeOnce.Do(func() {
		applog.Infof("websocket: closing server")
		close(wst.done)

		wst.clientsMu.Lock()
		for client := range wst.clients {
			client.Close()
		}
		wst.clients = make(map[*websocket.Conn]bool)
		wst.clientsMu.Unlock()

		if wst.server != nil {
			if cerr := wst.server.Close(); cerr != nil {
				err = fmt.Errorf("websocket: close server: %w", cerr)
			}
		}
	})
	return err
}

var _ Transport = (*WebSocketTransport)(nil)
