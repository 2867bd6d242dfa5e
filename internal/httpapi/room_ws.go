package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleRoomWS streams room state snapshots to the front-end, so the
// UI renders every transition without polling.
func (r *Router) handleRoomWS(w http.ResponseWriter, req *http.Request) {
	id, ctrl, ok := r.roomFromRequest(w, req)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("room ws: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	snapshots, cancel := ctrl.Coordinator().Subscribe()
	defer cancel()

	// Single writer goroutine below; the mutex covers the ping writes
	// racing snapshot writes.
	var connMu sync.Mutex
	writeJSONLocked := func(v any) error {
		connMu.Lock()
		defer connMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(v)
	}

	// Reader only detects the client going away.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pings := time.NewTicker(wsPingInterval)
	defer pings.Stop()

	for {
		select {
		case snap, open := <-snapshots:
			if !open {
				return
			}
			resp := roomStateResponse{RoomID: id, State: snap}
			if dest := ctrl.Destination(); dest != nil {
				resp.Destination = dest.Path()
			}
			if err := writeJSONLocked(map[string]any{"type": "state", "room": resp}); err != nil {
				return
			}
		case <-pings.C:
			connMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			connMu.Unlock()
			if err != nil {
				return
			}
		case <-clientGone:
			return
		}
	}
}
