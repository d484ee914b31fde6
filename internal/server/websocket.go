package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// handleWebsocket streams StatusResponse messages: one on connect, one
// after every engine change and one per statusInterval while connected
// so the elapsed time keeps moving on the client.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel := s.engine.Watch()
	defer cancel()

	var writeMu sync.Mutex
	send := func(resp StatusResponse) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(resp)
	}

	// The read loop only detects the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.statusInterval)
	defer ticker.Stop()

	slog.Debug("Websocket client connected", "remote", r.RemoteAddr)
	for {
		var resp StatusResponse
		select {
		case <-closed:
			slog.Debug("Websocket client disconnected", "remote", r.RemoteAddr)
			return
		case <-r.Context().Done():
			return
		case st, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
					time.Now().Add(2*time.Second))
				return
			}
			resp = s.statusResponse(st)
		case <-ticker.C:
			resp = s.statusResponse(s.engine.Status())
		}
		if err := send(resp); err != nil {
			slog.Debug("Websocket write failed", "error", err)
			return
		}
	}
}
