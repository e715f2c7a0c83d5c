package orchestrator

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nzbstream/nzbstream/pkg/logger"
)

// wsUpgrader accepts the admin dashboard's live-log connection. Origin
// checking is left permissive since the gate's shared-secret token already
// authorizes the request before it reaches here.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleAdminLogs returns a snapshot of recent log lines for the dashboard's
// initial render, before it switches to the websocket stream for live updates.
func (o *Orchestrator) handleAdminLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(logger.GetHistory())
}

// handleAdminWS upgrades to a websocket and relays every log entry emitted
// from then on, mirroring the teacher's pkg/api/websocket.go live-log view.
func (o *Orchestrator) handleAdminWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("admin websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ch := logger.Broadcast()
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case entry, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
