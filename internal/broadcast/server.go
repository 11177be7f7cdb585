package broadcast

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades r to a WebSocket, enforcing maxConnections on accept
// and spawning the connection's read/write pumps, per spec §4.6.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	if !hub.admit() {
		http.Error(w, "server at connection capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.admitFailed()
		return
	}

	c := newConnection(conn, hub, hub.cfg.RateLimit.MaxMessagesPerMinute, hub.cfg.SendQueueSize)
	hub.register <- c

	go c.writePump()
	go c.readPump()
}
