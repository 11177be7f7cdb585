package exchange

import (
	"context"
	"time"
)

// Socket is the minimal surface Connection needs from a WebSocket; it is
// satisfied by *websocket.Conn and lets tests inject a fake, per the §9
// "injectable socket factory" redesign note.
type Socket interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	SetPingHandler(h func(appData string) error)
	Close() error
}

// Dialer opens a Socket to url. The production implementation wraps
// gorilla/websocket.DefaultDialer; tests supply a fake.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}
