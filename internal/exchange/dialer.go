package exchange

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// GorillaDialer is the production Dialer, wrapping
// github.com/gorilla/websocket.
type GorillaDialer struct {
	Dialer *websocket.Dialer
}

// NewGorillaDialer builds a GorillaDialer with sane handshake timeouts; the
// caller layers its own connectionTimeout via ctx.
func NewGorillaDialer() *GorillaDialer {
	return &GorillaDialer{Dialer: websocket.DefaultDialer}
}

func (d *GorillaDialer) Dial(ctx context.Context, url string) (Socket, error) {
	conn, _, err := d.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("exchange: dial %s: %w", url, err)
	}
	return conn, nil
}
