package exchange

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sawpanic/mdcollector/internal/observability"
)

// Frame is one raw inbound message handed to C3 for normalization, tagged
// with the exchange it came from.
type Frame struct {
	Exchange  string
	Data      []byte
	ReceivedAt time.Time
}

// ConnectionConfig bounds C1's reconnect/heartbeat behavior.
type ConnectionConfig struct {
	ConnectTimeout    time.Duration
	MaxReconnects     int // 0 = unlimited
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	HeartbeatInterval time.Duration
	AutoReconnect     bool
}

// DefaultConnectionConfig matches the ambient defaults applyDefaults sets
// in internal/config.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		ConnectTimeout:    10 * time.Second,
		MaxReconnects:     10,
		BackoffInitial:    time.Second,
		BackoffMax:        30 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		AutoReconnect:     true,
	}
}

// Connection owns one upstream WebSocket for one exchange: exactly one read
// pump and one write pump, per spec §5. It multiplexes many stream keys
// through the Multiplexer which mutates the Connection's target URL.
type Connection struct {
	Exchange string

	dialer Dialer
	cfg    ConnectionConfig
	logger zerolog.Logger
	report observability.ErrorReporter
	metrics *observability.MetricsRegistry

	state atomicState

	mu        sync.Mutex
	socket    Socket
	currentURL string
	writeCh   chan writeRequest

	frames chan<- Frame

	stopHeartbeat chan struct{}
	closeOnce     sync.Once
	done          chan struct{}
}

type writeRequest struct {
	data []byte
	errc chan error
}

// NewConnection builds a Connection. frames is the channel C3 reads from;
// Connection never closes it, not even on Disconnect, since the same
// channel is shared by every Connection a Multiplexer rebuilds.
func NewConnection(exchange string, dialer Dialer, cfg ConnectionConfig, logger zerolog.Logger, report observability.ErrorReporter, metrics *observability.MetricsRegistry, frames chan<- Frame) *Connection {
	c := &Connection{
		Exchange: exchange,
		dialer:   dialer,
		cfg:      cfg,
		logger:   logger.With().Str("exchange", exchange).Logger(),
		report:   report,
		metrics:  metrics,
		frames:   frames,
		writeCh:  make(chan writeRequest, 16),
		done:     make(chan struct{}),
	}
	c.state.store(StateDisconnected)
	return c
}

// State returns the current connection state.
func (c *Connection) State() State { return c.state.load() }

// Connect opens the socket at url, transitioning DISCONNECTED->CONNECTING
// and, on success, ->CONNECTED. On failure before open it transitions to
// ERROR and returns the error.
func (c *Connection) Connect(ctx context.Context, url string) error {
	c.state.store(StateConnecting)
	dialCtx := ctx
	var cancel context.CancelFunc
	if c.cfg.ConnectTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	sock, err := c.dialer.Dial(dialCtx, url)
	if err != nil {
		c.state.store(StateError)
		c.reportErr(observability.ErrConnectTimeout, err)
		return err
	}

	c.mu.Lock()
	c.socket = sock
	c.currentURL = url
	c.mu.Unlock()

	c.state.store(StateConnected)
	c.setMetricState()
	c.stopHeartbeat = make(chan struct{})
	go c.readPump(sock)
	go c.writePump(sock)
	if c.cfg.HeartbeatInterval > 0 {
		go c.heartbeatLoop(sock, c.stopHeartbeat)
	}
	return nil
}

// Disconnect gracefully closes the socket with the normal-closure code and
// transitions to DISCONNECTED. It does not trigger a reconnect.
func (c *Connection) Disconnect() error {
	c.closeOnce.Do(func() { close(c.done) })
	c.mu.Lock()
	sock := c.socket
	c.mu.Unlock()
	if sock == nil {
		c.state.store(StateDisconnected)
		return nil
	}
	if c.stopHeartbeat != nil {
		select {
		case <-c.stopHeartbeat:
		default:
			close(c.stopHeartbeat)
		}
	}
	_ = sock.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := sock.Close()
	c.state.store(StateDisconnected)
	c.setMetricState()
	return err
}

// Send writes data on the connection's write pump, serializing all writers
// behind a single goroutine (exactly one write pump per spec §5).
func (c *Connection) Send(data []byte) error {
	errc := make(chan error, 1)
	select {
	case c.writeCh <- writeRequest{data: data, errc: errc}:
	case <-c.done:
		return fmt.Errorf("exchange: connection to %s closed", c.Exchange)
	}
	return <-errc
}

func (c *Connection) writePump(sock Socket) {
	for {
		select {
		case req := <-c.writeCh:
			req.errc <- sock.WriteMessage(websocket.TextMessage, req.data)
		case <-c.done:
			return
		}
	}
}

// readPump is the single per-socket reader required by spec §5. Decoding
// (C3) is pure and may run inline on this goroutine, but here it only
// forwards raw frames — the caller (C8 wiring) hands frames to C3.
func (c *Connection) readPump(sock Socket) {
	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.onAbnormalClose(err)
			return
		}
		select {
		case c.frames <- Frame{Exchange: c.Exchange, Data: data, ReceivedAt: time.Now()}:
		case <-c.done:
			return
		}
	}
}

func (c *Connection) onAbnormalClose(err error) {
	c.reportErr(observability.ErrAbnormalClose, err)
	if !c.cfg.AutoReconnect {
		c.state.store(StateError)
		c.setMetricState()
		return
	}
	if !c.state.cas(StateConnected, StateReconnecting) {
		c.state.cas(StateReconnecting, StateReconnecting)
	}
	c.setMetricState()
	go c.reconnectLoop()
}

// reconnectLoop retries Connect against the last-known URL with exponential
// backoff up to MaxReconnects attempts (0 = unlimited); once exhausted it
// surfaces a fatal error and stays in ERROR.
func (c *Connection) reconnectLoop() {
	delay := c.cfg.BackoffInitial
	attempt := 0
	for {
		select {
		case <-c.done:
			return
		default:
		}
		if c.cfg.MaxReconnects > 0 && attempt >= c.cfg.MaxReconnects {
			c.state.store(StateError)
			c.setMetricState()
			c.reportErr(observability.ErrSocketError, fmt.Errorf("exhausted %d reconnect attempts", attempt))
			return
		}
		attempt++
		if c.metrics != nil {
			c.metrics.ReconnectAttempts.WithLabelValues(c.Exchange).Inc()
		}

		time.Sleep(delay)
		c.mu.Lock()
		url := c.currentURL
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		err := c.Connect(ctx, url)
		cancel()
		if err == nil {
			return
		}
		delay = nextBackoff(delay, c.cfg.BackoffMax)
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := time.Duration(math.Min(float64(current)*2, float64(max)))
	if next <= 0 {
		return max
	}
	return next
}

// heartbeatLoop drives an unsolicited ping at HeartbeatInterval and treats
// the socket as stale — forcing a reconnect — if no ping or pong control
// frame has been observed within two intervals. Only the ping and pong
// handlers refresh the liveness time; data frames read by readPump do not.
func (c *Connection) heartbeatLoop(sock Socket, stop chan struct{}) {
	var lastSeen atomicTime
	lastSeen.store(time.Now())

	sock.SetPongHandler(func(string) error { lastSeen.store(time.Now()); return nil })
	sock.SetPingHandler(func(appData string) error {
		lastSeen.store(time.Now())
		deadline := time.Now().Add(5 * time.Second)
		return sock.WriteControl(websocket.PongMessage, []byte(appData), deadline)
	})

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if time.Since(lastSeen.load()) > 2*c.cfg.HeartbeatInterval {
				c.reportErr(observability.ErrHeartbeatLost, fmt.Errorf("no frame in %s", 2*c.cfg.HeartbeatInterval))
				if c.metrics != nil {
					c.metrics.HeartbeatMisses.WithLabelValues(c.Exchange).Inc()
				}
				_ = sock.Close()
				return
			}
			_ = sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		case <-stop:
			return
		case <-c.done:
			return
		}
	}
}

func (c *Connection) reportErr(class observability.ErrorClass, err error) {
	if c.report == nil {
		return
	}
	c.report.HandleError(observability.NewError("exchange."+c.Exchange, class, err))
}

func (c *Connection) setMetricState() {
	if c.metrics == nil {
		return
	}
	c.metrics.ConnectionState.WithLabelValues(c.Exchange).Set(float64(c.state.load()))
}

// atomicTime is a tiny mutex-guarded time.Time, avoiding an import of
// atomic.Pointer generics for one field.
type atomicTime struct {
	mu sync.RWMutex
	t  time.Time
}

func (a *atomicTime) store(t time.Time) {
	a.mu.Lock()
	a.t = t
	a.mu.Unlock()
}

func (a *atomicTime) load() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.t
}
