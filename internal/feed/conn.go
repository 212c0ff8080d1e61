// Package feed maintains the single logical subscription to the upstream
// venue's streaming price feed. It owns the transport lifecycle: connect,
// full resubscribe, heartbeat, death detection, and capped exponential
// backoff reconnects. Parsed ticks leave the package as typed events so the
// business logic never touches transport concerns.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection manages one upstream websocket. All reconnect scheduling runs
// in a single goroutine, so a close-then-error can never arm two concurrent
// reconnects.
type Connection struct {
	url               string
	heartbeatInterval time.Duration
	reconnectBase     time.Duration
	maxReconnects     int

	// dial is injectable for tests; defaults to the gorilla dialer.
	dial func(ctx context.Context, url string) (*websocket.Conn, error)

	events chan Event

	mu      sync.RWMutex
	conn    *websocket.Conn
	symbols map[string]struct{}
	frameID int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options tune the connection. Zero values fall back to the stock defaults:
// 30s heartbeat, 5s backoff base, 5 reconnect attempts.
type Options struct {
	HeartbeatInterval time.Duration
	ReconnectBase     time.Duration
	MaxReconnects     int
	Dial              func(ctx context.Context, url string) (*websocket.Conn, error)
}

// NewConnection creates a connection for url. Start must be called before
// any ticks flow.
func NewConnection(url string, opts Options) *Connection {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = 5 * time.Second
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = 5
	}
	if opts.Dial == nil {
		opts.Dial = func(ctx context.Context, url string) (*websocket.Conn, error) {
			dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
			conn, _, err := dialer.DialContext(ctx, url, nil)
			return conn, err
		}
	}
	return &Connection{
		url:               url,
		heartbeatInterval: opts.HeartbeatInterval,
		reconnectBase:     opts.ReconnectBase,
		maxReconnects:     opts.MaxReconnects,
		dial:              opts.Dial,
		events:            make(chan Event, 256),
		symbols:           make(map[string]struct{}),
	}
}

// Delay returns the reconnect backoff for a given attempt (0-based):
// base * 2^attempt. Attempts at or beyond the cap never reach this — the
// connection goes down instead.
func Delay(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30 // shift guard
	}
	return base * time.Duration(1<<attempt)
}

// Events returns the channel of typed feed events. The channel is closed
// when the connection stops for good (Stop or reconnect cap exceeded).
func (c *Connection) Events() <-chan Event {
	return c.events
}

// Start opens the transport and begins the read/heartbeat/reconnect loops.
func (c *Connection) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop tears the connection down and waits for its goroutines.
func (c *Connection) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.closeConn()
	c.wg.Wait()
}

// Subscribe adds a ticker to the interest set. Idempotent: repeated calls
// for an already-subscribed ticker are no-ops. If the transport is open an
// incremental subscribe frame goes out immediately; otherwise the ticker is
// included in the next full subscribe on reconnect.
func (c *Connection) Subscribe(ticker string) error {
	c.mu.Lock()
	if _, ok := c.symbols[ticker]; ok {
		c.mu.Unlock()
		return nil
	}
	c.symbols[ticker] = struct{}{}
	conn := c.conn
	c.frameID++
	id := c.frameID
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.writeJSON(conn, subscribeFrame{
		Method: "SUBSCRIBE",
		Params: []string{streamName(ticker)},
		ID:     id,
	})
}

// Subscribed reports whether ticker is in the interest set.
func (c *Connection) Subscribed(ticker string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.symbols[ticker]
	return ok
}

func (c *Connection) run(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.events)

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := c.connect(ctx)
		if err == nil {
			// Successful start resets the reconnect counter.
			attempt = 0
			c.emit(ctx, Event{Type: EventConnected})

			hbCtx, stopHeartbeat := context.WithCancel(ctx)
			c.wg.Add(1)
			go c.heartbeat(hbCtx)

			readErr := c.readLoop(ctx)
			stopHeartbeat()
			c.closeConn()
			c.emit(ctx, Event{Type: EventDisconnected, Err: readErr})

			if ctx.Err() != nil {
				return
			}
			err = readErr
		}

		// Error and close route through the same reconnect path.
		if attempt >= c.maxReconnects {
			slog.Error("feed down, reconnect attempts exhausted",
				"url", c.url, "attempts", attempt, "err", err)
			c.emit(ctx, Event{Type: EventDown, Err: err})
			return
		}

		delay := Delay(c.reconnectBase, attempt)
		slog.Warn("feed reconnect scheduled",
			"url", c.url, "attempt", attempt, "delay", delay, "err", err)
		attempt++

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// connect dials and reissues a full subscribe for every ticker of interest.
func (c *Connection) connect(ctx context.Context) error {
	conn, err := c.dial(ctx, c.url)
	if err != nil {
		return err
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.readTimeout()))
	})

	c.mu.Lock()
	c.conn = conn
	params := make([]string, 0, len(c.symbols))
	for ticker := range c.symbols {
		params = append(params, streamName(ticker))
	}
	c.frameID++
	id := c.frameID
	c.mu.Unlock()

	if len(params) > 0 {
		if err := c.writeJSON(conn, subscribeFrame{Method: "SUBSCRIBE", Params: params, ID: id}); err != nil {
			c.closeConn()
			return err
		}
	}

	slog.Info("feed connected", "url", c.url, "symbols", len(params))
	return nil
}

func (c *Connection) readLoop(ctx context.Context) error {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return nil
		}

		conn.SetReadDeadline(time.Now().Add(c.readTimeout()))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		ev, ok, perr := parseFrame(raw)
		if perr != nil {
			// Malformed frames are logged and dropped, never fatal.
			slog.Warn("feed frame dropped", "err", perr)
			continue
		}
		if !ok {
			continue
		}
		c.emit(ctx, ev)
	}
}

// heartbeat sends a liveness ping at a fixed interval while the transport is
// open. A failed ping closes the transport, which kicks the read loop into
// the shared reconnect path.
func (c *Connection) heartbeat(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn == nil {
				return
			}
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				slog.Warn("feed ping failed", "err", err)
				c.closeConn()
				return
			}
		}
	}
}

func (c *Connection) writeJSON(conn *websocket.Conn, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return conn.WriteJSON(v)
}

func (c *Connection) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Connection) readTimeout() time.Duration {
	// Two missed heartbeats count as a dead transport.
	return 2*c.heartbeatInterval + 5*time.Second
}

func (c *Connection) emit(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}
