// Package transport owns the websocket substrate of the agent protocol:
// endpoint URL construction, dialing, framed reads/writes, keepalive and
// close-code classification. Exactly one component above it (the session)
// is allowed to hold a Conn.
package transport

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Conn is one established, ordered, reliable message stream.
type Conn interface {
	// ReadMessage blocks until the next text frame or a terminal error.
	ReadMessage() ([]byte, error)
	// WriteMessage sends one text frame. Safe for concurrent use.
	WriteMessage(data []byte) error
	// Close performs a best-effort close handshake and releases the
	// underlying socket. Idempotent.
	Close() error
}

// Dialer establishes connections. The websocket implementation is the
// production one; tests substitute their own.
type Dialer interface {
	DialContext(ctx context.Context, rawURL string) (Conn, error)
}

// BuildURL derives the per-conversation endpoint URL: the conversation id
// is appended to the endpoint path and the bearer token travels as a query
// credential, with the optional document id alongside it.
func BuildURL(endpoint, conversationID, documentID, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Wrap(err, "invalid endpoint")
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + url.PathEscape(conversationID)
	q := u.Query()
	q.Set("token", token)
	if documentID != "" {
		q.Set("document_id", documentID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// WebsocketDialer dials with gorilla/websocket and wraps the result with
// write serialization and optional ping keepalive.
type WebsocketDialer struct {
	// HandshakeTimeout bounds the dial; zero means the gorilla default.
	HandshakeTimeout time.Duration
	// PingInterval enables keepalive pings when non-zero. The read
	// deadline is extended on every pong.
	PingInterval time.Duration
	// PongWait is how long past a ping a pong may take before the read
	// loop fails. Only used when PingInterval is set; defaults to twice
	// the ping interval.
	PongWait time.Duration

	Logger zerolog.Logger
}

func (d *WebsocketDialer) DialContext(ctx context.Context, rawURL string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
		Proxy:            websocket.DefaultDialer.Proxy,
	}
	ws, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "websocket dial failed with status %d", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "websocket dial failed")
	}
	c := &wsConn{ws: ws, done: make(chan struct{}), logger: d.Logger}
	if d.PingInterval > 0 {
		pongWait := d.PongWait
		if pongWait <= 0 {
			pongWait = 2 * d.PingInterval
		}
		c.startKeepalive(d.PingInterval, pongWait)
	}
	return c, nil
}

type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
	logger  zerolog.Logger
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		// Binary frames are not part of the protocol; skip them.
		if kind != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) startKeepalive(interval, pongWait time.Duration) {
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.done:
				return
			case <-ticker.C:
				c.writeMu.Lock()
				err := c.ws.WriteControl(
					websocket.PingMessage, nil, time.Now().Add(interval))
				c.writeMu.Unlock()
				if err != nil {
					c.logger.Debug().Err(err).Msg("keepalive ping failed")
					return
				}
			}
		}
	}()
}

// CloseStatus classifies a read error. clean is true for a normal or
// going-away close; code is zero when the error carried no close frame.
func CloseStatus(err error) (code int, clean bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		clean = ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
		return ce.Code, clean
	}
	return 0, false
}
