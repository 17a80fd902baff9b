package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/luciancaetano/pixelnet"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	closeGracePeriod        = time.Second
)

// Conn is the engine side of a board connection. It implements
// pixelnet.Transport on top of a gorilla connection.
type Conn struct {
	id           string
	conn         *websocket.Conn
	remoteAddr   string
	writeTimeout time.Duration
	mu           sync.Mutex
	closed       bool
}

// NewConn wraps an established gorilla connection.
func NewConn(conn *websocket.Conn, writeTimeout time.Duration) *Conn {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Conn{
		id:           uuid.New().String(),
		conn:         conn,
		remoteAddr:   conn.RemoteAddr().String(),
		writeTimeout: writeTimeout,
	}
}

// ID returns a unique identifier for the connection
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the server's network address
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// ReadMessage reads the next message. A close frame from the server is
// returned as a *pixelnet.CloseError; any other failure wraps
// pixelnet.ErrTransport.
func (c *Conn) ReadMessage() (pixelnet.MessageType, []byte, error) {
	mt, data, err := c.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return 0, nil, &pixelnet.CloseError{Code: ce.Code, Text: ce.Text}
		}
		if c.isClosed() {
			return 0, nil, fmt.Errorf("%w: %w", pixelnet.ErrTransport, pixelnet.ErrClosed)
		}
		return 0, nil, fmt.Errorf("%w: read: %w", pixelnet.ErrTransport, err)
	}
	return pixelnet.MessageType(mt), data, nil
}

// WriteMessage writes one message within the write timeout. Not safe for
// concurrent use; the engine has a single writer.
func (c *Conn) WriteMessage(mt pixelnet.MessageType, data []byte) error {
	if c.isClosed() {
		return fmt.Errorf("%w: %w", pixelnet.ErrTransport, pixelnet.ErrClosed)
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(int(mt), data); err != nil {
		return fmt.Errorf("%w: write: %w", pixelnet.ErrTransport, err)
	}
	return nil
}

// Close sends a normal close frame and closes the connection. Subsequent
// calls are no-ops.
func (c *Conn) Close() error {
	return c.CloseWithCode(websocket.CloseNormalClosure, "")
}

// CloseWithCode closes the connection with a close code and optional reason
func (c *Conn) CloseWithCode(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	message := websocket.FormatCloseMessage(code, reason)
	c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeGracePeriod))
	return c.conn.Close()
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Dialer opens board connections. It implements pixelnet.Dialer.
type Dialer struct {
	// URL is the board endpoint, ws:// or wss://.
	URL string
	// Mode adds the readonly or writeonly query flag.
	Mode pixelnet.Mode
	// Header is sent with the handshake.
	Header http.Header
	// HandshakeTimeout bounds the opening handshake. Defaults to 10s.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds every write. Defaults to 10s.
	WriteTimeout time.Duration
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// NewDialer creates a dialer for url in the given mode.
func NewDialer(url string, mode pixelnet.Mode) *Dialer {
	return &Dialer{URL: url, Mode: mode}
}

// Dial opens a connection.
func (d *Dialer) Dial(ctx context.Context) (pixelnet.Transport, error) {
	target, err := ModeURL(d.URL, d.Mode)
	if err != nil {
		return nil, err
	}

	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  pixelnet.MaxFrameSize,
		NetDialContext:   (&net.Dialer{Timeout: timeout}).DialContext,
	}

	conn, resp, err := dialer.DialContext(ctx, target, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: %w (http %d)", pixelnet.ErrTransport, target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial %s: %w", pixelnet.ErrTransport, target, err)
	}

	c := NewConn(conn, d.WriteTimeout)
	d.logger().Debug("board connection opened",
		zap.String("conn_id", c.ID()),
		zap.String("remote_addr", c.RemoteAddr()),
		zap.String("mode", string(d.Mode)),
	)
	return c, nil
}

func (d *Dialer) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// ModeURL adds the query flag for mode to raw. Read-write connections carry
// no flag.
func ModeURL(raw string, mode pixelnet.Mode) (string, error) {
	if !mode.Valid() {
		return "", fmt.Errorf("unknown connection mode %q", mode)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse board url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("board url scheme %q, want ws or wss", u.Scheme)
	}

	q := u.Query()
	switch mode {
	case pixelnet.ModeReadOnly:
		q.Set("readonly", "1")
	case pixelnet.ModeWriteOnly:
		q.Set("writeonly", "1")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
