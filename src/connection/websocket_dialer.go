package connection

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"queue-sync/src/helpers"
	"queue-sync/src/interfaces"
	"queue-sync/src/logger"
	"queue-sync/src/models"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	writeWait      = 5 * time.Second
	maxMessageSize = 1024 * 1024
)

// -----------------------------------------------------------------------------
// WebSocketDialer
// -----------------------------------------------------------------------------

// WebSocketDialer opens live queue channels at
// {base}/ws/queues/{business}/{date}?token=...
type WebSocketDialer struct {
	BaseURL     string
	Token       string
	ReadTimeout time.Duration
	Dialer      *websocket.Dialer
	Logger      *logger.Logger
	Now         func() time.Time
}

// -----------------------------------------------------------------------------

func NewWebSocketDialer(cfg *models.MConfig, log *logger.Logger) *WebSocketDialer {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &WebSocketDialer{
		BaseURL:     cfg.Backend.WSBaseURL,
		Token:       cfg.Backend.Token,
		ReadTimeout: time.Duration(cfg.Reconnect.ReadTimeoutMs) * time.Millisecond,
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: time.Duration(cfg.Reconnect.HandshakeTimeoutMs) * time.Millisecond,
		},
		Logger: log,
		Now:    time.Now,
	}
}

// -----------------------------------------------------------------------------

// ChannelURL builds the channel address for key. An expired JWT is left out
// so the server treats the connection as anonymous instead of rejecting it.
func (d *WebSocketDialer) ChannelURL(key models.MTopicKey) (string, error) {
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid websocket base url: %w", err)
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/ws/queues/" + url.PathEscape(key.BusinessID) + "/" + url.PathEscape(key.Date)

	q := u.Query()
	if d.Token != "" {
		now := time.Now
		if d.Now != nil {
			now = d.Now
		}
		if helpers.TokenExpired(d.Token, now()) {
			d.Logger.Warning("Bearer token expired, connecting without it")
		} else {
			q.Set("token", d.Token)
		}
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// -----------------------------------------------------------------------------

// Dial performs the websocket handshake. It honours ctx cancellation.
func (d *WebSocketDialer) Dial(ctx context.Context, key models.MTopicKey) (interfaces.IChannel, error) {
	target, err := d.ChannelURL(key)
	if err != nil {
		return nil, err
	}

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, &helpers.ConnectivityError{QueueSyncError: helpers.QueueSyncError{
				Message: fmt.Sprintf("handshake rejected with status %d", resp.StatusCode),
				Cause:   err,
			}}
		}
		return nil, &helpers.ConnectivityError{QueueSyncError: helpers.QueueSyncError{
			Message: "handshake failed",
			Cause:   err,
		}}
	}

	conn.SetReadLimit(maxMessageSize)
	return &wsChannel{conn: conn, readTimeout: d.ReadTimeout}, nil
}

// -----------------------------------------------------------------------------
// wsChannel adapts *websocket.Conn to interfaces.IChannel
// -----------------------------------------------------------------------------

type wsChannel struct {
	conn        *websocket.Conn
	readTimeout time.Duration
	closeOnce   sync.Once
	closeErr    error
}

func (c *wsChannel) ReadMessage() ([]byte, error) {
	if c.readTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// -----------------------------------------------------------------------------

func (c *wsChannel) WriteMessage(data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// -----------------------------------------------------------------------------

func (c *wsChannel) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
