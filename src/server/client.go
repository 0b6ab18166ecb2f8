package server

import (
	"encoding/json"
	"errors"
	"time"

	"queue-sync/src/models"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	viewWriteWait  = 2 * time.Second
	viewPongWait   = 60 * time.Second
	viewPingPeriod = (viewPongWait * 9) / 10
	maxCommandSize = 4096
	viewSendBuffer = 64

	frameInitial = "INITIAL"
	frameUpdate  = "UPDATE"

	commandGetView = "get_view"
)

// viewMessage is the frame pushed to local UI sockets.
type viewMessage struct {
	Type string              `json:"type"`
	View models.MSessionView `json:"view"`
}

// clientCommand is the only inbound frame: {"command":"get_view"} asks for a
// fresh INITIAL.
type clientCommand struct {
	Command string `json:"command"`
}

// -----------------------------------------------------------------------------
// Client: one local UI socket
// -----------------------------------------------------------------------------

type Client struct {
	hub  *APIServer
	conn *websocket.Conn
	send chan viewMessage

	// owned by pushViews
	lastVersion uint64
	pushed      bool
}

func newClient(hub *APIServer, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan viewMessage, viewSendBuffer),
	}
}

// -----------------------------------------------------------------------------
// readCommands accepts UI commands and watches the socket for liveness
// -----------------------------------------------------------------------------

func (c *Client) readCommands() {
	defer c.leave()

	c.conn.SetReadLimit(maxCommandSize)
	c.conn.SetReadDeadline(time.Now().Add(viewPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(viewPongWait))
		return nil
	})

	for {
		var cmd clientCommand
		if err := c.conn.ReadJSON(&cmd); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			switch {
			case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
				c.hub.Logger.Info("Malformed UI command, disconnecting: %v", err)
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
				c.hub.Logger.Info("UI socket error: %v", err)
			}
			return
		}

		switch cmd.Command {
		case commandGetView:
			if !c.requestView() {
				return
			}
		default:
			c.hub.Logger.Debug("Ignoring UI command %q", cmd.Command)
		}
	}
}

// requestView asks the hub for an INITIAL frame. The hub owns c.send.
func (c *Client) requestView() bool {
	select {
	case c.hub.resend <- c:
		return true
	case <-c.hub.done:
		return false
	}
}

func (c *Client) leave() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
	c.conn.Close()
	c.hub.Logger.Debug("UI socket disconnected")
}

// -----------------------------------------------------------------------------
// pushViews writes session views, newest first wins
// -----------------------------------------------------------------------------

func (c *Client) pushViews() {
	ticker := time.NewTicker(viewPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.writeClose()
				return
			}

			msg, open := c.coalesce(msg)
			if !c.outdated(msg) {
				if err := c.write(msg); err != nil {
					c.hub.Logger.Info("UI socket write error: %v", err)
					return
				}
			}
			if !open {
				c.writeClose()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(viewWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// coalesce drains frames already queued behind msg and keeps the newest view.
// A requested INITIAL anywhere in the burst survives as the frame type.
func (c *Client) coalesce(msg viewMessage) (viewMessage, bool) {
	for {
		select {
		case next, ok := <-c.send:
			if !ok {
				return msg, false
			}
			initial := msg.Type == frameInitial || next.Type == frameInitial
			if next.View.Version >= msg.View.Version {
				msg = next
			}
			if initial {
				msg.Type = frameInitial
			}
		default:
			return msg, true
		}
	}
}

// outdated reports an UPDATE this socket has already seen a newer view for.
func (c *Client) outdated(msg viewMessage) bool {
	return msg.Type == frameUpdate && c.pushed && msg.View.Version <= c.lastVersion
}

func (c *Client) write(msg viewMessage) error {
	c.conn.SetWriteDeadline(time.Now().Add(viewWriteWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		return err
	}
	c.pushed = true
	c.lastVersion = msg.View.Version
	return nil
}

func (c *Client) writeClose() {
	c.conn.SetWriteDeadline(time.Now().Add(viewWriteWait))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
