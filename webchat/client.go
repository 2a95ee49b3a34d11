package webchat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one websocket session. The user id is resolved once during the handshake and
// kept for the life of the session, the token is never looked at again.
type Client struct {
	id         string
	userID     string
	connection *websocket.Conn

	hub  *Hub
	send chan []byte
	done chan struct{}

	closeOnce      sync.Once
	disconnectOnce sync.Once
}

func newClient(hub *Hub, connection *websocket.Conn, id, userID string) *Client {
	return &Client{
		id:         id,
		userID:     userID,
		connection: connection,
		hub:        hub,
		send:       make(chan []byte, hub.opts.SendBuffer),
		done:       make(chan struct{}),
	}
}

func (c *Client) ID() string     { return c.id }
func (c *Client) UserID() string { return c.userID }

// Send queues payload for the write pump, giving up when ctx is done or the client closes
func (c *Client) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return errors.Wrap(ErrSendTimeout, ctx.Err().Error())
	}
}

// Close asks the write pump to send a close frame and shut the connection, the read pump
// then fails and the disconnect is processed
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// reply answers an inbound request identified by cid, either with data or an error
func (c *Client) reply(cid int, data interface{}, replyErr error) {
	if cid <= 0 {
		return
	}

	response := map[string]interface{}{"rid": cid}
	if replyErr != nil {
		response["error"] = replyErr.Error()
	} else if data != nil {
		response["data"] = data
	}

	payload, err := json.Marshal(response)
	if err != nil {
		logrus.WithField("comp", "client").WithError(err).Error("error encoding reply")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.hub.opts.SendTimeout)
	defer cancel()
	if err := c.Send(ctx, payload); err != nil {
		logrus.WithField("comp", "client").WithField("conn_id", c.id).WithError(err).Debug("reply not delivered")
	}
}

func (c *Client) readPump() {
	var reason error
	defer func() {
		c.Close()
		c.hub.disconnect(c, reason)
	}()

	c.connection.SetReadLimit(c.hub.opts.MaxMessageSize)
	_ = c.connection.SetReadDeadline(time.Now().Add(pongWait))
	c.connection.SetPongHandler(func(string) error {
		return c.connection.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, rawData, err := c.connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logrus.WithField("comp", "client").WithField("conn_id", c.id).WithError(err).Error("failed to read message")
			}
			reason = err
			break
		}

		msg := &WSMessage{}
		if err := json.Unmarshal(rawData, msg); err != nil {
			logrus.WithField("comp", "client").WithField("conn_id", c.id).WithError(err).Debug("ignoring unparseable message")
			continue
		}

		if err := HandleWSMessage(c, msg); err != nil {
			logrus.WithField("comp", "client").WithField("conn_id", c.id).WithField("event", msg.Event).WithError(err).Info("rejected client event")
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.connection.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.connection.WriteMessage(websocket.TextMessage, payload); err != nil {
				logrus.WithField("comp", "client").WithField("conn_id", c.id).WithError(err).Debug("failed to write message")
				c.Close()
				return
			}

		case <-ticker.C:
			_ = c.connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				logrus.WithField("comp", "client").WithField("conn_id", c.id).WithError(err).Debug("failed to send ping")
				c.Close()
				return
			}

		case <-c.done:
			_ = c.connection.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(time.Second),
			)
			return
		}
	}
}
