package wsignal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callcore/signaling"
)

// Client is a signaling.Transport over one websocket to a Relay. Inbound
// messages are handed to the handler from the read goroutine, in order.
type Client struct {
	self    signaling.PeerID
	conn    *websocket.Conn
	handler signaling.Handler
	send    chan []byte

	mu     sync.RWMutex
	closed bool

	done chan struct{}
}

// Dial connects self to the relay at rawURL (ws:// or wss://).
func Dial(ctx context.Context, rawURL string, self signaling.PeerID, handler signaling.Handler) (*Client, error) {
	if err := validatePeer(self); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("signaling handler is nil")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url: %w", err)
	}
	q := u.Query()
	q.Set(PeerParam, string(self))
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay: %w", err)
	}
	conn.SetReadLimit(MaxFrameSize)

	c := &Client{
		self:    self,
		conn:    conn,
		handler: handler,
		send:    make(chan []byte, sendQueue),
		done:    make(chan struct{}),
	}
	go c.writePump()
	go c.readPump()

	logrus.WithFields(logrus.Fields{
		"function": "Dial",
		"peer":     self,
		"relay":    u.Host,
	}).Info("Connected to signaling relay")

	return c, nil
}

// Send queues msg for remote. It never blocks: a full queue returns
// ErrBackpressure.
func (c *Client) Send(remote signaling.PeerID, msg *signaling.Message) error {
	payload, err := signaling.Marshal(msg)
	if err != nil {
		return err
	}
	frame, err := encodeFrame(remote, payload)
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Send",
			"peer":     c.self,
			"remote":   remote,
			"type":     msg.Type.String(),
		}).Warn("Signaling send queue full")
		return ErrBackpressure
	}
}

// Close closes the websocket. Queued messages may be lost.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	return c.conn.Close()
}

// Done is closed once the read goroutine has exited.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "writePump",
					"peer":     c.self,
					"error":    err.Error(),
				}).Warn("Signaling write failed")
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer close(c.done)
	defer c.Close()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logrus.WithFields(logrus.Fields{
					"function": "readPump",
					"peer":     c.self,
					"error":    err.Error(),
				}).Warn("Signaling connection lost")
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		c.deliver(data)
	}
}

func (c *Client) deliver(frame []byte) {
	from, payload, err := decodeFrame(frame)
	if err != nil {
		c.drop(err)
		return
	}
	msg, err := signaling.Unmarshal(payload)
	if err != nil {
		c.drop(err)
		return
	}
	if err := c.handler.HandleMessage(from, msg); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "deliver",
			"peer":     c.self,
			"from":     from,
			"error":    err.Error(),
		}).Debug("Handler rejected signaling message")
	}
}

func (c *Client) drop(err error) {
	logrus.WithFields(logrus.Fields{
		"function": "deliver",
		"peer":     c.self,
		"error":    err.Error(),
	}).Warn("Dropping malformed signaling frame")
}
