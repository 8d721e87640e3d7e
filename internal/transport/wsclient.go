// Package transport provides the client side of the channel transport: a
// websocket connection to one room topic with presence and connectivity
// observables, plus an HTTP client for the room-provisioning API.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"groupwatch/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	reconnectDelay = 3 * time.Second
	sendQueueSize  = 16
)

var ErrNotJoined = errors.New("transport: not joined to a topic")

// Client is a websocket transport bound to at most one topic at a time.
// Handlers must be registered before Join; they are invoked from the read
// goroutine, one message at a time.
type Client struct {
	baseURL string

	onEnvelope  func(protocol.InboundEnvelope)
	onConnected func(bool)
	onPresence  func(protocol.Presence)

	mu     sync.Mutex
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	joined bool
	target string
}

// NewClient takes the relay's base websocket URL, e.g. "ws://host:8080".
func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL}
}

func (c *Client) OnEnvelope(fn func(protocol.InboundEnvelope)) { c.onEnvelope = fn }
func (c *Client) OnConnected(fn func(bool))                    { c.onConnected = fn }
func (c *Client) OnPresence(fn func(protocol.Presence))        { c.onPresence = fn }

// Join dials the room topic. The connection is kept alive with redial until
// Leave; every successful (re)connect flips the connected observable to
// true, which is the coordinator's cue to request a resync.
func (c *Client) Join(ctx context.Context, topic string, params map[string]string) error {
	target, err := c.topicURL(topic, params)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.joined {
		c.mu.Unlock()
		return errors.New("transport: already joined")
	}
	c.joined = true
	c.target = target
	c.done = make(chan struct{})
	c.sendCh = make(chan []byte, sendQueueSize)
	done := c.done
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		c.mu.Lock()
		c.joined = false
		c.mu.Unlock()
		return err
	}
	c.bind(conn)

	go c.writeLoop(done)
	go c.readLoop(done)
	c.fireConnected(true)
	return nil
}

// Leave closes the connection and stops the redial loop.
func (c *Client) Leave() error {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return nil
	}
	c.joined = false
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	return nil
}

// Send queues one envelope. Sends while reconnecting are dropped; the sync
// protocol tolerates lost messages by design.
func (c *Client) Send(env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.mu.Lock()
	joined := c.joined
	sendCh := c.sendCh
	c.mu.Unlock()
	if !joined {
		return ErrNotJoined
	}

	select {
	case sendCh <- data:
		return nil
	default:
		return errors.New("transport: send queue full")
	}
}

func (c *Client) bind(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) writeLoop(done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case data := <-c.sendCh:
			conn := c.current()
			if conn == nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				continue
			}
		}
	}
}

func (c *Client) readLoop(done chan struct{}) {
	for {
		conn := c.current()
		if conn == nil {
			if !c.redial(done) {
				return
			}
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.fireConnected(false)
			c.bind(nil)
			if !c.redial(done) {
				return
			}
			continue
		}

		var inbound protocol.InboundEnvelope
		if err := json.Unmarshal(data, &inbound); err != nil {
			continue
		}
		c.dispatch(inbound)
	}
}

// redial retries the topic until it connects or Leave closes done.
func (c *Client) redial(done chan struct{}) bool {
	ticker := time.NewTicker(reconnectDelay)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return false
		case <-ticker.C:
			c.mu.Lock()
			target := c.target
			c.mu.Unlock()
			conn, _, err := websocket.DefaultDialer.Dial(target, nil)
			if err != nil {
				continue
			}
			c.bind(conn)
			c.fireConnected(true)
			return true
		}
	}
}

func (c *Client) dispatch(inbound protocol.InboundEnvelope) {
	if inbound.Kind == protocol.KindPresence {
		if c.onPresence == nil {
			return
		}
		var p protocol.Presence
		if err := json.Unmarshal(inbound.Data, &p); err != nil {
			return
		}
		c.onPresence(p)
		return
	}
	if c.onEnvelope != nil {
		c.onEnvelope(inbound)
	}
}

func (c *Client) fireConnected(connected bool) {
	if c.onConnected != nil {
		c.onConnected(connected)
	}
}

func (c *Client) topicURL(topic string, params map[string]string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	u.Path = "/ws/rooms/" + topic
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
