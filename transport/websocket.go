package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20

	// eventBufferSize bounds the inbound event queue. The engine drains
	// sequentially; a full buffer applies backpressure to the read pump
	// rather than dropping events.
	eventBufferSize = 256
)

// command is one outbound wire frame with its envelope type.
type command struct {
	Type        string           `json:"type"`
	Message     *OutgoingMessage `json:"message,omitempty"`
	MessageID   string           `json:"message_id,omitempty"`
	ToUserID    string           `json:"to_user_id,omitempty"`
	PublicKey   string           `json:"public_key,omitempty"`
	Fingerprint string           `json:"fingerprint,omitempty"`
	Timestamp   int64            `json:"timestamp"`
}

// Client is a websocket-backed transport channel. It emits a synthetic
// connection_state event after connecting and when the socket drops, so
// the engine observes connectivity through the same stream as every
// other event.
type Client struct {
	url    string
	header http.Header

	conn *websocket.Conn

	events chan Event
	send   chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	errMu    sync.RWMutex
	closeErr error
}

// Dial connects to the chat server and starts the read/write pumps.
func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	if url == "" {
		return nil, errors.New("url is required")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial websocket %q: %w", url, err)
	}

	c := &Client{
		url:    url,
		header: header,
		conn:   conn,
		events: make(chan Event, eventBufferSize),
		send:   make(chan []byte, 64),
		closed: make(chan struct{}),
	}

	c.events <- Event{Type: TypeConnectionState, Connected: true, Timestamp: time.Now().UnixMilli()}

	go c.readPump()
	go c.writePump()

	return c, nil
}

// Events returns the inbound event stream. The channel closes after the
// terminal connection_state{connected:false} event has been delivered.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() error {
	c.shutdown(nil)
	return nil
}

// LastError returns the terminal socket error, if any.
func (c *Client) LastError() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.closeErr
}

// SendMessage implements Commands.
func (c *Client) SendMessage(ctx context.Context, message OutgoingMessage) error {
	if message.CorrelationID == "" {
		return errors.New("correlation_id is required")
	}
	if message.ReceiverID == "" {
		return errors.New("receiver_id is required")
	}
	if message.Ciphertext == "" {
		return errors.New("ciphertext is required")
	}
	return c.enqueue(ctx, command{Type: TypeSendMessage, Message: &message})
}

// MarkRead implements Commands.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	if messageID == "" {
		return errors.New("message_id is required")
	}
	return c.enqueue(ctx, command{Type: TypeMarkRead, MessageID: messageID})
}

// SendTyping implements Commands.
func (c *Client) SendTyping(ctx context.Context, toUserID string) error {
	if toUserID == "" {
		return errors.New("to_user_id is required")
	}
	return c.enqueue(ctx, command{Type: TypeSendTyping, ToUserID: toUserID})
}

// PublishPublicKey implements Commands.
func (c *Client) PublishPublicKey(ctx context.Context, publicKey, fingerprint string) error {
	if publicKey == "" {
		return errors.New("public_key is required")
	}
	return c.enqueue(ctx, command{Type: TypePublishPublicKey, PublicKey: publicKey, Fingerprint: fingerprint})
}

func (c *Client) enqueue(ctx context.Context, cmd command) error {
	cmd.Timestamp = time.Now().UnixMilli()
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command %q: %w", cmd.Type, err)
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.closed:
		if err := c.LastError(); err != nil {
			return err
		}
		return errors.New("transport: connection closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.events <- Event{Type: TypeConnectionState, Connected: false, Timestamp: time.Now().UnixMilli()}:
		default:
		}
		close(c.events)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(fmt.Errorf("read frame: %w", err))
			return
		}

		event, err := DecodeEvent(payload)
		if err != nil {
			// Unknown or malformed frames are skipped; one bad frame
			// must not take the whole stream down.
			continue
		}

		select {
		case c.events <- event:
		case <-c.closed:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.shutdown(fmt.Errorf("write frame: %w", err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(fmt.Errorf("write ping: %w", err))
				return
			}
		case <-c.closed:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		if err != nil {
			c.errMu.Lock()
			c.closeErr = err
			c.errMu.Unlock()
		}
		close(c.closed)
		_ = c.conn.Close()
	})
}
