package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// Client is a WebSocket connection exchanging envelopes with a peer node.
// Reads must come from a single goroutine; writes are serialized
// internally.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Dial connects to a peer node's WebSocket endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an already-established connection, e.g. on the accepting
// side of an upgrade.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{conn: conn}
}

// WriteEnvelope sends one envelope.
func (c *Client) WriteEnvelope(env *Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("writing envelope: %w", err)
	}
	return nil
}

// ReadEnvelope blocks until the next envelope arrives.
func (c *Client) ReadEnvelope() (*Envelope, error) {
	env := new(Envelope)
	if err := c.conn.ReadJSON(env); err != nil {
		return nil, fmt.Errorf("reading envelope: %w", err)
	}
	return env, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
