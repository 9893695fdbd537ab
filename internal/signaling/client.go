// Package signaling maintains the persistent event channel to the chat
// server: a single websocket connection carrying named JSON events in both
// directions. The rest of the app only needs Emit/On semantics; handler
// dispatch runs on one goroutine so events with the same name are delivered
// in arrival order.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/saharix/chatline/internal/util"
)

// ErrTransportClosed is returned by Emit once the channel is gone. The core
// does not reconnect; that is the channel owner's concern.
var ErrTransportClosed = errors.New("signaling: transport closed")

// Handler receives the raw data payload of one event.
type Handler func(data json.RawMessage)

// frame is the wire shape of one event in either direction.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// recentCap is how many inbound frames the debug ring retains.
const recentCap = 128

type handlerEntry struct {
	id int64
	fn Handler
}

// Client is the always-on bidirectional event channel.
type Client struct {
	conn     *websocket.Conn
	clientID string

	writeMu sync.Mutex

	handlerMu sync.RWMutex
	handlers  map[string][]handlerEntry
	nextID    int64

	// Recent inbound frames for the /api/debug/events endpoint.
	recent *util.RingBuffer[FrameLog]

	done      chan struct{}
	closeOnce sync.Once
}

// FrameLog is one inbound event retained for diagnostics.
type FrameLog struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	TS    int64           `json:"ts"`
}

// Dial connects to the signaling endpoint and starts the read loop.
// The bearer token is attached to the connect handshake only; the server
// authenticates the whole channel once. Each connection carries a fresh
// client ID so the server can tell reconnects of the same user apart.
func Dial(ctx context.Context, socketURL, token string) (*Client, error) {
	clientID := uuid.NewString()

	hdr := http.Header{}
	if token != "" {
		hdr.Set("Authorization", "Bearer "+token)
	}
	hdr.Set("X-Client-ID", clientID)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, socketURL, hdr)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("signaling: dial %s: %w", socketURL, err)
	}

	c := newClient(conn)
	c.clientID = clientID
	log.Printf("SIGNAL: connected to %s as %s", socketURL, clientID)
	return c, nil
}

// newClient wraps an established websocket connection. Split from Dial so
// tests can drive a client over an in-process connection pair.
func newClient(conn *websocket.Conn) *Client {
	c := &Client{
		conn:     conn,
		handlers: make(map[string][]handlerEntry),
		recent:   util.NewRingBuffer[FrameLog](recentCap),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Emit sends one named event to the server.
func (c *Client) Emit(event string, payload any) error {
	select {
	case <-c.done:
		return ErrTransportClosed
	default:
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("signaling: marshal %s: %w", event, err)
	}

	c.writeMu.Lock()
	err = c.conn.WriteJSON(frame{Event: event, Data: data})
	c.writeMu.Unlock()

	if err != nil {
		return fmt.Errorf("%w: emit %s: %v", ErrTransportClosed, event, err)
	}
	return nil
}

// On registers a handler for an event name and returns a deregistration
// func. Handlers for the same event fire in registration order, on the
// dispatch goroutine.
func (c *Client) On(event string, fn func(data json.RawMessage)) (cancel func()) {
	c.handlerMu.Lock()
	c.nextID++
	id := c.nextID
	c.handlers[event] = append(c.handlers[event], handlerEntry{id: id, fn: fn})
	c.handlerMu.Unlock()

	return func() {
		c.handlerMu.Lock()
		defer c.handlerMu.Unlock()
		entries := c.handlers[event]
		for i, e := range entries {
			if e.id == id {
				c.handlers[event] = append(entries[:i], entries[i+1:]...)
				return
			}
		}
	}
}

// Done is closed when the read loop exits (remote close or local Close).
func (c *Client) Done() <-chan struct{} { return c.done }

// ClientID is this connection's identity on the server, empty for test
// clients built over a raw connection.
func (c *Client) ClientID() string { return c.clientID }

// Recent returns the retained inbound frames, oldest first.
func (c *Client) Recent() []FrameLog { return c.recent.Snapshot() }

// Close tears the channel down. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readLoop decodes inbound frames and dispatches them synchronously, which
// preserves per-event-name arrival order.
func (c *Client) readLoop() {
	defer c.Close()

	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			select {
			case <-c.done:
			default:
				log.Printf("SIGNAL: read loop ended: %v", err)
			}
			return
		}
		if f.Event == "" {
			continue
		}

		c.recent.Push(FrameLog{Event: f.Event, Data: f.Data, TS: util.NowMillis()})
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f frame) {
	c.handlerMu.RLock()
	entries := make([]handlerEntry, len(c.handlers[f.Event]))
	copy(entries, c.handlers[f.Event])
	c.handlerMu.RUnlock()

	for _, e := range entries {
		e.fn(f.Data)
	}
}
