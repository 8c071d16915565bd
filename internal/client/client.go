// ABOUTME: WebSocket client for the remote control protocol
// ABOUTME: Handles connection, handshake, transport commands, and state feed routing
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/Resonate-Protocol/framesync/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned by commands on a closed client
var ErrNotConnected = errors.New("client: not connected")

// Config holds client configuration
type Config struct {
	ServerAddr string
	Path       string // defaults to /framesync
	ClientID   string
	Name       string
	DeviceInfo protocol.DeviceInfo
	Logger     zerolog.Logger
}

// Client is a remote controller for one server
type Client struct {
	config Config
	log    zerolog.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	hello     protocol.ServerHello

	// Message channels. Updates are dropped when a channel is full.
	States chan protocol.State
	Events chan protocol.Event
	Errors chan protocol.ServerError

	done chan struct{}
}

// NewClient creates a new control client
func NewClient(config Config) *Client {
	if config.Path == "" {
		config.Path = "/framesync"
	}
	return &Client{
		config: config,
		log:    config.Logger,
		States: make(chan protocol.State, 16),
		Events: make(chan protocol.Event, 16),
		Errors: make(chan protocol.ServerError, 4),
		done:   make(chan struct{}),
	}
}

// Connect dials the server and performs the handshake
func (c *Client) Connect(ctx context.Context) error {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: c.config.Path}
	c.log.Debug().Str("url", u.String()).Msg("connecting")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	hello, err := handshake(conn, protocol.ClientHello{
		ClientID:   c.config.ClientID,
		Name:       c.config.Name,
		Version:    protocol.Version,
		DeviceInfo: &c.config.DeviceInfo,
	})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.hello = hello
	c.mu.Unlock()

	c.log.Info().Str("server", hello.Name).Str("id", hello.ServerID).Msg("handshake complete")

	go c.readMessages()
	return nil
}

func handshake(conn *websocket.Conn, hello protocol.ClientHello) (protocol.ServerHello, error) {
	var serverHello protocol.ServerHello

	if err := conn.WriteJSON(protocol.Message{Type: protocol.TypeClientHello, Payload: hello}); err != nil {
		return serverHello, fmt.Errorf("failed to send client/hello: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg protocol.Message
	if err := conn.ReadJSON(&msg); err != nil {
		return serverHello, fmt.Errorf("failed to read server/hello: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	switch msg.Type {
	case protocol.TypeServerHello:
	case protocol.TypeServerError:
		var se protocol.ServerError
		_ = protocol.Decode(msg.Payload, &se)
		return serverHello, fmt.Errorf("server rejected hello: %s: %s", se.Code, se.Message)
	default:
		return serverHello, fmt.Errorf("expected %s, got %s", protocol.TypeServerHello, msg.Type)
	}

	if err := protocol.Decode(msg.Payload, &serverHello); err != nil {
		return serverHello, err
	}
	return serverHello, nil
}

// Hello returns the server's handshake reply, including the transport
// state at connect time
func (c *Client) Hello() protocol.ServerHello {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hello
}

// readMessages reads and routes incoming messages until the connection ends
func (c *Client) readMessages() {
	defer close(c.done)
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && c.IsConnected() {
				c.log.Warn().Err(err).Msg("read error")
			}
			return
		}
		c.handleJSONMessage(data)
	}
}

func (c *Client) handleJSONMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Warn().Err(err).Msg("failed to parse message")
		return
	}

	switch msg.Type {
	case protocol.TypeStateUpdate:
		var st protocol.State
		if err := protocol.Decode(msg.Payload, &st); err == nil {
			offer(c.States, st)
		}
	case protocol.TypeEvent:
		var ev protocol.Event
		if err := protocol.Decode(msg.Payload, &ev); err == nil {
			offer(c.Events, ev)
		}
	case protocol.TypeServerError:
		var se protocol.ServerError
		if err := protocol.Decode(msg.Payload, &se); err == nil {
			offer(c.Errors, se)
		}
	default:
		c.log.Debug().Str("type", msg.Type).Msg("unknown message type")
	}
}

func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

// Play sends transport/play
func (c *Client) Play() error { return c.send(protocol.TypePlay, nil) }

// Pause sends transport/pause
func (c *Client) Pause() error { return c.send(protocol.TypePause, nil) }

// Stop sends transport/stop
func (c *Client) Stop() error { return c.send(protocol.TypeStop, nil) }

// Seek sends transport/seek
func (c *Client) Seek(frame int) error {
	return c.send(protocol.TypeSeek, protocol.Seek{Frame: frame})
}

// Step sends transport/step
func (c *Client) Step(delta int) error {
	return c.send(protocol.TypeStep, protocol.Step{Delta: delta})
}

// SetDropFrame sends transport/drop_frame
func (c *Client) SetDropFrame(enabled bool) error {
	return c.send(protocol.TypeDropFrame, protocol.DropFrame{Enabled: enabled})
}

// send serializes writes; gorilla allows one concurrent writer
func (c *Client) send(msgType string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteJSON(protocol.Message{Type: msgType, Payload: payload}); err != nil {
		return fmt.Errorf("send %s: %w", msgType, err)
	}
	return nil
}

// Done is closed once the connection has ended
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return
	}
	c.connected = false
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = c.conn.Close()
	c.log.Debug().Msg("connection closed")
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
