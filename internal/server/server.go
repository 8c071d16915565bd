// ABOUTME: Remote control server for the playback transport
// ABOUTME: Accepts WebSocket commands, pushes state updates, and serves /metrics
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Resonate-Protocol/framesync/internal/discovery"
	"github.com/Resonate-Protocol/framesync/internal/protocol"
	"github.com/Resonate-Protocol/framesync/internal/version"
	"github.com/Resonate-Protocol/framesync/pkg/transport"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	// Path is the WebSocket endpoint
	Path = "/framesync"

	sendBuffer    = 64
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
	helloTimeout  = 5 * time.Second
)

// Transport is the subset of the scheduler the server drives
type Transport interface {
	Play() error
	Pause() error
	Stop() error
	Seek(frameIndex int) error
	Step(delta int) error
	SetDropFrameMode(enabled bool) error
	State() transport.Snapshot
}

// Config holds server configuration
type Config struct {
	Port       int
	Name       string
	EnableMDNS bool
	Logger     zerolog.Logger
}

// Server exposes one transport to remote clients
type Server struct {
	config    Config
	log       zerolog.Logger
	serverID  string
	transport Transport

	upgrader websocket.Upgrader
	mux      *http.ServeMux

	clients   map[string]*Client
	clientsMu sync.RWMutex

	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// Client is a connected controller
type Client struct {
	ID   string
	Name string

	conn     *websocket.Conn
	sendChan chan protocol.Message
}

// New creates a server for tr
func New(config Config, tr Transport) *Server {
	s := &Server{
		config:    config,
		log:       config.Logger,
		serverID:  uuid.NewString(),
		transport: tr,
		mux:       http.NewServeMux(),
		clients:   make(map[string]*Client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// local network control surface; browsers on any origin may connect
				return true
			},
		},
	}
	s.mux.HandleFunc(Path, s.handleWebSocket)
	s.mux.Handle("/metrics", promhttp.Handler())
	return s
}

// Handler returns the HTTP handler serving the control and metrics endpoints
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves on the configured port until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var mdnsManager *discovery.Manager
	if s.config.EnableMDNS {
		mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
			Path:        Path,
			Logger:      s.log,
		})
		if err := mdnsManager.Advertise(); err != nil {
			s.log.Warn().Err(err).Msg("mDNS advertisement failed")
		}
	}

	errChan := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", httpServer.Addr).Str("id", s.serverID).Str("version", version.Version).Msg("control server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	var serverErr error
	select {
	case <-ctx.Done():
	case serverErr = <-errChan:
	}

	if mdnsManager != nil {
		mdnsManager.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("HTTP server shutdown")
	}
	s.Close()

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Close disconnects every client and waits for their goroutines
func (s *Server) Close() {
	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	s.clientsMu.RLock()
	for _, c := range s.clients {
		_ = c.conn.Close()
	}
	s.clientsMu.RUnlock()

	s.wg.Wait()
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// PublishState pushes snap to every client. It never blocks; clients whose
// buffers are full miss the update.
func (s *Server) PublishState(snap transport.Snapshot) {
	s.broadcast(protocol.Message{Type: protocol.TypeStateUpdate, Payload: protocol.StateFromSnapshot(snap)})
}

// PublishEvent forwards ev to every client. Per-frame render events are
// skipped; state updates already carry the frame.
func (s *Server) PublishEvent(ev transport.Event) {
	if ev.Type == transport.EventFrameRendered {
		return
	}
	s.broadcast(protocol.Message{Type: protocol.TypeEvent, Payload: protocol.EventFromTransport(ev)})
}

func (s *Server) broadcast(msg protocol.Message) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, c := range s.clients {
		select {
		case c.sendChan <- msg:
		default:
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShutdown {
		s.shutdownMu.RUnlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.shutdownMu.RUnlock()
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade")
		return
	}

	s.log.Debug().Str("remote", r.RemoteAddr).Msg("new WebSocket connection")
	s.handleConnection(conn)
}

func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	hello, err := s.readHello(conn)
	if err != nil {
		s.log.Warn().Err(err).Msg("handshake failed")
		s.writeError(conn, "bad_hello", err.Error())
		return
	}

	client := &Client{
		ID:       hello.ClientID,
		Name:     hello.Name,
		conn:     conn,
		sendChan: make(chan protocol.Message, sendBuffer),
	}

	s.clientsMu.Lock()
	if _, exists := s.clients[client.ID]; exists {
		s.clientsMu.Unlock()
		s.log.Warn().Str("client", client.ID).Msg("rejecting duplicate client ID")
		s.writeError(conn, "duplicate_client_id", "Client ID already connected")
		return
	}
	// server/hello goes first so it precedes any broadcast
	client.sendChan <- protocol.Message{
		Type: protocol.TypeServerHello,
		Payload: protocol.ServerHello{
			ServerID: s.serverID,
			Name:     s.config.Name,
			Version:  protocol.Version,
			DeviceInfo: &protocol.DeviceInfo{
				ProductName:     version.Product,
				Manufacturer:    version.Manufacturer,
				SoftwareVersion: version.Version,
			},
			State: protocol.StateFromSnapshot(s.transport.State()),
		},
	}
	s.clients[client.ID] = client
	s.clientsMu.Unlock()

	s.log.Info().Str("client", client.Name).Str("id", client.ID).Msg("client connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.clientWriter(client)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn().Err(err).Str("client", client.Name).Msg("WebSocket read")
			}
			break
		}
		s.handleClientMessage(client, data)
	}

	s.clientsMu.Lock()
	delete(s.clients, client.ID)
	close(client.sendChan)
	s.clientsMu.Unlock()
	<-writerDone

	s.log.Info().Str("client", client.Name).Msg("client disconnected")
}

func (s *Server) readHello(conn *websocket.Conn) (protocol.ClientHello, error) {
	var hello protocol.ClientHello

	_ = conn.SetReadDeadline(time.Now().Add(helloTimeout))
	var msg protocol.Message
	if err := conn.ReadJSON(&msg); err != nil {
		return hello, fmt.Errorf("read hello: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	if msg.Type != protocol.TypeClientHello {
		return hello, fmt.Errorf("expected %s, got %s", protocol.TypeClientHello, msg.Type)
	}
	if err := protocol.Decode(msg.Payload, &hello); err != nil {
		return hello, err
	}
	if hello.ClientID == "" {
		return hello, errors.New("client hello missing client_id")
	}
	if hello.Name == "" {
		return hello, errors.New("client hello missing name")
	}
	return hello, nil
}

// clientWriter owns all writes to the connection once the client is registered
func (s *Server) clientWriter(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.sendChan:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.log.Error().Err(err).Str("type", msg.Type).Msg("marshal message")
				continue
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Debug().Err(err).Str("client", client.Name).Msg("write failed")
				_ = client.conn.Close()
				s.drain(client)
				return
			}
		case <-ticker.C:
			if err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				_ = client.conn.Close()
				s.drain(client)
				return
			}
		}
	}
}

// drain discards messages until the reader closes sendChan
func (s *Server) drain(client *Client) {
	for range client.sendChan {
	}
}

func (s *Server) handleClientMessage(client *Client, data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.replyError(client, "bad_message", err.Error())
		return
	}

	var err error
	switch msg.Type {
	case protocol.TypePlay:
		err = s.transport.Play()
	case protocol.TypePause:
		err = s.transport.Pause()
	case protocol.TypeStop:
		err = s.transport.Stop()
	case protocol.TypeSeek:
		var p protocol.Seek
		if err = protocol.Decode(msg.Payload, &p); err == nil {
			err = s.transport.Seek(p.Frame)
		}
	case protocol.TypeStep:
		var p protocol.Step
		if err = protocol.Decode(msg.Payload, &p); err == nil {
			err = s.transport.Step(p.Delta)
		}
	case protocol.TypeDropFrame:
		var p protocol.DropFrame
		if err = protocol.Decode(msg.Payload, &p); err == nil {
			err = s.transport.SetDropFrameMode(p.Enabled)
		}
	default:
		s.replyError(client, "unknown_type", msg.Type)
		return
	}

	if err != nil {
		s.log.Warn().Err(err).Str("type", msg.Type).Str("client", client.Name).Msg("command failed")
		s.replyError(client, "command_failed", err.Error())
		return
	}
	s.log.Debug().Str("type", msg.Type).Str("client", client.Name).Msg("command applied")
}

// replyError runs on the reader goroutine, which is also the only closer of
// sendChan
func (s *Server) replyError(client *Client, code, message string) {
	select {
	case client.sendChan <- protocol.Message{
		Type:    protocol.TypeServerError,
		Payload: protocol.ServerError{Code: code, Message: message},
	}:
	default:
	}
}

// writeError is used before the writer goroutine exists
func (s *Server) writeError(conn *websocket.Conn, code, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	_ = conn.WriteJSON(protocol.Message{
		Type:    protocol.TypeServerError,
		Payload: protocol.ServerError{Code: code, Message: message},
	})
}
