// ABOUTME: Remote control protocol message type definitions
// ABOUTME: Defines the JSON envelope and payloads exchanged with control clients
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/Resonate-Protocol/framesync/pkg/transport"
)

// Version is the control protocol version
const Version = 1

// Message types
const (
	TypeClientHello = "client/hello"
	TypeServerHello = "server/hello"
	TypeServerError = "server/error"

	TypePlay      = "transport/play"
	TypePause     = "transport/pause"
	TypeStop      = "transport/stop"
	TypeSeek      = "transport/seek"
	TypeStep      = "transport/step"
	TypeDropFrame = "transport/drop_frame"

	TypeStateUpdate = "state/update"
	TypeEvent       = "event"
)

// Message is the top-level wrapper for all protocol messages
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Decode converts a generic payload into v
func Decode(payload interface{}, v interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

// ClientHello is sent by clients to initiate the handshake
type ClientHello struct {
	ClientID   string      `json:"client_id"`
	Name       string      `json:"name"`
	Version    int         `json:"version"`
	DeviceInfo *DeviceInfo `json:"device_info,omitempty"`
}

// DeviceInfo contains device identification
type DeviceInfo struct {
	ProductName     string `json:"product_name"`
	Manufacturer    string `json:"manufacturer"`
	SoftwareVersion string `json:"software_version"`
}

// ServerHello is the server's response to client/hello. State carries the
// transport snapshot at handshake time.
type ServerHello struct {
	ServerID   string      `json:"server_id"`
	Name       string      `json:"name"`
	Version    int         `json:"version"`
	DeviceInfo *DeviceInfo `json:"device_info,omitempty"`
	State      State       `json:"state"`
}

// ServerError reports a rejected handshake or command
type ServerError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

// Seek payload for transport/seek
type Seek struct {
	Frame int `json:"frame"`
}

// Step payload for transport/step
type Step struct {
	Delta int `json:"delta"`
}

// DropFrame payload for transport/drop_frame
type DropFrame struct {
	Enabled bool `json:"enabled"`
}

// State mirrors transport.Snapshot on the wire
type State struct {
	ContextID      string  `json:"context_id"`
	Clip           string  `json:"clip"`
	Frame          int     `json:"frame"`
	DisplayedFrame int     `json:"displayed_frame"`
	FrameCount     int     `json:"frame_count"`
	Mode           string  `json:"mode"`
	DropFrame      bool    `json:"drop_frame"`
	DecodeEMA      float64 `json:"decode_ema_us"`
	RenderEMA      float64 `json:"render_ema_us"`
	ProcessingEMA  int64   `json:"processing_ema_us"`
	AudioActive    bool    `json:"audio_active"`
	ClockSource    string  `json:"clock_source"`
	Position       int64   `json:"position_us"`
	Duration       int64   `json:"duration_us"`
	FramesRendered uint64  `json:"frames_rendered"`
	FramesDropped  uint64  `json:"frames_dropped"`
	DecodeFailures uint64  `json:"decode_failures"`
	RenderFailures uint64  `json:"render_failures"`
}

// StateFromSnapshot converts a scheduler snapshot
func StateFromSnapshot(s transport.Snapshot) State {
	return State{
		ContextID:      s.ContextID,
		Clip:           s.ClipName,
		Frame:          s.FrameIndex,
		DisplayedFrame: s.DisplayedFrame,
		FrameCount:     s.FrameCount,
		Mode:           s.Mode.String(),
		DropFrame:      s.DropFrame,
		DecodeEMA:      s.DecodeEMA,
		RenderEMA:      s.RenderEMA,
		ProcessingEMA:  s.ProcessingEMA,
		AudioActive:    s.AudioActive,
		ClockSource:    s.ClockSource.String(),
		Position:       s.PositionMicros,
		Duration:       s.DurationMicros,
		FramesRendered: s.FramesRendered,
		FramesDropped:  s.FramesDropped,
		DecodeFailures: s.DecodeFailures,
		RenderFailures: s.RenderFailures,
	}
}

// Event is pushed to clients for notable transport events. Per-frame render
// events are not forwarded.
type Event struct {
	Type    string `json:"type"`
	Context string `json:"context_id"`
	Frame   int    `json:"frame"`
	Count   int    `json:"count,omitempty"`
	Error   string `json:"error,omitempty"`
	Time    int64  `json:"time_us"`
}

// EventFromTransport converts a scheduler event
func EventFromTransport(ev transport.Event) Event {
	out := Event{
		Type:    ev.Type.String(),
		Context: ev.ContextID,
		Frame:   ev.Frame,
		Count:   ev.Count,
		Time:    ev.Time.UnixMicro(),
	}
	if ev.Err != nil {
		out.Error = ev.Err.Error()
	}
	return out
}
