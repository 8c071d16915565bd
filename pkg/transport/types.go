// ABOUTME: Transport state, snapshot, and event types
// ABOUTME: Everything observers read from the scheduler is defined here
package transport

import (
	"errors"
	"time"
)

// ErrClosed is returned by commands issued after Close
var ErrClosed = errors.New("transport: scheduler closed")

// Mode is the transport state
type Mode int

const (
	ModeIdle Mode = iota
	ModePaused
	ModePlaying
	// ModeSeeking only exists while a seek command is applied; it is never
	// published.
	ModeSeeking
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModePaused:
		return "paused"
	case ModePlaying:
		return "playing"
	case ModeSeeking:
		return "seeking"
	default:
		return "unknown"
	}
}

// ClockSource says which clock drives drop-frame playback
type ClockSource int

const (
	ClockWall ClockSource = iota
	ClockAudio
)

func (c ClockSource) String() string {
	if c == ClockAudio {
		return "audio"
	}
	return "wall"
}

// Snapshot is an immutable view of transport state for observers
type Snapshot struct {
	ContextID      string
	ClipName       string
	FrameIndex     int
	DisplayedFrame int // last frame the renderer accepted, -1 if none
	FrameCount     int
	Mode           Mode
	DropFrame      bool
	DecodeEMA      float64 // µs
	RenderEMA      float64 // µs
	ProcessingEMA  int64   // µs
	AudioActive    bool
	ClockSource    ClockSource
	PositionMicros int64
	DurationMicros int64
	FramesRendered uint64
	FramesDropped  uint64
	DecodeFailures uint64
	RenderFailures uint64
}

// EventType identifies transport events
type EventType int

const (
	// EventContextLoaded fires after UpdateContext
	EventContextLoaded EventType = iota
	// EventFrameRendered fires for every frame the renderer accepted
	EventFrameRendered
	// EventFramesDropped reports frames skipped by drop-frame pacing
	EventFramesDropped
	// EventDecodeFailed fires when the decoder rejects a frame
	EventDecodeFailed
	// EventDecodeFailing fires once per streak of repeated decode failures
	EventDecodeFailing
	// EventRenderFailed fires when the renderer returns an error
	EventRenderFailed
	// EventAudioDegraded fires when audio stops and playback continues silent
	EventAudioDegraded
	// EventCompleted fires when playback reaches the end of the clip
	EventCompleted
)

func (t EventType) String() string {
	switch t {
	case EventContextLoaded:
		return "context_loaded"
	case EventFrameRendered:
		return "frame_rendered"
	case EventFramesDropped:
		return "frames_dropped"
	case EventDecodeFailed:
		return "decode_failed"
	case EventDecodeFailing:
		return "decode_failing"
	case EventRenderFailed:
		return "render_failed"
	case EventAudioDegraded:
		return "audio_degraded"
	case EventCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Event is an observable transport occurrence
type Event struct {
	Type         EventType
	ContextID    string
	Frame        int
	Count        int // frames dropped, or consecutive failures
	DecodeMicros float64
	RenderMicros float64
	Err          error
	Time         time.Time
}

// Frame is a decoded frame handed to the Renderer. Pixels is RGBA and is
// reused after Render returns.
type Frame struct {
	ContextID string
	Index     int
	Width     int
	Height    int
	Pixels    []byte
}

// Renderer presents decoded frames. Render is called from a single
// goroutine, only when a new frame is ready.
type Renderer interface {
	Render(f Frame) error
}

// RendererFunc adapts a function to Renderer
type RendererFunc func(f Frame) error

func (fn RendererFunc) Render(f Frame) error { return fn(f) }
