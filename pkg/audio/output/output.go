// ABOUTME: Audio sink interface definition
// ABOUTME: Common contract for hardware and in-memory playback backends
package output

import (
	"errors"

	"github.com/Resonate-Protocol/framesync/pkg/audio"
)

var (
	// ErrNotOpen is returned by sinks used after Close
	ErrNotOpen = errors.New("output: sink not open")

	// ErrFormatLocked is returned when a process-wide device context is
	// already bound to a different format
	ErrFormatLocked = errors.New("output: device context bound to another format")
)

// Sink represents an audio output device with an internal buffer and a
// hardware playback head.
type Sink interface {
	// Format returns the PCM layout the sink was opened with
	Format() audio.Format

	// Write queues PCM without blocking. It accepts the longest prefix of
	// whole sample frames that fits and returns 0 when the buffer is full.
	Write(p []byte) (int, error)

	// Play starts or resumes consumption of buffered audio
	Play() error

	// Pause halts consumption, keeping buffered audio
	Pause() error

	// Flush discards buffered audio and resets the playback head to zero
	Flush() error

	// Buffered returns the bytes queued but not yet played
	Buffered() int

	// HeadPosition returns sample frames played since open or the last
	// flush. The counter wraps at 2^32.
	HeadPosition() uint32

	// Close releases the device. It blocks until the device is released.
	Close() error
}

// Factory opens a sink for the given format
type Factory func(format audio.Format) (Sink, error)
