// ABOUTME: Clip playback context and decoder contract
// ABOUTME: Describes one activated clip and the narrow decoder interface it is read through
package clip

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Resonate-Protocol/framesync/pkg/audio"
)

// ErrInvalidContext is returned by Validate for unusable contexts
var ErrInvalidContext = errors.New("clip: invalid context")

// BytesPerPixel is the RGBA frame buffer layout handed to DecodeFrame
const BytesPerPixel = 4

// Handle identifies an open clip inside a Decoder. Its meaning belongs to
// the decoder; playback code only passes it back.
type Handle uint64

// Decoder is the external clip decoder. Calls are synchronous and must not
// overlap for the same handle; wrap implementations with Serialize when
// callers may be concurrent.
type Decoder interface {
	// DecodeFrame decodes frame index into out, sized width*height*4
	DecodeFrame(h Handle, index int, out []byte, width, height int) bool

	// ReadAudioChunk copies up to length PCM bytes starting at offset into
	// out. A result <= 0 signals end of stream or an error.
	ReadAudioChunk(h Handle, offset int64, length int, out []byte) int
}

// Context is the immutable description of an activated clip
type Context struct {
	Decoder         Decoder
	Handle          Handle
	FrameCount      int
	NominalFPS      float64
	FrameTimestamps []int64 // µs, one per frame or empty for uniform spacing
	Width           int
	Height          int
	Audio           *audio.Descriptor // nil for silent clips
	Name            string
}

// Validate checks the fields playback cannot work around. Audio metadata
// is not checked here: an invalid descriptor just means a silent clip.
func (c *Context) Validate() error {
	if c.Decoder == nil {
		return fmt.Errorf("%w: no decoder", ErrInvalidContext)
	}
	if c.FrameCount < 0 {
		return fmt.Errorf("%w: negative frame count %d", ErrInvalidContext, c.FrameCount)
	}
	if c.Width < 0 || c.Height < 0 {
		return fmt.Errorf("%w: bad dimensions %dx%d", ErrInvalidContext, c.Width, c.Height)
	}
	return nil
}

// HasAudio reports whether the audio descriptor is jointly valid
func (c *Context) HasAudio() bool {
	return c.Audio.Valid()
}

// FrameBufferSize returns the bytes needed for one decoded frame
func (c *Context) FrameBufferSize() int {
	return c.Width * c.Height * BytesPerPixel
}

// Serialize wraps d so that calls on the same handle never overlap. Audio
// chunk reads and frame decodes share one lock per handle.
func Serialize(d Decoder) Decoder {
	if s, ok := d.(*serialized); ok {
		return s
	}
	return &serialized{inner: d, locks: make(map[Handle]*sync.Mutex)}
}

type serialized struct {
	inner Decoder
	mu    sync.Mutex
	locks map[Handle]*sync.Mutex
}

func (s *serialized) lock(h Handle) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[h]
	if !ok {
		l = &sync.Mutex{}
		s.locks[h] = l
	}
	return l
}

func (s *serialized) DecodeFrame(h Handle, index int, out []byte, width, height int) bool {
	l := s.lock(h)
	l.Lock()
	defer l.Unlock()
	return s.inner.DecodeFrame(h, index, out, width, height)
}

func (s *serialized) ReadAudioChunk(h Handle, offset int64, length int, out []byte) int {
	l := s.lock(h)
	l.Lock()
	defer l.Unlock()
	return s.inner.ReadAudioChunk(h, offset, length, out)
}
