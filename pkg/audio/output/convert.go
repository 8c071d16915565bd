// ABOUTME: Sink adapter converting 16-bit PCM between sample rates and channel counts
// ABOUTME: Lets a clip play on a device context locked to another format
package output

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/Resonate-Protocol/framesync/pkg/audio"
)

// Converted accepts audio in one format and writes it to a sink opened in
// another. Sample rates are converted by linear interpolation. Channels are
// mapped by duplication or averaging. Both formats must be 16-bit.
//
// Buffered and HeadPosition are reported in the input format.
type Converted struct {
	mu    sync.Mutex
	inner Sink
	in    audio.Format
	out   audio.Format
	ratio float64 // input frames per output frame

	// interpolation state carried across writes
	prev     []float64
	havePrev bool
	pos      float64

	pending []byte // converted audio the inner sink has not accepted yet
	scratch []byte

	lastHead uint32
	played   uint64 // output frames played since the last flush
}

// NewConverted wraps inner, which must already be open
func NewConverted(inner Sink, in audio.Format) (*Converted, error) {
	out := inner.Format()
	if in.BitDepth != 16 || out.BitDepth != 16 {
		return nil, fmt.Errorf("convert %s to %s: only 16-bit audio is supported", in, out)
	}
	if in.SampleRate <= 0 || in.Channels <= 0 || out.SampleRate <= 0 || out.Channels <= 0 {
		return nil, fmt.Errorf("convert %s to %s: invalid format", in, out)
	}
	return &Converted{
		inner: inner,
		in:    in,
		out:   out,
		ratio: float64(in.SampleRate) / float64(out.SampleRate),
		prev:  make([]float64, out.Channels),
	}, nil
}

func (c *Converted) Format() audio.Format { return c.in }

// Write converts whole input frames. While earlier output is still waiting
// for room in the inner sink it accepts nothing.
func (c *Converted) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.flushPending(); err != nil {
		return 0, err
	}
	if len(c.pending) > 0 {
		return 0, nil
	}

	inBytes := c.in.FrameBytes()
	n := len(p) - len(p)%inBytes
	c.scratch = c.convert(p[:n], c.scratch[:0])
	c.pending = append(c.pending, c.scratch...)
	if err := c.flushPending(); err != nil {
		return 0, err
	}
	return n, nil
}

func (c *Converted) flushPending() error {
	if len(c.pending) == 0 {
		return nil
	}
	n, err := c.inner.Write(c.pending)
	if err != nil {
		return err
	}
	c.pending = c.pending[:copy(c.pending, c.pending[n:])]
	return nil
}

// convert appends the output frames produced by in to dst
func (c *Converted) convert(in []byte, dst []byte) []byte {
	inBytes := c.in.FrameBytes()
	cur := make([]float64, c.out.Channels)
	var sample [2]byte

	for off := 0; off+inBytes <= len(in); off += inBytes {
		c.mapChannels(in[off:off+inBytes], cur)
		if !c.havePrev {
			copy(c.prev, cur)
			c.havePrev = true
			continue
		}
		for c.pos < 1 {
			for ch, v := range cur {
				s := c.prev[ch]*(1-c.pos) + v*c.pos
				binary.LittleEndian.PutUint16(sample[:], uint16(int16(s)))
				dst = append(dst, sample[:]...)
			}
			c.pos += c.ratio
		}
		c.pos--
		copy(c.prev, cur)
	}
	return dst
}

// mapChannels reads one input frame into out-channel order
func (c *Converted) mapChannels(frame []byte, dst []float64) {
	read := func(ch int) float64 {
		return float64(int16(binary.LittleEndian.Uint16(frame[ch*2:])))
	}

	switch {
	case c.in.Channels == c.out.Channels:
		for ch := range dst {
			dst[ch] = read(ch)
		}
	case c.out.Channels == 1:
		var sum float64
		for ch := 0; ch < c.in.Channels; ch++ {
			sum += read(ch)
		}
		dst[0] = sum / float64(c.in.Channels)
	default:
		for ch := range dst {
			dst[ch] = read(min(ch, c.in.Channels-1))
		}
	}
}

func (c *Converted) Play() error { return c.inner.Play() }

func (c *Converted) Pause() error { return c.inner.Pause() }

func (c *Converted) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.inner.Flush(); err != nil {
		return err
	}
	c.pending = c.pending[:0]
	c.havePrev = false
	c.pos = 0
	c.lastHead = 0
	c.played = 0
	return nil
}

func (c *Converted) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	outFrames := (c.inner.Buffered() + len(c.pending)) / c.out.FrameBytes()
	inFrames := int(float64(outFrames) * c.ratio)
	return inFrames * c.in.FrameBytes()
}

// HeadPosition scales the inner head to input frames. The inner counter is
// followed by deltas so its wrap does not disturb the result.
func (c *Converted) HeadPosition() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	head := c.inner.HeadPosition()
	c.played += uint64(head - c.lastHead)
	c.lastHead = head
	return uint32(c.played * uint64(c.in.SampleRate) / uint64(c.out.SampleRate))
}

func (c *Converted) Close() error { return c.inner.Close() }
