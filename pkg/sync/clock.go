// ABOUTME: Audio hardware clock with wraparound tracking
// ABOUTME: Converts a fixed-width playback head counter into elapsed microseconds
package sync

import (
	"sync"
)

// Clock reports playback time in microseconds
type Clock interface {
	ElapsedMicros() int64
	ResetBase(atMicros int64)
}

// HeadReader exposes a hardware playback head in sample frames
type HeadReader interface {
	HeadPosition() uint32
}

// AudioClock tracks elapsed playback time from a hardware head that wraps
// to zero at a fixed bit width. ElapsedMicros must be polled at least once
// per wrap period or wraps will be missed.
type AudioClock struct {
	mu         sync.Mutex
	head       HeadReader
	sampleRate int64
	period     uint64 // head values per wrap
	mask       uint64

	base     int64  // playback time at origin, in microseconds
	origin   uint64 // head reading captured by ResetBase
	observed uint64 // last head reading
	wraps    uint64
}

// ClockOption configures an AudioClock
type ClockOption func(*AudioClock)

// WithWrapBits narrows the head counter width, mainly for tests
func WithWrapBits(bits uint) ClockOption {
	return func(c *AudioClock) {
		if bits == 0 || bits > 32 {
			return
		}
		c.period = 1 << bits
		c.mask = c.period - 1
	}
}

// NewAudioClock creates a clock reading head at sampleRate frames per second
func NewAudioClock(head HeadReader, sampleRate int, opts ...ClockOption) *AudioClock {
	c := &AudioClock{
		head:       head,
		sampleRate: int64(sampleRate),
		period:     1 << 32,
		mask:       1<<32 - 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sampleRate <= 0 {
		c.sampleRate = 1
	}
	return c
}

// ElapsedMicros returns the current playback time. Successive calls without
// an intervening ResetBase never decrease.
func (c *AudioClock) ElapsedMicros() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.poll()
	played := c.observed + c.wraps*c.period - c.origin
	return c.base + int64(played)*1_000_000/c.sampleRate
}

// ResetBase anchors the clock at atMicros from the current head reading and
// clears wrap state. Call it after the sink was flushed for a seek.
func (c *AudioClock) ResetBase(atMicros int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.base = atMicros
	c.origin = uint64(c.head.HeadPosition()) & c.mask
	c.observed = c.origin
	c.wraps = 0
}

// Base returns the time set by the last ResetBase
func (c *AudioClock) Base() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base
}

// poll reads the head; a reading below the last one means the counter wrapped
func (c *AudioClock) poll() {
	now := uint64(c.head.HeadPosition()) & c.mask
	if now < c.observed {
		c.wraps++
	}
	c.observed = now
}
