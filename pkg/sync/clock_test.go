// ABOUTME: Tests for the audio and wall clocks
// ABOUTME: Tests wraparound monotonicity, base resets, and pause freezing
package sync

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHead struct {
	pos atomic.Uint32
}

func (f *fakeHead) HeadPosition() uint32 { return f.pos.Load() }

func TestAudioClockElapsed(t *testing.T) {
	head := &fakeHead{}
	clock := NewAudioClock(head, 48000)

	assert.Equal(t, int64(0), clock.ElapsedMicros())

	head.pos.Store(48000)
	assert.Equal(t, int64(1_000_000), clock.ElapsedMicros())

	head.pos.Store(72000)
	assert.Equal(t, int64(1_500_000), clock.ElapsedMicros())
}

func TestAudioClockMonotonicAcrossWraps(t *testing.T) {
	head := &fakeHead{}
	// 8-bit counter wraps every 256 frames
	clock := NewAudioClock(head, 1000, WithWrapBits(8))

	var last int64
	var pos uint32
	for i := 0; i < 2000; i++ {
		pos = (pos + 37) % 256
		head.pos.Store(pos)
		elapsed := clock.ElapsedMicros()
		require.GreaterOrEqual(t, elapsed, last, "step %d", i)
		last = elapsed
	}

	// 2000 steps of 37 frames at 1kHz
	assert.Equal(t, int64(2000*37*1000), last)
}

func TestAudioClockFullWidthWrap(t *testing.T) {
	head := &fakeHead{}
	clock := NewAudioClock(head, 48000)

	head.pos.Store(^uint32(0) - 47999)
	before := clock.ElapsedMicros()

	head.pos.Store(48000)
	after := clock.ElapsedMicros()

	// 48000 frames to reach the wrap plus 48000 after it
	assert.Equal(t, int64(2_000_000), after-before)
}

func TestAudioClockResetBase(t *testing.T) {
	head := &fakeHead{}
	clock := NewAudioClock(head, 1000, WithWrapBits(8))

	head.pos.Store(200)
	clock.ElapsedMicros()
	head.pos.Store(10) // wrapped once
	require.Equal(t, int64(266_000), clock.ElapsedMicros())

	// after a flush the head is back at zero
	head.pos.Store(0)
	clock.ResetBase(5_000_000)
	assert.Equal(t, int64(5_000_000), clock.ElapsedMicros())
	assert.Equal(t, int64(5_000_000), clock.Base())

	head.pos.Store(100)
	assert.Equal(t, int64(5_100_000), clock.ElapsedMicros())
}

func TestAudioClockResetCapturesOrigin(t *testing.T) {
	head := &fakeHead{}
	clock := NewAudioClock(head, 1000)

	head.pos.Store(500)
	clock.ResetBase(2_000_000)
	assert.Equal(t, int64(2_000_000), clock.ElapsedMicros())

	head.pos.Store(750)
	assert.Equal(t, int64(2_250_000), clock.ElapsedMicros())
}

func TestWallClockPauseFreezes(t *testing.T) {
	now := time.Unix(1000, 0)
	w := NewWallClockWithSource(func() time.Time { return now })

	assert.Equal(t, int64(0), w.ElapsedMicros())

	w.Start()
	now = now.Add(250 * time.Millisecond)
	assert.Equal(t, int64(250_000), w.ElapsedMicros())

	w.Pause()
	now = now.Add(time.Second)
	assert.Equal(t, int64(250_000), w.ElapsedMicros())
	assert.False(t, w.Running())

	w.Start()
	now = now.Add(100 * time.Millisecond)
	assert.Equal(t, int64(350_000), w.ElapsedMicros())
}

func TestWallClockResetBase(t *testing.T) {
	now := time.Unix(1000, 0)
	w := NewWallClockWithSource(func() time.Time { return now })

	w.Start()
	now = now.Add(time.Second)
	w.ResetBase(40_000)
	assert.Equal(t, int64(40_000), w.ElapsedMicros())

	now = now.Add(10 * time.Millisecond)
	assert.Equal(t, int64(50_000), w.ElapsedMicros())

	w.Pause()
	w.ResetBase(0)
	assert.Equal(t, int64(0), w.ElapsedMicros())
}

func TestClockImplementations(t *testing.T) {
	var _ Clock = (*AudioClock)(nil)
	var _ Clock = (*WallClock)(nil)
}
