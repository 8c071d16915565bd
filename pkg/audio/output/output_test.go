// ABOUTME: Tests for sink implementations and the ring buffer
// ABOUTME: Verifies frame alignment, head tracking, and flush semantics
package output

import (
	"errors"
	"testing"
	"time"

	"github.com/Resonate-Protocol/framesync/pkg/audio"
	fsync "github.com/Resonate-Protocol/framesync/pkg/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var stereo16 = audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 16}

func TestSinkImplementations(t *testing.T) {
	var _ Sink = (*Memory)(nil)
	var _ Sink = (*Null)(nil)
	var _ Sink = (*Oto)(nil)
}

func TestRingBufferAlignedWrites(t *testing.T) {
	rb := NewRingBuffer(10, 4) // rounded down to 8

	n := rb.Write([]byte{1, 2, 3, 4, 5, 6})
	assert.Equal(t, 4, n, "only whole frames are accepted")

	n = rb.Write([]byte{7, 8, 9, 10, 11, 12, 13, 14})
	assert.Equal(t, 4, n, "write truncated to free space")
	assert.Equal(t, 0, rb.Free())

	n = rb.Write([]byte{1, 2, 3, 4})
	assert.Equal(t, 0, n, "full buffer accepts nothing")
}

func TestRingBufferWrapAround(t *testing.T) {
	rb := NewRingBuffer(8, 2)

	require.Equal(t, 6, rb.Write([]byte{1, 2, 3, 4, 5, 6}))
	out := make([]byte, 4)
	require.Equal(t, 4, rb.Read(out))
	assert.Equal(t, []byte{1, 2, 3, 4}, out)

	require.Equal(t, 6, rb.Write([]byte{7, 8, 9, 10, 11, 12}))
	out = make([]byte, 8)
	require.Equal(t, 8, rb.Read(out))
	assert.Equal(t, []byte{5, 6, 7, 8, 9, 10, 11, 12}, out)
	assert.Equal(t, 0, rb.Available())
}

func TestRingBufferReset(t *testing.T) {
	rb := NewRingBuffer(8, 2)
	rb.Write([]byte{1, 2, 3, 4})
	rb.Reset()
	assert.Equal(t, 0, rb.Available())
	assert.Equal(t, 8, rb.Free())
}

func TestMemoryConsumeAdvancesHead(t *testing.T) {
	m := NewMemory(stereo16, 64)

	n, err := m.Write(make([]byte, 40))
	require.NoError(t, err)
	require.Equal(t, 40, n)

	assert.Equal(t, 0, m.Consume(4), "paused sink does not consume")
	assert.Equal(t, uint32(0), m.HeadPosition())

	require.NoError(t, m.Play())
	assert.Equal(t, 4, m.Consume(4))
	assert.Equal(t, uint32(4), m.HeadPosition())
	assert.Equal(t, 24, m.Buffered())

	assert.Equal(t, 6, m.Consume(100), "consume limited by buffered frames")
	assert.Equal(t, uint32(10), m.HeadPosition())
	assert.Len(t, m.Played(), 40)
}

func TestMemoryFlushResetsHead(t *testing.T) {
	m := NewMemory(stereo16, 64)
	_, _ = m.Write(make([]byte, 32))
	_ = m.Play()
	m.Consume(2)

	require.NoError(t, m.Flush())
	assert.Equal(t, uint32(0), m.HeadPosition())
	assert.Equal(t, 0, m.Buffered())
	assert.True(t, m.Playing(), "flush keeps play state")
}

func TestMemoryFailWrites(t *testing.T) {
	m := NewMemory(stereo16, 64)
	boom := errors.New("device lost")
	m.FailWrites(boom)

	_, err := m.Write(make([]byte, 4))
	assert.ErrorIs(t, err, boom)
}

func TestMemoryClosed(t *testing.T) {
	m := NewMemory(stereo16, 64)
	require.NoError(t, m.Close())

	_, err := m.Write(make([]byte, 4))
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.ErrorIs(t, m.Play(), ErrNotOpen)
	assert.True(t, m.Closed())
}

func TestMemoryFactoryTracksLast(t *testing.T) {
	factory, last := MemoryFactory(128)
	assert.Nil(t, last())

	s, err := factory(stereo16)
	require.NoError(t, err)
	assert.Same(t, s, Sink(last()))
}

func TestNullDrainsInRealTime(t *testing.T) {
	n := NewNull(stereo16)
	defer n.Close()

	// 20ms of audio
	_, err := n.Write(make([]byte, 48000*4/50))
	require.NoError(t, err)
	require.NoError(t, n.Play())

	require.Eventually(t, func() bool {
		return n.Buffered() == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint32(960), n.HeadPosition())
}

func TestVolumeMultiplier(t *testing.T) {
	tests := []struct {
		volume   int
		muted    bool
		expected float64
	}{
		{100, false, 1.0},
		{50, false, 0.5},
		{0, false, 0.0},
		{80, true, 0.0}, // Muted overrides volume
	}

	for _, tt := range tests {
		result := getVolumeMultiplier(tt.volume, tt.muted)
		if result != tt.expected {
			t.Errorf("volume=%d, muted=%v: expected %f, got %f",
				tt.volume, tt.muted, tt.expected, result)
		}
	}
}

func TestHeadTrackerHoldsPeak(t *testing.T) {
	var h headTracker

	readings := []int64{0, 1000, 3400, 1000, 1100, 3500}
	want := []uint32{0, 1000, 3400, 3400, 3400, 3500}
	for i, r := range readings {
		assert.Equal(t, want[i], h.observe(r), "reading %d", i)
	}

	h.reset()
	assert.Equal(t, uint32(10), h.observe(10), "flush starts over from zero")
}

func TestHeadTrackerPassesCounterWrap(t *testing.T) {
	var h headTracker
	h.observe(1<<32 - 10)
	assert.Equal(t, uint32(6), h.observe(1<<32+6))
}

// dippingHead replays head readings through a headTracker
type dippingHead struct {
	tracker  headTracker
	readings []int64
	next     int
}

func (d *dippingHead) HeadPosition() uint32 {
	r := d.readings[min(d.next, len(d.readings)-1)]
	d.next++
	return d.tracker.observe(r)
}

func TestBriefHeadOvershootDoesNotWrapClock(t *testing.T) {
	head := &dippingHead{readings: []int64{0, 1000, 3400, 1000, 1100}}
	clock := fsync.NewAudioClock(head, 48000)

	var last int64
	for range head.readings {
		elapsed := clock.ElapsedMicros()
		require.GreaterOrEqual(t, elapsed, last)
		require.Less(t, elapsed, int64(time.Second/time.Microsecond), "no wrap period added")
		last = elapsed
	}
	assert.Equal(t, int64(3400*1_000_000/48000), last)
}

var stereo24k = audio.Format{SampleRate: 24000, Channels: 2, BitDepth: 16}

func pcm16(samples ...int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		out[2*i] = byte(uint16(s))
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}

func TestConvertedHalvesSampleRate(t *testing.T) {
	inner := NewMemory(stereo24k, 1<<16)
	c, err := NewConverted(inner, stereo16)
	require.NoError(t, err)
	assert.Equal(t, stereo16, c.Format())

	// 100ms at 48kHz
	n, err := c.Write(make([]byte, 4800*4))
	require.NoError(t, err)
	assert.Equal(t, 4800*4, n)
	assert.InDelta(t, 2400*4, inner.Buffered(), 4)

	require.NoError(t, c.Play())
	require.Equal(t, 1200, inner.Consume(1200))
	assert.Equal(t, uint32(2400), c.HeadPosition(), "head reported in input frames")
	assert.InDelta(t, 2400*4, c.Buffered(), 16)

	require.NoError(t, c.Flush())
	assert.Equal(t, uint32(0), c.HeadPosition())
	assert.Equal(t, 0, c.Buffered())
}

func TestConvertedInterpolates(t *testing.T) {
	mono48k := audio.Format{SampleRate: 48000, Channels: 1, BitDepth: 16}
	inner := NewMemory(audio.Format{SampleRate: 96000, Channels: 2, BitDepth: 16}, 1<<10)
	c, err := NewConverted(inner, mono48k)
	require.NoError(t, err)

	_, err = c.Write(pcm16(0, 100, 200))
	require.NoError(t, err)

	require.NoError(t, inner.Play())
	inner.Consume(10)
	assert.Equal(t, pcm16(0, 0, 50, 50, 100, 100, 150, 150), inner.Played())
}

func TestConvertedHoldsBackWhenInnerIsFull(t *testing.T) {
	inner := NewMemory(stereo16, 16)
	c, err := NewConverted(inner, stereo16)
	require.NoError(t, err)

	n, err := c.Write(make([]byte, 40))
	require.NoError(t, err)
	assert.Equal(t, 40, n)

	n, err = c.Write(make([]byte, 8))
	require.NoError(t, err)
	assert.Zero(t, n, "nothing accepted until pending output drains")
}

func TestConvertedRejectsNon16Bit(t *testing.T) {
	_, err := NewConverted(NewMemory(stereo16, 64), audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 32})
	assert.Error(t, err)
}
