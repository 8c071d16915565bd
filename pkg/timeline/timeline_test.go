// ABOUTME: Tests for the frame timeline
// ABOUTME: Covers binary search lookup, ties, clamping, and the fps fallback
package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameForTimeTable(t *testing.T) {
	tl := New(4, 30, []int64{0, 1000, 2500, 4000})

	tests := []struct {
		name   string
		micros int64
		want   int
	}{
		{"between frames", 2600, 2},
		{"negative clamps", -5, 0},
		{"far past end", 999999, 3},
		{"exact first", 0, 0},
		{"exact boundary", 1000, 1},
		{"just before boundary", 999, 0},
		{"exact last", 4000, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tl.FrameForTime(tt.micros))
		})
	}
}

func TestFrameForTimeTiesResolveLow(t *testing.T) {
	tl := New(5, 30, []int64{0, 1000, 1000, 1000, 3000})

	assert.Equal(t, 1, tl.FrameForTime(1000))
	assert.Equal(t, 1, tl.FrameForTime(2999))
	assert.Equal(t, 4, tl.FrameForTime(3000))
}

func TestFrameForTimeFirstTimestampNonZero(t *testing.T) {
	tl := New(3, 30, []int64{500, 1500, 2500})

	assert.Equal(t, 0, tl.FrameForTime(100), "time before first frame clamps")
	assert.Equal(t, 1, tl.FrameForTime(1600))
}

func TestFrameForTimeUniform(t *testing.T) {
	tl := New(100, 25, nil)

	assert.True(t, tl.Uniform())
	assert.Equal(t, 0, tl.FrameForTime(0))
	assert.Equal(t, 0, tl.FrameForTime(39_999))
	assert.Equal(t, 1, tl.FrameForTime(40_000))
	assert.Equal(t, 25, tl.FrameForTime(1_000_000))
	assert.Equal(t, 99, tl.FrameForTime(60_000_000))
	assert.Equal(t, 0, tl.FrameForTime(-1))
}

func TestInvalidTableFallsBack(t *testing.T) {
	tests := []struct {
		name string
		ts   []int64
	}{
		{"length mismatch", []int64{0, 1000}},
		{"decreasing", []int64{0, 2000, 1000, 3000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := New(4, 10, tt.ts)
			assert.False(t, tl.Valid())
			assert.True(t, tl.Uniform())
			assert.Equal(t, 1, tl.FrameForTime(100_000))
		})
	}
}

func TestEmptyTimeline(t *testing.T) {
	tl := New(0, 30, nil)

	assert.Equal(t, 0, tl.FrameForTime(5_000_000))
	assert.Equal(t, int64(0), tl.TimeForFrame(3))
	assert.Equal(t, int64(0), tl.Duration())
	assert.Equal(t, 0, tl.Clamp(7))
}

func TestTimeForFrame(t *testing.T) {
	table := New(4, 30, []int64{0, 1000, 2500, 4000})
	assert.Equal(t, int64(2500), table.TimeForFrame(2))
	assert.Equal(t, int64(4000), table.TimeForFrame(10))
	assert.Equal(t, int64(0), table.TimeForFrame(-1))

	uniform := New(50, 25, nil)
	assert.Equal(t, int64(400_000), uniform.TimeForFrame(10))

	// round trip through the inverse lands on the same frame
	for i := 0; i < 50; i++ {
		assert.Equal(t, i, uniform.FrameForTime(uniform.TimeForFrame(i)))
	}
	for i := 0; i < 4; i++ {
		assert.Equal(t, i, table.FrameForTime(table.TimeForFrame(i)))
	}
}

func TestDuration(t *testing.T) {
	// mean interval of 1333µs added after the last timestamp
	assert.Equal(t, int64(5333), New(4, 30, []int64{0, 1000, 2500, 4000}).Duration())
	assert.Equal(t, int64(2_000_000), New(50, 25, nil).Duration())
	assert.Equal(t, int64(40_000), New(1, 25, []int64{0}).Duration())
}
