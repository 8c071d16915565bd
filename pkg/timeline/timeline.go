// ABOUTME: Frame timeline for time to frame index lookup
// ABOUTME: Handles non-uniform timestamp tables with a uniform fps fallback
package timeline

import "sort"

// Timeline maps playback time to frame indices for one clip. It is
// immutable after construction and safe for concurrent use.
type Timeline struct {
	frameCount int
	fps        float64
	timestamps []int64 // nil when the uniform fallback is in effect
	valid      bool
}

// New builds a timeline. The timestamp table is used only when its length
// matches frameCount and it never decreases; otherwise frames are spaced
// uniformly at fps.
func New(frameCount int, fps float64, timestamps []int64) *Timeline {
	if frameCount < 0 {
		frameCount = 0
	}

	t := &Timeline{
		frameCount: frameCount,
		fps:        fps,
		valid:      true,
	}

	if len(timestamps) == 0 {
		return t
	}
	if len(timestamps) != frameCount || !nonDecreasing(timestamps) {
		t.valid = false
		return t
	}

	t.timestamps = make([]int64, len(timestamps))
	copy(t.timestamps, timestamps)
	return t
}

func nonDecreasing(ts []int64) bool {
	for i := 1; i < len(ts); i++ {
		if ts[i] < ts[i-1] {
			return false
		}
	}
	return true
}

// FrameCount returns the number of addressable frames
func (t *Timeline) FrameCount() int { return t.frameCount }

// FPS returns the nominal frame rate
func (t *Timeline) FPS() float64 { return t.fps }

// Uniform reports whether lookups use the fps fallback
func (t *Timeline) Uniform() bool { return t.timestamps == nil }

// Valid reports false when a supplied timestamp table had to be discarded
func (t *Timeline) Valid() bool { return t.valid }

// FrameForTime returns the frame displayed at the given time in
// microseconds. Times before the first frame clamp to 0, times past the
// last clamp to the last index. Returns 0 for an empty timeline.
func (t *Timeline) FrameForTime(micros int64) int {
	if t.frameCount == 0 {
		return 0
	}

	if t.timestamps == nil {
		if t.fps <= 0 || micros <= 0 {
			return 0
		}
		return t.clamp(int(float64(micros) * t.fps / 1_000_000))
	}

	ts := t.timestamps
	// First index with a timestamp beyond micros; the one before it is the
	// greatest index whose timestamp is <= micros.
	upper := sort.Search(len(ts), func(i int) bool { return ts[i] > micros })
	if upper == 0 {
		return 0
	}
	// Equal timestamps resolve to the lowest index sharing the value
	target := ts[upper-1]
	return sort.Search(upper, func(i int) bool { return ts[i] >= target })
}

// TimeForFrame returns the presentation time of a frame in microseconds,
// clamping the index into range.
func (t *Timeline) TimeForFrame(index int) int64 {
	if t.frameCount == 0 {
		return 0
	}
	index = t.clamp(index)

	if t.timestamps != nil {
		return t.timestamps[index]
	}
	if t.fps <= 0 {
		return 0
	}
	return int64(float64(index) * 1_000_000 / t.fps)
}

// Duration returns the time at which the last frame stops being shown
func (t *Timeline) Duration() int64 {
	if t.frameCount == 0 {
		return 0
	}

	if t.timestamps != nil {
		last := t.timestamps[len(t.timestamps)-1]
		if len(t.timestamps) == 1 {
			return last + t.uniformInterval()
		}
		span := last - t.timestamps[0]
		return last + span/int64(len(t.timestamps)-1)
	}

	if t.fps <= 0 {
		return 0
	}
	return int64(float64(t.frameCount) * 1_000_000 / t.fps)
}

func (t *Timeline) uniformInterval() int64 {
	if t.fps <= 0 {
		return 0
	}
	return int64(1_000_000 / t.fps)
}

// Clamp limits index to [0, FrameCount-1]
func (t *Timeline) Clamp(index int) int {
	if t.frameCount == 0 {
		return 0
	}
	return t.clamp(index)
}

func (t *Timeline) clamp(index int) int {
	if index < 0 {
		return 0
	}
	if index >= t.frameCount {
		return t.frameCount - 1
	}
	return index
}
