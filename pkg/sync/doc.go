// ABOUTME: Playback clock and timing estimation package
// ABOUTME: Provides the audio hardware clock, a wall clock, and decode/render EMAs
// Package sync provides the clocks that drive frame scheduling.
//
// AudioClock converts a wrapping hardware playback head into monotonic
// microseconds. WallClock offers the same interface for silent clips.
// TimingEstimator smooths per-frame decode and render costs.
//
// Example:
//
//	clock := sync.NewAudioClock(sink, 48000)
//	clock.ResetBase(2_500_000)
//	elapsed := clock.ElapsedMicros()
package sync
