// ABOUTME: Playback transport package
// ABOUTME: Drives frame decode and render against the audio or wall clock
// Package transport implements the playback scheduler.
//
// A Scheduler owns one clip at a time. It paces frames either from the
// audio hardware clock (drop-frame mode) or by render completion
// (sequential mode), and serializes play, pause, stop and seek commands.
//
// Example:
//
//	sched := transport.New(transport.Config{Renderer: r, Audio: stream.Config{Factory: f}})
//	defer sched.Close()
//	err := sched.UpdateContext(tone.Context())
//	err = sched.Play()
//	frame := sched.CurrentFrame()
package transport
