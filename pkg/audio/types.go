// ABOUTME: Audio type definitions
// ABOUTME: Defines clip audio descriptors, and sink formats
package audio

import "fmt"

// Descriptor describes the PCM track attached to a clip. All four fields
// must be positive for the track to be playable.
type Descriptor struct {
	SampleRate     int
	Channels       int
	BytesPerSample int   // bytes per sample frame, all channels included
	TotalBytes     int64 // size of the decoder's audio buffer
}

// Valid reports whether the descriptor is jointly valid. Partial metadata is
// treated as no audio at all.
func (d *Descriptor) Valid() bool {
	if d == nil {
		return false
	}
	if d.SampleRate <= 0 || d.Channels <= 0 || d.BytesPerSample <= 0 || d.TotalBytes <= 0 {
		return false
	}
	// A sample frame must split evenly across channels
	return d.BytesPerSample%d.Channels == 0
}

// Format returns the sink format implied by the descriptor.
func (d *Descriptor) Format() Format {
	return Format{
		SampleRate: d.SampleRate,
		Channels:   d.Channels,
		BitDepth:   d.BytesPerSample / d.Channels * 8,
	}
}

// OffsetForMicros converts a playback time to a byte offset, rounded down to
// a whole sample frame and clamped to [0, TotalBytes].
func (d *Descriptor) OffsetForMicros(micros int64) int64 {
	if micros <= 0 {
		return 0
	}
	offset := micros * int64(d.SampleRate) * int64(d.BytesPerSample) / 1_000_000
	offset -= offset % int64(d.BytesPerSample)
	if offset > d.TotalBytes {
		offset = d.TotalBytes
	}
	return offset
}

// MicrosForOffset is the inverse of OffsetForMicros.
func (d *Descriptor) MicrosForOffset(offset int64) int64 {
	frames := offset / int64(d.BytesPerSample)
	return frames * 1_000_000 / int64(d.SampleRate)
}

// Duration returns the track length in microseconds.
func (d *Descriptor) Duration() int64 {
	return d.MicrosForOffset(d.TotalBytes)
}

// Format describes the PCM layout a sink is opened with
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int // per channel sample
}

// FrameBytes returns the size of one interleaved sample frame.
func (f Format) FrameBytes() int {
	return f.Channels * f.BitDepth / 8
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz %dch %dbit", f.SampleRate, f.Channels, f.BitDepth)
}
