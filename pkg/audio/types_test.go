// ABOUTME: Tests for audio types
// ABOUTME: Tests descriptor validation, offset math, and sample conversion
package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDescriptorValid(t *testing.T) {
	tests := []struct {
		name string
		desc *Descriptor
		want bool
	}{
		{"nil", nil, false},
		{"stereo s16", &Descriptor{SampleRate: 48000, Channels: 2, BytesPerSample: 4, TotalBytes: 1000}, true},
		{"zero rate", &Descriptor{SampleRate: 0, Channels: 2, BytesPerSample: 4, TotalBytes: 1000}, false},
		{"zero channels", &Descriptor{SampleRate: 48000, Channels: 0, BytesPerSample: 4, TotalBytes: 1000}, false},
		{"zero depth", &Descriptor{SampleRate: 48000, Channels: 2, BytesPerSample: 0, TotalBytes: 1000}, false},
		{"empty buffer", &Descriptor{SampleRate: 48000, Channels: 2, BytesPerSample: 4, TotalBytes: 0}, false},
		{"negative buffer", &Descriptor{SampleRate: 48000, Channels: 2, BytesPerSample: 4, TotalBytes: -4}, false},
		{"uneven frame", &Descriptor{SampleRate: 48000, Channels: 2, BytesPerSample: 3, TotalBytes: 1000}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.desc.Valid())
		})
	}
}

func TestDescriptorFormat(t *testing.T) {
	d := &Descriptor{SampleRate: 44100, Channels: 2, BytesPerSample: 4, TotalBytes: 4}
	f := d.Format()

	assert.Equal(t, Format{SampleRate: 44100, Channels: 2, BitDepth: 16}, f)
	assert.Equal(t, 4, f.FrameBytes())
	assert.Equal(t, "44100Hz 2ch 16bit", f.String())
}

func TestOffsetForMicros(t *testing.T) {
	d := &Descriptor{SampleRate: 48000, Channels: 2, BytesPerSample: 4, TotalBytes: 48000 * 4 * 10}

	tests := []struct {
		name   string
		micros int64
		want   int64
	}{
		{"one second", 1_000_000, 192000},
		{"zero", 0, 0},
		{"negative clamps", -5, 0},
		{"past end clamps", 60_000_000, 48000 * 4 * 10},
		// 10µs at 48kHz is 0.48 frames: rounds down to the frame boundary
		{"sub frame", 10, 0},
		{"odd time", 1_000_010, 192000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.OffsetForMicros(tt.micros)
			assert.Equal(t, tt.want, got)
			assert.Zero(t, got%int64(d.BytesPerSample))
		})
	}
}

func TestMicrosForOffset(t *testing.T) {
	d := &Descriptor{SampleRate: 48000, Channels: 2, BytesPerSample: 4, TotalBytes: 48000 * 4 * 2}

	assert.Equal(t, int64(1_000_000), d.MicrosForOffset(192000))
	assert.Equal(t, int64(2_000_000), d.Duration())
}
