// ABOUTME: Synthetic clip with a sine tone track and generated frames
// ABOUTME: Used for demos and tests; timestamps can be jittered to be non-uniform
package source

import (
	"encoding/binary"
	"math"
	"math/rand/v2"
	"time"

	"github.com/Resonate-Protocol/framesync/pkg/audio"
	"github.com/Resonate-Protocol/framesync/pkg/clip"
)

const (
	// DefaultSampleRate for generated audio
	DefaultSampleRate = 48000
	// DefaultChannels for generated audio
	DefaultChannels = 2
	// DefaultFrequency is A4
	DefaultFrequency = 440.0
)

// ToneConfig describes a synthetic clip
type ToneConfig struct {
	Frames      int
	FPS         float64
	Width       int
	Height      int
	Jitter      float64 // max timestamp offset as a fraction of the frame interval
	Silent      bool
	SampleRate  int
	Frequency   float64
	DecodeDelay time.Duration // simulated per-frame decode cost
	Seed        uint64
}

// Tone generates frames and a 16-bit stereo sine track on demand
type Tone struct {
	cfg        ToneConfig
	timestamps []int64
	desc       *audio.Descriptor
}

// NewTone builds a tone clip, filling in defaults for zero fields
func NewTone(cfg ToneConfig) *Tone {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.Width <= 0 {
		cfg.Width = 64
	}
	if cfg.Height <= 0 {
		cfg.Height = 36
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Frequency <= 0 {
		cfg.Frequency = DefaultFrequency
	}
	if cfg.Frames < 0 {
		cfg.Frames = 0
	}

	t := &Tone{cfg: cfg}
	if cfg.Jitter > 0 {
		t.timestamps = jitteredTimestamps(cfg.Frames, cfg.FPS, cfg.Jitter, cfg.Seed)
	}

	if !cfg.Silent && cfg.Frames > 0 {
		durationMicros := int64(float64(cfg.Frames) * 1_000_000 / cfg.FPS)
		frameBytes := DefaultChannels * 2
		sampleFrames := durationMicros * int64(cfg.SampleRate) / 1_000_000
		t.desc = &audio.Descriptor{
			SampleRate:     cfg.SampleRate,
			Channels:       DefaultChannels,
			BytesPerSample: frameBytes,
			TotalBytes:     sampleFrames * int64(frameBytes),
		}
	}
	return t
}

// jitteredTimestamps spaces frames at 1/fps, nudging each by up to
// jitter*interval while keeping the sequence non-decreasing
func jitteredTimestamps(frames int, fps, jitter float64, seed uint64) []int64 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	interval := 1_000_000 / fps
	jitter = math.Min(jitter, 0.49)

	ts := make([]int64, frames)
	for i := range ts {
		if i == 0 {
			continue
		}
		offset := (rng.Float64()*2 - 1) * jitter * interval
		ts[i] = int64(float64(i)*interval + offset)
		if ts[i] < ts[i-1] {
			ts[i] = ts[i-1]
		}
	}
	return ts
}

// Context returns the playback context for this clip
func (t *Tone) Context() clip.Context {
	return clip.Context{
		Decoder:         t,
		Handle:          1,
		FrameCount:      t.cfg.Frames,
		NominalFPS:      t.cfg.FPS,
		FrameTimestamps: t.timestamps,
		Width:           t.cfg.Width,
		Height:          t.cfg.Height,
		Audio:           t.desc,
		Name:            "Test Tone",
	}
}

func (t *Tone) DecodeFrame(_ clip.Handle, index int, out []byte, width, height int) bool {
	if t.cfg.DecodeDelay > 0 {
		time.Sleep(t.cfg.DecodeDelay)
	}
	return paintFrame(out, width, height, index, t.cfg.Frames)
}

func (t *Tone) ReadAudioChunk(_ clip.Handle, offset int64, length int, out []byte) int {
	if t.desc == nil || offset < 0 || offset >= t.desc.TotalBytes {
		return 0
	}

	frameBytes := int64(t.desc.BytesPerSample)
	remaining := t.desc.TotalBytes - offset
	n := min(int64(length), int64(len(out)), remaining)
	n -= n % frameBytes

	sampleIndex := offset / frameBytes
	for i := int64(0); i < n/frameBytes; i++ {
		// Generate sine wave
		ts := float64(sampleIndex+i) / float64(t.cfg.SampleRate)
		sample := math.Sin(2 * math.Pi * t.cfg.Frequency * ts)

		// Convert to 16-bit PCM at 50% volume
		pcmValue := uint16(int16(sample * 32767.0 * 0.5))

		// Stereo (duplicate to both channels)
		binary.LittleEndian.PutUint16(out[i*frameBytes:], pcmValue)
		binary.LittleEndian.PutUint16(out[i*frameBytes+2:], pcmValue)
	}
	return int(n)
}
