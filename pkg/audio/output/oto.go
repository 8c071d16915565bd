// ABOUTME: Oto-based audio sink implementation
// ABOUTME: Feeds a persistent oto player from a ring buffer and tracks its playback head
package output

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/Resonate-Protocol/framesync/pkg/audio"
	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"
)

// oto allows a single context per process
var (
	otoMu     sync.Mutex
	otoCtx    *oto.Context
	otoFormat audio.Format
)

// Oto sink backed by the platform audio device
type Oto struct {
	mu     sync.Mutex
	log    zerolog.Logger
	format audio.Format
	src    *ringReader
	player *oto.Player
	head   headTracker
	volume int
	muted  bool
	closed bool
}

// ringReader is the oto player's source. oto pulls from it on its own
// goroutine; consumed counts the bytes handed over since the last flush.
type ringReader struct {
	ring     *RingBuffer
	consumed atomic.Int64
}

func (r *ringReader) Read(p []byte) (int, error) {
	n := r.ring.Read(p)
	r.consumed.Add(int64(n))
	return n, nil
}

// headTracker keeps the reported head from moving backwards. oto counts
// bytes out of ringReader before adding them to its own buffer, so a poll in
// between sees them as already played.
type headTracker struct {
	peak int64
}

// observe returns frames, or the highest value seen since the last reset
func (h *headTracker) observe(frames int64) uint32 {
	if frames < h.peak {
		frames = h.peak
	}
	h.peak = frames
	return uint32(frames)
}

func (h *headTracker) reset() { h.peak = 0 }

// Seek is invoked by oto.Player.Seek while it drops its own buffer
func (r *ringReader) Seek(offset int64, whence int) (int64, error) {
	r.ring.Reset()
	r.consumed.Store(0)
	return 0, nil
}

// OtoFactory opens Oto sinks at the given volume (0-100). Once the device
// context is bound to a format, 16-bit audio in other formats is converted
// to it.
func OtoFactory(logger zerolog.Logger, volume int) Factory {
	return func(format audio.Format) (Sink, error) {
		o, err := NewOto(format, logger)
		if errors.Is(err, ErrFormatLocked) {
			return openConverted(format, logger, volume, err)
		}
		if err != nil {
			return nil, err
		}
		o.SetVolume(volume)
		return o, nil
	}
}

func openConverted(format audio.Format, logger zerolog.Logger, volume int, lockErr error) (Sink, error) {
	otoMu.Lock()
	locked := otoFormat
	otoMu.Unlock()

	if format.BitDepth != 16 || locked.BitDepth != 16 {
		return nil, lockErr
	}
	o, err := NewOto(locked, logger)
	if err != nil {
		return nil, err
	}
	o.SetVolume(volume)

	c, err := NewConverted(o, format)
	if err != nil {
		_ = o.Close()
		return nil, err
	}
	logger.Info().Stringer("from", format).Stringer("to", locked).Msg("converting audio to device format")
	return c, nil
}

// NewOto opens an oto player for the given format
func NewOto(format audio.Format, logger zerolog.Logger) (*Oto, error) {
	ctx, err := otoContext(format, logger)
	if err != nil {
		return nil, err
	}

	capacity := format.SampleRate * format.FrameBytes() * DefaultBufferMillis / 1000
	src := &ringReader{ring: NewRingBuffer(capacity, format.FrameBytes())}

	player := ctx.NewPlayer(src)
	// Keep oto's own buffer short so the head position stays close to the speaker
	player.SetBufferSize(format.SampleRate * format.FrameBytes() / 20)

	logger.Info().Stringer("format", format).Msg("audio output opened")

	return &Oto{
		log:    logger,
		format: format,
		src:    src,
		player: player,
		volume: 100,
	}, nil
}

func otoContext(format audio.Format, logger zerolog.Logger) (*oto.Context, error) {
	otoMu.Lock()
	defer otoMu.Unlock()

	// If already initialized with same format, reuse the existing context
	if otoCtx != nil {
		if otoFormat == format {
			return otoCtx, nil
		}
		return nil, fmt.Errorf("%w: have %s, want %s", ErrFormatLocked, otoFormat, format)
	}

	var sampleFormat oto.Format
	switch format.BitDepth {
	case 8:
		sampleFormat = oto.FormatUnsignedInt8
	case 16:
		sampleFormat = oto.FormatSignedInt16LE
	case 32:
		sampleFormat = oto.FormatFloat32LE
	default:
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 8, 16, 32)", format.BitDepth)
	}

	op := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       sampleFormat,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-readyChan

	otoCtx = ctx
	otoFormat = format
	logger.Debug().Stringer("format", format).Msg("oto context created")
	return ctx, nil
}

func (o *Oto) Format() audio.Format { return o.format }

func (o *Oto) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return 0, ErrNotOpen
	}
	if err := o.player.Err(); err != nil {
		return 0, fmt.Errorf("oto player: %w", err)
	}
	return o.src.ring.Write(p), nil
}

func (o *Oto) Play() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrNotOpen
	}
	o.player.Play()
	return nil
}

func (o *Oto) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrNotOpen
	}
	o.player.Pause()
	return nil
}

func (o *Oto) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrNotOpen
	}

	wasPlaying := o.player.IsPlaying()
	o.player.Pause()
	// Seek drops oto's internal buffer and resets our ring through ringReader.Seek
	if _, err := o.player.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("flush failed: %w", err)
	}
	o.head.reset()
	if wasPlaying {
		o.player.Play()
	}
	return nil
}

func (o *Oto) Buffered() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return 0
	}
	return o.src.ring.Available() + o.player.BufferedSize()
}

func (o *Oto) HeadPosition() uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return 0
	}

	played := o.src.consumed.Load() - int64(o.player.BufferedSize())
	if played < 0 {
		played = 0
	}
	return o.head.observe(played / int64(o.format.FrameBytes()))
}

// Close releases output resources. The shared oto context stays alive for
// the next sink.
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true
	o.player.Pause()
	if err := o.player.Close(); err != nil {
		return fmt.Errorf("close player: %w", err)
	}
	o.src.ring.Reset()
	o.head.reset()
	o.log.Info().Msg("audio output closed")
	return nil
}

// SetVolume sets the volume (0-100)
func (o *Oto) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.volume = volume
	if !o.closed {
		o.player.SetVolume(getVolumeMultiplier(o.volume, o.muted))
	}
	o.log.Debug().Int("volume", volume).Msg("volume set")
}

// SetMuted sets mute state
func (o *Oto) SetMuted(muted bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.muted = muted
	if !o.closed {
		o.player.SetVolume(getVolumeMultiplier(o.volume, o.muted))
	}
}

// getVolumeMultiplier calculates volume multiplier
func getVolumeMultiplier(volume int, muted bool) float64 {
	if muted {
		return 0.0
	}
	return float64(volume) / 100.0
}
