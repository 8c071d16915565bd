// ABOUTME: Audio streamer feeding clip PCM into a sink from a background loop
// ABOUTME: Owns the atomic read cursor and the hardware clock anchored at each seek
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/framesync/pkg/audio"
	"github.com/Resonate-Protocol/framesync/pkg/audio/output"
	"github.com/Resonate-Protocol/framesync/pkg/clip"
	fsync "github.com/Resonate-Protocol/framesync/pkg/sync"
	"github.com/rs/zerolog"
)

// Defaults for Config
const (
	DefaultChunkFrames  = 1024
	DefaultRetryDelay   = 2 * time.Millisecond
	DefaultDrainTimeout = 2 * time.Second
	DefaultDrainPoll    = 5 * time.Millisecond
)

// EndReason says why a streaming loop finished on its own
type EndReason int

const (
	// EndOfStream means the cursor reached the end of the audio buffer
	EndOfStream EndReason = iota
	// EndReadFailed means the decoder returned no data before the end
	EndReadFailed
	// EndSinkFailed means a sink write returned an error
	EndSinkFailed
)

func (r EndReason) String() string {
	switch r {
	case EndOfStream:
		return "end_of_stream"
	case EndReadFailed:
		return "read_failed"
	case EndSinkFailed:
		return "sink_failed"
	default:
		return "unknown"
	}
}

// EndEvent is delivered on Ended when a loop finishes without being
// cancelled. Gen is the streamer generation the loop ran under; an event
// whose Gen differs from Generation() is stale.
type EndEvent struct {
	Gen    uint64
	Reason EndReason
	Err    error
}

var errCancelled = errors.New("stream: loop cancelled")

// Config configures a Streamer
type Config struct {
	Factory      output.Factory
	ChunkFrames  int
	RetryDelay   time.Duration
	DrainTimeout time.Duration
	DrainPoll    time.Duration
	Logger       zerolog.Logger
}

// Streamer pulls PCM from a clip decoder and writes it to an audio sink
type Streamer struct {
	cfg    Config
	log    zerolog.Logger
	cursor atomic.Int64
	ended  chan EndEvent

	mu      sync.Mutex
	decoder clip.Decoder
	handle  clip.Handle
	desc    *audio.Descriptor // nil when the clip is silent
	sink    output.Sink
	clock   *fsync.AudioClock // nil while no sink is open
	base    int64             // clock value while no sink is open
	playing bool
	gen     uint64
	loop    *loopState
}

// loopState is owned by one loop goroutine until done is closed
type loopState struct {
	cancel context.CancelFunc
	done   chan struct{}

	// set by the loop before done closes when cancelled mid-write
	unwritten    int64
	unwrittenEnd int64
}

// New creates a streamer with no clip prepared
func New(cfg Config) *Streamer {
	if cfg.ChunkFrames <= 0 {
		cfg.ChunkFrames = DefaultChunkFrames
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.DrainPoll <= 0 {
		cfg.DrainPoll = DefaultDrainPoll
	}
	if cfg.Factory == nil {
		cfg.Factory = output.NullFactory()
	}

	return &Streamer{
		cfg:   cfg,
		log:   cfg.Logger,
		ended: make(chan EndEvent, 4),
	}
}

// Prepare loads the audio track of c. An invalid descriptor turns the
// streamer into a no-op and releases any sink. The sink is rebuilt only if
// the format changed; otherwise it is flushed and reused.
func (s *Streamer) Prepare(c clip.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.playing = false
	s.stopLoop(false)
	s.cursor.Store(0)
	s.base = 0
	s.decoder = c.Decoder
	s.handle = c.Handle

	if !c.HasAudio() {
		s.desc = nil
		s.closeSink()
		return nil
	}

	desc := *c.Audio
	format := desc.Format()

	if s.sink != nil && s.sink.Format() == format {
		if err := s.sink.Flush(); err == nil {
			s.desc = &desc
			s.clock.ResetBase(0)
			s.log.Debug().Stringer("format", format).Msg("reusing audio sink")
			return nil
		}
		s.log.Warn().Msg("flush failed, rebuilding audio sink")
	}

	s.closeSink()
	s.desc = &desc
	if err := s.openSink(); err != nil {
		s.desc = nil
		return err
	}
	return nil
}

// Play starts streaming from the cursor. If a loop is already running only
// the sink is resumed.
func (s *Streamer) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.desc == nil {
		return nil
	}
	s.playing = true

	if s.loopRunning() {
		if err := s.sink.Play(); err != nil {
			return fmt.Errorf("resume sink: %w", err)
		}
		return nil
	}

	if s.sink == nil {
		if err := s.openSink(); err != nil {
			s.playing = false
			return err
		}
	}
	if err := s.sink.Play(); err != nil {
		s.playing = false
		return fmt.Errorf("start sink: %w", err)
	}
	s.startLoop()
	return nil
}

// Pause stops the loop and pauses the sink without flushing. Audio already
// queued stays queued and Play resumes where it left off.
func (s *Streamer) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.playing = false
	if s.desc == nil {
		return nil
	}
	s.stopLoop(true)
	if s.sink != nil {
		if err := s.sink.Pause(); err != nil {
			return fmt.Errorf("pause sink: %w", err)
		}
	}
	return nil
}

// Stop stops the loop, flushes and releases the sink, and resets the cursor
// and clock to zero. It returns once the sink is closed.
func (s *Streamer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.playing = false
	s.stopLoop(false)
	s.cursor.Store(0)
	s.base = 0

	var err error
	if s.sink != nil {
		if ferr := s.sink.Flush(); ferr != nil {
			err = fmt.Errorf("flush sink: %w", ferr)
		}
	}
	s.closeSink()
	return err
}

// SeekTo moves playback to micros. The cursor is overwritten before the
// running loop is awaited so that a read racing the seek fails its advance.
func (s *Streamer) SeekTo(micros int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.desc == nil {
		return nil
	}
	offset := s.desc.OffsetForMicros(micros)

	if s.loop != nil {
		s.loop.cancel()
	}
	s.cursor.Store(offset)
	s.stopLoop(false)

	if s.sink == nil {
		s.base = micros
		if s.playing {
			if err := s.openSink(); err != nil {
				return err
			}
		} else {
			return nil
		}
	}

	if err := s.sink.Flush(); err != nil {
		return fmt.Errorf("flush sink: %w", err)
	}
	s.clock.ResetBase(micros)

	if s.playing {
		if err := s.sink.Play(); err != nil {
			return fmt.Errorf("restart sink: %w", err)
		}
		s.startLoop()
	}
	return nil
}

// SyncPositionWithoutRestart re-anchors cursor and clock at micros while
// leaving the sink and any running loop alone. The loop picks up the new
// cursor on its next chunk.
func (s *Streamer) SyncPositionWithoutRestart(micros int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.desc == nil {
		return
	}
	s.cursor.Store(s.desc.OffsetForMicros(micros))
	if s.clock != nil {
		s.clock.ResetBase(micros)
	} else {
		s.base = micros
	}
}

// ElapsedMicros returns the audio playback time
func (s *Streamer) ElapsedMicros() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clock == nil {
		return s.base
	}
	return s.clock.ElapsedMicros()
}

// Offset returns the next byte the loop will read
func (s *Streamer) Offset() int64 {
	return s.cursor.Load()
}

// HasAudio reports whether a valid audio track is prepared
func (s *Streamer) HasAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desc != nil
}

// Playing reports whether Play was called without a later Pause or Stop
func (s *Streamer) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Generation identifies the current loop; see EndEvent
func (s *Streamer) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Ended delivers loop completion events
func (s *Streamer) Ended() <-chan EndEvent {
	return s.ended
}

// Close stops playback and releases the sink
func (s *Streamer) Close() error {
	return s.Stop()
}

func (s *Streamer) openSink() error {
	format := s.desc.Format()
	sink, err := s.cfg.Factory(format)
	if err != nil {
		return fmt.Errorf("open sink %s: %w", format, err)
	}
	s.sink = sink
	s.clock = fsync.NewAudioClock(sink, format.SampleRate)
	s.clock.ResetBase(s.base)
	s.log.Debug().Stringer("format", format).Msg("audio sink opened")
	return nil
}

// closeSink blocks until the sink is released
func (s *Streamer) closeSink() {
	if s.sink == nil {
		return
	}
	if err := s.sink.Close(); err != nil {
		s.log.Warn().Err(err).Msg("closing audio sink")
	}
	s.sink = nil
	s.clock = nil
}

func (s *Streamer) loopRunning() bool {
	if s.loop == nil {
		return false
	}
	select {
	case <-s.loop.done:
		return false
	default:
		return true
	}
}

func (s *Streamer) startLoop() {
	if s.loop != nil {
		// finished on its own; release its context
		s.loop.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.gen++
	l := &loopState{cancel: cancel, done: make(chan struct{})}
	s.loop = l
	go s.run(ctx, l, s.gen, s.sink, s.decoder, s.handle, *s.desc)
}

// stopLoop cancels the loop and waits for it. With rollback the bytes the
// loop read but never handed to the sink are returned to the cursor.
func (s *Streamer) stopLoop(rollback bool) {
	if s.loop == nil {
		return
	}
	l := s.loop
	l.cancel()
	<-l.done
	s.loop = nil
	s.gen++

	if rollback && l.unwritten > 0 {
		s.cursor.CompareAndSwap(l.unwrittenEnd, l.unwrittenEnd-l.unwritten)
	}
}

// run never takes s.mu; everything it needs is passed in
func (s *Streamer) run(ctx context.Context, l *loopState, gen uint64, sink output.Sink,
	decoder clip.Decoder, handle clip.Handle, desc audio.Descriptor) {
	defer close(l.done)

	frameBytes := int64(desc.BytesPerSample)
	buf := make([]byte, int64(s.cfg.ChunkFrames)*frameBytes)

	for {
		if ctx.Err() != nil {
			return
		}

		offset := s.cursor.Load()
		if offset >= desc.TotalBytes {
			s.finish(ctx, sink, EndEvent{Gen: gen, Reason: EndOfStream})
			return
		}

		want := min(int64(len(buf)), desc.TotalBytes-offset)
		n := int64(decoder.ReadAudioChunk(handle, offset, int(want), buf[:want]))
		n -= n % frameBytes
		if n <= 0 {
			s.log.Warn().Int64("offset", offset).Msg("audio read returned no data, ending stream")
			s.finish(ctx, sink, EndEvent{Gen: gen, Reason: EndReadFailed})
			return
		}

		// A seek or resync moved the cursor while we were reading
		if !s.cursor.CompareAndSwap(offset, offset+n) {
			continue
		}

		err := s.write(ctx, sink, buf[:n], l, offset+n)
		if errors.Is(err, errCancelled) {
			return
		}
		if err != nil {
			s.log.Error().Err(err).Msg("audio sink write failed")
			s.emit(EndEvent{Gen: gen, Reason: EndSinkFailed, Err: err})
			return
		}
	}
}

// write hands p to the sink, waiting while its buffer is full
func (s *Streamer) write(ctx context.Context, sink output.Sink, p []byte, l *loopState, end int64) error {
	for len(p) > 0 {
		if ctx.Err() != nil {
			l.unwritten = int64(len(p))
			l.unwrittenEnd = end
			return errCancelled
		}

		n, err := sink.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
		if n > 0 {
			continue
		}

		select {
		case <-ctx.Done():
		case <-time.After(s.cfg.RetryDelay):
		}
	}
	return nil
}

// finish waits for the sink to play out what it holds, then reports the end
func (s *Streamer) finish(ctx context.Context, sink output.Sink, ev EndEvent) {
	if !s.drain(ctx, sink) {
		return
	}
	s.emit(ev)
}

func (s *Streamer) drain(ctx context.Context, sink output.Sink) bool {
	deadline := time.Now().Add(s.cfg.DrainTimeout)
	ticker := time.NewTicker(s.cfg.DrainPoll)
	defer ticker.Stop()

	for sink.Buffered() > 0 {
		if time.Now().After(deadline) {
			s.log.Warn().Int("buffered", sink.Buffered()).Msg("audio drain timed out")
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return true
}

func (s *Streamer) emit(ev EndEvent) {
	select {
	case s.ended <- ev:
	default:
		s.log.Warn().Stringer("reason", ev.Reason).Msg("dropping audio end event, consumer behind")
	}
}
