// ABOUTME: Playback scheduler driving frames from the audio or wall clock
// ABOUTME: Serializes transport commands and owns all transport state on one goroutine
package transport

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/framesync/pkg/audio/stream"
	"github.com/Resonate-Protocol/framesync/pkg/clip"
	fsync "github.com/Resonate-Protocol/framesync/pkg/sync"
	"github.com/Resonate-Protocol/framesync/pkg/timeline"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Defaults for Config
const (
	DefaultTickInterval  = 4 * time.Millisecond
	DefaultMaxLookahead  = 50 * time.Millisecond
	DefaultDecodeRetries = 3
)

// Config configures a Scheduler
type Config struct {
	Renderer Renderer
	Audio    stream.Config

	// TickInterval is how often drop-frame pacing polls the clock
	TickInterval time.Duration

	// MaxLookahead caps how far ahead of the clock the processing estimate
	// may push the target frame. Negative disables lookahead.
	MaxLookahead time.Duration

	// DecodeRetries is how often sequential playback retries a frame that
	// failed to decode before skipping it
	DecodeRetries int

	DropFrame bool
	Logger    zerolog.Logger

	// OnState and OnEvent run on the scheduler goroutine. They must not
	// block or call back into the Scheduler.
	OnState func(Snapshot)
	OnEvent func(Event)
}

type command struct {
	fn    func() error
	reply chan error
}

// Scheduler is the playback transport. All methods are safe for concurrent
// use; commands are applied one at a time in arrival order.
type Scheduler struct {
	cfg Config
	log zerolog.Logger

	cmds      chan command
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	snap      atomic.Pointer[Snapshot]

	// owned by the run goroutine
	streamer *stream.Streamer
	wall     *fsync.WallClock
	est      *fsync.TimingEstimator
	worker   *renderWorker
	ticker   *time.Ticker
	failLog  *rate.Limiter

	hasContext    bool
	clip          clip.Context
	tl            *timeline.Timeline
	contextID     string
	audioDuration int64

	mode          Mode
	frame         int
	displayed     int
	dropFrame     bool
	clockSource   ClockSource
	audioDegraded bool

	seq           uint64
	busy          bool
	frameFailures int
	failStreak    int

	rendered       uint64
	dropped        uint64
	decodeFailures uint64
	renderFailures uint64

	published Snapshot
}

// New creates a scheduler and starts its goroutines
func New(cfg Config) *Scheduler {
	if cfg.Renderer == nil {
		cfg.Renderer = RendererFunc(func(Frame) error { return nil })
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.MaxLookahead == 0 {
		cfg.MaxLookahead = DefaultMaxLookahead
	}
	if cfg.DecodeRetries <= 0 {
		cfg.DecodeRetries = DefaultDecodeRetries
	}

	s := &Scheduler{
		cfg:       cfg,
		log:       cfg.Logger,
		cmds:      make(chan command),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		streamer:  stream.New(cfg.Audio),
		wall:      fsync.NewWallClock(),
		est:       fsync.NewTimingEstimator(),
		worker:    newRenderWorker(cfg.Renderer),
		ticker:    time.NewTicker(cfg.TickInterval),
		failLog:   rate.NewLimiter(rate.Every(time.Second), 3),
		tl:        timeline.New(0, 0, nil),
		dropFrame: cfg.DropFrame,
		displayed: -1,
	}
	s.ticker.Stop()
	s.published = s.snapshot()
	snap := s.published
	s.snap.Store(&snap)

	go s.run()
	return s
}

// UpdateContext replaces the active clip. Playback stops, the transport
// pauses at frame 0, and frame 0 is rendered.
func (s *Scheduler) UpdateContext(c clip.Context) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return s.do(func() error { return s.updateContext(c) })
}

// Play starts playback. No-op if already playing.
func (s *Scheduler) Play() error {
	return s.do(func() error { s.play(); return nil })
}

// Pause halts playback, keeping position. Idempotent.
func (s *Scheduler) Pause() error {
	return s.do(func() error { s.pause(); return nil })
}

// Stop halts playback, releases the audio device, and returns to frame 0
func (s *Scheduler) Stop() error {
	return s.do(func() error { s.stop(); return nil })
}

// Seek moves to frameIndex, clamped to the clip, and renders it
func (s *Scheduler) Seek(frameIndex int) error {
	return s.do(func() error { s.seek(frameIndex); return nil })
}

// Step seeks delta frames relative to the current frame
func (s *Scheduler) Step(delta int) error {
	return s.do(func() error { s.seek(s.frame + delta); return nil })
}

// AdvanceFrameSequential steps to the next frame, completing playback when
// already on the last one
func (s *Scheduler) AdvanceFrameSequential() error {
	return s.do(func() error { s.advanceSequential(); return nil })
}

// SetDropFrameMode switches pacing policy for the next scheduling decision
func (s *Scheduler) SetDropFrameMode(enabled bool) error {
	return s.do(func() error { s.setDropFrame(enabled); return nil })
}

// ReportFrameTiming feeds externally measured costs into the estimator
func (s *Scheduler) ReportFrameTiming(decodeMicros, renderMicros float64) error {
	return s.do(func() error {
		s.est.Report(decodeMicros, renderMicros)
		return nil
	})
}

// State returns the last published snapshot
func (s *Scheduler) State() Snapshot {
	return *s.snap.Load()
}

// CurrentFrame returns the current frame index
func (s *Scheduler) CurrentFrame() int {
	return s.State().FrameIndex
}

// Close stops playback and ends the scheduler goroutines
func (s *Scheduler) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
	<-s.done
	return nil
}

func (s *Scheduler) do(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case s.cmds <- command{fn: fn, reply: reply}:
	case <-s.quit:
		return ErrClosed
	}
	return <-reply
}

func (s *Scheduler) run() {
	defer close(s.done)

	for {
		select {
		case <-s.quit:
			s.shutdown()
			return
		case cmd := <-s.cmds:
			err := cmd.fn()
			s.publish()
			cmd.reply <- err
		case <-s.ticker.C:
			s.onTick()
			s.publish()
		case res := <-s.worker.results:
			s.onRendered(res)
			s.publish()
		case ev := <-s.streamer.Ended():
			s.onAudioEnd(ev)
			s.publish()
		}
	}
}

func (s *Scheduler) shutdown() {
	s.ticker.Stop()
	s.worker.stop()
	if err := s.streamer.Close(); err != nil {
		s.log.Warn().Err(err).Msg("closing audio streamer")
	}
}

func (s *Scheduler) updateContext(c clip.Context) error {
	s.stopTicker()
	s.supersede()
	if err := s.streamer.Stop(); err != nil {
		s.log.Warn().Err(err).Msg("stopping audio for new context")
	}

	c.Decoder = clip.Serialize(c.Decoder)
	s.clip = c
	s.hasContext = true
	s.tl = timeline.New(c.FrameCount, c.NominalFPS, c.FrameTimestamps)
	if !s.tl.Valid() {
		s.log.Warn().
			Int("frames", c.FrameCount).
			Int("timestamps", len(c.FrameTimestamps)).
			Msg("frame timestamps unusable, falling back to nominal fps")
	}
	s.contextID = uuid.NewString()

	s.mode = ModePaused
	s.frame = 0
	s.displayed = -1
	s.clockSource = ClockWall
	s.audioDegraded = false
	s.audioDuration = 0
	s.frameFailures = 0
	s.failStreak = 0
	s.rendered, s.dropped, s.decodeFailures, s.renderFailures = 0, 0, 0, 0
	s.est.Reset()
	s.wall.Pause()
	s.wall.ResetBase(0)

	if c.HasAudio() {
		s.audioDuration = c.Audio.Duration()
	}
	if err := s.streamer.Prepare(c); err != nil {
		s.log.Error().Err(err).Msg("audio unavailable, playing silent")
		s.audioDegraded = true
		s.emit(Event{Type: EventAudioDegraded, Err: err})
	}

	s.log.Info().
		Str("context", s.contextID).
		Str("clip", c.Name).
		Int("frames", c.FrameCount).
		Bool("audio", s.audioUsable()).
		Bool("uniform", s.tl.Uniform()).
		Msg("context loaded")
	s.emit(Event{Type: EventContextLoaded})

	if s.tl.FrameCount() > 0 {
		s.request(0)
	}
	return nil
}

func (s *Scheduler) play() {
	if s.mode == ModePlaying || !s.hasContext || s.tl.FrameCount() == 0 {
		return
	}

	if s.frame >= s.tl.FrameCount()-1 {
		s.seek(0)
	}

	s.mode = ModePlaying
	s.startClocks()
	s.startTicker()
	s.log.Debug().Int("frame", s.frame).Bool("drop_frame", s.dropFrame).Msg("play")

	// an in-flight frame advances playback when it lands
	if !s.dropFrame && !s.busy {
		if s.displayed != s.frame {
			s.request(s.frame)
			return
		}
		s.advanceSequential()
	}
}

// startClocks anchors both clocks at the current frame and starts audio
// when the position is inside the audio track
func (s *Scheduler) startClocks() {
	pos := s.tl.TimeForFrame(s.frame)

	s.wall.ResetBase(pos)
	s.wall.Start()
	s.clockSource = ClockWall

	if !s.audioUsable() || pos >= s.audioDuration {
		return
	}

	// lookahead may leave the frame one ahead of the clock; only re-seek
	// audio that is further off than that
	if drift := s.tl.FrameForTime(s.streamer.ElapsedMicros()) - s.frame; drift < -1 || drift > 1 {
		if err := s.streamer.SeekTo(pos); err != nil {
			s.degradeAudio(err, pos)
			return
		}
	}
	if err := s.streamer.Play(); err != nil {
		s.degradeAudio(err, pos)
		return
	}
	s.clockSource = ClockAudio
}

func (s *Scheduler) pause() {
	if s.mode != ModePlaying {
		return
	}
	s.mode = ModePaused
	s.haltClocks()
	s.log.Debug().Int("frame", s.frame).Msg("pause")
}

func (s *Scheduler) haltClocks() {
	s.stopTicker()
	s.wall.Pause()
	if s.audioUsable() {
		if err := s.streamer.Pause(); err != nil {
			s.log.Warn().Err(err).Msg("pausing audio")
		}
	}
}

func (s *Scheduler) stop() {
	if !s.hasContext {
		return
	}
	s.mode = ModeIdle
	s.stopTicker()
	s.supersede()
	s.wall.Pause()
	s.wall.ResetBase(0)
	if err := s.streamer.Stop(); err != nil {
		s.log.Warn().Err(err).Msg("stopping audio")
	}
	s.frame = 0
	s.frameFailures = 0
	s.clockSource = ClockWall
	s.log.Debug().Msg("stop")
}

func (s *Scheduler) seek(frameIndex int) {
	if !s.hasContext || s.tl.FrameCount() == 0 {
		return
	}

	prev := s.mode
	s.mode = ModeSeeking

	frameIndex = s.tl.Clamp(frameIndex)
	pos := s.tl.TimeForFrame(frameIndex)

	s.wall.ResetBase(pos)
	if s.audioUsable() {
		if err := s.streamer.SeekTo(pos); err != nil {
			s.degradeAudio(err, pos)
		}
	}
	if prev == ModePlaying {
		s.clockSource = ClockWall
		if s.audioUsable() && pos < s.audioDuration {
			s.clockSource = ClockAudio
		}
	}

	s.frame = frameIndex
	s.frameFailures = 0
	s.mode = prev
	s.request(frameIndex)
}

func (s *Scheduler) advanceSequential() {
	if !s.hasContext || s.tl.FrameCount() == 0 {
		return
	}
	if s.frame >= s.tl.FrameCount()-1 {
		s.complete()
		return
	}
	s.frame++
	s.frameFailures = 0
	s.request(s.frame)
}

func (s *Scheduler) setDropFrame(enabled bool) {
	if s.dropFrame == enabled {
		return
	}
	s.dropFrame = enabled

	if s.mode != ModePlaying {
		return
	}
	if enabled {
		// sequential playback let the clocks drift; pull them back to the frame
		pos := s.tl.TimeForFrame(s.frame)
		s.wall.ResetBase(pos)
		if s.clockSource == ClockAudio {
			s.streamer.SyncPositionWithoutRestart(pos)
		}
		return
	}
	if !s.busy {
		s.advanceSequential()
	}
}

func (s *Scheduler) complete() {
	last := s.tl.FrameCount() - 1
	s.mode = ModePaused
	s.haltClocks()
	s.frame = last
	if s.displayed != last {
		s.request(last)
	}
	s.log.Info().Str("context", s.contextID).Msg("playback completed")
	s.emit(Event{Type: EventCompleted, Frame: last})
}

// elapsed reads whichever clock currently drives playback
func (s *Scheduler) elapsed() int64 {
	if s.clockSource == ClockAudio {
		return s.streamer.ElapsedMicros()
	}
	return s.wall.ElapsedMicros()
}

func (s *Scheduler) onTick() {
	if s.mode != ModePlaying || s.tl.FrameCount() == 0 {
		return
	}

	if !s.dropFrame {
		// pacing comes from render completion; ticks only recover an idle worker
		if s.busy {
			return
		}
		if s.frameFailures > 0 && s.frameFailures <= s.cfg.DecodeRetries {
			s.request(s.frame)
			return
		}
		s.advanceSequential()
		return
	}

	now := s.elapsed()
	if s.clockSource == ClockWall && now >= s.tl.Duration() {
		s.complete()
		return
	}
	if s.busy {
		return
	}

	target := s.tl.FrameForTime(now + s.lookahead())
	if target < s.frame {
		return
	}
	if target == s.frame && (s.displayed == s.frame || s.frameFailures > s.cfg.DecodeRetries) {
		return
	}
	if skipped := target - s.frame - 1; skipped > 0 {
		s.dropped += uint64(skipped)
		s.emit(Event{Type: EventFramesDropped, Frame: target, Count: skipped})
	}
	s.frame = target
	s.request(target)
}

func (s *Scheduler) lookahead() int64 {
	if s.cfg.MaxLookahead < 0 {
		return 0
	}
	return min(s.est.ProcessingEstimateMicros(), s.cfg.MaxLookahead.Microseconds())
}

func (s *Scheduler) onRendered(res renderResult) {
	if res.req.contextID != s.contextID {
		return
	}

	decodeMicros := float64(res.decodeDur.Microseconds())
	renderMicros := math.NaN()
	if res.decoded && res.renderErr == nil {
		renderMicros = float64(res.renderDur.Microseconds())
	}
	s.est.Report(decodeMicros, renderMicros)

	if res.req.seq != s.seq {
		return
	}
	s.busy = false
	frame := res.req.frame

	switch {
	case !res.decoded:
		s.recordFailure(Event{Type: EventDecodeFailed, Frame: frame, DecodeMicros: decodeMicros})
		return
	case res.renderErr != nil:
		s.recordFailure(Event{Type: EventRenderFailed, Frame: frame, Err: res.renderErr})
		return
	}

	s.failStreak = 0
	s.frameFailures = 0
	s.displayed = frame
	s.rendered++
	s.emit(Event{
		Type:         EventFrameRendered,
		Frame:        frame,
		DecodeMicros: decodeMicros,
		RenderMicros: renderMicros,
	})

	if s.mode == ModePlaying && !s.dropFrame {
		s.advanceSequential()
	}
}

// recordFailure notes a frame that was not updated. Only decode failures
// count toward the decode failure streak.
func (s *Scheduler) recordFailure(ev Event) {
	s.frameFailures++
	if ev.Type == EventDecodeFailed {
		s.decodeFailures++
		s.failStreak++
	} else {
		s.renderFailures++
	}

	if s.failLog.Allow() {
		s.log.Warn().
			Stringer("type", ev.Type).
			Int("frame", ev.Frame).
			Int("streak", s.failStreak).
			Err(ev.Err).
			Msg("frame not updated")
	}
	s.emit(ev)

	if ev.Type == EventDecodeFailed && s.failStreak == s.cfg.DecodeRetries {
		s.emit(Event{Type: EventDecodeFailing, Frame: ev.Frame, Count: s.failStreak})
	}
}

func (s *Scheduler) onAudioEnd(ev stream.EndEvent) {
	if ev.Gen != s.streamer.Generation() || s.mode != ModePlaying {
		return
	}

	pos := s.streamer.ElapsedMicros()

	if ev.Reason != stream.EndOfStream {
		s.degradeAudio(ev.Err, pos)
		return
	}

	s.log.Debug().Int64("position", pos).Msg("audio reached end of stream")
	if !s.dropFrame || s.clockSource != ClockAudio {
		return
	}
	if pos >= s.tl.Duration() || s.tl.FrameForTime(pos) >= s.tl.FrameCount()-1 {
		s.complete()
		return
	}
	// audio is shorter than the video; finish on the wall clock
	s.wall.ResetBase(pos)
	s.clockSource = ClockWall
}

// degradeAudio abandons audio for the current context and continues on the
// wall clock from pos
func (s *Scheduler) degradeAudio(err error, pos int64) {
	s.audioDegraded = true
	if stopErr := s.streamer.Stop(); stopErr != nil {
		s.log.Warn().Err(stopErr).Msg("releasing failed audio sink")
	}
	s.wall.ResetBase(pos)
	s.clockSource = ClockWall
	s.log.Error().Err(err).Int64("position", pos).Msg("audio degraded, continuing silent")
	s.emit(Event{Type: EventAudioDegraded, Err: err})
}

func (s *Scheduler) audioUsable() bool {
	return !s.audioDegraded && s.streamer.HasAudio()
}

func (s *Scheduler) request(frame int) {
	s.seq++
	s.busy = true
	s.worker.submit(renderRequest{
		seq:       s.seq,
		contextID: s.contextID,
		decoder:   s.clip.Decoder,
		handle:    s.clip.Handle,
		frame:     frame,
		width:     s.clip.Width,
		height:    s.clip.Height,
	})
}

// supersede drops any queued or in-flight frame
func (s *Scheduler) supersede() {
	s.seq++
	s.busy = false
	s.worker.supersede(s.seq)
}

func (s *Scheduler) startTicker() {
	s.ticker.Reset(s.cfg.TickInterval)
}

func (s *Scheduler) stopTicker() {
	s.ticker.Stop()
}

func (s *Scheduler) emit(ev Event) {
	ev.ContextID = s.contextID
	ev.Time = time.Now()
	if s.cfg.OnEvent != nil {
		s.cfg.OnEvent(ev)
	}
}

func (s *Scheduler) snapshot() Snapshot {
	timing := s.est.Snapshot()
	return Snapshot{
		ContextID:      s.contextID,
		ClipName:       s.clip.Name,
		FrameIndex:     s.frame,
		DisplayedFrame: s.displayed,
		FrameCount:     s.tl.FrameCount(),
		Mode:           s.mode,
		DropFrame:      s.dropFrame,
		DecodeEMA:      timing.DecodeMicros,
		RenderEMA:      timing.RenderMicros,
		ProcessingEMA:  timing.ProcessingMicros,
		AudioActive:    s.audioUsable(),
		ClockSource:    s.clockSource,
		PositionMicros: s.tl.TimeForFrame(s.frame),
		DurationMicros: s.tl.Duration(),
		FramesRendered: s.rendered,
		FramesDropped:  s.dropped,
		DecodeFailures: s.decodeFailures,
		RenderFailures: s.renderFailures,
	}
}

func (s *Scheduler) publish() {
	snap := s.snapshot()
	if snap == s.published {
		return
	}
	s.published = snap
	s.snap.Store(&snap)
	if s.cfg.OnState != nil {
		s.cfg.OnState(snap)
	}
}
