// ABOUTME: Entry point for the framesync player
// ABOUTME: Loads config and flags, builds the clip, and runs scheduler, TUI, and control server
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/framesync/internal/config"
	flog "github.com/Resonate-Protocol/framesync/internal/log"
	"github.com/Resonate-Protocol/framesync/internal/metrics"
	"github.com/Resonate-Protocol/framesync/internal/server"
	"github.com/Resonate-Protocol/framesync/internal/ui"
	"github.com/Resonate-Protocol/framesync/internal/version"
	"github.com/Resonate-Protocol/framesync/pkg/audio/output"
	"github.com/Resonate-Protocol/framesync/pkg/audio/stream"
	"github.com/Resonate-Protocol/framesync/pkg/clip"
	"github.com/Resonate-Protocol/framesync/pkg/clip/source"
	"github.com/Resonate-Protocol/framesync/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "framesync: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	play       bool
	version    bool
}

// parseFlags loads the config file and applies flag overrides on top
func parseFlags(args []string) (*config.Config, options, error) {
	var opts options

	flags := pflag.NewFlagSet("framesync", pflag.ContinueOnError)
	flags.StringVar(&opts.configPath, "config", "", "Config file path (default: search for framesync.yaml)")
	clipSource := flags.String("clip", "", "Clip source: tone, mp3, flac")
	audioPath := flags.String("audio", "", "Audio file for mp3 and flac clips")
	fps := flags.Float64("fps", 0, "Nominal frame rate")
	frames := flags.Int("frames", 0, "Frame count for tone clips")
	uniform := flags.Bool("uniform", false, "Use uniform frame timestamps for tone clips")
	silent := flags.Bool("silent", false, "Tone clip without audio")
	decodeDelay := flags.Duration("decode-delay", 0, "Simulated per-frame decode cost")
	dropFrame := flags.Bool("drop-frame", false, "Drop frames to stay in sync instead of rendering every frame")
	sink := flags.String("sink", "", "Audio sink: oto, null")
	volume := flags.Int("volume", 0, "Output volume 0-100")
	controlPort := flags.Int("control-port", 0, "Enable the remote control server on this port")
	mdns := flags.Bool("mdns", false, "Advertise the control server via mDNS")
	noTUI := flags.Bool("no-tui", false, "Disable TUI, log to stderr")
	logLevel := flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolVar(&opts.play, "play", false, "Start playing immediately")
	flags.BoolVar(&opts.version, "version", false, "Print version and exit")

	if err := flags.Parse(args); err != nil {
		return nil, opts, err
	}
	if opts.version {
		return nil, opts, nil
	}

	// clip flags may complete an otherwise invalid file, so validate after
	// the overrides
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, opts, err
	}

	if flags.Changed("clip") {
		cfg.Clip.Source = *clipSource
	}
	if flags.Changed("audio") {
		cfg.Clip.Path = *audioPath
		if !flags.Changed("clip") && cfg.Clip.Source == config.SourceTone {
			cfg.Clip.Source = sourceForPath(*audioPath)
		}
	}
	if flags.Changed("fps") {
		cfg.Clip.FPS = *fps
	}
	if flags.Changed("frames") {
		cfg.Clip.Frames = *frames
	}
	if flags.Changed("uniform") {
		cfg.Clip.Uniform = *uniform
	}
	if flags.Changed("silent") {
		cfg.Clip.Silent = *silent
	}
	if flags.Changed("decode-delay") {
		cfg.Clip.DecodeDelay = *decodeDelay
	}
	if flags.Changed("drop-frame") {
		cfg.Playback.DropFrame = *dropFrame
	}
	if flags.Changed("sink") {
		cfg.Audio.Sink = *sink
	}
	if flags.Changed("volume") {
		cfg.Audio.Volume = *volume
	}
	if flags.Changed("control-port") {
		cfg.Control.Enabled = true
		cfg.Control.Port = *controlPort
	}
	if flags.Changed("mdns") {
		cfg.Control.MDNS = *mdns
	}
	if flags.Changed("no-tui") {
		cfg.UI.Headless = *noTUI
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, opts, err
	}
	return cfg, opts, nil
}

func sourceForPath(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".flac") {
		return config.SourceFLAC
	}
	return config.SourceMP3
}

func run(args []string) error {
	cfg, opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.version {
		fmt.Println(version.String())
		return nil
	}

	logOut, closeLog, err := logOutput(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	flog.Configure(flog.Config{Level: cfg.Log.Level, Output: logOut, Console: cfg.Log.Console || cfg.UI.Headless})
	logger := flog.WithComponent("main")

	c, closer, err := loadClip(cfg.Clip, flog.WithComponent("clip"))
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs := &observers{feed: ui.NewEventFeed(16)}
	sched := transport.New(transport.Config{
		Renderer: newDisplay(c.NominalFPS, flog.WithComponent("render")),
		Audio: stream.Config{
			Factory:      sinkFactory(cfg.Audio, flog.WithComponent("output")),
			ChunkFrames:  cfg.Audio.ChunkFrames,
			DrainTimeout: cfg.Audio.DrainTimeout,
			Logger:       flog.WithComponent("audio"),
		},
		TickInterval:  cfg.Playback.TickInterval,
		MaxLookahead:  cfg.Playback.MaxLookahead,
		DecodeRetries: cfg.Playback.DecodeRetries,
		DropFrame:     cfg.Playback.DropFrame,
		Logger:        flog.WithComponent("transport"),
		OnState:       obs.state,
		OnEvent:       obs.event,
	})
	defer sched.Close()

	if cfg.Control.Enabled {
		obs.srv = server.New(server.Config{
			Port:       cfg.Control.Port,
			Name:       cfg.Control.Name,
			EnableMDNS: cfg.Control.MDNS,
			Logger:     flog.WithComponent("server"),
		}, sched)
	}

	// the first command hands obs to the scheduler goroutine; nothing
	// mutates it afterwards
	if err := sched.UpdateContext(c); err != nil {
		return fmt.Errorf("load clip: %w", err)
	}
	if opts.play || cfg.UI.Headless {
		if err := sched.Play(); err != nil {
			return err
		}
	}

	logger.Info().
		Str("clip", c.Name).
		Int("frames", c.FrameCount).
		Bool("drop_frame", cfg.Playback.DropFrame).
		Str("sink", cfg.Audio.Sink).
		Msg("framesync started")

	g, gctx := errgroup.WithContext(ctx)

	if obs.srv != nil {
		g.Go(func() error { return obs.srv.Run(gctx) })
	}

	if cfg.UI.Headless {
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})
	} else {
		g.Go(func() error {
			defer stop()
			return ui.Run(gctx, sched, obs.feed)
		})
	}

	err = g.Wait()
	logger.Info().Msg("shutting down")
	return err
}

// observers fans scheduler callbacks out to metrics, the TUI and remote
// clients. Runs on the scheduler goroutine.
type observers struct {
	feed *ui.EventFeed
	srv  *server.Server
}

func (o *observers) state(s transport.Snapshot) {
	metrics.RecordState(s)
	if o.srv != nil {
		o.srv.PublishState(s)
	}
}

func (o *observers) event(ev transport.Event) {
	metrics.RecordEvent(ev)
	o.feed.Publish(ev)
	if o.srv != nil {
		o.srv.PublishEvent(ev)
	}
}

func logOutput(cfg *config.Config) (io.Writer, func(), error) {
	if cfg.UI.Headless {
		return os.Stderr, func() {}, nil
	}
	// the TUI owns the terminal
	f, err := os.OpenFile(cfg.Log.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func loadClip(cfg config.Clip, logger zerolog.Logger) (clip.Context, io.Closer, error) {
	var (
		c      clip.Context
		closer io.Closer
	)

	switch cfg.Source {
	case config.SourceMP3:
		src, err := source.NewMP3(cfg.Path, cfg.FPS, cfg.Width, cfg.Height, logger)
		if err != nil {
			return c, nil, err
		}
		c, closer = src.Context(), src
	case config.SourceFLAC:
		src, err := source.NewFLAC(cfg.Path, cfg.FPS, cfg.Width, cfg.Height, logger)
		if err != nil {
			return c, nil, err
		}
		c = src.Context()
	default:
		jitter := 0.3
		if cfg.Uniform {
			jitter = 0
		}
		c = source.NewTone(source.ToneConfig{
			Frames:      cfg.Frames,
			FPS:         cfg.FPS,
			Width:       cfg.Width,
			Height:      cfg.Height,
			Jitter:      jitter,
			Silent:      cfg.Silent,
			DecodeDelay: cfg.DecodeDelay,
			Seed:        uint64(time.Now().UnixNano()),
		}).Context()
	}

	if cfg.Name != "" {
		c.Name = cfg.Name
	}
	return c, closer, nil
}

func sinkFactory(cfg config.Audio, logger zerolog.Logger) output.Factory {
	if cfg.Sink == config.SinkNull {
		return output.NullFactory()
	}
	volume := cfg.Volume
	if cfg.Muted {
		volume = 0
	}
	return output.OtoFactory(logger, volume)
}

// display stands in for a presentation surface refreshing at the clip's
// frame rate. Render blocks until the previous frame has been shown for one
// refresh interval. Only the render worker calls it.
type display struct {
	log      zerolog.Logger
	interval time.Duration
	last     time.Time
}

func newDisplay(fps float64, logger zerolog.Logger) *display {
	if fps <= 0 {
		fps = 60
	}
	return &display{
		log:      logger,
		interval: time.Duration(float64(time.Second) / fps),
	}
}

func (d *display) Render(f transport.Frame) error {
	if !d.last.IsZero() {
		if wait := time.Until(d.last.Add(d.interval)); wait > 0 {
			time.Sleep(wait)
		}
	}
	d.last = time.Now()
	d.log.Trace().Int("frame", f.Index).Int("bytes", len(f.Pixels)).Msg("frame presented")
	return nil
}
