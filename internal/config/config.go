// ABOUTME: Application configuration loaded from file and environment
// ABOUTME: Defaults come from struct tags; FRAMESYNC_* variables override the file
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kkyr/fig"
)

// EnvPrefix prefixes environment overrides, e.g. FRAMESYNC_AUDIO_SINK=null
const EnvPrefix = "FRAMESYNC"

// FileName is looked up in the default directories when no path is given
const FileName = "framesync.yaml"

// Clip sources
const (
	SourceTone = "tone"
	SourceMP3  = "mp3"
	SourceFLAC = "flac"
)

// Audio sinks
const (
	SinkOto  = "oto"
	SinkNull = "null"
)

type Config struct {
	Clip     Clip     `fig:"clip"`
	Playback Playback `fig:"playback"`
	Audio    Audio    `fig:"audio"`
	Control  Control  `fig:"control"`
	Log      Log      `fig:"log"`
	UI       UI       `fig:"ui"`
}

// Clip selects the demo clip. Frames are always synthesized; audio comes
// from Path for the mp3 and flac sources.
type Clip struct {
	Source      string        `fig:"source" default:"tone"`
	Path        string        `fig:"path"`
	Name        string        `fig:"name"`
	Frames      int           `fig:"frames" default:"300"`
	FPS         float64       `fig:"fps" default:"30"`
	Width       int           `fig:"width" default:"64"`
	Height      int           `fig:"height" default:"36"`
	Uniform     bool          `fig:"uniform"`
	Silent      bool          `fig:"silent"`
	DecodeDelay time.Duration `fig:"decode_delay"`
}

type Playback struct {
	DropFrame     bool          `fig:"drop_frame"`
	TickInterval  time.Duration `fig:"tick_interval" default:"4ms"`
	MaxLookahead  time.Duration `fig:"max_lookahead" default:"50ms"`
	DecodeRetries int           `fig:"decode_retries" default:"3"`
}

type Audio struct {
	Sink         string        `fig:"sink" default:"oto"`
	ChunkFrames  int           `fig:"chunk_frames" default:"1024"`
	DrainTimeout time.Duration `fig:"drain_timeout" default:"2s"`
	Volume       int           `fig:"volume" default:"100"`
	Muted        bool          `fig:"muted"`
}

// Control configures the remote control server
type Control struct {
	Enabled bool   `fig:"enabled"`
	Port    int    `fig:"port" default:"8937"`
	Name    string `fig:"name" default:"framesync"`
	MDNS    bool   `fig:"mdns"`
}

// Log configures logging. File receives logs while the TUI owns the terminal.
type Log struct {
	Level   string `fig:"level" default:"info"`
	Console bool   `fig:"console"`
	File    string `fig:"file" default:"framesync.log"`
}

type UI struct {
	Headless bool `fig:"headless"`
}

// Load reads configuration. With an empty path the default directories are
// searched and a missing file is not an error.
func Load(path string) (*Config, error) {
	var cfg Config

	var err error
	if path != "" {
		err = fig.Load(&cfg,
			fig.File(filepath.Base(path)),
			fig.Dirs(filepath.Dir(path)),
			fig.UseEnv(EnvPrefix))
	} else {
		err = fig.Load(&cfg,
			fig.File(FileName),
			fig.Dirs(defaultDirs()...),
			fig.UseEnv(EnvPrefix))
		if errors.Is(err, fig.ErrFileNotFound) {
			cfg = Config{}
			err = fig.Load(&cfg, fig.IgnoreFile(), fig.UseEnv(EnvPrefix))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultDirs() []string {
	dirs := []string{".", "configs"}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "framesync"))
	}
	return dirs
}

// Validate checks values that tags cannot express
func (c *Config) Validate() error {
	switch c.Clip.Source {
	case SourceTone:
	case SourceMP3, SourceFLAC:
		if c.Clip.Path == "" {
			return fmt.Errorf("clip source %q needs a path", c.Clip.Source)
		}
	default:
		return fmt.Errorf("unknown clip source %q", c.Clip.Source)
	}
	if c.Clip.Frames < 0 {
		return fmt.Errorf("clip frames must be >= 0, got %d", c.Clip.Frames)
	}
	if c.Clip.FPS <= 0 {
		return fmt.Errorf("clip fps must be positive, got %v", c.Clip.FPS)
	}
	if c.Clip.Width <= 0 || c.Clip.Height <= 0 {
		return fmt.Errorf("clip size must be positive, got %dx%d", c.Clip.Width, c.Clip.Height)
	}

	switch c.Audio.Sink {
	case SinkOto, SinkNull:
	default:
		return fmt.Errorf("unknown audio sink %q", c.Audio.Sink)
	}

	if c.Audio.Volume < 0 || c.Audio.Volume > 100 {
		return fmt.Errorf("audio volume must be 0-100, got %d", c.Audio.Volume)
	}

	if c.Control.Port <= 0 || c.Control.Port > 65535 {
		return fmt.Errorf("control port out of range: %d", c.Control.Port)
	}
	return nil
}
