// ABOUTME: MP3 backed clip: decoded audio track with generated frames
// ABOUTME: Audio chunks are read by seeking the go-mp3 decoder to the requested offset
package source

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Resonate-Protocol/framesync/pkg/audio"
	"github.com/Resonate-Protocol/framesync/pkg/clip"
	"github.com/hajimehoshi/go-mp3"
	"github.com/rs/zerolog"
)

// MP3 serves a decoded MP3 as a clip's audio track. go-mp3 always outputs
// 16-bit stereo.
type MP3 struct {
	file    *os.File
	decoder *mp3.Decoder
	desc    *audio.Descriptor
	frames  int
	fps     float64
	width   int
	height  int
	title   string
}

// NewMP3 opens filePath and spans frames at fps over its duration
func NewMP3(filePath string, fps float64, width, height int, logger zerolog.Logger) (*MP3, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	filename := filepath.Base(filePath)
	title := strings.TrimSuffix(filename, filepath.Ext(filename))

	desc := &audio.Descriptor{
		SampleRate:     decoder.SampleRate(),
		Channels:       2,
		BytesPerSample: 4,
		TotalBytes:     decoder.Length(),
	}

	s := &MP3{
		file:    f,
		decoder: decoder,
		desc:    desc,
		frames:  uniformFrames(desc.Duration(), fps),
		fps:     fps,
		width:   width,
		height:  height,
		title:   title,
	}

	logger.Info().
		Str("title", title).
		Int("sample_rate", desc.SampleRate).
		Int64("bytes", desc.TotalBytes).
		Int("frames", s.frames).
		Msg("loaded MP3")

	return s, nil
}

// Context returns the playback context for this clip
func (s *MP3) Context() clip.Context {
	return clip.Context{
		Decoder:    s,
		Handle:     1,
		FrameCount: s.frames,
		NominalFPS: s.fps,
		Width:      s.width,
		Height:     s.height,
		Audio:      s.desc,
		Name:       s.title,
	}
}

func (s *MP3) DecodeFrame(_ clip.Handle, index int, out []byte, width, height int) bool {
	return paintFrame(out, width, height, index, s.frames)
}

func (s *MP3) ReadAudioChunk(_ clip.Handle, offset int64, length int, out []byte) int {
	if offset < 0 || length <= 0 {
		return 0
	}
	if _, err := s.decoder.Seek(offset, io.SeekStart); err != nil {
		return 0
	}

	n, err := io.ReadFull(s.decoder, out[:min(length, len(out))])
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return 0
	}
	return n
}

// Close closes the underlying file
func (s *MP3) Close() error {
	return s.file.Close()
}
