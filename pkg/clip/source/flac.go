// ABOUTME: FLAC backed clip: audio decoded to 16-bit PCM in memory
// ABOUTME: Uses mewkiz/flac frame parsing; frames are generated over the track duration
package source

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Resonate-Protocol/framesync/pkg/audio"
	"github.com/Resonate-Protocol/framesync/pkg/clip"
	"github.com/mewkiz/flac"
	"github.com/rs/zerolog"
)

// FLAC holds a whole FLAC track as interleaved little-endian s16 PCM
type FLAC struct {
	pcm    []byte
	desc   *audio.Descriptor
	frames int
	fps    float64
	width  int
	height int
	title  string
}

// NewFLAC decodes filePath fully and spans frames at fps over its duration
func NewFLAC(filePath string, fps float64, width, height int, logger zerolog.Logger) (*FLAC, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}
	defer f.Close()

	stream, err := flac.New(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}
	defer stream.Close()

	info := stream.Info
	channels := int(info.NChannels)
	bitDepth := int(info.BitsPerSample)

	pcm, err := decodeFLAC(stream, channels, bitDepth)
	if err != nil {
		return nil, err
	}

	filename := filepath.Base(filePath)
	title := strings.TrimSuffix(filename, filepath.Ext(filename))

	desc := &audio.Descriptor{
		SampleRate:     int(info.SampleRate),
		Channels:       channels,
		BytesPerSample: channels * 2,
		TotalBytes:     int64(len(pcm)),
	}

	s := &FLAC{
		pcm:    pcm,
		desc:   desc,
		frames: uniformFrames(desc.Duration(), fps),
		fps:    fps,
		width:  width,
		height: height,
		title:  title,
	}

	logger.Info().
		Str("title", title).
		Int("sample_rate", desc.SampleRate).
		Int("channels", channels).
		Int("bit_depth", bitDepth).
		Int("frames", s.frames).
		Msg("loaded FLAC")

	return s, nil
}

func decodeFLAC(stream *flac.Stream, channels, bitDepth int) ([]byte, error) {
	pcm := make([]byte, 0, int(stream.Info.NSamples)*channels*2)
	var sample [2]byte

	for {
		frame, err := stream.ParseNext()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return pcm, nil
			}
			return nil, fmt.Errorf("failed to parse FLAC frame: %w", err)
		}

		for i := 0; i < int(frame.BlockSize); i++ {
			for ch := 0; ch < channels; ch++ {
				v := toInt16(frame.Subframes[ch].Samples[i], bitDepth)
				binary.LittleEndian.PutUint16(sample[:], uint16(v))
				pcm = append(pcm, sample[:]...)
			}
		}
	}
}

// toInt16 rescales a FLAC sample of the given bit depth
func toInt16(sample int32, bitDepth int) int16 {
	shift := bitDepth - 16
	if shift > 0 {
		return int16(sample >> shift)
	}
	return int16(sample << -shift)
}

// Context returns the playback context for this clip
func (s *FLAC) Context() clip.Context {
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

func (s *FLAC) DecodeFrame(_ clip.Handle, index int, out []byte, width, height int) bool {
	return paintFrame(out, width, height, index, s.frames)
}

func (s *FLAC) ReadAudioChunk(_ clip.Handle, offset int64, length int, out []byte) int {
	if offset < 0 || offset >= int64(len(s.pcm)) {
		return 0
	}
	return copy(out[:min(length, len(out))], s.pcm[offset:])
}
