// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Descriptor and Format
// Package audio provides the PCM types shared by the clip, streaming and
// output packages.
//
//   - Descriptor: the audio track attached to a clip (rate, channels, bytes
//     per sample frame, total bytes) plus time <-> byte offset conversion
//   - Format: the layout an output sink is opened with
//
// Example:
//
//	desc := audio.Descriptor{
//	    SampleRate:     48000,
//	    Channels:       2,
//	    BytesPerSample: 4,
//	    TotalBytes:     48000 * 4 * 10,
//	}
//
//	offset := desc.OffsetForMicros(1_000_000) // 192000
package audio
