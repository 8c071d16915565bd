// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides the Sink interface with oto, memory, and null implementations
// Package output provides audio sinks with a queryable playback head.
//
// Oto drives the platform sound device. Memory advances only when told to and
// backs deterministic tests. Null drains in real time without a device.
//
// Example:
//
//	sink, err := output.NewOto(format, logger)
//	n, err := sink.Write(pcm)
//	err = sink.Play()
//	frames := sink.HeadPosition()
package output
