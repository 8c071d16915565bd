// ABOUTME: Tests for remote command parsing and dispatch
// ABOUTME: Uses a recording commander instead of a live connection
package main

import (
	"bytes"
	"testing"

	"github.com/Resonate-Protocol/framesync/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCommander struct {
	calls []string
	frame int
	delta int
	drop  bool
}

func (r *recordingCommander) Play() error  { r.calls = append(r.calls, "play"); return nil }
func (r *recordingCommander) Pause() error { r.calls = append(r.calls, "pause"); return nil }
func (r *recordingCommander) Stop() error  { r.calls = append(r.calls, "stop"); return nil }
func (r *recordingCommander) Seek(frame int) error {
	r.calls = append(r.calls, "seek")
	r.frame = frame
	return nil
}
func (r *recordingCommander) Step(delta int) error {
	r.calls = append(r.calls, "step")
	r.delta = delta
	return nil
}
func (r *recordingCommander) SetDropFrame(enabled bool) error {
	r.calls = append(r.calls, "drop")
	r.drop = enabled
	return nil
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		args    []string
		want    action
		wantErr bool
	}{
		{args: []string{"play"}, want: action{name: "play"}},
		{args: []string{"seek", "42"}, want: action{name: "seek", arg: 42}},
		{args: []string{"step", "-3"}, want: action{name: "step", arg: -3}},
		{args: []string{"drop", "on"}, want: action{name: "drop", on: true}},
		{args: []string{"drop", "off"}, want: action{name: "drop"}},
		{args: []string{"watch"}, want: action{name: "watch"}},
		{args: nil, wantErr: true},
		{args: []string{"seek"}, wantErr: true},
		{args: []string{"seek", "ten"}, wantErr: true},
		{args: []string{"drop", "maybe"}, wantErr: true},
		{args: []string{"play", "now"}, wantErr: true},
		{args: []string{"rewind"}, wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseAction(tt.args)
		if tt.wantErr {
			assert.Error(t, err, "args %v", tt.args)
			continue
		}
		require.NoError(t, err, "args %v", tt.args)
		assert.Equal(t, tt.want, got)
	}
}

func TestDispatch(t *testing.T) {
	rec := &recordingCommander{}

	require.NoError(t, dispatch(rec, action{name: "play"}))
	require.NoError(t, dispatch(rec, action{name: "seek", arg: 7}))
	require.NoError(t, dispatch(rec, action{name: "step", arg: -1}))
	require.NoError(t, dispatch(rec, action{name: "drop", on: true}))
	require.NoError(t, dispatch(rec, action{name: "stop"}))

	assert.Equal(t, []string{"play", "seek", "step", "drop", "stop"}, rec.calls)
	assert.Equal(t, 7, rec.frame)
	assert.Equal(t, -1, rec.delta)
	assert.True(t, rec.drop)

	assert.Error(t, dispatch(rec, action{name: "status"}))
}

func TestPrintStateAndEvent(t *testing.T) {
	var buf bytes.Buffer
	printState(&buf, protocol.State{
		Mode:           "playing",
		DisplayedFrame: 12,
		FrameCount:     300,
		ClockSource:    "audio",
		Position:       61_500_000,
	})
	assert.Contains(t, buf.String(), "frame 12/300")
	assert.Contains(t, buf.String(), "01:01.500")

	buf.Reset()
	printEvent(&buf, protocol.Event{Type: "frames_dropped", Frame: 40, Count: 3})
	assert.Contains(t, buf.String(), "frames_dropped")
	assert.Contains(t, buf.String(), "count 3")
}

func TestFormatMicros(t *testing.T) {
	assert.Equal(t, "00:00.000", formatMicros(-5))
	assert.Equal(t, "00:02.250", formatMicros(2_250_000))
}
