// ABOUTME: Tests for playback metrics
// ABOUTME: Reads collectors back through the client model
package metrics

import (
	"errors"
	"testing"

	"github.com/Resonate-Protocol/framesync/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, counter.Write(metric))
	return metric.GetCounter().GetValue()
}

func getGaugeValue(t *testing.T, gauge prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, gauge.Write(metric))
	return metric.GetGauge().GetValue()
}

func TestRecordEventCounters(t *testing.T) {
	rendered := getCounterValue(t, FramesRenderedTotal)
	dropped := getCounterValue(t, FramesDroppedTotal)
	decodeFail := getCounterValue(t, FrameFailuresTotal.WithLabelValues("decode"))
	renderFail := getCounterValue(t, FrameFailuresTotal.WithLabelValues("render"))
	degraded := getCounterValue(t, AudioDegradedTotal)
	completed := getCounterValue(t, PlaybackCompletedTotal)
	loaded := getCounterValue(t, ContextsLoadedTotal)

	RecordEvent(transport.Event{Type: transport.EventContextLoaded})
	RecordEvent(transport.Event{Type: transport.EventFrameRendered, DecodeMicros: 1200})
	RecordEvent(transport.Event{Type: transport.EventFrameRendered, DecodeMicros: 800})
	RecordEvent(transport.Event{Type: transport.EventFramesDropped, Count: 49})
	RecordEvent(transport.Event{Type: transport.EventDecodeFailed})
	RecordEvent(transport.Event{Type: transport.EventRenderFailed, Err: errors.New("surface lost")})
	RecordEvent(transport.Event{Type: transport.EventAudioDegraded})
	RecordEvent(transport.Event{Type: transport.EventCompleted})
	RecordEvent(transport.Event{Type: transport.EventDecodeFailing})

	assert.Equal(t, rendered+2, getCounterValue(t, FramesRenderedTotal))
	assert.Equal(t, dropped+49, getCounterValue(t, FramesDroppedTotal))
	assert.Equal(t, decodeFail+1, getCounterValue(t, FrameFailuresTotal.WithLabelValues("decode")))
	assert.Equal(t, renderFail+1, getCounterValue(t, FrameFailuresTotal.WithLabelValues("render")))
	assert.Equal(t, degraded+1, getCounterValue(t, AudioDegradedTotal))
	assert.Equal(t, completed+1, getCounterValue(t, PlaybackCompletedTotal))
	assert.Equal(t, loaded+1, getCounterValue(t, ContextsLoadedTotal))
}

func TestRecordStateGauges(t *testing.T) {
	RecordState(transport.Snapshot{
		FrameIndex:    17,
		Mode:          transport.ModePlaying,
		DecodeEMA:     600,
		RenderEMA:     280,
		ProcessingEMA: 880,
		AudioActive:   true,
	})

	assert.Equal(t, 17.0, getGaugeValue(t, CurrentFrame))
	assert.Equal(t, 1.0, getGaugeValue(t, AudioActive))
	assert.Equal(t, 600.0, getGaugeValue(t, TimingEMA.WithLabelValues("decode")))
	assert.Equal(t, 280.0, getGaugeValue(t, TimingEMA.WithLabelValues("render")))
	assert.Equal(t, 880.0, getGaugeValue(t, TimingEMA.WithLabelValues("processing")))
	assert.Equal(t, 1.0, getGaugeValue(t, TransportMode.WithLabelValues("playing")))
	assert.Equal(t, 0.0, getGaugeValue(t, TransportMode.WithLabelValues("paused")))

	RecordState(transport.Snapshot{Mode: transport.ModePaused})
	assert.Equal(t, 0.0, getGaugeValue(t, TransportMode.WithLabelValues("playing")))
	assert.Equal(t, 1.0, getGaugeValue(t, TransportMode.WithLabelValues("paused")))
	assert.Equal(t, 0.0, getGaugeValue(t, AudioActive))
}

func TestMetricsRegisteredWithDefaultRegistry(t *testing.T) {
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["framesync_frames_rendered_total"])
	assert.True(t, names["framesync_current_frame"])
}
