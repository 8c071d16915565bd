// ABOUTME: Prometheus metrics for playback scheduling
// ABOUTME: Translates transport events and snapshots into counters and gauges
package metrics

import (
	"github.com/Resonate-Protocol/framesync/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels are fixed enums; no context or clip identifiers.

var (
	// Counters

	// FramesRenderedTotal counts frames handed to the renderer.
	FramesRenderedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framesync_frames_rendered_total",
		Help: "Total number of frames rendered.",
	})

	// FramesDroppedTotal counts frames skipped by drop-frame pacing.
	FramesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framesync_frames_dropped_total",
		Help: "Total number of frames skipped to keep up with the clock.",
	})

	// FrameFailuresTotal counts frames that were not updated, by stage.
	FrameFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framesync_frame_failures_total",
		Help: "Total number of frames not updated, by stage (decode/render).",
	}, []string{"stage"})

	// AudioDegradedTotal counts fallbacks from audio to wall-clock playback.
	AudioDegradedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framesync_audio_degraded_total",
		Help: "Total number of times audio was abandoned for a context.",
	})

	// PlaybackCompletedTotal counts clips played to the end.
	PlaybackCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framesync_playback_completed_total",
		Help: "Total number of clips played to their last frame.",
	})

	// ContextsLoadedTotal counts clip activations.
	ContextsLoadedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framesync_contexts_loaded_total",
		Help: "Total number of clip contexts activated.",
	})

	// Histograms

	// DecodeDuration tracks per-frame decode cost.
	DecodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "framesync_decode_duration_seconds",
		Help:    "Per-frame decode time.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10),
	})

	// Gauges

	// TimingEMA holds the smoothed decode/render/processing estimates.
	TimingEMA = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "framesync_timing_ema_microseconds",
		Help: "Smoothed per-frame cost in microseconds, by stage (decode/render/processing).",
	}, []string{"stage"})

	// TransportMode is 1 for the current mode and 0 for the others.
	TransportMode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "framesync_transport_mode",
		Help: "Current transport mode (1 = active).",
	}, []string{"mode"})

	// CurrentFrame is the most recently requested frame index.
	CurrentFrame = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "framesync_current_frame",
		Help: "Current frame index.",
	})

	// AudioActive is 1 while audio drives or can drive playback.
	AudioActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "framesync_audio_active",
		Help: "Whether the active context plays audio (1) or is silent (0).",
	})
)

var modes = []transport.Mode{
	transport.ModeIdle,
	transport.ModePaused,
	transport.ModePlaying,
}

// RecordEvent updates counters for a scheduler event.
func RecordEvent(ev transport.Event) {
	switch ev.Type {
	case transport.EventContextLoaded:
		ContextsLoadedTotal.Inc()
	case transport.EventFrameRendered:
		FramesRenderedTotal.Inc()
		DecodeDuration.Observe(ev.DecodeMicros / 1e6)
	case transport.EventFramesDropped:
		FramesDroppedTotal.Add(float64(ev.Count))
	case transport.EventDecodeFailed:
		FrameFailuresTotal.WithLabelValues("decode").Inc()
	case transport.EventRenderFailed:
		FrameFailuresTotal.WithLabelValues("render").Inc()
	case transport.EventAudioDegraded:
		AudioDegradedTotal.Inc()
	case transport.EventCompleted:
		PlaybackCompletedTotal.Inc()
	}
}

// RecordState updates gauges from a scheduler snapshot.
func RecordState(s transport.Snapshot) {
	TimingEMA.WithLabelValues("decode").Set(s.DecodeEMA)
	TimingEMA.WithLabelValues("render").Set(s.RenderEMA)
	TimingEMA.WithLabelValues("processing").Set(float64(s.ProcessingEMA))

	for _, m := range modes {
		v := 0.0
		if m == s.Mode {
			v = 1
		}
		TransportMode.WithLabelValues(m.String()).Set(v)
	}

	CurrentFrame.Set(float64(s.FrameIndex))
	if s.AudioActive {
		AudioActive.Set(1)
	} else {
		AudioActive.Set(0)
	}
}
