// ABOUTME: Exponential moving average of decode and render costs
// ABOUTME: Feeds the scheduler's lookahead when deciding which frame to show
package sync

import (
	"math"
	"sync"
)

// DefaultSmoothing is the weight given to each new sample
const DefaultSmoothing = 0.1

// TimingEstimator tracks decode and render time EMAs
type TimingEstimator struct {
	mu            sync.RWMutex
	smoothingRate float64
	decode        ema
	render        ema
}

// Timing is a point-in-time copy of the estimator
type Timing struct {
	DecodeMicros     float64
	RenderMicros     float64
	ProcessingMicros int64
	Samples          int
}

type ema struct {
	value   float64
	samples int
}

// update seeds on the first sample and smooths afterwards
func (e *ema) update(sample, rate float64) {
	if math.IsNaN(sample) || math.IsInf(sample, 0) || sample < 0 {
		return
	}
	if e.samples == 0 {
		e.value = sample
	} else {
		e.value = e.value*(1-rate) + sample*rate
	}
	e.samples++
}

// NewTimingEstimator creates an estimator with DefaultSmoothing
func NewTimingEstimator() *TimingEstimator {
	return &TimingEstimator{smoothingRate: DefaultSmoothing}
}

// Report feeds one decode and render measurement in microseconds. Invalid
// values are dropped per field.
func (t *TimingEstimator) Report(decodeMicros, renderMicros float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.decode.update(decodeMicros, t.smoothingRate)
	t.render.update(renderMicros, t.smoothingRate)
}

// DecodeEMA returns the smoothed decode cost
func (t *TimingEstimator) DecodeEMA() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.decode.value
}

// RenderEMA returns the smoothed render cost
func (t *TimingEstimator) RenderEMA() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.render.value
}

// ProcessingEstimateMicros returns decode plus render EMA
func (t *TimingEstimator) ProcessingEstimateMicros() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return int64(math.Round(t.decode.value + t.render.value))
}

// Snapshot returns all estimates at once
func (t *TimingEstimator) Snapshot() Timing {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Timing{
		DecodeMicros:     t.decode.value,
		RenderMicros:     t.render.value,
		ProcessingMicros: int64(math.Round(t.decode.value + t.render.value)),
		Samples:          max(t.decode.samples, t.render.samples),
	}
}

// Reset clears both averages so the next sample seeds them again
func (t *TimingEstimator) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.decode = ema{}
	t.render = ema{}
}
