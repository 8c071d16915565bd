// ABOUTME: Tests for the decode/render timing estimator
// ABOUTME: Tests first-sample seeding, smoothing, and invalid sample rejection
package sync

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimatorSeedsWithFirstSample(t *testing.T) {
	est := NewTimingEstimator()
	est.Report(500, 200)

	assert.Equal(t, 500.0, est.DecodeEMA())
	assert.Equal(t, 200.0, est.RenderEMA())
	assert.Equal(t, int64(700), est.ProcessingEstimateMicros())
}

func TestEstimatorSmoothing(t *testing.T) {
	est := NewTimingEstimator()
	est.Report(500, 200)
	est.Report(1500, 1000)

	// 500*0.9 + 1500*0.1 and 200*0.9 + 1000*0.1
	assert.InDelta(t, 600.0, est.DecodeEMA(), 1e-9)
	assert.InDelta(t, 280.0, est.RenderEMA(), 1e-9)
	assert.Equal(t, int64(880), est.ProcessingEstimateMicros())
}

func TestEstimatorIgnoresInvalidSamples(t *testing.T) {
	est := NewTimingEstimator()

	est.Report(math.NaN(), math.Inf(1))
	assert.Equal(t, 0, est.Snapshot().Samples)

	est.Report(400, math.NaN())
	assert.Equal(t, 400.0, est.DecodeEMA())
	assert.Equal(t, 0.0, est.RenderEMA())

	// render seeds independently on its first valid value
	est.Report(-1, 300)
	assert.Equal(t, 400.0, est.DecodeEMA())
	assert.Equal(t, 300.0, est.RenderEMA())
}

func TestEstimatorReset(t *testing.T) {
	est := NewTimingEstimator()
	est.Report(500, 200)
	est.Report(1500, 1000)
	est.Reset()

	assert.Equal(t, Timing{}, est.Snapshot())

	est.Report(900, 100)
	assert.Equal(t, 900.0, est.DecodeEMA())
}
