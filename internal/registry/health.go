package registry

import "time"

// healthEWMA tracks an exponentially weighted moving average over
// (1 - loss_rate), normalized latency and up/down samples (spec §4.5).
// alpha controls how fast the average adapts to new samples. Every sample
// is folded in whatever its age: no time window is applied, and lastSample
// is recorded but not read.
type healthEWMA struct {
	initialized bool
	deliveryAvg float64 // EWMA of (1 - loss_rate), in [0,1]
	latencyAvg  float64 // EWMA of observed latency, ms
	uptimeAvg   float64 // EWMA of up/down samples, in [0,1]
	lastSample  time.Time
}

const healthEWMAAlpha = 0.2

// maxHealthyLatencyMs is the latency at or above which the latency
// component of the health score bottoms out at 0.
const maxHealthyLatencyMs = 2000.0

func ewma(prev, sample, alpha float64) float64 {
	return alpha*sample + (1-alpha)*prev
}

// observe folds in one sample and returns the updated 0-100 health score.
func (h *healthEWMA) observe(lossRate float64, latencyMs float64, up bool, now time.Time) int {
	delivery := 1 - clampUnit(lossRate)
	uptimeSample := 0.0
	if up {
		uptimeSample = 1.0
	}

	if !h.initialized {
		h.deliveryAvg = delivery
		h.latencyAvg = latencyMs
		h.uptimeAvg = uptimeSample
		h.initialized = true
	} else {
		h.deliveryAvg = ewma(h.deliveryAvg, delivery, healthEWMAAlpha)
		h.latencyAvg = ewma(h.latencyAvg, latencyMs, healthEWMAAlpha)
		h.uptimeAvg = ewma(h.uptimeAvg, uptimeSample, healthEWMAAlpha)
	}
	h.lastSample = now

	latencyScore := 1 - clampUnit(h.latencyAvg/maxHealthyLatencyMs)
	combined := (h.deliveryAvg + latencyScore + h.uptimeAvg) / 3
	return int(clampUnit(combined) * 100)
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
