// Package estimate turns finalized tracks into vehicle events.
//
// Speed is path length over observation time, in pixels per second.
// No camera calibration is applied; downstream consumers treat the
// numbers as relative, not as real-world speeds.
package estimate

import (
	"math"
	"time"

	"github.com/ShaneMarusczak/traffic-analysis/internal/config"
	"github.com/ShaneMarusczak/traffic-analysis/internal/events"
	"github.com/ShaneMarusczak/traffic-analysis/internal/track"
)

// Estimator derives speed, direction and the perspective-corrected
// speed for completed tracks.
type Estimator struct {
	minSamples int
	epsilonPx  float64
	rtlFactor  float64
}

// NewEstimator builds an estimator tuned from cfg.
func NewEstimator(cfg *config.TuningConfig) *Estimator {
	return &Estimator{
		minSamples: cfg.GetMinEventSamples(),
		epsilonPx:  cfg.GetDirectionEpsilonPx(),
		rtlFactor:  cfg.GetRTLCorrectionFactor(),
	}
}

// Estimate produces the vehicle event for a finalized track. The second
// return is false when the track does not qualify: it was never
// confirmed, carries too few samples, or spans no time. VehicleNumber
// is left zero; the event log assigns it on append.
func (e *Estimator) Estimate(t *track.Track) (events.VehicleEvent, bool) {
	if t.ConfirmedUnixNanos == 0 {
		return events.VehicleEvent{}, false
	}
	if len(t.Samples) < e.minSamples {
		return events.VehicleEvent{}, false
	}

	first := t.Samples[0]
	last := t.Samples[len(t.Samples)-1]
	elapsed := float64(last.UnixNanos-first.UnixNanos) / float64(time.Second)
	if elapsed <= 0 {
		return events.VehicleEvent{}, false
	}

	var dist float64
	for i := 1; i < len(t.Samples); i++ {
		a, b := t.Samples[i-1], t.Samples[i]
		dist += math.Hypot(b.X-a.X, b.Y-a.Y)
	}

	dir := e.direction(last.X-first.X, last.Y-first.Y)
	raw := dist / elapsed
	normalized := raw
	if dir == events.DirectionRTL {
		normalized = raw * e.rtlFactor
	}

	return events.VehicleEvent{
		TrackID:         t.ID,
		Direction:       dir,
		SpeedRaw:        raw,
		SpeedNormalized: normalized,
		DistancePx:      dist,
		ElapsedSeconds:  elapsed,
		Samples:         len(t.Samples),
		EntryUnixNanos:  first.UnixNanos,
		ExitUnixNanos:   last.UnixNanos,
	}, true
}

// direction classifies net displacement by its dominant axis.
// Horizontal wins exact ties, since roadway footage is predominantly
// horizontal.
func (e *Estimator) direction(dx, dy float64) events.Direction {
	adx, ady := math.Abs(dx), math.Abs(dy)
	if adx < e.epsilonPx && ady < e.epsilonPx {
		return events.DirectionIndeterminate
	}
	if adx >= ady {
		if dx >= 0 {
			return events.DirectionLTR
		}
		return events.DirectionRTL
	}
	if dy >= 0 {
		return events.DirectionTTB
	}
	return events.DirectionBTT
}
