// Package report computes and renders the statistical speed summary
// for a set of vehicle events.
//
// All statistics use the normalized speed so that the two travel
// directions are comparable. Computation is a pure function of the
// events and the tuning thresholds; rendering the same events twice
// yields identical output.
package report

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/ShaneMarusczak/traffic-analysis/internal/config"
	"github.com/ShaneMarusczak/traffic-analysis/internal/events"
)

// Bin is one row of the speed histogram.
type Bin struct {
	// Label names the bin in rendered output.
	Label string
	// Low and High bound the bin. Outlier bins are open on one side,
	// marked by Open.
	Low, High float64
	// Open marks the slow and fast outlier bins.
	Open bool
	// Count is the number of vehicles in the bin; Percent is Count over
	// total vehicles.
	Count   int
	Percent float64
}

// DirectionStats summarizes one travel direction.
type DirectionStats struct {
	Direction events.Direction
	Count     int
	Mean      float64
}

// Distribution is the computed speed report. Speeds are px/s.
type Distribution struct {
	TotalVehicles int

	Mean   float64
	Median float64
	Min    float64
	Max    float64
	StdDev float64

	// PLow and PHigh are the configured outlier percentiles (by default
	// the 5th and 95th).
	PLow  float64
	PHigh float64

	Bins []Bin

	// SpreadWithinThreshold is true when the inner percentile span is
	// narrower than the clustering threshold, meaning traffic moved at
	// broadly consistent speeds.
	SpreadWithinThreshold bool

	// Directional holds per-direction stats for directions that
	// appeared, ordered ltr, rtl, ttb, btt, indeterminate.
	Directional []DirectionStats

	// DirectionalImbalance is true when two opposite horizontal
	// directions differ in mean speed by more than the configured
	// threshold.
	DirectionalImbalance bool

	// Insufficient is true when there were too few vehicles for the
	// statistics to mean anything. Only TotalVehicles is meaningful
	// then.
	Insufficient bool
}

// Compute derives the distribution for evs using the report thresholds
// in cfg. The input is not modified.
func Compute(evs []events.VehicleEvent, cfg *config.TuningConfig) Distribution {
	d := Distribution{TotalVehicles: len(evs)}
	if len(evs) < cfg.GetMinReportVehicles() {
		d.Insufficient = true
		return d
	}

	speeds := make([]float64, len(evs))
	for i, ev := range evs {
		speeds[i] = ev.SpeedNormalized
	}
	sort.Float64s(speeds)

	d.Mean = stat.Mean(speeds, nil)
	d.Median = stat.Quantile(0.5, stat.Empirical, speeds, nil)
	d.Min = speeds[0]
	d.Max = speeds[len(speeds)-1]
	d.StdDev = stat.StdDev(speeds, nil)
	d.PLow = stat.Quantile(cfg.GetPercentileLow()/100, stat.Empirical, speeds, nil)
	d.PHigh = stat.Quantile(cfg.GetPercentileHigh()/100, stat.Empirical, speeds, nil)

	d.Bins = makeBins(speeds, d.PLow, d.PHigh, cfg.GetNormalRangeBins())
	d.SpreadWithinThreshold = d.PHigh-d.PLow < cfg.GetClusteringThreshold()
	d.Directional = directional(evs)
	d.DirectionalImbalance = imbalanced(d.Directional, cfg.GetDirectionalDifference())
	return d
}

// makeBins splits speeds into an open slow-outlier bin, n equal-width
// bins across [pLow, pHigh], and an open fast-outlier bin.
func makeBins(sorted []float64, pLow, pHigh float64, n int) []Bin {
	total := len(sorted)
	bins := make([]Bin, 0, n+2)
	bins = append(bins, Bin{Label: "slow outliers", High: pLow, Open: true})

	width := (pHigh - pLow) / float64(n)
	for i := 0; i < n; i++ {
		bins = append(bins, Bin{
			Label: "normal range",
			Low:   pLow + float64(i)*width,
			High:  pLow + float64(i+1)*width,
		})
	}
	bins = append(bins, Bin{Label: "fast outliers", Low: pHigh, Open: true})

	for _, v := range sorted {
		bins[binIndex(bins, v)].Count++
	}
	for i := range bins {
		bins[i].Percent = 100 * float64(bins[i].Count) / float64(total)
	}
	return bins
}

// binIndex places v in exactly one bin. Inner bins are half-open on the
// high side; the last inner bin and the fast-outlier bin split at pHigh
// inclusive/exclusive respectively.
func binIndex(bins []Bin, v float64) int {
	if v < bins[0].High {
		return 0
	}
	last := len(bins) - 1
	if v > bins[last].Low {
		return last
	}
	for i := 1; i < last; i++ {
		if v < bins[i].High || i == last-1 {
			return i
		}
	}
	return last - 1
}

var directionOrder = []events.Direction{
	events.DirectionLTR,
	events.DirectionRTL,
	events.DirectionTTB,
	events.DirectionBTT,
	events.DirectionIndeterminate,
}

func directional(evs []events.VehicleEvent) []DirectionStats {
	byDir := make(map[events.Direction][]float64)
	for _, ev := range evs {
		byDir[ev.Direction] = append(byDir[ev.Direction], ev.SpeedNormalized)
	}

	var out []DirectionStats
	for _, dir := range directionOrder {
		speeds, ok := byDir[dir]
		if !ok {
			continue
		}
		out = append(out, DirectionStats{
			Direction: dir,
			Count:     len(speeds),
			Mean:      stat.Mean(speeds, nil),
		})
	}
	return out
}

func imbalanced(stats []DirectionStats, threshold float64) bool {
	var ltr, rtl *DirectionStats
	for i := range stats {
		switch stats[i].Direction {
		case events.DirectionLTR:
			ltr = &stats[i]
		case events.DirectionRTL:
			rtl = &stats[i]
		}
	}
	if ltr == nil || rtl == nil {
		return false
	}
	diff := ltr.Mean - rtl.Mean
	if diff < 0 {
		diff = -diff
	}
	return diff > threshold
}
