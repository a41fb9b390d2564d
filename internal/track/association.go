package track

import (
	"image"
	"math"
	"sort"
)

// candidate is one admissible track/detection pairing considered by
// the matcher.
type candidate struct {
	trackID int64
	detIdx  int
	cost    float64
}

// rectArea returns the area of r in pixels.
func rectArea(r image.Rectangle) float64 {
	return float64(r.Dx()) * float64(r.Dy())
}

// iou returns the intersection-over-union of two boxes, zero when they
// do not overlap or either is degenerate.
func iou(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	interArea := rectArea(inter)
	union := rectArea(a) + rectArea(b) - interArea
	if union <= 0 {
		return 0
	}
	return interArea / union
}

// matchCost scores a pairing of a predicted track position against a
// detection. Distance dominates; box overlap earns a credit so that
// two detections equidistant from a prediction resolve toward the one
// whose box overlaps the track's last box.
func matchCost(dist, maxDist float64, lastBox, detBox image.Rectangle, overlapCredit float64) float64 {
	return dist/maxDist - overlapCredit*iou(lastBox, detBox)
}

// greedyAssign pairs tracks to detections by ascending cost. Ties break
// on track ID then detection index, so identical inputs always produce
// identical assignments. Each track and each detection is used at most
// once.
func greedyAssign(candidates []candidate) map[int64]int {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.cost != b.cost {
			return a.cost < b.cost
		}
		if a.trackID != b.trackID {
			return a.trackID < b.trackID
		}
		return a.detIdx < b.detIdx
	})

	assigned := make(map[int64]int)
	usedDet := make(map[int]bool)
	for _, c := range candidates {
		if _, ok := assigned[c.trackID]; ok {
			continue
		}
		if usedDet[c.detIdx] {
			continue
		}
		assigned[c.trackID] = c.detIdx
		usedDet[c.detIdx] = true
	}
	return assigned
}

func euclidean(x1, y1, x2, y2 float64) float64 {
	dx := x2 - x1
	dy := y2 - y1
	return math.Sqrt(dx*dx + dy*dy)
}
