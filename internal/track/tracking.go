// Package track maintains vehicle identity across frames.
//
// The tracker associates per-frame detections with existing tracks by
// predicted position, promotes tracks to confirmed after a streak of
// hits, and finalizes tracks that go unseen for too long. Finalized
// tracks are handed back to the caller exactly once; the tracker never
// resurrects an identity.
package track

import (
	"fmt"
	"image"
	"sort"
	"sync"
	"time"

	"github.com/ShaneMarusczak/traffic-analysis/internal/config"
	"github.com/ShaneMarusczak/traffic-analysis/internal/detect"
	"github.com/ShaneMarusczak/traffic-analysis/internal/monitoring"
)

// Track lifecycle states.
const (
	// StateTentative is a newly created track that has not yet earned
	// enough consecutive hits to be trusted.
	StateTentative = "tentative"
	// StateConfirmed is an established track eligible to produce a
	// vehicle event when it ends.
	StateConfirmed = "confirmed"
	// StateStale marks a track that crossed the miss threshold. It is
	// transitional: a stale track is finalized in the same frame.
	StateStale = "stale"
	// StateFinalized is terminal. A finalized track accepts no further
	// samples.
	StateFinalized = "finalized"
)

// Sample is one observed centroid position on a track's path.
type Sample struct {
	UnixNanos int64
	X         float64
	Y         float64
}

// Track is one vehicle identity. All positions are frame pixel
// coordinates; velocities are px/s. Fields are owned by the tracker
// until the track is finalized and returned, after which the caller
// owns it exclusively.
type Track struct {
	ID    int64
	Class string
	State string

	// Hits counts consecutive matched frames; a missed frame resets it
	// while the track is tentative, so confirmation requires an unbroken
	// streak. Misses counts consecutive frames without an association.
	Hits   int
	Misses int

	FirstUnixNanos     int64
	LastUnixNanos      int64
	ConfirmedUnixNanos int64

	// X, Y is the last observed centroid; VX, VY the smoothed velocity.
	X, Y   float64
	VX, VY float64

	LastFrame int64
	LastBox   image.Rectangle

	Samples []Sample
}

// predict extrapolates the track's centroid to time nowNanos assuming
// constant velocity.
func (t *Track) predict(nowNanos int64) (float64, float64) {
	dt := float64(nowNanos-t.LastUnixNanos) / float64(time.Second)
	if dt <= 0 {
		return t.X, t.Y
	}
	return t.X + t.VX*dt, t.Y + t.VY*dt
}

// InconsistencyError reports tracker state corruption, such as a frame
// timestamp moving backwards. It is fatal to the run.
type InconsistencyError struct {
	TrackID int64
	Reason  string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("track: inconsistency on track %d: %s", e.TrackID, e.Reason)
}

// Counts is a point-in-time census of the tracker, used for run stats.
type Counts struct {
	Tentative int
	Confirmed int
	Finalized int64
	Dropped   int64
}

// Tracker owns all live tracks. Update and FinalizeAll mutate state
// and must not be called concurrently with each other; Snapshot and
// TrackCounts are safe from any goroutine.
type Tracker struct {
	mu sync.RWMutex

	tracks map[int64]*Track
	nextID int64

	hitsToConfirm int
	maxMisses     int
	maxMatchDist  float64
	overlapCredit float64
	smoothing     float64
	maxTracks     int

	lastUnixNanos int64
	finalized     int64
	dropped       int64
}

// NewTracker creates an empty tracker tuned from cfg.
func NewTracker(cfg *config.TuningConfig) *Tracker {
	return &Tracker{
		tracks:        make(map[int64]*Track),
		nextID:        1,
		hitsToConfirm: cfg.GetHitsToConfirm(),
		maxMisses:     cfg.GetMaxMisses(),
		maxMatchDist:  cfg.GetMaxMatchDistancePx(),
		overlapCredit: cfg.GetOverlapCredit(),
		smoothing:     cfg.GetVelocitySmoothing(),
		maxTracks:     cfg.GetMaxTracks(),
	}
}

// Update advances the tracker by one frame: it associates detections
// with live tracks, ages out unseen tracks, and starts new tracks for
// unmatched detections. The returned slice holds the tracks finalized
// by this frame, in ascending ID order; ownership of those tracks
// passes to the caller.
func (tr *Tracker) Update(dets []detect.Detection, frameIndex int64, now time.Time) ([]*Track, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	nowNanos := now.UnixNano()
	if nowNanos < tr.lastUnixNanos {
		return nil, &InconsistencyError{Reason: fmt.Sprintf("frame time went backwards: %d -> %d", tr.lastUnixNanos, nowNanos)}
	}
	tr.lastUnixNanos = nowNanos

	ids := tr.sortedIDs()

	// Build admissible pairings against predicted positions.
	var candidates []candidate
	for _, id := range ids {
		t := tr.tracks[id]
		px, py := t.predict(nowNanos)
		for i, d := range dets {
			dist := euclidean(px, py, d.CenterX(), d.CenterY())
			if dist > tr.maxMatchDist {
				continue
			}
			candidates = append(candidates, candidate{
				trackID: id,
				detIdx:  i,
				cost:    matchCost(dist, tr.maxMatchDist, t.LastBox, d.Box, tr.overlapCredit),
			})
		}
	}
	assigned := greedyAssign(candidates)

	// Apply matches.
	for _, id := range ids {
		detIdx, ok := assigned[id]
		if !ok {
			continue
		}
		if err := tr.observe(tr.tracks[id], dets[detIdx], frameIndex, nowNanos); err != nil {
			return nil, err
		}
	}

	// Age out unmatched tracks.
	var done []*Track
	for _, id := range ids {
		if _, ok := assigned[id]; ok {
			continue
		}
		t := tr.tracks[id]
		t.Misses++
		if t.State == StateTentative {
			t.Hits = 0
		}
		if t.Misses >= tr.maxMisses {
			t.State = StateStale
			done = append(done, tr.finalize(t))
		}
	}

	// New tracks for unmatched detections.
	usedDet := make(map[int]bool, len(assigned))
	for _, detIdx := range assigned {
		usedDet[detIdx] = true
	}
	for i, d := range dets {
		if usedDet[i] {
			continue
		}
		if len(tr.tracks) >= tr.maxTracks {
			tr.dropped++
			monitoring.Debugf("track: at capacity (%d live), dropping detection at (%.0f, %.0f)", len(tr.tracks), d.CenterX(), d.CenterY())
			continue
		}
		tr.spawn(d, frameIndex, nowNanos)
	}

	sort.Slice(done, func(i, j int) bool { return done[i].ID < done[j].ID })
	return done, nil
}

// observe folds one matched detection into t.
func (tr *Tracker) observe(t *Track, d detect.Detection, frameIndex, nowNanos int64) error {
	if t.State == StateFinalized {
		return &InconsistencyError{TrackID: t.ID, Reason: "sample on finalized track"}
	}
	if nowNanos < t.LastUnixNanos {
		return &InconsistencyError{TrackID: t.ID, Reason: "sample timestamp before last sample"}
	}

	mx, my := d.CenterX(), d.CenterY()
	dt := float64(nowNanos-t.LastUnixNanos) / float64(time.Second)
	if dt > 0 {
		instVX := (mx - t.X) / dt
		instVY := (my - t.Y) / dt
		t.VX = tr.smoothing*t.VX + (1-tr.smoothing)*instVX
		t.VY = tr.smoothing*t.VY + (1-tr.smoothing)*instVY
	}

	t.X, t.Y = mx, my
	t.Hits++
	t.Misses = 0
	t.LastUnixNanos = nowNanos
	t.LastFrame = frameIndex
	t.LastBox = d.Box
	t.Samples = append(t.Samples, Sample{UnixNanos: nowNanos, X: mx, Y: my})

	if t.State == StateTentative && t.Hits >= tr.hitsToConfirm {
		t.State = StateConfirmed
		t.ConfirmedUnixNanos = nowNanos
		monitoring.Debugf("track: confirmed track %d (%s) after %d hits", t.ID, t.Class, t.Hits)
	}
	return nil
}

// spawn starts a tentative track from an unmatched detection.
func (tr *Tracker) spawn(d detect.Detection, frameIndex, nowNanos int64) {
	t := &Track{
		ID:             tr.nextID,
		Class:          d.Class,
		State:          StateTentative,
		Hits:           1,
		FirstUnixNanos: nowNanos,
		LastUnixNanos:  nowNanos,
		X:              d.CenterX(),
		Y:              d.CenterY(),
		LastFrame:      frameIndex,
		LastBox:        d.Box,
		Samples:        []Sample{{UnixNanos: nowNanos, X: d.CenterX(), Y: d.CenterY()}},
	}
	tr.nextID++
	if tr.hitsToConfirm <= 1 {
		t.State = StateConfirmed
		t.ConfirmedUnixNanos = nowNanos
	}
	tr.tracks[t.ID] = t
}

// finalize transitions t to its terminal state and removes it from the
// live set. IDs are never reused.
func (tr *Tracker) finalize(t *Track) *Track {
	t.State = StateFinalized
	delete(tr.tracks, t.ID)
	tr.finalized++
	return t
}

// FinalizeAll force-finalizes every live track, confirmed or not, in
// ascending ID order. Used at end of run so in-progress observations
// are not silently lost.
func (tr *Tracker) FinalizeAll() []*Track {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	var done []*Track
	for _, id := range tr.sortedIDs() {
		t := tr.tracks[id]
		t.State = StateStale
		done = append(done, tr.finalize(t))
	}
	return done
}

// Snapshot returns copies of all live tracks for read-only use, sample
// slices included.
func (tr *Tracker) Snapshot() []*Track {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	out := make([]*Track, 0, len(tr.tracks))
	for _, id := range tr.sortedIDs() {
		t := tr.tracks[id]
		c := *t
		c.Samples = make([]Sample, len(t.Samples))
		copy(c.Samples, t.Samples)
		out = append(out, &c)
	}
	return out
}

// TrackCounts reports the current census.
func (tr *Tracker) TrackCounts() Counts {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	c := Counts{Finalized: tr.finalized, Dropped: tr.dropped}
	for _, t := range tr.tracks {
		switch t.State {
		case StateTentative:
			c.Tentative++
		case StateConfirmed:
			c.Confirmed++
		}
	}
	return c
}

// sortedIDs returns live track IDs in ascending order. Callers hold
// tr.mu.
func (tr *Tracker) sortedIDs() []int64 {
	ids := make([]int64, 0, len(tr.tracks))
	for id := range tr.tracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
