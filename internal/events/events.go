// Package events defines the per-vehicle observation record and the
// durable append-only log it is written to.
//
// One VehicleEvent is emitted for each track that is confirmed and then
// finalized during a run. Events are the system of record: the speed
// report is computed from the log, never from in-memory state.
package events

// Direction classifies a vehicle's dominant travel axis across the frame.
type Direction string

const (
	// DirectionLTR is left-to-right travel.
	DirectionLTR Direction = "ltr"
	// DirectionRTL is right-to-left travel.
	DirectionRTL Direction = "rtl"
	// DirectionTTB is top-to-bottom travel.
	DirectionTTB Direction = "ttb"
	// DirectionBTT is bottom-to-top travel.
	DirectionBTT Direction = "btt"
	// DirectionIndeterminate is used when net displacement on both axes
	// is too small to call.
	DirectionIndeterminate Direction = "indeterminate"
)

// VehicleEvent is one completed vehicle observation. Speeds are in
// pixels per second; no real-world calibration is applied.
type VehicleEvent struct {
	// VehicleNumber is the 1-based position of the event within its
	// run's log.
	VehicleNumber int

	// TrackID is the identifier of the track that produced the event.
	TrackID int64

	// Direction is the dominant travel direction.
	Direction Direction

	// SpeedRaw is path length divided by elapsed time, px/s.
	SpeedRaw float64

	// SpeedNormalized is SpeedRaw with the perspective correction
	// factor applied for right-to-left travel; equal to SpeedRaw
	// otherwise.
	SpeedNormalized float64

	// DistancePx is the total path length in pixels.
	DistancePx float64

	// ElapsedSeconds is the observation span from first to last sample.
	ElapsedSeconds float64

	// Samples is the number of position samples the track accumulated.
	Samples int

	// EntryUnixNanos and ExitUnixNanos bound the observation.
	EntryUnixNanos int64
	ExitUnixNanos  int64
}
