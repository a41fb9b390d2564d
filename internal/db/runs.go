package db

import (
	"context"
	"time"

	"github.com/ShaneMarusczak/traffic-analysis/internal/events"
)

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is one archived capture session.
type Run struct {
	RunID          string
	Source         string
	Params         string
	Status         string
	StartedUnixNs  int64
	FinishedUnixNs int64
	Frames         int64
	Vehicles       int64
}

// InsertRun records the start of a run. Params is the JSON rendering of
// the effective tuning config, kept so a report can be interpreted
// against the thresholds that produced it.
func (db *DB) InsertRun(ctx context.Context, runID, source, params string, started time.Time) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (run_id, source, params, status, started_unix_ns) VALUES (?, ?, ?, ?, ?)`,
		runID, source, params, RunStatusRunning, started.UnixNano())
	return err
}

// CompleteRun marks the run finished with its final status and totals.
func (db *DB) CompleteRun(ctx context.Context, runID, status string, finished time.Time, frames, vehicles int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_unix_ns = ?, frames = ?, vehicles = ? WHERE run_id = ?`,
		status, finished.UnixNano(), frames, vehicles, runID)
	return err
}

// GetRun fetches one archived run.
func (db *DB) GetRun(ctx context.Context, runID string) (Run, error) {
	var r Run
	var finished, frames, vehicles *int64
	err := db.QueryRowContext(ctx,
		`SELECT run_id, source, params, status, started_unix_ns, finished_unix_ns, frames, vehicles
		 FROM runs WHERE run_id = ?`, runID).
		Scan(&r.RunID, &r.Source, &r.Params, &r.Status, &r.StartedUnixNs, &finished, &frames, &vehicles)
	if err != nil {
		return Run{}, err
	}
	if finished != nil {
		r.FinishedUnixNs = *finished
	}
	if frames != nil {
		r.Frames = *frames
	}
	if vehicles != nil {
		r.Vehicles = *vehicles
	}
	return r, nil
}

// RecordVehicleEvent archives one event under its run.
func (db *DB) RecordVehicleEvent(ctx context.Context, runID string, ev *events.VehicleEvent) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO vehicle_events
		 (run_id, vehicle_number, track_id, direction, speed_raw, speed_normalized,
		  distance_px, elapsed_s, samples, entry_unix_ns, exit_unix_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, ev.VehicleNumber, ev.TrackID, string(ev.Direction),
		ev.SpeedRaw, ev.SpeedNormalized, ev.DistancePx, ev.ElapsedSeconds,
		ev.Samples, ev.EntryUnixNanos, ev.ExitUnixNanos)
	return err
}

// EventsForRun returns a run's archived events in vehicle-number order.
func (db *DB) EventsForRun(ctx context.Context, runID string) ([]events.VehicleEvent, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT vehicle_number, track_id, direction, speed_raw, speed_normalized,
		        distance_px, elapsed_s, samples, entry_unix_ns, exit_unix_ns
		 FROM vehicle_events WHERE run_id = ? ORDER BY vehicle_number`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.VehicleEvent
	for rows.Next() {
		var ev events.VehicleEvent
		var dir string
		if err := rows.Scan(&ev.VehicleNumber, &ev.TrackID, &dir, &ev.SpeedRaw, &ev.SpeedNormalized,
			&ev.DistancePx, &ev.ElapsedSeconds, &ev.Samples, &ev.EntryUnixNanos, &ev.ExitUnixNanos); err != nil {
			return nil, err
		}
		ev.Direction = events.Direction(dir)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// SpeedsForRun returns the normalized speeds of a run's events, in
// vehicle-number order.
func (db *DB) SpeedsForRun(ctx context.Context, runID string) ([]float64, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT speed_normalized FROM vehicle_events WHERE run_id = ? ORDER BY vehicle_number`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
