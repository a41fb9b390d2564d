// Package run drives a capture session end to end: frames in, vehicle
// events out.
//
// The controller owns the frame loop. Each iteration reads one frame,
// runs detection, advances the tracker, and turns any tracks the frame
// finalized into durable vehicle events. Shutdown requests are observed
// only at the top of an iteration, so a frame's decisions are never
// half-applied.
package run

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/ShaneMarusczak/traffic-analysis/internal/capture"
	"github.com/ShaneMarusczak/traffic-analysis/internal/config"
	"github.com/ShaneMarusczak/traffic-analysis/internal/db"
	"github.com/ShaneMarusczak/traffic-analysis/internal/detect"
	"github.com/ShaneMarusczak/traffic-analysis/internal/estimate"
	"github.com/ShaneMarusczak/traffic-analysis/internal/events"
	"github.com/ShaneMarusczak/traffic-analysis/internal/monitoring"
	"github.com/ShaneMarusczak/traffic-analysis/internal/timeutil"
	"github.com/ShaneMarusczak/traffic-analysis/internal/track"
)

// Controller wires one run's components together. Populate the exported
// fields, then call Run once. Archive may be nil.
type Controller struct {
	Source    capture.Source
	Detector  detect.Detector
	Tracker   *track.Tracker
	Estimator *estimate.Estimator
	Writer    *events.LogWriter
	Archive   *db.DB
	RunID     string
	Clock     timeutil.Clock
	Cfg       *config.TuningConfig

	mu          sync.Mutex
	started     time.Time
	frames      int64
	vehicles    int64
	modelErrors int64
}

// Summary reports what a completed run did.
type Summary struct {
	RunID       string
	Frames      int64
	Vehicles    int64
	ModelErrors int64
	Duration    time.Duration
	LogPath     string
}

// Stats is a point-in-time view of a running session, served by the
// status API.
type Stats struct {
	RunID       string       `json:"run_id"`
	Frames      int64        `json:"frames"`
	Vehicles    int64        `json:"vehicles"`
	ModelErrors int64        `json:"model_errors"`
	ElapsedSecs float64      `json:"elapsed_s"`
	Tracks      track.Counts `json:"tracks"`
}

// Stats returns the current counters. Safe to call from any goroutine
// while Run is in progress.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	started := c.started
	s := Stats{
		RunID:       c.RunID,
		Frames:      c.frames,
		Vehicles:    c.vehicles,
		ModelErrors: c.modelErrors,
	}
	c.mu.Unlock()

	if !started.IsZero() {
		s.ElapsedSecs = c.Clock.Since(started).Seconds()
	}
	s.Tracks = c.Tracker.TrackCounts()
	return s
}

// Run executes the session until the duration elapses, the source ends,
// or ctx is cancelled; all three are clean completions. A capture
// failure, a tracker inconsistency, or an event log write failure abort
// the run with an error. Run closes the Source and Detector before
// returning; the Writer and Archive stay open for the caller.
func (c *Controller) Run(ctx context.Context, duration time.Duration) (Summary, error) {
	start := c.Clock.Now()
	c.mu.Lock()
	c.started = start
	c.mu.Unlock()

	c.archiveStart(ctx, start)

	runErr := c.loop(ctx, start, duration)

	if err := c.Source.Close(); err != nil {
		monitoring.Logf("run %s: closing source: %v", c.RunID, err)
	}
	if err := c.Detector.Close(); err != nil {
		monitoring.Logf("run %s: closing detector: %v", c.RunID, err)
	}

	// Flush in-progress tracks so the run does not lose the vehicles it
	// was still watching. This also happens on an aborted run; the abort
	// error stays the one returned.
	for _, t := range c.Tracker.FinalizeAll() {
		if err := c.emit(ctx, t); err != nil {
			if runErr == nil {
				runErr = err
			}
			break
		}
	}

	finished := c.Clock.Now()
	c.mu.Lock()
	summary := Summary{
		RunID:       c.RunID,
		Frames:      c.frames,
		Vehicles:    c.vehicles,
		ModelErrors: c.modelErrors,
		Duration:    finished.Sub(start),
		LogPath:     c.Writer.Path(),
	}
	c.mu.Unlock()

	c.archiveFinish(finished, summary, runErr)

	if runErr != nil {
		return summary, runErr
	}
	monitoring.Logf("run %s: finished, %d frames, %d vehicles in %v", c.RunID, summary.Frames, summary.Vehicles, summary.Duration)
	return summary, nil
}

func (c *Controller) loop(ctx context.Context, start time.Time, duration time.Duration) error {
	targetRate := c.Cfg.GetTargetFrameRate()
	logEvery := c.Cfg.GetFPSLogInterval()

	var frameInterval time.Duration
	if targetRate > 0 {
		frameInterval = time.Duration(float64(time.Second) / targetRate)
	}

	for {
		if ctx.Err() != nil {
			monitoring.Logf("run %s: shutdown requested", c.RunID)
			return nil
		}
		if duration > 0 && c.Clock.Since(start) >= duration {
			monitoring.Logf("run %s: duration reached", c.RunID)
			return nil
		}

		frameStart := c.Clock.Now()
		frame, err := c.Source.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			monitoring.Logf("run %s: end of stream", c.RunID)
			return nil
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			monitoring.Logf("run %s: shutdown requested", c.RunID)
			return nil
		default:
			return err
		}

		dets, err := c.Detector.Detect(frame.Image)
		if err != nil {
			monitoring.Logf("run %s: frame %d: model error: %v", c.RunID, frame.Index, err)
			c.mu.Lock()
			c.modelErrors++
			c.mu.Unlock()
			dets = nil
		}
		frame.Image.Close()

		done, err := c.Tracker.Update(dets, frame.Index, frame.Timestamp)
		if err != nil {
			return err
		}
		for _, t := range done {
			if err := c.emit(ctx, t); err != nil {
				return err
			}
		}

		c.mu.Lock()
		c.frames++
		frames := c.frames
		c.mu.Unlock()

		if logEvery > 0 && frames%int64(logEvery) == 0 {
			elapsed := c.Clock.Since(start).Seconds()
			if elapsed > 0 {
				monitoring.Logf("run %s: %d frames, %.1f fps", c.RunID, frames, float64(frames)/elapsed)
			}
		}

		if frameInterval > 0 {
			if spent := c.Clock.Since(frameStart); spent < frameInterval {
				c.Clock.Sleep(frameInterval - spent)
			}
		}
	}
}

// emit converts one finalized track to an event and records it. A log
// write failure is fatal; an archive failure is not.
func (c *Controller) emit(ctx context.Context, t *track.Track) error {
	ev, ok := c.Estimator.Estimate(t)
	if !ok {
		monitoring.Debugf("run %s: discarding track %d (%d samples, state %s)", c.RunID, t.ID, len(t.Samples), t.State)
		return nil
	}

	if err := c.Writer.Append(&ev); err != nil {
		return err
	}
	c.mu.Lock()
	c.vehicles++
	c.mu.Unlock()

	monitoring.Logf("run %s: vehicle #%d: %s, %.1f px/s (track %d, %d samples)",
		c.RunID, ev.VehicleNumber, ev.Direction, ev.SpeedNormalized, ev.TrackID, ev.Samples)

	if c.Archive != nil {
		if err := c.Archive.RecordVehicleEvent(ctx, c.RunID, &ev); err != nil {
			monitoring.Logf("run %s: archive write failed for vehicle #%d: %v", c.RunID, ev.VehicleNumber, err)
		}
	}
	return nil
}

func (c *Controller) archiveStart(ctx context.Context, start time.Time) {
	if c.Archive == nil {
		return
	}
	params, err := json.Marshal(c.Cfg)
	if err != nil {
		params = []byte("{}")
	}
	source := ""
	if s, ok := c.Source.(interface{ String() string }); ok {
		source = s.String()
	}
	if err := c.Archive.InsertRun(ctx, c.RunID, source, string(params), start); err != nil {
		monitoring.Logf("run %s: archive insert failed: %v", c.RunID, err)
	}
}

func (c *Controller) archiveFinish(finished time.Time, s Summary, runErr error) {
	if c.Archive == nil {
		return
	}
	status := db.RunStatusCompleted
	if runErr != nil {
		status = db.RunStatusFailed
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Archive.CompleteRun(ctx, c.RunID, status, finished, s.Frames, s.Vehicles); err != nil {
		monitoring.Logf("run %s: archive completion failed: %v", c.RunID, err)
	}
}
