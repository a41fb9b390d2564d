package run

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ShaneMarusczak/traffic-analysis/internal/capture"
	"github.com/ShaneMarusczak/traffic-analysis/internal/config"
	"github.com/ShaneMarusczak/traffic-analysis/internal/db"
	"github.com/ShaneMarusczak/traffic-analysis/internal/detect"
	"github.com/ShaneMarusczak/traffic-analysis/internal/estimate"
	"github.com/ShaneMarusczak/traffic-analysis/internal/events"
	"github.com/ShaneMarusczak/traffic-analysis/internal/timeutil"
	"github.com/ShaneMarusczak/traffic-analysis/internal/track"
)

// scriptDetector returns a pre-planned detection list per frame.
type scriptDetector struct {
	frames [][]detect.Detection
	err    error
	calls  int
	closed bool
}

func (d *scriptDetector) Detect(gocv.Mat) ([]detect.Detection, error) {
	i := d.calls
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	if i >= len(d.frames) {
		return nil, nil
	}
	return d.frames[i], nil
}

func (d *scriptDetector) Close() error {
	d.closed = true
	return nil
}

func carAt(x, y int) detect.Detection {
	return detect.Detection{
		Box:        image.Rect(x-8, y-8, x+8, y+8),
		Class:      "car",
		Confidence: 0.9,
	}
}

func testTuning(t *testing.T, body string) *config.TuningConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.LoadTuningConfig(path)
	require.NoError(t, err)
	return cfg
}

// newController wires a controller around det, leaving Source for the
// caller to set with the returned clock so frame timestamps and pacing
// share one timeline.
func newController(t *testing.T, cfg *config.TuningConfig, det detect.Detector) (*Controller, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	w, err := events.NewLogWriter(t.TempDir(), clock.Now())
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	return &Controller{
		Detector:  det,
		Tracker:   track.NewTracker(cfg),
		Estimator: estimate.NewEstimator(cfg),
		Writer:    w,
		RunID:     uuid.NewString(),
		Clock:     clock,
		Cfg:       cfg,
	}, clock
}

func TestRunEndToEnd(t *testing.T) {
	cfg := config.MustLoadDefaultConfig()

	// One vehicle crossing left to right, 2px per frame.
	var script [][]detect.Detection
	for i := 0; i < 20; i++ {
		script = append(script, []detect.Detection{carAt(100+2*i, 50)})
	}
	det := &scriptDetector{frames: script}

	ctrl, clock := newController(t, cfg, det)
	ctrl.Source = capture.NewMockSource(clock).AddFrames(20)

	summary, err := ctrl.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(20), summary.Frames)
	assert.Equal(t, int64(1), summary.Vehicles)
	assert.Zero(t, summary.ModelErrors)
	assert.True(t, det.closed)

	got, err := events.ReadLog(summary.LogPath)
	require.NoError(t, err)
	require.Len(t, got, 1)
	ev := got[0]
	assert.Equal(t, 1, ev.VehicleNumber)
	assert.Equal(t, events.DirectionLTR, ev.Direction)
	assert.Equal(t, 20, ev.Samples)
	// 38px over 19 frames at 40 fps.
	assert.InDelta(t, 80.0, ev.SpeedRaw, 1.0)
}

func TestRunStopsAtDuration(t *testing.T) {
	cfg := config.MustLoadDefaultConfig()
	ctrl, clock := newController(t, cfg, &scriptDetector{})
	ctrl.Source = capture.NewMockSource(clock).AddFrames(1000)

	summary, err := ctrl.Run(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	// 40 fps pacing advances the mock clock 25ms per frame.
	assert.Equal(t, int64(4), summary.Frames)
	assert.GreaterOrEqual(t, summary.Duration, 100*time.Millisecond)
}

func TestRunEmptySceneProducesEmptyLog(t *testing.T) {
	cfg := config.MustLoadDefaultConfig()
	ctrl, clock := newController(t, cfg, &scriptDetector{})
	ctrl.Source = capture.NewMockSource(clock).AddFrames(10)

	summary, err := ctrl.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(10), summary.Frames)
	assert.Zero(t, summary.Vehicles)

	got, err := events.ReadLog(summary.LogPath)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRunCancelledBeforeFirstFrame(t *testing.T) {
	cfg := config.MustLoadDefaultConfig()
	ctrl, clock := newController(t, cfg, &scriptDetector{})
	src := capture.NewMockSource(clock).AddFrames(10)
	ctrl.Source = src

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := ctrl.Run(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, summary.Frames)
	assert.True(t, src.Closed)
}

func TestRunShutdownFlushesLiveTracks(t *testing.T) {
	cfg := testTuning(t, `{"hits_to_confirm": 2, "min_event_samples": 3}`)
	var script [][]detect.Detection
	for i := 0; i < 6; i++ {
		script = append(script, []detect.Detection{carAt(100+3*i, 50)})
	}
	ctrl, clock := newController(t, cfg, &scriptDetector{frames: script})
	// The source runs dry after 6 frames while the track is still live.
	ctrl.Source = capture.NewMockSource(clock).AddFrames(6)

	summary, err := ctrl.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Vehicles)
}

func TestRunToleratesModelErrors(t *testing.T) {
	cfg := config.MustLoadDefaultConfig()
	det := &scriptDetector{err: &detect.ModelError{Op: "forward", Err: errors.New("backend crashed")}}
	ctrl, clock := newController(t, cfg, det)
	ctrl.Source = capture.NewMockSource(clock).AddFrames(5)

	summary, err := ctrl.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), summary.Frames)
	assert.Equal(t, int64(5), summary.ModelErrors)
	assert.Zero(t, summary.Vehicles)
}

func TestRunAbortsOnCaptureFailure(t *testing.T) {
	cfg := config.MustLoadDefaultConfig()
	capErr := &capture.CaptureError{Source: "stream", Failures: 30, Err: errors.New("gone")}
	ctrl, clock := newController(t, cfg, &scriptDetector{})
	ctrl.Source = capture.NewMockSource(clock).AddFrames(2).AddError(capErr)

	summary, err := ctrl.Run(context.Background(), 0)
	var got *capture.CaptureError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, int64(2), summary.Frames)
}

func TestRunCaptureFailureStillFlushesTracks(t *testing.T) {
	cfg := testTuning(t, `{"hits_to_confirm": 2, "min_event_samples": 3}`)
	var script [][]detect.Detection
	for i := 0; i < 6; i++ {
		script = append(script, []detect.Detection{carAt(100+3*i, 50)})
	}
	capErr := &capture.CaptureError{Source: "stream", Failures: 30, Err: errors.New("gone")}
	ctrl, clock := newController(t, cfg, &scriptDetector{frames: script})
	ctrl.Source = capture.NewMockSource(clock).AddFrames(6).AddError(capErr)

	// The capture failure aborts the run, but the confirmed track's
	// observations are already in hand and still reach the log.
	summary, err := ctrl.Run(context.Background(), 0)
	var got *capture.CaptureError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, int64(1), summary.Vehicles)

	require.NoError(t, ctrl.Writer.Close())
	evs, err := events.ReadLog(ctrl.Writer.Path())
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, events.DirectionLTR, evs[0].Direction)
}

func TestRunAbortsOnLogWriteFailure(t *testing.T) {
	cfg := testTuning(t, `{"hits_to_confirm": 2, "min_event_samples": 3, "max_misses": 2}`)
	var script [][]detect.Detection
	for i := 0; i < 5; i++ {
		script = append(script, []detect.Detection{carAt(100+3*i, 50)})
	}
	// Frames 5-6 have no detections so the track ages out mid-run.
	script = append(script, nil, nil)

	ctrl, clock := newController(t, cfg, &scriptDetector{frames: script})
	ctrl.Source = capture.NewMockSource(clock).AddFrames(8)

	// Sabotage the log so the mid-run append fails.
	require.NoError(t, ctrl.Writer.Close())

	_, err := ctrl.Run(context.Background(), 0)
	assert.Error(t, err)
}

func TestRunArchivesEventsAndCompletion(t *testing.T) {
	cfg := config.MustLoadDefaultConfig()
	archive, err := db.NewDB(":memory:")
	require.NoError(t, err)
	defer archive.Close()

	var script [][]detect.Detection
	for i := 0; i < 12; i++ {
		script = append(script, []detect.Detection{carAt(100+2*i, 50)})
	}
	ctrl, clock := newController(t, cfg, &scriptDetector{frames: script})
	ctrl.Source = capture.NewMockSource(clock).AddFrames(12)
	ctrl.Archive = archive

	summary, err := ctrl.Run(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), summary.Vehicles)

	r, err := archive.GetRun(context.Background(), ctrl.RunID)
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusCompleted, r.Status)
	assert.Equal(t, int64(12), r.Frames)
	assert.Equal(t, int64(1), r.Vehicles)
	assert.Equal(t, "mock", r.Source)

	archived, err := archive.EventsForRun(context.Background(), ctrl.RunID)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, 1, archived[0].VehicleNumber)
}

func TestStatsWhileIdle(t *testing.T) {
	cfg := config.MustLoadDefaultConfig()
	ctrl, clock := newController(t, cfg, &scriptDetector{})
	ctrl.Source = capture.NewMockSource(clock)

	s := ctrl.Stats()
	assert.Equal(t, ctrl.RunID, s.RunID)
	assert.Zero(t, s.Frames)
	assert.Zero(t, s.ElapsedSecs)
}
