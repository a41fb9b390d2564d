// Package capture acquires frames from a video source for the pipeline.
//
// A Source hands the frame loop one timestamped frame at a time. The
// stream implementation hides reconnect and backoff behaviour so the
// loop only distinguishes three outcomes: a frame, a clean end of
// stream (io.EOF), or a fatal capture failure.
package capture

import (
	"context"
	"fmt"
	"time"

	"gocv.io/x/gocv"
)

// Frame is one decoded video frame with its acquisition timestamp.
// Ownership of Image passes to the caller, which must Close it.
type Frame struct {
	Image     gocv.Mat
	Timestamp time.Time
	// Index is the zero-based position of the frame in the run, counting
	// only frames that were successfully read.
	Index int64
}

// Source produces frames until the stream ends or fails.
type Source interface {
	// Next blocks until a frame is available, the context is cancelled,
	// or the source gives up. It returns io.EOF on a clean end of
	// stream and a *CaptureError when the failure budget is exhausted.
	Next(ctx context.Context) (Frame, error)

	// Close releases the underlying stream.
	Close() error
}

// CaptureError reports that a source exhausted its failure budget and
// cannot produce further frames. The run is aborted when it surfaces.
type CaptureError struct {
	Source   string
	Failures int
	Err      error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture: source %q failed after %d attempts: %v", e.Source, e.Failures, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }
