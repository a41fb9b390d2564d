// Package detect defines the detection model boundary for the pipeline.
//
// The pipeline consumes a pretrained object detection network as a black
// box: one frame in, zero or more labelled bounding boxes out. Everything
// model-specific (weights format, input geometry, output decoding) stays
// behind the Detector interface so the tracker never sees it.
package detect

import (
	"image"

	"gocv.io/x/gocv"
)

// Detection is one object reported by the model for a single frame.
// Detections are ephemeral: the tracker consumes them immediately and they
// are never persisted.
type Detection struct {
	// Box is the bounding box in frame pixel coordinates.
	Box image.Rectangle
	// Class is the model's label for the object (e.g. "car", "truck").
	Class string
	// Confidence is the model's score for this detection, in [0, 1].
	Confidence float32
}

// CenterX returns the horizontal centre of the bounding box in pixels.
func (d Detection) CenterX() float64 {
	return float64(d.Box.Min.X+d.Box.Max.X) / 2
}

// CenterY returns the vertical centre of the bounding box in pixels.
func (d Detection) CenterY() float64 {
	return float64(d.Box.Min.Y+d.Box.Max.Y) / 2
}

// Detector is the model interface consumed by the frame loop. A failed
// Detect call is a per-frame model error: callers log it and treat the
// frame as having zero detections rather than aborting the run.
type Detector interface {
	// Detect runs inference on one frame and returns the detections that
	// pass the configured confidence and class filters.
	Detect(frame gocv.Mat) ([]Detection, error)

	// Close releases model resources.
	Close() error
}
