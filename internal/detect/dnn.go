package detect

import (
	"bufio"
	"fmt"
	"image"
	"os"
	"strings"

	"gocv.io/x/gocv"

	"github.com/ShaneMarusczak/traffic-analysis/internal/config"
)

// ModelError wraps a failure from the underlying network for a single
// frame. The frame loop logs it and carries on with zero detections.
type ModelError struct {
	Op  string
	Err error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("detect: %s: %v", e.Op, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// DNNDetector runs a darknet-style object detection network through the
// OpenCV DNN module. It is not safe for concurrent use; the frame loop
// owns it and calls Detect serially.
type DNNDetector struct {
	net        gocv.Net
	classes    []string
	vehicles   map[string]bool
	inputSize  int
	confidence float32
	nms        float32
	closed     bool
}

// DNNOptions configures NewDNNDetector. Weights, Config and Names are
// file paths; the remaining knobs come from the tuning config.
type DNNOptions struct {
	Weights string
	Config  string
	Names   string
}

// NewDNNDetector loads the network and class names from disk. Threshold
// and class-filter settings are read from cfg.
func NewDNNDetector(opts DNNOptions, cfg *config.TuningConfig) (*DNNDetector, error) {
	classes, err := loadClassNames(opts.Names)
	if err != nil {
		return nil, fmt.Errorf("detect: load class names: %w", err)
	}

	net := gocv.ReadNet(opts.Weights, opts.Config)
	if net.Empty() {
		return nil, fmt.Errorf("detect: failed to load network from %s / %s", opts.Weights, opts.Config)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	vehicles := make(map[string]bool)
	for _, class := range cfg.GetVehicleClasses() {
		vehicles[class] = true
	}

	return &DNNDetector{
		net:        net,
		classes:    classes,
		vehicles:   vehicles,
		inputSize:  cfg.GetModelInputSize(),
		confidence: float32(cfg.GetConfidenceThreshold()),
		nms:        float32(cfg.GetNMSThreshold()),
	}, nil
}

// Detect runs one frame through the network and decodes the output rows
// into detections. Only classes in the configured vehicle set survive,
// and overlapping boxes are suppressed with NMS.
func (d *DNNDetector) Detect(frame gocv.Mat) ([]Detection, error) {
	if d.closed {
		return nil, &ModelError{Op: "detect", Err: fmt.Errorf("detector is closed")}
	}
	if frame.Empty() {
		return nil, &ModelError{Op: "detect", Err: fmt.Errorf("empty frame")}
	}

	blob := gocv.BlobFromImage(frame, 1.0/255.0,
		image.Pt(d.inputSize, d.inputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	frameW := float32(frame.Cols())
	frameH := float32(frame.Rows())

	var boxes []image.Rectangle
	var scores []float32
	var classIDs []int

	cols := output.Cols()
	for r := 0; r < output.Rows(); r++ {
		view := output.RowRange(r, r+1)
		row := view.Clone()
		view.Close()

		scoresMat := row.ColRange(5, cols)
		_, maxVal, _, maxLoc := gocv.MinMaxLoc(scoresMat)
		scoresMat.Close()
		if maxVal < d.confidence {
			row.Close()
			continue
		}

		// Box coordinates are normalized centre/size.
		cx := row.GetFloatAt(0, 0) * frameW
		cy := row.GetFloatAt(0, 1) * frameH
		w := row.GetFloatAt(0, 2) * frameW
		h := row.GetFloatAt(0, 3) * frameH
		row.Close()

		left := int(cx - w/2)
		top := int(cy - h/2)
		boxes = append(boxes, image.Rect(left, top, left+int(w), top+int(h)))
		scores = append(scores, maxVal)
		classIDs = append(classIDs, maxLoc.X)
	}

	if len(boxes) == 0 {
		return nil, nil
	}

	indices := gocv.NMSBoxes(boxes, scores, d.confidence, d.nms)

	detections := make([]Detection, 0, len(indices))
	for _, idx := range indices {
		class := d.className(classIDs[idx])
		if !d.vehicles[class] {
			continue
		}
		detections = append(detections, Detection{
			Box:        boxes[idx],
			Class:      class,
			Confidence: scores[idx],
		})
	}
	return detections, nil
}

func (d *DNNDetector) className(id int) string {
	if id < 0 || id >= len(d.classes) {
		return fmt.Sprintf("class-%d", id)
	}
	return d.classes[id]
}

// Close releases the network. Detect returns an error after Close.
func (d *DNNDetector) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return d.net.Close()
}

func loadClassNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name != "" {
			names = append(names, name)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no class names in %s", path)
	}
	return names, nil
}
