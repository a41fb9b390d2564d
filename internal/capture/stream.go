package capture

import (
	"context"
	"io"
	"time"

	"gocv.io/x/gocv"

	"github.com/ShaneMarusczak/traffic-analysis/internal/config"
	"github.com/ShaneMarusczak/traffic-analysis/internal/monitoring"
	"github.com/ShaneMarusczak/traffic-analysis/internal/timeutil"
)

// grabber is the slice of gocv.VideoCapture the stream source needs.
// Tests substitute scripted grabbers via the openGrabber hook.
type grabber interface {
	Read(m *gocv.Mat) bool
	Close() error
}

// openGrabber opens the named stream or file. Swapped in tests.
var openGrabber = func(source string) (grabber, error) {
	return gocv.OpenVideoCapture(source)
}

// StreamSource reads frames from a video file, device index or network
// stream URL through OpenCV. Transient read failures back off
// exponentially and, past a threshold, force a reconnect; only after
// the full failure budget is spent does Next return a *CaptureError.
//
// A read failure on a plain video file is treated as end of stream once
// at least one frame has been delivered, since OpenCV reports EOF and
// decode errors identically.
type StreamSource struct {
	source string
	clock  timeutil.Clock

	backoff        time.Duration
	backoffMax     time.Duration
	maxFailures    int
	reconnectAfter int
	isFile         bool

	cap      grabber
	index    int64
	failures int
	closed   bool
}

// NewStreamSource opens the source and prepares it for reading. The
// backoff and failure-budget knobs come from cfg.
func NewStreamSource(source string, isFile bool, cfg *config.TuningConfig, clock timeutil.Clock) (*StreamSource, error) {
	cap, err := openGrabber(source)
	if err != nil {
		return nil, &CaptureError{Source: source, Failures: 1, Err: err}
	}
	return &StreamSource{
		source:         source,
		clock:          clock,
		backoff:        cfg.GetCaptureBackoff(),
		backoffMax:     cfg.GetCaptureBackoffMax(),
		maxFailures:    cfg.GetCaptureMaxFailures(),
		reconnectAfter: cfg.GetReconnectAfterFailures(),
		isFile:         isFile,
		cap:            cap,
	}, nil
}

// Next reads the next frame, retrying through the backoff schedule on
// failure. It honours ctx between attempts.
func (s *StreamSource) Next(ctx context.Context) (Frame, error) {
	if s.closed {
		return Frame{}, io.EOF
	}

	delay := s.backoff
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}

		img := gocv.NewMat()
		if s.cap != nil && s.cap.Read(&img) && !img.Empty() {
			s.failures = 0
			frame := Frame{Image: img, Timestamp: s.clock.Now(), Index: s.index}
			s.index++
			return frame, nil
		}
		img.Close()

		if s.isFile && s.index > 0 {
			return Frame{}, io.EOF
		}

		s.failures++
		if s.failures >= s.maxFailures {
			return Frame{}, &CaptureError{
				Source:   s.source,
				Failures: s.failures,
				Err:      io.ErrUnexpectedEOF,
			}
		}
		if s.reconnectAfter > 0 && s.failures%s.reconnectAfter == 0 {
			s.reconnect()
		}

		monitoring.Debugf("capture: read failed on %q (attempt %d), retrying in %v", s.source, s.failures, delay)
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-s.clock.After(delay):
		}
		delay *= 2
		if delay > s.backoffMax {
			delay = s.backoffMax
		}
	}
}

func (s *StreamSource) reconnect() {
	if s.cap != nil {
		s.cap.Close()
		s.cap = nil
	}
	cap, err := openGrabber(s.source)
	if err != nil {
		monitoring.Logf("capture: reconnect to %q failed: %v", s.source, err)
		return
	}
	monitoring.Logf("capture: reconnected to %q after %d failures", s.source, s.failures)
	s.cap = cap
}

// String returns the source address the stream was opened with.
func (s *StreamSource) String() string { return s.source }

// Close releases the underlying capture. Subsequent Next calls return
// io.EOF.
func (s *StreamSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cap == nil {
		return nil
	}
	return s.cap.Close()
}
