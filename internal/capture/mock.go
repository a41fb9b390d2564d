package capture

import (
	"context"
	"io"

	"gocv.io/x/gocv"

	"github.com/ShaneMarusczak/traffic-analysis/internal/timeutil"
)

// MockSource replays a scripted sequence of outcomes and is used by
// pipeline tests in place of a live stream. Each call to Next consumes
// the next step; when the script is exhausted Next returns io.EOF.
type MockSource struct {
	clock timeutil.Clock
	steps []mockStep
	pos   int
	index int64

	// Closed reports whether Close was called.
	Closed bool
}

type mockStep struct {
	err error
}

// NewMockSource returns an empty scripted source.
func NewMockSource(clock timeutil.Clock) *MockSource {
	return &MockSource{clock: clock}
}

// AddFrames queues n successful frame reads.
func (m *MockSource) AddFrames(n int) *MockSource {
	for i := 0; i < n; i++ {
		m.steps = append(m.steps, mockStep{})
	}
	return m
}

// AddError queues a single failing read that returns err.
func (m *MockSource) AddError(err error) *MockSource {
	m.steps = append(m.steps, mockStep{err: err})
	return m
}

// Next returns the next scripted outcome. Successful steps produce a
// small blank frame stamped with the mock clock's current time.
func (m *MockSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if m.pos >= len(m.steps) {
		return Frame{}, io.EOF
	}
	step := m.steps[m.pos]
	m.pos++
	if step.err != nil {
		return Frame{}, step.err
	}
	frame := Frame{
		Image:     gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3),
		Timestamp: m.clock.Now(),
		Index:     m.index,
	}
	m.index++
	return frame, nil
}

// String identifies the source in run records.
func (m *MockSource) String() string { return "mock" }

// Close marks the source closed.
func (m *MockSource) Close() error {
	m.Closed = true
	return nil
}
