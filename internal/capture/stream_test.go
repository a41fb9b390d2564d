package capture

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ShaneMarusczak/traffic-analysis/internal/config"
	"github.com/ShaneMarusczak/traffic-analysis/internal/timeutil"
)

// fakeGrabber fails the first failBefore reads, then succeeds forever.
type fakeGrabber struct {
	failBefore int
	reads      int
	closed     bool
}

func (g *fakeGrabber) Read(m *gocv.Mat) bool {
	g.reads++
	if g.reads <= g.failBefore {
		return false
	}
	tmp := gocv.NewMatWithSize(2, 2, gocv.MatTypeCV8UC3)
	tmp.CopyTo(m)
	tmp.Close()
	return true
}

func (g *fakeGrabber) Close() error {
	g.closed = true
	return nil
}

func withFakeGrabber(t *testing.T, g grabber) {
	t.Helper()
	orig := openGrabber
	openGrabber = func(string) (grabber, error) { return g, nil }
	t.Cleanup(func() { openGrabber = orig })
}

func testTuning(t *testing.T, body string) *config.TuningConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.LoadTuningConfig(path)
	require.NoError(t, err)
	return cfg
}

func TestStreamSourceReadsFrames(t *testing.T) {
	withFakeGrabber(t, &fakeGrabber{})
	clock := timeutil.NewMockClock(time.Unix(1000, 0))

	src, err := NewStreamSource("stream", false, config.MustLoadDefaultConfig(), clock)
	require.NoError(t, err)
	defer src.Close()

	for i := int64(0); i < 3; i++ {
		frame, err := src.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i, frame.Index)
		assert.Equal(t, time.Unix(1000, 0), frame.Timestamp)
		frame.Image.Close()
	}
}

func TestStreamSourceBacksOffAndRecovers(t *testing.T) {
	withFakeGrabber(t, &fakeGrabber{failBefore: 3})
	start := time.Unix(1000, 0)
	clock := timeutil.NewMockClock(start)

	src, err := NewStreamSource("stream", false, config.MustLoadDefaultConfig(), clock)
	require.NoError(t, err)
	defer src.Close()

	frame, err := src.Next(context.Background())
	require.NoError(t, err)
	frame.Image.Close()

	// Three failed reads wait 250ms, 500ms and 1s before the retry that
	// succeeds.
	assert.Equal(t, 1750*time.Millisecond, clock.Since(start))
}

func TestStreamSourceFailureBudget(t *testing.T) {
	withFakeGrabber(t, &fakeGrabber{failBefore: 1 << 30})
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	cfg := testTuning(t, `{"capture_max_failures": 4, "reconnect_after_failures": 2}`)

	src, err := NewStreamSource("stream", false, cfg, clock)
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Next(context.Background())
	var capErr *CaptureError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 4, capErr.Failures)
	assert.Equal(t, "stream", capErr.Source)
}

func TestStreamSourceReconnects(t *testing.T) {
	first := &fakeGrabber{failBefore: 1 << 30}
	second := &fakeGrabber{}
	opens := 0
	orig := openGrabber
	openGrabber = func(string) (grabber, error) {
		opens++
		if opens == 1 {
			return first, nil
		}
		return second, nil
	}
	t.Cleanup(func() { openGrabber = orig })

	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	cfg := testTuning(t, `{"capture_max_failures": 10, "reconnect_after_failures": 2}`)

	src, err := NewStreamSource("stream", false, cfg, clock)
	require.NoError(t, err)
	defer src.Close()

	frame, err := src.Next(context.Background())
	require.NoError(t, err)
	frame.Image.Close()

	assert.Equal(t, 2, opens)
	assert.True(t, first.closed)
}

func TestStreamSourceFileEndOfStream(t *testing.T) {
	withFakeGrabber(t, &fakeGrabber{failBefore: 0})
	clock := timeutil.NewMockClock(time.Unix(1000, 0))

	src, err := NewStreamSource("clip.mp4", true, config.MustLoadDefaultConfig(), clock)
	require.NoError(t, err)
	defer src.Close()

	frame, err := src.Next(context.Background())
	require.NoError(t, err)
	frame.Image.Close()

	// Simulate the file running out after one frame.
	src.cap.(*fakeGrabber).failBefore = 1 << 30

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamSourceContextCancelled(t *testing.T) {
	withFakeGrabber(t, &fakeGrabber{})
	clock := timeutil.NewMockClock(time.Unix(1000, 0))

	src, err := NewStreamSource("stream", false, config.MustLoadDefaultConfig(), clock)
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStreamSourceClosed(t *testing.T) {
	withFakeGrabber(t, &fakeGrabber{})
	clock := timeutil.NewMockClock(time.Unix(1000, 0))

	src, err := NewStreamSource("stream", false, config.MustLoadDefaultConfig(), clock)
	require.NoError(t, err)
	require.NoError(t, src.Close())

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestMockSourceScript(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	boom := errors.New("boom")
	src := NewMockSource(clock).AddFrames(2).AddError(boom)

	f0, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), f0.Index)
	f0.Image.Close()

	f1, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), f1.Index)
	f1.Image.Close()

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, boom)

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, src.Close())
	assert.True(t, src.Closed)
}
