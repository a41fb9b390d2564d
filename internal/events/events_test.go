package events

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent(trackID int64) VehicleEvent {
	return VehicleEvent{
		TrackID:         trackID,
		Direction:       DirectionLTR,
		SpeedRaw:        12.5,
		SpeedNormalized: 12.5,
		DistancePx:      250,
		ElapsedSeconds:  20,
		Samples:         9,
		EntryUnixNanos:  1_000_000_000,
		ExitUnixNanos:   21_000_000_000,
	}
}

func TestLogFileName(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 8, 31, 14, 25, 0, 0, time.UTC)
	assert.Equal(t, "traffic_data_20260831_142500.csv", LogFileName(start))
}

func TestLogRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := NewLogWriter(dir, time.Date(2026, 8, 31, 14, 25, 0, 0, time.UTC))
	require.NoError(t, err)

	want := make([]VehicleEvent, 0, 3)
	for i := int64(1); i <= 3; i++ {
		ev := sampleEvent(i)
		require.NoError(t, w.Append(&ev))
		want = append(want, ev)
	}
	assert.Equal(t, 3, w.Count())
	require.NoError(t, w.Close())

	// Vehicle numbers are assigned in append order.
	assert.Equal(t, 1, want[0].VehicleNumber)
	assert.Equal(t, 3, want[2].VehicleNumber)

	got, err := ReadLog(w.Path())
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestEmptyLogReadsAsNoEvents(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := NewLogWriter(dir, time.Now())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	got, err := ReadLog(w.Path())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadLogTolerantOfTornFinalLine(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := NewLogWriter(dir, time.Now())
	require.NoError(t, err)
	ev := sampleEvent(7)
	require.NoError(t, w.Append(&ev))
	require.NoError(t, w.Close())

	// Simulate a crash mid-append of a second event.
	f, err := os.OpenFile(w.Path(), os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("2,8,ltr,14.")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := ReadLog(w.Path())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(7), got[0].TrackID)
}

func TestReadLogRejectsCorruptInterior(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := NewLogWriter(dir, time.Now())
	require.NoError(t, err)
	ev := sampleEvent(7)
	require.NoError(t, w.Append(&ev))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(w.Path())
	require.NoError(t, err)
	corrupted := strings.Replace(string(data), "1,7,ltr", "x,7,ltr", 1)
	require.NoError(t, os.WriteFile(w.Path(), []byte(corrupted+"2,8,ltr,1.0,1.0,1.0,1.0,2,0,0\n"), 0o644))

	_, err = ReadLog(w.Path())
	assert.Error(t, err)
}

func TestReadLogRejectsBadHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bogus.csv")
	require.NoError(t, os.WriteFile(path, []byte("not,a,log\n"), 0o644))

	_, err := ReadLog(path)
	assert.Error(t, err)
}

func TestNewLogWriterRefusesExistingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	start := time.Date(2026, 8, 31, 14, 25, 0, 0, time.UTC)
	w, err := NewLogWriter(dir, start)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = NewLogWriter(dir, start)
	assert.Error(t, err)
}
