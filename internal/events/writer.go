package events

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// logHeader is the first line of every event log.
var logHeader = []string{
	"vehicle_number", "track_id", "direction",
	"speed_raw", "speed_normalized",
	"distance_px", "elapsed_s", "samples",
	"entry_unix_ns", "exit_unix_ns",
}

// LogFileName returns the event log name for a run started at t, e.g.
// traffic_data_20260831_142500.csv.
func LogFileName(t time.Time) string {
	return fmt.Sprintf("traffic_data_%s.csv", t.Format("20060102_150405"))
}

// LogWriter appends vehicle events to a CSV log. Every Append flushes
// and fsyncs before returning, so a crash loses at most the event being
// written. LogWriter is not safe for concurrent use; the pipeline owns
// it and appends serially.
type LogWriter struct {
	path string
	f    *os.File
	w    *csv.Writer
	next int
}

// NewLogWriter creates the log file in dir, named after the run start
// time, and writes the header. The header write is durable before
// NewLogWriter returns.
func NewLogWriter(dir string, start time.Time) (*LogWriter, error) {
	path := filepath.Join(dir, LogFileName(start))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("events: create log: %w", err)
	}

	w := &LogWriter{path: path, f: f, w: csv.NewWriter(f), next: 1}
	if err := w.writeRecord(logHeader); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return w, nil
}

// Path returns the log file's path.
func (w *LogWriter) Path() string { return w.path }

// Append assigns ev the next vehicle number, writes it, and makes the
// write durable. On error the event is not considered recorded.
func (w *LogWriter) Append(ev *VehicleEvent) error {
	ev.VehicleNumber = w.next
	if err := w.writeRecord(marshalEvent(ev)); err != nil {
		return err
	}
	w.next++
	return nil
}

func (w *LogWriter) writeRecord(rec []string) error {
	if err := w.w.Write(rec); err != nil {
		return fmt.Errorf("events: write log: %w", err)
	}
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		return fmt.Errorf("events: flush log: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("events: sync log: %w", err)
	}
	return nil
}

// Count returns the number of events appended so far.
func (w *LogWriter) Count() int { return w.next - 1 }

// Close closes the underlying file. Appended events are already durable,
// so Close after a failed Append is safe.
func (w *LogWriter) Close() error {
	return w.f.Close()
}

func marshalEvent(ev *VehicleEvent) []string {
	return []string{
		strconv.Itoa(ev.VehicleNumber),
		strconv.FormatInt(ev.TrackID, 10),
		string(ev.Direction),
		formatFloat(ev.SpeedRaw),
		formatFloat(ev.SpeedNormalized),
		formatFloat(ev.DistancePx),
		formatFloat(ev.ElapsedSeconds),
		strconv.Itoa(ev.Samples),
		strconv.FormatInt(ev.EntryUnixNanos, 10),
		strconv.FormatInt(ev.ExitUnixNanos, 10),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
