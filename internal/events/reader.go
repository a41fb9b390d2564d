package events

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ShaneMarusczak/traffic-analysis/internal/monitoring"
)

// ReadLog parses an event log written by LogWriter. A torn final line,
// as left by a crash mid-append, is skipped with a log message rather
// than failing the whole read. Any other malformed content is an error.
func ReadLog(path string) ([]VehicleEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("events: open log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("events: read log: %w", err)
		}
		return nil, fmt.Errorf("events: %s: missing header", path)
	}
	if got := scanner.Text(); got != strings.Join(logHeader, ",") {
		return nil, fmt.Errorf("events: %s: unexpected header %q", path, got)
	}

	var out []VehicleEvent
	line := 1
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if text == "" {
			continue
		}
		ev, err := unmarshalEvent(strings.Split(text, ","))
		if err != nil {
			if scanner.Scan() {
				return nil, fmt.Errorf("events: %s line %d: %w", path, line, err)
			}
			// Torn last line from an interrupted append.
			monitoring.Logf("events: dropping torn final line in %s: %v", path, err)
			return out, nil
		}
		out = append(out, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("events: read log: %w", err)
	}
	return out, nil
}

func unmarshalEvent(fields []string) (VehicleEvent, error) {
	if len(fields) != len(logHeader) {
		return VehicleEvent{}, fmt.Errorf("got %d fields, want %d", len(fields), len(logHeader))
	}

	var ev VehicleEvent
	var err error
	if ev.VehicleNumber, err = strconv.Atoi(fields[0]); err != nil {
		return VehicleEvent{}, fmt.Errorf("vehicle_number: %w", err)
	}
	if ev.TrackID, err = strconv.ParseInt(fields[1], 10, 64); err != nil {
		return VehicleEvent{}, fmt.Errorf("track_id: %w", err)
	}
	ev.Direction = Direction(fields[2])
	if ev.SpeedRaw, err = strconv.ParseFloat(fields[3], 64); err != nil {
		return VehicleEvent{}, fmt.Errorf("speed_raw: %w", err)
	}
	if ev.SpeedNormalized, err = strconv.ParseFloat(fields[4], 64); err != nil {
		return VehicleEvent{}, fmt.Errorf("speed_normalized: %w", err)
	}
	if ev.DistancePx, err = strconv.ParseFloat(fields[5], 64); err != nil {
		return VehicleEvent{}, fmt.Errorf("distance_px: %w", err)
	}
	if ev.ElapsedSeconds, err = strconv.ParseFloat(fields[6], 64); err != nil {
		return VehicleEvent{}, fmt.Errorf("elapsed_s: %w", err)
	}
	if ev.Samples, err = strconv.Atoi(fields[7]); err != nil {
		return VehicleEvent{}, fmt.Errorf("samples: %w", err)
	}
	if ev.EntryUnixNanos, err = strconv.ParseInt(fields[8], 10, 64); err != nil {
		return VehicleEvent{}, fmt.Errorf("entry_unix_ns: %w", err)
	}
	if ev.ExitUnixNanos, err = strconv.ParseInt(fields[9], 10, 64); err != nil {
		return VehicleEvent{}, fmt.Errorf("exit_unix_ns: %w", err)
	}
	return ev, nil
}
