package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// Thresholds here (confirmation counts, staleness budgets, gate distances,
// bin percentiles) are tuned empirically per camera mount and angle, so they
// are configuration inputs rather than constants in the pipeline code.
// Fields omitted from the JSON file retain their default values, so partial
// configs are safe.
type TuningConfig struct {
	// Detection params
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	NMSThreshold        *float64 `json:"nms_threshold,omitempty"`
	ModelInputSize      *int     `json:"model_input_size,omitempty"`
	VehicleClasses      []string `json:"vehicle_classes,omitempty"`

	// Tracker params
	HitsToConfirm      *int     `json:"hits_to_confirm,omitempty"`
	MaxMisses          *int     `json:"max_misses,omitempty"`
	MaxMatchDistancePx *float64 `json:"max_match_distance_px,omitempty"`
	OverlapCredit      *float64 `json:"overlap_credit,omitempty"`
	VelocitySmoothing  *float64 `json:"velocity_smoothing,omitempty"`
	MaxTracks          *int     `json:"max_tracks,omitempty"`

	// Estimator params
	MinEventSamples     *int     `json:"min_event_samples,omitempty"`
	DirectionEpsilonPx  *float64 `json:"direction_epsilon_px,omitempty"`
	RTLCorrectionFactor *float64 `json:"rtl_correction_factor,omitempty"`

	// Capture params
	CaptureBackoff         *string `json:"capture_backoff,omitempty"`     // duration string like "250ms"
	CaptureBackoffMax      *string `json:"capture_backoff_max,omitempty"` // duration string like "5s"
	CaptureMaxFailures     *int    `json:"capture_max_failures,omitempty"`
	ReconnectAfterFailures *int    `json:"reconnect_after_failures,omitempty"`

	// Pipeline params
	TargetFrameRate *float64 `json:"target_frame_rate,omitempty"`
	FPSLogInterval  *int     `json:"fps_log_interval,omitempty"`

	// Report params
	NormalRangeBins       *int     `json:"normal_range_bins,omitempty"`
	PercentileLow         *float64 `json:"percentile_low,omitempty"`
	PercentileHigh        *float64 `json:"percentile_high,omitempty"`
	ClusteringThreshold   *float64 `json:"clustering_threshold,omitempty"`
	DirectionalDifference *float64 `json:"directional_difference,omitempty"`
	MinReportVehicles     *int     `json:"min_report_vehicles,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/<pkg>/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.ConfidenceThreshold != nil {
		if *c.ConfidenceThreshold < 0 || *c.ConfidenceThreshold > 1 {
			return fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", *c.ConfidenceThreshold)
		}
	}

	if c.NMSThreshold != nil {
		if *c.NMSThreshold < 0 || *c.NMSThreshold > 1 {
			return fmt.Errorf("nms_threshold must be between 0 and 1, got %f", *c.NMSThreshold)
		}
	}

	if c.HitsToConfirm != nil && *c.HitsToConfirm < 1 {
		return fmt.Errorf("hits_to_confirm must be at least 1, got %d", *c.HitsToConfirm)
	}

	if c.MaxMisses != nil && *c.MaxMisses < 1 {
		return fmt.Errorf("max_misses must be at least 1, got %d", *c.MaxMisses)
	}

	if c.MaxMatchDistancePx != nil && *c.MaxMatchDistancePx <= 0 {
		return fmt.Errorf("max_match_distance_px must be positive, got %f", *c.MaxMatchDistancePx)
	}

	if c.MinEventSamples != nil && *c.MinEventSamples < 2 {
		return fmt.Errorf("min_event_samples must be at least 2, got %d", *c.MinEventSamples)
	}

	if c.CaptureBackoff != nil && *c.CaptureBackoff != "" {
		if _, err := time.ParseDuration(*c.CaptureBackoff); err != nil {
			return fmt.Errorf("invalid capture_backoff '%s': %w", *c.CaptureBackoff, err)
		}
	}

	if c.CaptureBackoffMax != nil && *c.CaptureBackoffMax != "" {
		if _, err := time.ParseDuration(*c.CaptureBackoffMax); err != nil {
			return fmt.Errorf("invalid capture_backoff_max '%s': %w", *c.CaptureBackoffMax, err)
		}
	}

	if c.CaptureMaxFailures != nil && *c.CaptureMaxFailures < 1 {
		return fmt.Errorf("capture_max_failures must be at least 1, got %d", *c.CaptureMaxFailures)
	}

	if c.ReconnectAfterFailures != nil && *c.ReconnectAfterFailures < 1 {
		return fmt.Errorf("reconnect_after_failures must be at least 1, got %d", *c.ReconnectAfterFailures)
	}

	if c.PercentileLow != nil && (*c.PercentileLow < 0 || *c.PercentileLow > 50) {
		return fmt.Errorf("percentile_low must be between 0 and 50, got %f", *c.PercentileLow)
	}

	if c.PercentileHigh != nil && (*c.PercentileHigh < 50 || *c.PercentileHigh > 100) {
		return fmt.Errorf("percentile_high must be between 50 and 100, got %f", *c.PercentileHigh)
	}

	if c.NormalRangeBins != nil && *c.NormalRangeBins < 1 {
		return fmt.Errorf("normal_range_bins must be at least 1, got %d", *c.NormalRangeBins)
	}

	return nil
}

// GetConfidenceThreshold returns the confidence_threshold value or the default.
func (c *TuningConfig) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.25
	}
	return *c.ConfidenceThreshold
}

// GetNMSThreshold returns the nms_threshold value or the default.
func (c *TuningConfig) GetNMSThreshold() float64 {
	if c.NMSThreshold == nil {
		return 0.45
	}
	return *c.NMSThreshold
}

// GetModelInputSize returns the model_input_size value or the default.
func (c *TuningConfig) GetModelInputSize() int {
	if c.ModelInputSize == nil {
		return 640
	}
	return *c.ModelInputSize
}

// GetVehicleClasses returns the vehicle_classes value or the default.
// Defaults match the COCO vehicle classes the detection model reports.
func (c *TuningConfig) GetVehicleClasses() []string {
	if len(c.VehicleClasses) == 0 {
		return []string{"car", "motorcycle", "bus", "truck"}
	}
	return c.VehicleClasses
}

// GetHitsToConfirm returns the hits_to_confirm value or the default.
func (c *TuningConfig) GetHitsToConfirm() int {
	if c.HitsToConfirm == nil {
		return 3
	}
	return *c.HitsToConfirm
}

// GetMaxMisses returns the max_misses value or the default.
func (c *TuningConfig) GetMaxMisses() int {
	if c.MaxMisses == nil {
		return 5
	}
	return *c.MaxMisses
}

// GetMaxMatchDistancePx returns the max_match_distance_px value or the default.
func (c *TuningConfig) GetMaxMatchDistancePx() float64 {
	if c.MaxMatchDistancePx == nil {
		return 80.0
	}
	return *c.MaxMatchDistancePx
}

// GetOverlapCredit returns the overlap_credit value or the default.
func (c *TuningConfig) GetOverlapCredit() float64 {
	if c.OverlapCredit == nil {
		return 0.5
	}
	return *c.OverlapCredit
}

// GetVelocitySmoothing returns the velocity_smoothing value or the default.
func (c *TuningConfig) GetVelocitySmoothing() float64 {
	if c.VelocitySmoothing == nil {
		return 0.5
	}
	return *c.VelocitySmoothing
}

// GetMaxTracks returns the max_tracks value or the default.
func (c *TuningConfig) GetMaxTracks() int {
	if c.MaxTracks == nil {
		return 64
	}
	return *c.MaxTracks
}

// GetMinEventSamples returns the min_event_samples value or the default.
func (c *TuningConfig) GetMinEventSamples() int {
	if c.MinEventSamples == nil {
		return 5
	}
	return *c.MinEventSamples
}

// GetDirectionEpsilonPx returns the direction_epsilon_px value or the default.
func (c *TuningConfig) GetDirectionEpsilonPx() float64 {
	if c.DirectionEpsilonPx == nil {
		return 4.0
	}
	return *c.DirectionEpsilonPx
}

// GetRTLCorrectionFactor returns the rtl_correction_factor value or the default.
func (c *TuningConfig) GetRTLCorrectionFactor() float64 {
	if c.RTLCorrectionFactor == nil {
		return 1.15
	}
	return *c.RTLCorrectionFactor
}

// GetCaptureBackoff parses and returns the CaptureBackoff as a time.Duration.
func (c *TuningConfig) GetCaptureBackoff() time.Duration {
	if c.CaptureBackoff == nil || *c.CaptureBackoff == "" {
		return 250 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.CaptureBackoff)
	if err != nil {
		return 250 * time.Millisecond
	}
	return d
}

// GetCaptureBackoffMax parses and returns the CaptureBackoffMax as a time.Duration.
func (c *TuningConfig) GetCaptureBackoffMax() time.Duration {
	if c.CaptureBackoffMax == nil || *c.CaptureBackoffMax == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(*c.CaptureBackoffMax)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetCaptureMaxFailures returns the capture_max_failures value or the default.
func (c *TuningConfig) GetCaptureMaxFailures() int {
	if c.CaptureMaxFailures == nil {
		return 30
	}
	return *c.CaptureMaxFailures
}

// GetReconnectAfterFailures returns the reconnect_after_failures value or the default.
func (c *TuningConfig) GetReconnectAfterFailures() int {
	if c.ReconnectAfterFailures == nil {
		return 10
	}
	return *c.ReconnectAfterFailures
}

// GetTargetFrameRate returns the target_frame_rate value or the default.
func (c *TuningConfig) GetTargetFrameRate() float64 {
	if c.TargetFrameRate == nil {
		return 40.0
	}
	return *c.TargetFrameRate
}

// GetFPSLogInterval returns the fps_log_interval value or the default.
func (c *TuningConfig) GetFPSLogInterval() int {
	if c.FPSLogInterval == nil {
		return 100
	}
	return *c.FPSLogInterval
}

// GetNormalRangeBins returns the normal_range_bins value or the default.
func (c *TuningConfig) GetNormalRangeBins() int {
	if c.NormalRangeBins == nil {
		return 4
	}
	return *c.NormalRangeBins
}

// GetPercentileLow returns the percentile_low value or the default.
func (c *TuningConfig) GetPercentileLow() float64 {
	if c.PercentileLow == nil {
		return 5.0
	}
	return *c.PercentileLow
}

// GetPercentileHigh returns the percentile_high value or the default.
func (c *TuningConfig) GetPercentileHigh() float64 {
	if c.PercentileHigh == nil {
		return 95.0
	}
	return *c.PercentileHigh
}

// GetClusteringThreshold returns the clustering_threshold value or the default.
func (c *TuningConfig) GetClusteringThreshold() float64 {
	if c.ClusteringThreshold == nil {
		return 70.0
	}
	return *c.ClusteringThreshold
}

// GetDirectionalDifference returns the directional_difference value or the default.
func (c *TuningConfig) GetDirectionalDifference() float64 {
	if c.DirectionalDifference == nil {
		return 15.0
	}
	return *c.DirectionalDifference
}

// GetMinReportVehicles returns the min_report_vehicles value or the default.
func (c *TuningConfig) GetMinReportVehicles() int {
	if c.MinReportVehicles == nil {
		return 4
	}
	return *c.MinReportVehicles
}
