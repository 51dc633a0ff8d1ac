package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/timealign/internal/align"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default alignment values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for alignment tuning
// parameters. The schema matches the /api/align/params endpoint so the
// same JSON can be used for both startup configuration and runtime
// inspection.
type TuningConfig struct {
	// Strategy params
	Strategy         *string  `json:"strategy,omitempty"` // hardware, software, window or event
	ToleranceMs      *float64 `json:"tolerance_ms,omitempty"`
	EventWindowMs    *float64 `json:"event_window_ms,omitempty"`
	EventRetentionMs *float64 `json:"event_retention_ms,omitempty"`
	DriftHistorySize *int     `json:"drift_history_size,omitempty"`
	MinDriftSamples  *int     `json:"min_drift_samples,omitempty"`
	QualityWindow    *int     `json:"quality_window,omitempty"`

	// Engine params
	BufferCapacity         *int     `json:"buffer_capacity,omitempty"`
	ImmediateSync          *bool    `json:"immediate_sync,omitempty"`
	SyncInterval           *string  `json:"sync_interval,omitempty"` // duration string like "100ms"
	FrameHistorySize       *int     `json:"frame_history_size,omitempty"`
	QualityChangeThreshold *float64 `json:"quality_change_threshold,omitempty"`
	QualitySmoothing       *float64 `json:"quality_smoothing,omitempty"`

	// Coordinator params
	TickInterval  *string `json:"tick_interval,omitempty"` // duration string like "50ms"
	StopProducers *bool   `json:"stop_producers,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// with its package default. Useful for development mode and for writing
// a complete config file to disk.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		Strategy:               ptrString(string(align.KindWindow)),
		ToleranceMs:            ptrFloat64(align.DefaultTolerance),
		EventWindowMs:          ptrFloat64(align.DefaultEventWindow),
		EventRetentionMs:       ptrFloat64(align.DefaultEventRetention),
		DriftHistorySize:       ptrInt(align.DefaultHistorySize),
		MinDriftSamples:        ptrInt(align.DefaultMinDriftSamples),
		QualityWindow:          ptrInt(align.DefaultQualityWindow),
		BufferCapacity:         ptrInt(align.DefaultBufferCapacity),
		ImmediateSync:          ptrBool(false),
		SyncInterval:           ptrString(align.DefaultSyncInterval.String()),
		FrameHistorySize:       ptrInt(align.DefaultHistorySize),
		QualityChangeThreshold: ptrFloat64(align.DefaultQualityChangeThreshold),
		QualitySmoothing:       ptrFloat64(align.DefaultQualitySmoothing),
		TickInterval:           ptrString(align.DefaultTickInterval.String()),
		StopProducers:          ptrBool(false),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
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

	// Validate the configuration
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
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/align/
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. Failures are
// reported as align.ConfigError naming the offending field.
func (c *TuningConfig) Validate() error {
	// Validate Strategy if set
	if c.Strategy != nil && *c.Strategy != "" {
		switch align.Kind(*c.Strategy) {
		case align.KindHardware, align.KindSoftware, align.KindWindow, align.KindEvent:
		default:
			return &align.ConfigError{Field: "strategy", Reason: fmt.Sprintf("unrecognized kind %q", *c.Strategy)}
		}
	}

	// Validate ToleranceMs if set
	if c.ToleranceMs != nil {
		if *c.ToleranceMs <= 0 {
			return &align.ConfigError{Field: "tolerance_ms", Reason: fmt.Sprintf("must be positive, got %f", *c.ToleranceMs)}
		}
	}

	// Validate event window and retention if set
	if c.EventWindowMs != nil {
		if *c.EventWindowMs <= 0 {
			return &align.ConfigError{Field: "event_window_ms", Reason: fmt.Sprintf("must be positive, got %f", *c.EventWindowMs)}
		}
	}
	if c.EventRetentionMs != nil {
		if *c.EventRetentionMs <= 0 {
			return &align.ConfigError{Field: "event_retention_ms", Reason: fmt.Sprintf("must be positive, got %f", *c.EventRetentionMs)}
		}
	}
	if c.EventWindowMs != nil && c.EventRetentionMs != nil {
		if *c.EventRetentionMs < *c.EventWindowMs {
			return &align.ConfigError{Field: "event_retention_ms", Reason: fmt.Sprintf("%f shorter than event_window_ms %f", *c.EventRetentionMs, *c.EventWindowMs)}
		}
	}

	// Validate history sizes and sample counts if set
	if c.DriftHistorySize != nil {
		if *c.DriftHistorySize < 1 {
			return &align.ConfigError{Field: "drift_history_size", Reason: fmt.Sprintf("must be at least 1, got %d", *c.DriftHistorySize)}
		}
	}
	if c.MinDriftSamples != nil {
		if *c.MinDriftSamples < 2 {
			return &align.ConfigError{Field: "min_drift_samples", Reason: fmt.Sprintf("must be at least 2, got %d", *c.MinDriftSamples)}
		}
	}
	if c.QualityWindow != nil {
		if *c.QualityWindow < 1 {
			return &align.ConfigError{Field: "quality_window", Reason: fmt.Sprintf("must be at least 1, got %d", *c.QualityWindow)}
		}
	}
	if c.BufferCapacity != nil {
		if *c.BufferCapacity < 1 {
			return &align.ConfigError{Field: "buffer_capacity", Reason: fmt.Sprintf("must be at least 1, got %d", *c.BufferCapacity)}
		}
	}
	if c.FrameHistorySize != nil {
		if *c.FrameHistorySize < 1 {
			return &align.ConfigError{Field: "frame_history_size", Reason: fmt.Sprintf("must be at least 1, got %d", *c.FrameHistorySize)}
		}
	}

	// Validate quality tracking parameters if set
	if c.QualityChangeThreshold != nil {
		if *c.QualityChangeThreshold < 0 || *c.QualityChangeThreshold > 1 {
			return &align.ConfigError{Field: "quality_change_threshold", Reason: fmt.Sprintf("must be between 0 and 1, got %f", *c.QualityChangeThreshold)}
		}
	}
	if c.QualitySmoothing != nil {
		if *c.QualitySmoothing <= 0 || *c.QualitySmoothing > 1 {
			return &align.ConfigError{Field: "quality_smoothing", Reason: fmt.Sprintf("must be between 0 and 1, got %f", *c.QualitySmoothing)}
		}
	}

	// Validate SyncInterval can be parsed if set
	if c.SyncInterval != nil && *c.SyncInterval != "" {
		if _, err := time.ParseDuration(*c.SyncInterval); err != nil {
			return &align.ConfigError{Field: "sync_interval", Reason: err.Error()}
		}
	}

	// Validate TickInterval can be parsed if set
	if c.TickInterval != nil && *c.TickInterval != "" {
		if _, err := time.ParseDuration(*c.TickInterval); err != nil {
			return &align.ConfigError{Field: "tick_interval", Reason: err.Error()}
		}
	}

	return nil
}

// NewStrategy constructs the alignment strategy selected by the config,
// applying the tuning overrides for that strategy kind.
func (c *TuningConfig) NewStrategy() (align.Strategy, error) {
	switch kind := c.GetStrategy(); kind {
	case align.KindHardware:
		return align.NewHardware(align.HardwareOptions{
			HistorySize:     c.GetDriftHistorySize(),
			MinDriftSamples: c.GetMinDriftSamples(),
		})
	case align.KindSoftware:
		return align.NewSoftware(align.SoftwareOptions{
			HistorySize:   c.GetDriftHistorySize(),
			QualityWindow: c.GetQualityWindow(),
		})
	case align.KindWindow:
		return align.NewWindow(align.WindowOptions{
			Tolerance:   c.GetToleranceMs(),
			HistorySize: c.GetFrameHistorySize(),
		})
	case align.KindEvent:
		return align.NewEvent(align.EventOptions{
			Window:    c.GetEventWindowMs(),
			Retention: c.GetEventRetentionMs(),
		})
	default:
		return nil, &align.ConfigError{Field: "strategy", Reason: fmt.Sprintf("unrecognized kind %q", kind)}
	}
}

// GetStrategy returns the configured strategy kind or the default.
func (c *TuningConfig) GetStrategy() align.Kind {
	if c.Strategy == nil || *c.Strategy == "" {
		return align.KindWindow // default
	}
	return align.Kind(*c.Strategy)
}

// GetToleranceMs returns the tolerance_ms value or the default.
func (c *TuningConfig) GetToleranceMs() float64 {
	if c.ToleranceMs == nil {
		return align.DefaultTolerance
	}
	return *c.ToleranceMs
}

// GetEventWindowMs returns the event_window_ms value or the default.
func (c *TuningConfig) GetEventWindowMs() float64 {
	if c.EventWindowMs == nil {
		return align.DefaultEventWindow
	}
	return *c.EventWindowMs
}

// GetEventRetentionMs returns the event_retention_ms value or the default.
func (c *TuningConfig) GetEventRetentionMs() float64 {
	if c.EventRetentionMs == nil {
		return align.DefaultEventRetention
	}
	return *c.EventRetentionMs
}

// GetDriftHistorySize returns the drift_history_size value or the default.
func (c *TuningConfig) GetDriftHistorySize() int {
	if c.DriftHistorySize == nil {
		return align.DefaultHistorySize
	}
	return *c.DriftHistorySize
}

// GetMinDriftSamples returns the min_drift_samples value or the default.
func (c *TuningConfig) GetMinDriftSamples() int {
	if c.MinDriftSamples == nil {
		return align.DefaultMinDriftSamples
	}
	return *c.MinDriftSamples
}

// GetQualityWindow returns the quality_window value or the default.
func (c *TuningConfig) GetQualityWindow() int {
	if c.QualityWindow == nil {
		return align.DefaultQualityWindow
	}
	return *c.QualityWindow
}

// GetBufferCapacity returns the buffer_capacity value or the default.
func (c *TuningConfig) GetBufferCapacity() int {
	if c.BufferCapacity == nil {
		return align.DefaultBufferCapacity
	}
	return *c.BufferCapacity
}

// GetImmediateSync returns the immediate_sync value or the default.
func (c *TuningConfig) GetImmediateSync() bool {
	if c.ImmediateSync == nil {
		return false // default: align on pass ticks only
	}
	return *c.ImmediateSync
}

// GetSyncInterval parses and returns the SyncInterval as a time.Duration.
func (c *TuningConfig) GetSyncInterval() time.Duration {
	if c.SyncInterval == nil || *c.SyncInterval == "" {
		return align.DefaultSyncInterval
	}
	d, err := time.ParseDuration(*c.SyncInterval)
	if err != nil {
		return align.DefaultSyncInterval // default on parse error
	}
	return d
}

// GetFrameHistorySize returns the frame_history_size value or the default.
func (c *TuningConfig) GetFrameHistorySize() int {
	if c.FrameHistorySize == nil {
		return align.DefaultHistorySize
	}
	return *c.FrameHistorySize
}

// GetQualityChangeThreshold returns the quality_change_threshold value or the default.
func (c *TuningConfig) GetQualityChangeThreshold() float64 {
	if c.QualityChangeThreshold == nil {
		return align.DefaultQualityChangeThreshold
	}
	return *c.QualityChangeThreshold
}

// GetQualitySmoothing returns the quality_smoothing value or the default.
func (c *TuningConfig) GetQualitySmoothing() float64 {
	if c.QualitySmoothing == nil {
		return align.DefaultQualitySmoothing
	}
	return *c.QualitySmoothing
}

// GetTickInterval parses and returns the TickInterval as a time.Duration.
func (c *TuningConfig) GetTickInterval() time.Duration {
	if c.TickInterval == nil || *c.TickInterval == "" {
		return align.DefaultTickInterval
	}
	d, err := time.ParseDuration(*c.TickInterval)
	if err != nil {
		return align.DefaultTickInterval // default on parse error
	}
	return d
}

// GetStopProducers returns the stop_producers value or the default.
func (c *TuningConfig) GetStopProducers() bool {
	if c.StopProducers == nil {
		return false // default: producer lifecycle stays with the caller
	}
	return *c.StopProducers
}
