package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/timealign/internal/align"
)

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()

	// Test that defaults are set via pointers
	if cfg.Strategy == nil || *cfg.Strategy != "window" {
		t.Errorf("Expected Strategy 'window', got %v", cfg.Strategy)
	}
	if cfg.ToleranceMs == nil || *cfg.ToleranceMs != 50 {
		t.Errorf("Expected ToleranceMs 50, got %v", cfg.ToleranceMs)
	}
	if cfg.EventWindowMs == nil || *cfg.EventWindowMs != 100 {
		t.Errorf("Expected EventWindowMs 100, got %v", cfg.EventWindowMs)
	}
	if cfg.SyncInterval == nil || *cfg.SyncInterval != "100ms" {
		t.Errorf("Expected SyncInterval '100ms', got %v", cfg.SyncInterval)
	}
	if cfg.TickInterval == nil || *cfg.TickInterval != "50ms" {
		t.Errorf("Expected TickInterval '50ms', got %v", cfg.TickInterval)
	}
	if cfg.ImmediateSync == nil || *cfg.ImmediateSync != false {
		t.Errorf("Expected ImmediateSync false, got %v", cfg.ImmediateSync)
	}

	// Test getter methods
	if cfg.GetStrategy() != align.KindWindow {
		t.Errorf("GetStrategy() = %v, want window", cfg.GetStrategy())
	}
	if cfg.GetToleranceMs() != 50 {
		t.Errorf("GetToleranceMs() = %f, want 50", cfg.GetToleranceMs())
	}
	if cfg.GetBufferCapacity() != 100 {
		t.Errorf("GetBufferCapacity() = %d, want 100", cfg.GetBufferCapacity())
	}
	if cfg.GetQualitySmoothing() != 0.2 {
		t.Errorf("GetQualitySmoothing() = %f, want 0.2", cfg.GetQualitySmoothing())
	}
}

func TestLoadTuningConfig(t *testing.T) {
	// Create temporary directory
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	// Write test config with flat schema
	testJSON := `{
  "strategy": "software",
  "tolerance_ms": 30,
  "event_window_ms": 80,
  "event_retention_ms": 30000,
  "buffer_capacity": 64,
  "immediate_sync": true,
  "sync_interval": "250ms",
  "tick_interval": "25ms",
  "quality_change_threshold": 0.05,
  "quality_smoothing": 0.5
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	// Load the config
	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Fields absent from the JSON stay nil; the Get* accessors supply
	// defaults for them.
	want := &TuningConfig{
		Strategy:               ptrString("software"),
		ToleranceMs:            ptrFloat64(30),
		EventWindowMs:          ptrFloat64(80),
		EventRetentionMs:       ptrFloat64(30000),
		BufferCapacity:         ptrInt(64),
		ImmediateSync:          ptrBool(true),
		SyncInterval:           ptrString("250ms"),
		TickInterval:           ptrString("25ms"),
		QualityChangeThreshold: ptrFloat64(0.05),
		QualitySmoothing:       ptrFloat64(0.5),
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("loaded config mismatch (-want +got):\n%s", diff)
	}

	if cfg.GetSyncInterval() != 250*time.Millisecond {
		t.Errorf("GetSyncInterval() = %v, want 250ms", cfg.GetSyncInterval())
	}
	if cfg.GetTickInterval() != 25*time.Millisecond {
		t.Errorf("GetTickInterval() = %v, want 25ms", cfg.GetTickInterval())
	}
}

func TestLoadTuningConfigMissing(t *testing.T) {
	_, err := LoadTuningConfig("/nonexistent/path/to/config.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadTuningConfigInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid_config.json")

	// Write invalid JSON
	invalidJSON := `{
  "tolerance_ms": "invalid"
`
	if err := os.WriteFile(configPath, []byte(invalidJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadTuningConfig(configPath)
	if err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *TuningConfig
		wantField string // empty means valid
	}{
		{
			name: "valid config",
			cfg:  DefaultTuningConfig(),
		},
		{
			name: "empty config is valid",
			cfg:  &TuningConfig{},
		},
		{
			name: "unrecognized strategy",
			cfg: &TuningConfig{
				Strategy: ptrString("fuzzy"),
			},
			wantField: "strategy",
		},
		{
			name: "negative tolerance",
			cfg: &TuningConfig{
				ToleranceMs: ptrFloat64(-5),
			},
			wantField: "tolerance_ms",
		},
		{
			name: "retention shorter than window",
			cfg: &TuningConfig{
				EventWindowMs:    ptrFloat64(100),
				EventRetentionMs: ptrFloat64(50),
			},
			wantField: "event_retention_ms",
		},
		{
			name: "min drift samples below regression minimum",
			cfg: &TuningConfig{
				MinDriftSamples: ptrInt(1),
			},
			wantField: "min_drift_samples",
		},
		{
			name: "zero buffer capacity",
			cfg: &TuningConfig{
				BufferCapacity: ptrInt(0),
			},
			wantField: "buffer_capacity",
		},
		{
			name: "quality change threshold above 1",
			cfg: &TuningConfig{
				QualityChangeThreshold: ptrFloat64(1.5),
			},
			wantField: "quality_change_threshold",
		},
		{
			name: "zero quality smoothing",
			cfg: &TuningConfig{
				QualitySmoothing: ptrFloat64(0),
			},
			wantField: "quality_smoothing",
		},
		{
			name: "invalid sync interval",
			cfg: &TuningConfig{
				SyncInterval: ptrString("invalid"),
			},
			wantField: "sync_interval",
		},
		{
			name: "invalid tick interval",
			cfg: &TuningConfig{
				TickInterval: ptrString("invalid"),
			},
			wantField: "tick_interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			var cfgErr *align.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate() error = %v, want *align.ConfigError", err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("ConfigError.Field = %q, want %q", cfgErr.Field, tt.wantField)
			}
		})
	}
}

func TestGetSyncInterval(t *testing.T) {
	tests := []struct {
		name string
		cfg  *TuningConfig
		want time.Duration
	}{
		{
			name: "250 milliseconds",
			cfg: &TuningConfig{
				SyncInterval: ptrString("250ms"),
			},
			want: 250 * time.Millisecond,
		},
		{
			name: "1 second",
			cfg: &TuningConfig{
				SyncInterval: ptrString("1s"),
			},
			want: 1 * time.Second,
		},
		{
			name: "nil pointer returns default",
			cfg:  &TuningConfig{},
			want: 100 * time.Millisecond,
		},
		{
			name: "empty string returns default",
			cfg: &TuningConfig{
				SyncInterval: ptrString(""),
			},
			want: 100 * time.Millisecond,
		},
		{
			name: "invalid duration returns default",
			cfg: &TuningConfig{
				SyncInterval: ptrString("invalid"),
			},
			want: 100 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.GetSyncInterval()
			if got != tt.want {
				t.Errorf("GetSyncInterval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetTickInterval(t *testing.T) {
	tests := []struct {
		name string
		cfg  *TuningConfig
		want time.Duration
	}{
		{
			name: "20 milliseconds",
			cfg: &TuningConfig{
				TickInterval: ptrString("20ms"),
			},
			want: 20 * time.Millisecond,
		},
		{
			name: "nil pointer returns default",
			cfg:  &TuningConfig{},
			want: 50 * time.Millisecond,
		},
		{
			name: "invalid duration returns default",
			cfg: &TuningConfig{
				TickInterval: ptrString("soon"),
			},
			want: 50 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.GetTickInterval()
			if got != tt.want {
				t.Errorf("GetTickInterval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewStrategy(t *testing.T) {
	kinds := []string{"hardware", "software", "window", "event"}
	for _, kind := range kinds {
		t.Run(kind, func(t *testing.T) {
			cfg := &TuningConfig{Strategy: ptrString(kind)}
			s, err := cfg.NewStrategy()
			if err != nil {
				t.Fatalf("NewStrategy() error: %v", err)
			}
			if got := s.Kind(); got != align.Kind(kind) {
				t.Errorf("Kind() = %v, want %v", got, kind)
			}
		})
	}
}

func TestNewStrategyAppliesTolerance(t *testing.T) {
	cfg := &TuningConfig{
		Strategy:    ptrString("window"),
		ToleranceMs: ptrFloat64(25),
	}
	s, err := cfg.NewStrategy()
	if err != nil {
		t.Fatalf("NewStrategy() error: %v", err)
	}
	w, ok := s.(*align.Window)
	if !ok {
		t.Fatalf("expected *align.Window, got %T", s)
	}
	if w.Tolerance() != 25 {
		t.Errorf("Tolerance() = %f, want 25", w.Tolerance())
	}
}

func TestNewStrategyUnrecognized(t *testing.T) {
	cfg := &TuningConfig{Strategy: ptrString("fuzzy")}
	if _, err := cfg.NewStrategy(); err == nil {
		t.Error("Expected error for unrecognized strategy, got nil")
	}
}

func TestLoadDefaultConfigFile(t *testing.T) {
	cfg, err := LoadTuningConfig("../../config/tuning.defaults.json")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}
	if cfg.GetStrategy() != align.KindWindow {
		t.Errorf("Expected window, got %v", cfg.GetStrategy())
	}
	if cfg.GetToleranceMs() != 50 {
		t.Errorf("Expected 50, got %f", cfg.GetToleranceMs())
	}
	if cfg.GetSyncInterval() != 100*time.Millisecond {
		t.Errorf("Expected 100ms, got %v", cfg.GetSyncInterval())
	}
}

func TestLoadExampleConfigFile(t *testing.T) {
	cfg, err := LoadTuningConfig("../../config/tuning.example.json")
	if err != nil {
		t.Fatalf("Failed to load example: %v", err)
	}
	if cfg.GetStrategy() != align.KindHardware {
		t.Errorf("Expected hardware, got %v", cfg.GetStrategy())
	}
	if cfg.GetDriftHistorySize() != 200 {
		t.Errorf("Expected 200, got %d", cfg.GetDriftHistorySize())
	}
	if cfg.GetImmediateSync() != true {
		t.Errorf("Expected true, got %v", cfg.GetImmediateSync())
	}
}

func TestLoadTuningConfigPartial(t *testing.T) {
	// Partial config: only override tolerance; everything else should keep defaults.
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "partial.json")

	partialJSON := `{
  "tolerance_ms": 20
}`
	if err := os.WriteFile(configPath, []byte(partialJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load partial config: %v", err)
	}

	// Overridden value
	if cfg.GetToleranceMs() != 20 {
		t.Errorf("Expected overridden ToleranceMs 20, got %f", cfg.GetToleranceMs())
	}
	// Default values should be preserved
	if cfg.GetStrategy() != align.KindWindow {
		t.Errorf("Expected default strategy window, got %v", cfg.GetStrategy())
	}
	if cfg.GetSyncInterval() != 100*time.Millisecond {
		t.Errorf("Expected default SyncInterval 100ms, got %v", cfg.GetSyncInterval())
	}
	if cfg.GetBufferCapacity() != 100 {
		t.Errorf("Expected default BufferCapacity 100, got %d", cfg.GetBufferCapacity())
	}
	if cfg.GetEventWindowMs() != 100 {
		t.Errorf("Expected default EventWindowMs 100, got %f", cfg.GetEventWindowMs())
	}
}

func TestLoadTuningConfigRejectsNonJSON(t *testing.T) {
	_, err := LoadTuningConfig("/some/path/config.yaml")
	if err == nil {
		t.Error("Expected error for non-.json extension, got nil")
	}
}

func TestLoadTuningConfigRejectsLargeFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "large.json")

	// Create a file larger than 1MB
	largeData := make([]byte, 2*1024*1024) // 2MB
	if err := os.WriteFile(configPath, largeData, 0644); err != nil {
		t.Fatalf("Failed to write large file: %v", err)
	}

	_, err := LoadTuningConfig(configPath)
	if err == nil {
		t.Error("Expected error for file size > 1MB, got nil")
	}
}
