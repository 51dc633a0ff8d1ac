package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/timealign/internal/align"
	"github.com/banshee-data/timealign/internal/security"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// DriftPlotter records per-pass alignment results for visualization.
// It samples each composite frame delivered by the engine, accumulating
// per-stream time series that can be plotted after a run.
type DriftPlotter struct {
	mu        sync.Mutex
	enabled   bool
	outputDir string

	// samples holds per-stream time series, keyed by stream ID.
	samples map[string][]DriftSample

	// passes holds the per-pass aggregates backing the quality plot.
	passes []PassPoint

	// startTime is the timestamp of the first sample, used for labeling
	startTime time.Time
	passIdx   int
}

// DriftSample is one stream's alignment outcome in one pass.
type DriftSample struct {
	PassIdx    int
	Timestamp  time.Time
	Target     float64
	Offset     float64
	Confidence float64
	Drift      float64
}

// PassPoint is one pass's aggregate outcome.
type PassPoint struct {
	PassIdx int
	Target  float64
	Quality float64
}

// NewDriftPlotter creates an idle plotter. Call Start to begin recording.
func NewDriftPlotter() *DriftPlotter {
	return &DriftPlotter{
		samples: make(map[string][]DriftSample),
	}
}

// Start initializes the plotter for a new run.
// outputDir should be a timestamped directory (e.g., "plots/20260825_093000").
// The directory can come from an HTTP request, so it is validated
// before anything is created.
func (dp *DriftPlotter) Start(outputDir string) error {
	dp.mu.Lock()
	defer dp.mu.Unlock()

	if err := security.ValidateExportPath(outputDir); err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	dp.outputDir = outputDir
	dp.enabled = true
	dp.startTime = time.Time{}
	dp.passIdx = 0
	dp.samples = make(map[string][]DriftSample)
	dp.passes = nil
	return nil
}

// Stop disables sampling. Call GeneratePlots() to produce output files.
func (dp *DriftPlotter) Stop() {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.enabled = false
}

// IsEnabled returns true if the plotter is currently recording.
func (dp *DriftPlotter) IsEnabled() bool {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	return dp.enabled
}

// Sample captures one composite frame. Wire this to the engine's OnSync
// subscription; it is a no-op until Start has been called.
func (dp *DriftPlotter) Sample(frame align.Frame) {
	dp.mu.Lock()
	defer dp.mu.Unlock()

	if !dp.enabled {
		return
	}

	now := time.Now()
	if dp.startTime.IsZero() {
		dp.startTime = now
	}
	dp.passIdx++

	dp.passes = append(dp.passes, PassPoint{
		PassIdx: dp.passIdx,
		Target:  frame.Target,
		Quality: frame.Metrics.Quality,
	})

	for id, res := range frame.Results {
		dp.samples[id] = append(dp.samples[id], DriftSample{
			PassIdx:    dp.passIdx,
			Timestamp:  now,
			Target:     frame.Target,
			Offset:     res.Offset,
			Confidence: res.Confidence,
			Drift:      res.Drift,
		})
	}
}

// GeneratePlots creates PNG files from the captured passes: per-stream
// offset and confidence series, modeled drift where a strategy reports
// one, and the aggregate quality curve.
// Returns the number of plots generated and any error.
func (dp *DriftPlotter) GeneratePlots() (int, error) {
	dp.mu.Lock()
	defer dp.mu.Unlock()

	if dp.outputDir == "" {
		return 0, fmt.Errorf("no output directory configured")
	}
	if len(dp.passes) == 0 {
		return 0, nil
	}

	// Sort stream IDs for a consistent legend
	var streamIDs []string
	for id := range dp.samples {
		streamIDs = append(streamIDs, id)
	}
	sort.Strings(streamIDs)

	colors := generateColors(len(streamIDs))

	pOff := plot.New()
	pOff.Title.Text = "Stream Offset From Reference"
	pOff.X.Label.Text = "Pass"
	pOff.Y.Label.Text = "Offset (ms)"

	pConf := plot.New()
	pConf.Title.Text = "Stream Alignment Confidence"
	pConf.X.Label.Text = "Pass"
	pConf.Y.Label.Text = "Confidence"

	pDrift := plot.New()
	pDrift.Title.Text = "Modeled Clock Drift"
	pDrift.X.Label.Text = "Pass"
	pDrift.Y.Label.Text = "Drift (ms/ms)"

	haveDrift := false
	for i, id := range streamIDs {
		samples := dp.samples[id]
		if len(samples) == 0 {
			continue
		}

		offPts := make(plotter.XYs, 0, len(samples))
		confPts := make(plotter.XYs, 0, len(samples))
		driftPts := make(plotter.XYs, 0, len(samples))
		for _, s := range samples {
			offPts = append(offPts, plotter.XY{X: float64(s.PassIdx), Y: s.Offset})
			confPts = append(confPts, plotter.XY{X: float64(s.PassIdx), Y: s.Confidence})
			// Zero drift means the strategy models none; keep the
			// series to passes where an estimate exists.
			if s.Drift != 0 {
				driftPts = append(driftPts, plotter.XY{X: float64(s.PassIdx), Y: s.Drift})
			}
		}

		offLine, err := plotter.NewLine(offPts)
		if err != nil {
			return 0, err
		}
		offLine.Color = colors[i]
		offLine.Width = vg.Points(1)
		pOff.Add(offLine)
		pOff.Legend.Add(id, offLine)

		confLine, err := plotter.NewLine(confPts)
		if err != nil {
			return 0, err
		}
		confLine.Color = colors[i]
		confLine.Width = vg.Points(1)
		pConf.Add(confLine)
		pConf.Legend.Add(id, confLine)

		if len(driftPts) > 0 {
			driftLine, err := plotter.NewLine(driftPts)
			if err != nil {
				return 0, err
			}
			driftLine.Color = colors[i]
			driftLine.Width = vg.Points(1)
			pDrift.Add(driftLine)
			pDrift.Legend.Add(id, driftLine)
			haveDrift = true
		}
	}

	for _, p := range []*plot.Plot{pOff, pConf, pDrift} {
		p.Legend.Top = true
		p.Legend.Left = false
		p.Legend.XOffs = -10
		p.Legend.YOffs = -10
	}

	plotCount := 0

	offFile := filepath.Join(dp.outputDir, "stream_offsets.png")
	if err := pOff.Save(14*vg.Inch, 6*vg.Inch, offFile); err != nil {
		return plotCount, fmt.Errorf("save offsets plot: %w", err)
	}
	plotCount++

	confFile := filepath.Join(dp.outputDir, "stream_confidence.png")
	if err := pConf.Save(14*vg.Inch, 6*vg.Inch, confFile); err != nil {
		return plotCount, fmt.Errorf("save confidence plot: %w", err)
	}
	plotCount++

	if haveDrift {
		driftFile := filepath.Join(dp.outputDir, "stream_drift.png")
		if err := pDrift.Save(14*vg.Inch, 6*vg.Inch, driftFile); err != nil {
			return plotCount, fmt.Errorf("save drift plot: %w", err)
		}
		plotCount++
	}

	pQual := plot.New()
	pQual.Title.Text = "Sync Quality"
	pQual.X.Label.Text = "Pass"
	pQual.Y.Label.Text = "Quality"
	pQual.Y.Min = 0
	pQual.Y.Max = 1

	qualPts := make(plotter.XYs, 0, len(dp.passes))
	for _, pass := range dp.passes {
		qualPts = append(qualPts, plotter.XY{X: float64(pass.PassIdx), Y: pass.Quality})
	}
	qualLine, err := plotter.NewLine(qualPts)
	if err != nil {
		return plotCount, err
	}
	qualLine.Color = generateColors(1)[0]
	qualLine.Width = vg.Points(1)
	pQual.Add(qualLine)

	qualFile := filepath.Join(dp.outputDir, "sync_quality.png")
	if err := pQual.Save(14*vg.Inch, 6*vg.Inch, qualFile); err != nil {
		return plotCount, fmt.Errorf("save quality plot: %w", err)
	}
	plotCount++

	return plotCount, nil
}

// generateColors creates a palette of distinct colors for stream lines
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}

	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}

// OutputDir returns the current output directory for plots.
func (dp *DriftPlotter) OutputDir() string {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	return dp.outputDir
}

// SampleCount returns the total number of per-stream samples collected.
func (dp *DriftPlotter) SampleCount() int {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	count := 0
	for _, samples := range dp.samples {
		count += len(samples)
	}
	return count
}

// PassCount returns the number of passes captured so far.
func (dp *DriftPlotter) PassCount() int {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	return len(dp.passes)
}

// FormatTimestamp generates a timestamp string for directory naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MakePlotOutputDir builds a timestamped output directory for plots.
// For capture replays: <baseDir>/<capture_basename>/<timestamp>
// For live data: <baseDir>/live_<timestamp>
// The capture basename is sanitized since it names a directory.
func MakePlotOutputDir(baseDir, captureFile string) string {
	ts := FormatTimestamp(time.Now())
	if captureFile != "" {
		base := filepath.Base(captureFile)
		ext := filepath.Ext(base)
		name := security.SanitizeFilename(base[:len(base)-len(ext)])
		return filepath.Join(baseDir, name, ts)
	}
	return filepath.Join(baseDir, "live_"+ts)
}
