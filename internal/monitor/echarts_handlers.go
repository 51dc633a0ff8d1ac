package monitor

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// echartsAssetsPrefix points chart pages at the hosted go-echarts asset
// bundle so the binary does not serve any JS itself.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// formatTargetClock renders a millisecond reference timestamp as a wall
// clock label for chart axes.
func formatTargetClock(ms float64) string {
	return time.UnixMilli(int64(ms)).UTC().Format("15:04:05.000")
}

// handleQualityChart renders sync quality and latency over recent passes
// as line charts (HTML). Recorder history is used when available; without
// a recorder the chart falls back to the engine's in-memory pass history.
// Query params:
//
//	n (optional, default 200, max 2000)
func (s *Server) handleQualityChart(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, "n", 200, 2000)

	var labels []string
	var qualData, latData []opts.LineData
	source := "engine history"

	if s.db != nil {
		points, err := s.db.QualityHistory(r.Context(), limit)
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("quality history: %v", err))
			return
		}
		for _, p := range points {
			labels = append(labels, formatTargetClock(p.Target))
			qualData = append(qualData, opts.LineData{Value: p.Quality})
			latData = append(latData, opts.LineData{Value: p.Latency})
		}
		source = "recorder"
	} else {
		history := s.engine.History()
		if len(history) > limit {
			history = history[len(history)-limit:]
		}
		for _, p := range history {
			labels = append(labels, formatTargetClock(p.Target))
			qualData = append(qualData, opts.LineData{Value: p.Quality})
			latData = append(latData, opts.LineData{Value: p.Latency})
		}
	}

	if len(labels) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "no quality history available")
		return
	}

	qualLine := charts.NewLine()
	qualLine.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "100%", Height: "420px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Sync Quality", Subtitle: fmt.Sprintf("passes=%d source=%s", len(labels), source)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1, Name: "Quality"}),
	)
	qualLine.SetXAxis(labels).
		AddSeries("quality", qualData, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))

	latLine := charts.NewLine()
	latLine.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "100%", Height: "420px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Alignment Latency", Subtitle: "mean distance from pass target"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Latency (ms)"}),
	)
	latLine.SetXAxis(labels).
		AddSeries("latency", latData, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(qualLine, latLine)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleOffsetsChart renders one stream's measured offsets over time as a
// scatter plot (HTML), colored by alignment confidence.
// Query params:
//
//	stream (required)
//	n (optional, default 500, max 5000)
func (s *Server) handleOffsetsChart(w http.ResponseWriter, r *http.Request) {
	stream := r.URL.Query().Get("stream")
	if stream == "" {
		s.writeJSONError(w, http.StatusBadRequest, "missing 'stream' parameter")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "no recorder database configured")
		return
	}

	limit := queryLimit(r, "n", 500, 5000)
	points, err := s.db.OffsetHistory(r.Context(), stream, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("offset history: %v", err))
		return
	}
	if len(points) == 0 {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no offset history for stream '%s'", stream))
		return
	}

	// X axis is seconds since the first recorded pass, so drift shows up
	// as slope rather than absolute epoch noise.
	t0 := points[0].Target
	data := make([]opts.ScatterData, 0, len(points))
	maxAbs := 0.0
	for _, p := range points {
		x := (p.Target - t0) / 1000.0
		if math.Abs(p.Offset) > maxAbs {
			maxAbs = math.Abs(p.Offset)
		}
		data = append(data, opts.ScatterData{Value: []interface{}{x, p.Offset, p.Confidence}})
	}

	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Stream Offsets", Theme: "dark", Width: "1200px", Height: "700px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Offset From Reference", Subtitle: fmt.Sprintf("stream=%s points=%d", stream, len(data))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Elapsed (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Offset (ms)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        1,
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}},
		}),
	)
	scatter.AddSeries("offset", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
