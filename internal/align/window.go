package align

// WindowConfidence is not a constant for this strategy: confidence falls
// off linearly with the distance between a sample and the reference
// timestamp, reaching zero at the tolerance boundary.

// WindowOptions configures the buffered window strategy.
type WindowOptions struct {
	// Tolerance is the maximum distance in milliseconds between a sample
	// and the reference timestamp for the sample to participate in a
	// pass. Defaults to DefaultTolerance.
	Tolerance float64

	// HistorySize bounds the rolling pass history used to synthesize
	// quality between passes. Defaults to DefaultHistorySize.
	HistorySize int
}

// windowPass summarizes one alignment pass for the rolling history.
type windowPass struct {
	matched        int
	candidates     int
	meanConfidence float64
	maxOffset      float64
}

// Window aligns streams by matching buffered samples against a shared
// reference timestamp. Samples farther than the tolerance from the
// reference are excluded from the pass rather than reported with zero
// confidence.
type Window struct {
	tolerance   float64
	historySize int
	passes      []windowPass
}

// NewWindow builds a window strategy from opts.
func NewWindow(opts WindowOptions) (*Window, error) {
	if opts.Tolerance == 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.HistorySize == 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.Tolerance < 0 {
		return nil, &ConfigError{Field: "tolerance", Reason: "must be positive"}
	}
	if opts.HistorySize < 1 {
		return nil, &ConfigError{Field: "history size", Reason: "must be at least 1"}
	}
	return &Window{
		tolerance:   opts.Tolerance,
		historySize: opts.HistorySize,
	}, nil
}

// Kind reports KindWindow.
func (w *Window) Kind() Kind { return KindWindow }

// Tolerance reports the configured matching tolerance in milliseconds.
func (w *Window) Tolerance() float64 { return w.tolerance }

// Align scores s against the reference timestamp. The second return is
// false when the sample lies outside the tolerance window.
func (w *Window) Align(s StreamSample, ref float64) (Result, bool, error) {
	diff := s.Timestamp - ref
	dist := diff
	if dist < 0 {
		dist = -dist
	}
	if dist > w.tolerance {
		return Result{}, false, nil
	}
	conf := 1 - dist/w.tolerance
	if conf < 0 {
		conf = 0
	}
	return Result{
		StreamID:         s.StreamID,
		AlignedTimestamp: s.Timestamp,
		Confidence:       conf,
		Offset:           diff,
	}, true, nil
}

// FindBestAlignment runs one pass over the supplied buffers: for each
// stream it picks the buffered sample closest to target and scores it
// with Align. Streams with no sample inside the tolerance are absent
// from the returned map. Each call appends to the rolling pass history.
func (w *Window) FindBestAlignment(buffers map[string]*StreamBuffer, target float64) map[string]Result {
	results := make(map[string]Result, len(buffers))
	pass := windowPass{candidates: len(buffers)}
	var confSum, maxOffset float64
	for id, buf := range buffers {
		s, ok := buf.Closest(target, w.tolerance)
		if !ok {
			continue
		}
		res, ok, err := w.Align(s, target)
		if !ok || err != nil {
			continue
		}
		results[id] = res
		pass.matched++
		confSum += res.Confidence
		off := res.Offset
		if off < 0 {
			off = -off
		}
		if off > maxOffset {
			maxOffset = off
		}
	}
	if pass.matched > 0 {
		pass.meanConfidence = confSum / float64(pass.matched)
	}
	pass.maxOffset = maxOffset
	w.passes = append(w.passes, pass)
	if len(w.passes) > w.historySize {
		w.passes = w.passes[len(w.passes)-w.historySize:]
	}
	return results
}

// Quality derives metrics from the most recent results, falling back to
// the rolling pass history when the caller has none.
func (w *Window) Quality(recent []Result) Metrics {
	if len(recent) > 0 {
		var sum, offSum float64
		for _, r := range recent {
			sum += r.Confidence
			off := r.Offset
			if off < 0 {
				off = -off
			}
			offSum += off
		}
		n := float64(len(recent))
		return Metrics{
			Quality:           sum / n,
			Latency:           offSum / n,
			AlignmentAccuracy: sum / n,
		}
	}
	if len(w.passes) == 0 {
		return Metrics{}
	}
	var confSum, matchSum, candSum, offSum float64
	for _, p := range w.passes {
		confSum += p.meanConfidence * float64(p.matched)
		matchSum += float64(p.matched)
		candSum += float64(p.candidates)
		offSum += p.maxOffset
	}
	m := Metrics{Latency: offSum / float64(len(w.passes))}
	if matchSum > 0 {
		m.AlignmentAccuracy = confSum / matchSum
	}
	if candSum > 0 {
		m.Quality = confSum / candSum
	}
	return m
}

// ForgetStream is a no-op: the window strategy keeps no per-stream state.
func (w *Window) ForgetStream(string) {}

// PassCount reports how many passes are retained in the rolling history.
func (w *Window) PassCount() int { return len(w.passes) }
