// Package testutil provides shared frame fixtures for alignment tests.
//
// Storage and monitoring tests all need composite frames carrying
// plausible metrics; building them here keeps the literals out of
// every test file.
package testutil

import "github.com/banshee-data/timealign/internal/align"

// Frame builds a composite frame with one entry per stream in results.
// Quality doubles as the alignment accuracy, matching what the engine
// reports for a healthy pass.
func Frame(id string, target, quality float64, results map[string]align.Result) align.Frame {
	return align.Frame{
		ID:      id,
		Target:  target,
		Results: results,
		Metrics: align.Metrics{
			Quality:           quality,
			Latency:           5,
			Jitter:            1.5,
			AlignmentAccuracy: quality,
			DroppedSamples:    2,
		},
	}
}

// Result builds one aligned result sitting offset milliseconds from
// the frame target.
func Result(stream string, target, offset, confidence float64) align.Result {
	return align.Result{
		StreamID:         stream,
		AlignedTimestamp: target + offset,
		Confidence:       confidence,
		Offset:           offset,
	}
}
