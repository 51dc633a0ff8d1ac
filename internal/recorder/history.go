package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const defaultQueryLimit = 100

// FrameRecord is one persisted composite frame.
type FrameRecord struct {
	FrameID        string    `json:"frameId"`
	Target         float64   `json:"target"`
	Quality        float64   `json:"quality"`
	Latency        float64   `json:"latency"`
	Jitter         float64   `json:"jitter"`
	Accuracy       float64   `json:"accuracy"`
	DroppedSamples int64     `json:"droppedSamples"`
	StreamCount    int64     `json:"streamCount"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ResultRecord is one stream's alignment inside a persisted frame.
type ResultRecord struct {
	FrameID     string  `json:"frameId"`
	StreamID    string  `json:"streamId"`
	Aligned     float64 `json:"aligned"`
	Confidence  float64 `json:"confidence"`
	Offset      float64 `json:"offset"`
	Drift       float64 `json:"drift"`
	SourceEvent string  `json:"sourceEvent,omitempty"`
}

// QualityPoint pairs a pass target with its quality score, for charting.
type QualityPoint struct {
	Target  float64 `json:"target"`
	Quality float64 `json:"quality"`
	Latency float64 `json:"latency"`
}

// OffsetPoint tracks one stream's offset estimate over passes.
type OffsetPoint struct {
	Target     float64 `json:"target"`
	Offset     float64 `json:"offset"`
	Confidence float64 `json:"confidence"`
}

// StreamSummary aggregates a stream's recorded results.
type StreamSummary struct {
	StreamID       string  `json:"streamId"`
	ResultCount    int64   `json:"resultCount"`
	MeanConfidence float64 `json:"meanConfidence"`
	MeanAbsOffset  float64 `json:"meanAbsOffset"`
}

// EventRecord is one persisted synchronization event.
type EventRecord struct {
	EventID   string            `json:"eventId"`
	Type      string            `json:"type"`
	Timestamp float64           `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// RecentFrames returns the most recently recorded frames, newest first.
// A non-positive limit selects the default of 100.
func (db *DB) RecentFrames(ctx context.Context, limit int) ([]FrameRecord, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	rows, err := db.QueryContext(ctx,
		`SELECT frame_id, target_ms, quality, latency_ms, jitter_ms, accuracy,
			dropped_samples, stream_count, created_at
		FROM frames ORDER BY created_at DESC, target_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []FrameRecord
	for rows.Next() {
		var f FrameRecord
		if err := rows.Scan(
			&f.FrameID, &f.Target, &f.Quality, &f.Latency, &f.Jitter,
			&f.Accuracy, &f.DroppedSamples, &f.StreamCount, &f.CreatedAt,
		); err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return frames, nil
}

// FrameResults returns the per-stream results recorded for one frame.
func (db *DB) FrameResults(ctx context.Context, frameID string) ([]ResultRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT frame_id, stream_id, aligned_ms, confidence, offset_ms, drift, source_event
		FROM stream_results WHERE frame_id = ? ORDER BY stream_id`, frameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ResultRecord
	for rows.Next() {
		var r ResultRecord
		var sourceEvent sql.NullString
		if err := rows.Scan(
			&r.FrameID, &r.StreamID, &r.Aligned, &r.Confidence,
			&r.Offset, &r.Drift, &sourceEvent,
		); err != nil {
			return nil, err
		}
		r.SourceEvent = sourceEvent.String
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// QualityHistory returns quality scores for the most recent passes, oldest
// first so the series plots left to right.
func (db *DB) QualityHistory(ctx context.Context, limit int) ([]QualityPoint, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	rows, err := db.QueryContext(ctx,
		`SELECT target_ms, quality, latency_ms FROM (
			SELECT target_ms, quality, latency_ms, created_at
			FROM frames ORDER BY created_at DESC, target_ms DESC LIMIT ?
		) ORDER BY target_ms ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []QualityPoint
	for rows.Next() {
		var p QualityPoint
		if err := rows.Scan(&p.Target, &p.Quality, &p.Latency); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return points, nil
}

// OffsetHistory returns one stream's offset estimates over the most recent
// passes, oldest first.
func (db *DB) OffsetHistory(ctx context.Context, streamID string, limit int) ([]OffsetPoint, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	rows, err := db.QueryContext(ctx,
		`SELECT target_ms, offset_ms, confidence FROM (
			SELECT f.target_ms AS target_ms, r.offset_ms AS offset_ms,
				r.confidence AS confidence, f.created_at AS created_at
			FROM stream_results r
			JOIN frames f ON f.frame_id = r.frame_id
			WHERE r.stream_id = ?
			ORDER BY f.created_at DESC, f.target_ms DESC LIMIT ?
		) ORDER BY target_ms ASC`, streamID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []OffsetPoint
	for rows.Next() {
		var p OffsetPoint
		if err := rows.Scan(&p.Target, &p.Offset, &p.Confidence); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return points, nil
}

// StreamSummaries aggregates recorded results per stream.
func (db *DB) StreamSummaries(ctx context.Context) ([]StreamSummary, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT stream_id, COUNT(*), AVG(confidence), AVG(ABS(offset_ms))
		FROM stream_results GROUP BY stream_id ORDER BY stream_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []StreamSummary
	for rows.Next() {
		var s StreamSummary
		if err := rows.Scan(&s.StreamID, &s.ResultCount, &s.MeanConfidence, &s.MeanAbsOffset); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return summaries, nil
}

// RecentEvents returns the most recently recorded sync events, newest first.
func (db *DB) RecentEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	rows, err := db.QueryContext(ctx,
		`SELECT event_id, event_type, timestamp_ms, metadata, created_at
		FROM sync_events ORDER BY created_at DESC, timestamp_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var e EventRecord
		var metadata sql.NullString
		if err := rows.Scan(&e.EventID, &e.Type, &e.Timestamp, &metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for event %s: %w", e.EventID, err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}
