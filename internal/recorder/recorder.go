package recorder

import (
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/timealign/internal/align"
)

// DB wraps the sqlite handle holding recorded frames and sync events.
type DB struct {
	*sql.DB
}

// NewDB opens (or creates) the recording database at path and ensures the
// current schema exists. Use ":memory:" for tests.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS frames (
			frame_id          TEXT PRIMARY KEY,
			target_ms         DOUBLE,
			quality           DOUBLE,
			latency_ms        DOUBLE,
			jitter_ms         DOUBLE,
			accuracy          DOUBLE,
			dropped_samples   BIGINT,
			stream_count      BIGINT,
			created_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS stream_results (
			frame_id          TEXT,
			stream_id         TEXT,
			aligned_ms        DOUBLE,
			confidence        DOUBLE,
			offset_ms         DOUBLE,
			drift             DOUBLE,
			source_event      TEXT,
			FOREIGN KEY(frame_id) REFERENCES frames(frame_id)
		);
		CREATE TABLE IF NOT EXISTS sync_events (
			event_id          TEXT PRIMARY KEY,
			event_type        TEXT,
			timestamp_ms      DOUBLE,
			metadata          TEXT,
			created_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_stream_results_frame ON stream_results (frame_id);
		CREATE INDEX IF NOT EXISTS idx_stream_results_stream ON stream_results (stream_id);
		CREATE INDEX IF NOT EXISTS idx_frames_created ON frames (created_at);
	`)
	if err != nil {
		return nil, err
	}

	return db, nil
}

// OpenDB opens the database at path without touching the schema. The
// migrate subcommand uses this so migrations fully own schema changes.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return &DB{db}, nil
}

// RecordFrame persists one composite frame and its per-stream results in a
// single transaction.
func (db *DB) RecordFrame(ctx context.Context, frame align.Frame) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			// ErrTxDone means transaction was already committed/rolled back
			log.Printf("warning: failed to rollback transaction: %v", err)
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO frames (
			frame_id, target_ms, quality, latency_ms, jitter_ms, accuracy,
			dropped_samples, stream_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		frame.ID, frame.Target, frame.Metrics.Quality, frame.Metrics.Latency,
		frame.Metrics.Jitter, frame.Metrics.AlignmentAccuracy,
		int64(frame.Metrics.DroppedSamples), int64(len(frame.Results)),
	)
	if err != nil {
		return fmt.Errorf("failed to insert frame %s: %w", frame.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO stream_results (
			frame_id, stream_id, aligned_ms, confidence, offset_ms, drift, source_event
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for streamID, r := range frame.Results {
		if _, err := stmt.ExecContext(ctx,
			frame.ID, streamID, r.AlignedTimestamp, r.Confidence,
			r.Offset, r.Drift, r.SourceEvent,
		); err != nil {
			return fmt.Errorf("failed to insert result for stream %s: %w", streamID, err)
		}
	}

	return tx.Commit()
}

// RecordSyncEvent persists one synchronization event. Metadata is stored as
// a JSON text column.
func (db *DB) RecordSyncEvent(ctx context.Context, ev align.SyncEvent) error {
	var metadata []byte
	if len(ev.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode event metadata: %w", err)
		}
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO sync_events (event_id, event_type, timestamp_ms, metadata) VALUES (?, ?, ?, ?)`,
		ev.ID, ev.Type, ev.Timestamp, string(metadata),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sync event %s: %w", ev.ID, err)
	}
	return nil
}

// AttachAdminRoutes mounts the live SQL console and the backup endpoint on
// mux under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://timealign.db", db.DB, &tailsql.DBOptions{
		Label: "Alignment DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("timealign-backup-%d.db", time.Now().Unix())
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
