package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store records sessions and segments in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to Postgres and verifies the connection.
func NewStore(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("persist: connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persist: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS relay_sessions (
	session_id     TEXT PRIMARY KEY,
	subject_id     TEXT NOT NULL,
	audio_source   TEXT NOT NULL,
	vendor         TEXT NOT NULL,
	sample_rate_hz INT  NOT NULL,
	started_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	ended_at       TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS relay_segments (
	id         BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES relay_sessions(session_id),
	start_ms   BIGINT NOT NULL,
	end_ms     BIGINT NOT NULL,
	text       TEXT NOT NULL,
	words      JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS relay_segments_session_idx
	ON relay_segments (session_id, start_ms);`
	_, err := s.pool.Exec(ctx, ddl)
	if err != nil {
		return fmt.Errorf("persist: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) InsertSession(ctx context.Context, sess SessionStart) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO relay_sessions (session_id, subject_id, audio_source, vendor, sample_rate_hz)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO NOTHING`,
		sess.SessionID, sess.SubjectID, sess.AudioSource, sess.Vendor, sess.SampleRateHz)
	if err != nil {
		return fmt.Errorf("persist: insert session: %w", err)
	}
	return nil
}

func (s *Store) InsertSegment(ctx context.Context, seg FinalSegment) error {
	var words []byte
	if len(seg.Segment.Words) > 0 {
		var err error
		words, err = json.Marshal(seg.Segment.Words)
		if err != nil {
			return fmt.Errorf("persist: marshal words: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO relay_segments (session_id, start_ms, end_ms, text, words)
		VALUES ($1, $2, $3, $4, $5)`,
		seg.SessionID, seg.Segment.StartMs, seg.Segment.EndMs, seg.Segment.Text, words)
	if err != nil {
		return fmt.Errorf("persist: insert segment: %w", err)
	}
	return nil
}

func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE relay_sessions SET ended_at = now()
		WHERE session_id = $1 AND ended_at IS NULL`, sessionID)
	if err != nil {
		return fmt.Errorf("persist: end session: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
