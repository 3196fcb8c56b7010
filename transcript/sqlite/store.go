// Package sqlite provides a sqlite-backed transcript sink.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/voicewire/relay/transcript"
)

const schema = `
CREATE TABLE IF NOT EXISTS transcript_turns (
	call_sid   TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (call_sid, seq)
);
CREATE INDEX IF NOT EXISTS idx_transcript_call ON transcript_turns(call_sid);
`

// Store is a transcript.Sink backed by a sqlite database file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the transcript database at path.
func Open(path string) (*Store, error) {
	// busy_timeout lets detached writers wait out short lock contention.
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=10000")
	if err != nil {
		return nil, fmt.Errorf("open transcript db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create transcript schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Append implements transcript.Sink.
func (s *Store) Append(ctx context.Context, turn transcript.Turn) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcript_turns(call_sid, seq, role, content, created_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(call_sid, seq) DO NOTHING`,
		turn.CallSID, turn.Seq, turn.Role, turn.Content, turn.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert transcript turn: %w", err)
	}
	return nil
}

// Turns returns all turns for a call in sequence order. Used by operator
// tooling and tests, not by the live call path.
func (s *Store) Turns(ctx context.Context, callSID string) ([]transcript.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT call_sid, seq, role, content, created_at
		 FROM transcript_turns WHERE call_sid = ? ORDER BY seq`, callSID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var turns []transcript.Turn
	for rows.Next() {
		var t transcript.Turn
		var createdAt int64
		if err := rows.Scan(&t.CallSID, &t.Seq, &t.Role, &t.Content, &createdAt); err != nil {
			return nil, err
		}
		t.CreatedAt = time.Unix(createdAt, 0)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Close implements transcript.Sink.
func (s *Store) Close() error {
	return s.db.Close()
}
