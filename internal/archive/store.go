// SPDX-License-Identifier: MIT

// Package archive persists concluded sessions to SQLite and exports a
// human-readable report per session. It is the only durable surface of
// the daemon; live sessions exist in memory only.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/broadcomms/brainstormx/internal/log"
	"github.com/broadcomms/brainstormx/internal/voting"
	"github.com/broadcomms/brainstormx/internal/workshop"
)

const schemaVersion = 1

// Store writes concluded sessions into a SQLite archive.
type Store struct {
	db        *sql.DB
	reportDir string
}

// Open initializes the archive database. The pragmas ride in the DSN so
// they apply to every pooled connection.
func Open(dbPath, reportDir string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, (5 * time.Second).Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}

	st := &Store{db: db, reportDir: reportDir}
	if err := st.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: migration: %w", err)
	}
	return st, nil
}

func (st *Store) Close() error {
	return st.db.Close()
}

// Ping verifies the database is reachable, used by the readiness probe.
func (st *Store) Ping(ctx context.Context) error {
	return st.db.PingContext(ctx)
}

func (st *Store) migrate() error {
	var current int
	if err := st.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := st.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		objective TEXT NOT NULL,
		organizer_id TEXT NOT NULL,
		participant_count INTEGER NOT NULL,
		idea_count INTEGER NOT NULL,
		vote_count INTEGER NOT NULL,
		created_at_ms INTEGER NOT NULL,
		concluded_at_ms INTEGER NOT NULL,
		snapshot_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_concluded ON sessions(concluded_at_ms);

	CREATE TABLE IF NOT EXISTS ranked_ideas (
		session_id TEXT NOT NULL,
		idea_id TEXT NOT NULL,
		author_id TEXT NOT NULL,
		content TEXT NOT NULL,
		total_weight INTEGER NOT NULL,
		idea_rank INTEGER NOT NULL,
		PRIMARY KEY (session_id, idea_id)
	);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// Archive writes one row per concluded session plus its final idea
// ranking, then exports the markdown report. Archiving the same session
// twice overwrites the first record rather than failing, so a crashed
// conclude can be repeated safely.
func (st *Store) Archive(ctx context.Context, snap *workshop.SessionSnapshot) error {
	ranked := voting.TallyRecords(snap.Ideas, snap.Votes)

	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("archive: marshal session %s: %w", snap.ID, err)
	}

	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions
		(session_id, title, objective, organizer_id, participant_count,
		 idea_count, vote_count, created_at_ms, concluded_at_ms, snapshot_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Title, snap.Objective, snap.OrganizerID,
		len(snap.Participants), len(snap.Ideas), len(snap.Votes),
		snap.CreatedAt.UnixMilli(), time.Now().UnixMilli(), string(blob))
	if err != nil {
		return fmt.Errorf("archive: insert session %s: %w", snap.ID, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM ranked_ideas WHERE session_id = ?", snap.ID); err != nil {
		return fmt.Errorf("archive: clear ranking for %s: %w", snap.ID, err)
	}
	for _, r := range ranked {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ranked_ideas
			(session_id, idea_id, author_id, content, total_weight, idea_rank)
			VALUES (?, ?, ?, ?, ?, ?)`,
			snap.ID, r.Idea.ID, r.Idea.AuthorID, r.Idea.Content, r.TotalWeight, r.Rank)
		if err != nil {
			return fmt.Errorf("archive: insert idea %s: %w", r.Idea.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit %s: %w", snap.ID, err)
	}

	if st.reportDir != "" {
		if err := st.writeReport(snap, ranked); err != nil {
			// The database row is the source of truth; a failed report
			// export must not fail the conclude.
			logger := log.WithComponentFromContext(ctx, "archive")
			logger.Warn().Err(err).
				Str(log.FieldSessionID, snap.ID).
				Msg("report export failed")
		}
	}

	logger := log.WithComponentFromContext(ctx, "archive")
	logger.Info().
		Str(log.FieldSessionID, snap.ID).
		Int("ideas", len(snap.Ideas)).
		Int("votes", len(snap.Votes)).
		Msg("session archived")
	return nil
}

// ArchivedSession is one row of the archive listing.
type ArchivedSession struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Objective        string    `json:"objective"`
	OrganizerID      string    `json:"organizer_id"`
	ParticipantCount int       `json:"participant_count"`
	IdeaCount        int       `json:"idea_count"`
	VoteCount        int       `json:"vote_count"`
	CreatedAt        time.Time `json:"created_at"`
	ConcludedAt      time.Time `json:"concluded_at"`
}

// Load returns the full archived snapshot of one session.
func (st *Store) Load(ctx context.Context, sessionID string) (*workshop.SessionSnapshot, error) {
	var blob string
	err := st.db.QueryRowContext(ctx,
		"SELECT snapshot_json FROM sessions WHERE session_id = ?", sessionID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("archive: session %s: %w", sessionID, workshop.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("archive: load %s: %w", sessionID, err)
	}
	var snap workshop.SessionSnapshot
	if err := json.Unmarshal([]byte(blob), &snap); err != nil {
		return nil, fmt.Errorf("archive: decode %s: %w", sessionID, err)
	}
	return &snap, nil
}

// List returns archived sessions, newest first.
func (st *Store) List(ctx context.Context, limit int) ([]ArchivedSession, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := st.db.QueryContext(ctx, `
		SELECT session_id, title, objective, organizer_id, participant_count,
		       idea_count, vote_count, created_at_ms, concluded_at_ms
		FROM sessions ORDER BY concluded_at_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ArchivedSession
	for rows.Next() {
		var rec ArchivedSession
		var createdMS, concludedMS int64
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Objective, &rec.OrganizerID,
			&rec.ParticipantCount, &rec.IdeaCount, &rec.VoteCount,
			&createdMS, &concludedMS); err != nil {
			return nil, fmt.Errorf("archive: scan: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(createdMS).UTC()
		rec.ConcludedAt = time.UnixMilli(concludedMS).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Ranking returns the stored final ranking for a session.
func (st *Store) Ranking(ctx context.Context, sessionID string) ([]voting.RankedIdea, error) {
	rows, err := st.db.QueryContext(ctx, `
		SELECT idea_id, author_id, content, total_weight, idea_rank
		FROM ranked_ideas WHERE session_id = ? ORDER BY idea_rank`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("archive: ranking %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []voting.RankedIdea
	for rows.Next() {
		var r voting.RankedIdea
		if err := rows.Scan(&r.Idea.ID, &r.Idea.AuthorID, &r.Idea.Content,
			&r.TotalWeight, &r.Rank); err != nil {
			return nil, fmt.Errorf("archive: scan ranking: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
