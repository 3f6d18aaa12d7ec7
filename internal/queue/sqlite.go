package queue

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stacksapp/stacks-server/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// SQLitePersistence stores queue entries in SQLite so the queue survives
// restarts.
type SQLitePersistence struct {
	db *sql.DB
}

// OpenSQLite creates the persistence layer at the given path.
// It configures WAL mode, sets pragmas, and runs the schema migration.
func OpenSQLite(path string) (*SQLitePersistence, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}

	return &SQLitePersistence{db: db}, nil
}

// Close closes the underlying database connection.
func (p *SQLitePersistence) Close() error {
	return p.db.Close()
}

// SaveEntry implements Persistence. Saving an entry whose dedup key is
// already present replaces the stored row.
func (p *SQLitePersistence) SaveEntry(ctx context.Context, entry *domain.QueueEntry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO queue_entries (
			id, dedup_key, stable_id, kind, title, author, identifier,
			image_ref, priority, state, job_id, enqueued_at, seq
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.DedupKey,
		nullString(entry.StableID),
		string(entry.Item.Kind),
		entry.Item.Title,
		entry.Item.Author,
		entry.Item.Identifier,
		entry.Item.ImageRef,
		entry.Priority,
		string(entry.State),
		nullString(entry.JobID),
		formatTime(entry.EnqueuedAt),
		entry.Seq,
	)
	return err
}

// UpdateEntry implements Persistence.
func (p *SQLitePersistence) UpdateEntry(ctx context.Context, entry *domain.QueueEntry) error {
	return p.SaveEntry(ctx, entry)
}

// DeleteEntry implements Persistence. Idempotent.
func (p *SQLitePersistence) DeleteEntry(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM queue_entries WHERE id = ?`, id)
	return err
}

// LoadEntries implements Persistence. Entries come back in drain order.
func (p *SQLitePersistence) LoadEntries(ctx context.Context) ([]*domain.QueueEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, dedup_key, stable_id, kind, title, author, identifier,
		       image_ref, priority, state, job_id, enqueued_at, seq
		FROM queue_entries
		ORDER BY priority DESC, seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.QueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// scanEntry scans a sql.Row (or sql.Rows via its Scan method) into a
// domain.QueueEntry.
func scanEntry(scanner interface{ Scan(dest ...any) error }) (*domain.QueueEntry, error) {
	var (
		entry      domain.QueueEntry
		stableID   sql.NullString
		jobID      sql.NullString
		kind       string
		state      string
		enqueuedAt string
	)

	err := scanner.Scan(
		&entry.ID,
		&entry.DedupKey,
		&stableID,
		&kind,
		&entry.Item.Title,
		&entry.Item.Author,
		&entry.Item.Identifier,
		&entry.Item.ImageRef,
		&entry.Priority,
		&state,
		&jobID,
		&enqueuedAt,
		&entry.Seq,
	)
	if err != nil {
		return nil, err
	}

	entry.StableID = stableID.String
	entry.Item.StableID = stableID.String
	entry.Item.Kind = domain.QueryKind(kind)
	entry.JobID = jobID.String
	entry.State = domain.EntryState(state)

	entry.EnqueuedAt, err = parseTime(enqueuedAt)
	if err != nil {
		return nil, err
	}

	return &entry, nil
}

// formatTime formats a time.Time to RFC3339Nano for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a RFC3339Nano string back to time.Time.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// nullString returns a sql.NullString for an optional column.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
