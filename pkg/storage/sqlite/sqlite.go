// Package sqlite provides a SQLite-backed storage driver covering the raw,
// structured, and relational tiers in one database file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/murmurhq/murmur/pkg/journal"
	"github.com/murmurhq/murmur/pkg/storage"
)

// Driver implements storage.Driver using SQLite via github.com/mattn/go-sqlite3.
type Driver struct {
	db *sql.DB
}

var _ storage.Driver = (*Driver)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	occurred_at      TIMESTAMP NOT NULL,
	occurred_date    TEXT NOT NULL,
	raw_text         TEXT NOT NULL,
	audio_ref        TEXT NOT NULL,
	audio_duration   INTEGER NOT NULL DEFAULT 0,
	idempotency_key  TEXT NOT NULL,
	ingest_status    TEXT NOT NULL,
	created_at       TIMESTAMP NOT NULL,
	UNIQUE(user_id, idempotency_key)
);
CREATE INDEX IF NOT EXISTS idx_entries_user_date ON entries(user_id, occurred_date);

CREATE TABLE IF NOT EXISTS facts (
	entry_id         TEXT PRIMARY KEY,
	category         TEXT NOT NULL,
	activities       TEXT NOT NULL,
	blockers         TEXT NOT NULL,
	accomplishments  TEXT NOT NULL,
	learnings        TEXT NOT NULL,
	keywords         TEXT NOT NULL,
	sentiment        TEXT NOT NULL,
	summary          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entry_rows (
	entry_id         TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	occurred_at      TIMESTAMP NOT NULL,
	occurred_date    TEXT NOT NULL,
	ingest_status    TEXT NOT NULL,
	category         TEXT NOT NULL DEFAULT '',
	sentiment        TEXT NOT NULL DEFAULT '',
	summary          TEXT NOT NULL DEFAULT '',
	keywords         TEXT NOT NULL DEFAULT '[]',
	accomplishments  INTEGER NOT NULL DEFAULT 0,
	blockers         INTEGER NOT NULL DEFAULT 0,
	learnings        INTEGER NOT NULL DEFAULT 0,
	needs_repair     INTEGER NOT NULL DEFAULT 0,
	repair_attempts  INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rows_user_occurred ON entry_rows(user_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_rows_category ON entry_rows(category);
CREATE INDEX IF NOT EXISTS idx_rows_repair ON entry_rows(needs_repair);

CREATE TABLE IF NOT EXISTS streaks (
	user_id          TEXT PRIMARY KEY,
	current_streak   INTEGER NOT NULL,
	longest_streak   INTEGER NOT NULL,
	last_entry_date  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS artifacts (
	id                 TEXT NOT NULL,
	user_id            TEXT NOT NULL,
	period_key         TEXT NOT NULL,
	kind               TEXT NOT NULL,
	content            TEXT NOT NULL,
	source_entry_ids   TEXT NOT NULL,
	entry_count        INTEGER NOT NULL,
	category_histogram TEXT NOT NULL,
	productivity_score REAL NOT NULL,
	degraded           INTEGER NOT NULL DEFAULT 0,
	generated_at       TIMESTAMP NOT NULL,
	PRIMARY KEY(user_id, period_key, kind)
);

CREATE TABLE IF NOT EXISTS prefs (
	user_id         TEXT PRIMARY KEY,
	timezone        TEXT NOT NULL,
	week_start_day  INTEGER NOT NULL,
	morning_hour    INTEGER NOT NULL,
	evening_hour    INTEGER NOT NULL,
	nudges_enabled  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS nudge_log (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id  TEXT NOT NULL,
	kind     TEXT NOT NULL,
	sent_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nudge_user_sent ON nudge_log(user_id, sent_at);

CREATE TABLE IF NOT EXISTS jobs (
	user_id     TEXT NOT NULL,
	period_key  TEXT NOT NULL,
	kind        TEXT NOT NULL,
	status      TEXT NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT '',
	not_before  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL,
	PRIMARY KEY(user_id, period_key, kind)
);
`

// NewDriver opens (or creates) the database at dbPath and runs the schema.
// Use ":memory:" for an in-memory database.
func NewDriver(dbPath string) (*Driver, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single writer connection avoids SQLITE_BUSY under the worker pool.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Driver{db: db}, nil
}

// Close closes the underlying database.
func (d *Driver) Close() error {
	return d.db.Close()
}

// AppendEntry stores a new entry, deduplicating on (user_id, idempotency_key).
func (d *Driver) AppendEntry(ctx context.Context, e *journal.Entry) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO entries
			(id, user_id, occurred_at, occurred_date, raw_text, audio_ref,
			 audio_duration, idempotency_key, ingest_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, idempotency_key) DO NOTHING`,
		e.ID, e.UserID, e.OccurredAt, e.OccurredDate(), e.RawText, e.AudioRef,
		e.AudioDuration, e.IdempotencyKey, string(e.IngestStatus), e.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("appending entry: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking insert result: %w", err)
	}
	return n > 0, nil
}

const entryColumns = `id, user_id, occurred_at, raw_text, audio_ref,
	audio_duration, idempotency_key, ingest_status, created_at`

func scanEntry(row *sql.Row) (*journal.Entry, error) {
	var e journal.Entry
	var status string
	err := row.Scan(&e.ID, &e.UserID, &e.OccurredAt, &e.RawText, &e.AudioRef,
		&e.AudioDuration, &e.IdempotencyKey, &status, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.IngestStatus = journal.IngestStatus(status)
	return &e, nil
}

// GetEntry retrieves one entry by id.
func (d *Driver) GetEntry(ctx context.Context, entryID string) (*journal.Entry, error) {
	e, err := scanEntry(d.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE id = ?`, entryID))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound{Kind: "entry", ID: entryID}
	}
	if err != nil {
		return nil, fmt.Errorf("getting entry: %w", err)
	}
	return e, nil
}

// GetEntryByKey retrieves a user's entry by idempotency key.
func (d *Driver) GetEntryByKey(ctx context.Context, userID, key string) (*journal.Entry, error) {
	e, err := scanEntry(d.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE user_id = ? AND idempotency_key = ?`,
		userID, key))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound{Kind: "entry", ID: key}
	}
	if err != nil {
		return nil, fmt.Errorf("getting entry by key: %w", err)
	}
	return e, nil
}

// SetIngestStatus advances an entry's ingest status.
func (d *Driver) SetIngestStatus(ctx context.Context, entryID string, status journal.IngestStatus) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE entries SET ingest_status = ? WHERE id = ?`, string(status), entryID)
	if err != nil {
		return fmt.Errorf("setting ingest status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound{Kind: "entry", ID: entryID}
	}
	return nil
}

// EntryDates returns the distinct calendar dates with entries for a user.
func (d *Driver) EntryDates(ctx context.Context, userID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT DISTINCT occurred_date FROM entries WHERE user_id = ? ORDER BY occurred_date`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("listing entry dates: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var date string
		if err := rows.Scan(&date); err != nil {
			return nil, fmt.Errorf("scanning entry date: %w", err)
		}
		dates = append(dates, date)
	}
	return dates, rows.Err()
}

// DeleteEntry removes an entry from the raw tier.
func (d *Driver) DeleteEntry(ctx context.Context, entryID string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, entryID)
	if err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}
	return nil
}

// PutFact stores (or replaces) the structured fact for an entry.
func (d *Driver) PutFact(ctx context.Context, f *journal.StructuredFact) error {
	activities, _ := json.Marshal(f.Activities)
	blockers, _ := json.Marshal(f.Blockers)
	accomplishments, _ := json.Marshal(f.Accomplishments)
	learnings, _ := json.Marshal(f.Learnings)
	keywords, _ := json.Marshal(f.Keywords)

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO facts
			(entry_id, category, activities, blockers, accomplishments,
			 learnings, keywords, sentiment, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entry_id) DO UPDATE SET
			category = excluded.category,
			activities = excluded.activities,
			blockers = excluded.blockers,
			accomplishments = excluded.accomplishments,
			learnings = excluded.learnings,
			keywords = excluded.keywords,
			sentiment = excluded.sentiment,
			summary = excluded.summary`,
		f.EntryID, string(f.Category), activities, blockers, accomplishments,
		learnings, keywords, string(f.Sentiment), f.Summary,
	)
	if err != nil {
		return fmt.Errorf("putting fact: %w", err)
	}
	return nil
}

// GetFact retrieves the structured fact for an entry.
func (d *Driver) GetFact(ctx context.Context, entryID string) (*journal.StructuredFact, error) {
	var f journal.StructuredFact
	var category, sentiment string
	var activities, blockers, accomplishments, learnings, keywords []byte

	err := d.db.QueryRowContext(ctx, `
		SELECT entry_id, category, activities, blockers, accomplishments,
		       learnings, keywords, sentiment, summary
		FROM facts WHERE entry_id = ?`, entryID,
	).Scan(&f.EntryID, &category, &activities, &blockers, &accomplishments,
		&learnings, &keywords, &sentiment, &f.Summary)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound{Kind: "fact", ID: entryID}
	}
	if err != nil {
		return nil, fmt.Errorf("getting fact: %w", err)
	}

	f.Category = journal.Category(category)
	f.Sentiment = journal.Sentiment(sentiment)
	for src, dst := range map[*[]byte]*[]string{
		&activities:      &f.Activities,
		&blockers:        &f.Blockers,
		&accomplishments: &f.Accomplishments,
		&learnings:       &f.Learnings,
		&keywords:        &f.Keywords,
	} {
		if err := json.Unmarshal(*src, dst); err != nil {
			return nil, fmt.Errorf("decoding fact arrays: %w", err)
		}
	}
	return &f, nil
}

// DeleteFact removes the structured fact for an entry.
func (d *Driver) DeleteFact(ctx context.Context, entryID string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM facts WHERE entry_id = ?`, entryID)
	if err != nil {
		return fmt.Errorf("deleting fact: %w", err)
	}
	return nil
}
