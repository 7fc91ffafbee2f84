// Package postgres provides a PostgreSQL-backed storage driver for multi-node
// deployments. Same tier semantics as the sqlite driver; durability and
// concurrent writers come from the server.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/murmurhq/murmur/pkg/journal"
	"github.com/murmurhq/murmur/pkg/storage"
)

// Driver implements storage.Driver against PostgreSQL via pgx.
type Driver struct {
	db *sql.DB
}

var _ storage.Driver = (*Driver)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	occurred_at      TIMESTAMPTZ NOT NULL,
	occurred_date    TEXT NOT NULL,
	raw_text         TEXT NOT NULL,
	audio_ref        TEXT NOT NULL,
	audio_duration   BIGINT NOT NULL DEFAULT 0,
	idempotency_key  TEXT NOT NULL,
	ingest_status    TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	UNIQUE(user_id, idempotency_key)
);
CREATE INDEX IF NOT EXISTS idx_entries_user_date ON entries(user_id, occurred_date);

CREATE TABLE IF NOT EXISTS facts (
	entry_id         TEXT PRIMARY KEY,
	category         TEXT NOT NULL,
	activities       JSONB NOT NULL,
	blockers         JSONB NOT NULL,
	accomplishments  JSONB NOT NULL,
	learnings        JSONB NOT NULL,
	keywords         JSONB NOT NULL,
	sentiment        TEXT NOT NULL,
	summary          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entry_rows (
	entry_id         TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	occurred_at      TIMESTAMPTZ NOT NULL,
	occurred_date    TEXT NOT NULL,
	ingest_status    TEXT NOT NULL,
	category         TEXT NOT NULL DEFAULT '',
	sentiment        TEXT NOT NULL DEFAULT '',
	summary          TEXT NOT NULL DEFAULT '',
	keywords         JSONB NOT NULL DEFAULT '[]',
	accomplishments  INTEGER NOT NULL DEFAULT 0,
	blockers         INTEGER NOT NULL DEFAULT 0,
	learnings        INTEGER NOT NULL DEFAULT 0,
	needs_repair     BOOLEAN NOT NULL DEFAULT FALSE,
	repair_attempts  INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rows_user_occurred ON entry_rows(user_id, occurred_at);
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
	source_entry_ids   JSONB NOT NULL,
	entry_count        INTEGER NOT NULL,
	category_histogram JSONB NOT NULL,
	productivity_score DOUBLE PRECISION NOT NULL,
	degraded           BOOLEAN NOT NULL DEFAULT FALSE,
	generated_at       TIMESTAMPTZ NOT NULL,
	PRIMARY KEY(user_id, period_key, kind)
);

CREATE TABLE IF NOT EXISTS prefs (
	user_id         TEXT PRIMARY KEY,
	timezone        TEXT NOT NULL,
	week_start_day  INTEGER NOT NULL,
	morning_hour    INTEGER NOT NULL,
	evening_hour    INTEGER NOT NULL,
	nudges_enabled  BOOLEAN NOT NULL
);

CREATE TABLE IF NOT EXISTS nudge_log (
	id       BIGSERIAL PRIMARY KEY,
	user_id  TEXT NOT NULL,
	kind     TEXT NOT NULL,
	sent_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nudge_user_sent ON nudge_log(user_id, sent_at);

CREATE TABLE IF NOT EXISTS jobs (
	user_id     TEXT NOT NULL,
	period_key  TEXT NOT NULL,
	kind        TEXT NOT NULL,
	status      TEXT NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT '',
	not_before  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY(user_id, period_key, kind)
);
`

// NewDriver connects to the database at dsn and runs the schema.
func NewDriver(ctx context.Context, dsn string) (*Driver, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Driver{db: db}, nil
}

// Close closes the connection pool.
func (d *Driver) Close() error {
	return d.db.Close()
}

func (d *Driver) AppendEntry(ctx context.Context, e *journal.Entry) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO entries
			(id, user_id, occurred_at, occurred_date, raw_text, audio_ref,
			 audio_duration, idempotency_key, ingest_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, idempotency_key) DO NOTHING`,
		e.ID, e.UserID, e.OccurredAt, e.OccurredDate(), e.RawText, e.AudioRef,
		e.AudioDuration, e.IdempotencyKey, string(e.IngestStatus), e.CreatedAt)
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

func (d *Driver) GetEntry(ctx context.Context, entryID string) (*journal.Entry, error) {
	e, err := scanEntry(d.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE id = $1`, entryID))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound{Kind: "entry", ID: entryID}
	}
	if err != nil {
		return nil, fmt.Errorf("getting entry: %w", err)
	}
	return e, nil
}

func (d *Driver) GetEntryByKey(ctx context.Context, userID, key string) (*journal.Entry, error) {
	e, err := scanEntry(d.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE user_id = $1 AND idempotency_key = $2`,
		userID, key))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound{Kind: "entry", ID: key}
	}
	if err != nil {
		return nil, fmt.Errorf("getting entry by key: %w", err)
	}
	return e, nil
}

func (d *Driver) SetIngestStatus(ctx context.Context, entryID string, status journal.IngestStatus) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE entries SET ingest_status = $1 WHERE id = $2`, string(status), entryID)
	if err != nil {
		return fmt.Errorf("setting ingest status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound{Kind: "entry", ID: entryID}
	}
	return nil
}

func (d *Driver) EntryDates(ctx context.Context, userID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT DISTINCT occurred_date FROM entries WHERE user_id = $1 ORDER BY occurred_date`,
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

func (d *Driver) DeleteEntry(ctx context.Context, entryID string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM entries WHERE id = $1`, entryID)
	if err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}
	return nil
}

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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (entry_id) DO UPDATE SET
			category = EXCLUDED.category,
			activities = EXCLUDED.activities,
			blockers = EXCLUDED.blockers,
			accomplishments = EXCLUDED.accomplishments,
			learnings = EXCLUDED.learnings,
			keywords = EXCLUDED.keywords,
			sentiment = EXCLUDED.sentiment,
			summary = EXCLUDED.summary`,
		f.EntryID, string(f.Category), activities, blockers, accomplishments,
		learnings, keywords, string(f.Sentiment), f.Summary)
	if err != nil {
		return fmt.Errorf("putting fact: %w", err)
	}
	return nil
}

func (d *Driver) GetFact(ctx context.Context, entryID string) (*journal.StructuredFact, error) {
	var f journal.StructuredFact
	var category, sentiment string
	var activities, blockers, accomplishments, learnings, keywords []byte

	err := d.db.QueryRowContext(ctx, `
		SELECT entry_id, category, activities, blockers, accomplishments,
		       learnings, keywords, sentiment, summary
		FROM facts WHERE entry_id = $1`, entryID,
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

func (d *Driver) DeleteFact(ctx context.Context, entryID string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM facts WHERE entry_id = $1`, entryID)
	if err != nil {
		return fmt.Errorf("deleting fact: %w", err)
	}
	return nil
}

const rowColumns = `entry_id, user_id, occurred_at, occurred_date, ingest_status,
	category, sentiment, summary, keywords, accomplishments, blockers, learnings,
	needs_repair, repair_attempts, created_at`

func scanRow(scan func(dest ...any) error) (storage.EntryRow, error) {
	var r storage.EntryRow
	var status, category, sentiment string
	var keywords []byte
	err := scan(&r.EntryID, &r.UserID, &r.OccurredAt, &r.OccurredDate, &status,
		&category, &sentiment, &r.Summary, &keywords, &r.Accomplishments,
		&r.Blockers, &r.Learnings, &r.NeedsRepair, &r.RepairAttempts, &r.CreatedAt)
	if err != nil {
		return r, err
	}
	r.IngestStatus = journal.IngestStatus(status)
	r.Category = journal.Category(category)
	r.Sentiment = journal.Sentiment(sentiment)
	if err := json.Unmarshal(keywords, &r.Keywords); err != nil {
		return r, fmt.Errorf("decoding keywords: %w", err)
	}
	return r, nil
}

func collectRows(rows *sql.Rows) ([]storage.EntryRow, error) {
	var out []storage.EntryRow
	for rows.Next() {
		r, err := scanRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning entry row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *Driver) UpsertEntryRow(ctx context.Context, row *storage.EntryRow) error {
	keywords, _ := json.Marshal(row.Keywords)
	if row.Keywords == nil {
		keywords = []byte("[]")
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO entry_rows (`+rowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (entry_id) DO UPDATE SET
			ingest_status = EXCLUDED.ingest_status,
			category = EXCLUDED.category,
			sentiment = EXCLUDED.sentiment,
			summary = EXCLUDED.summary,
			keywords = EXCLUDED.keywords,
			accomplishments = EXCLUDED.accomplishments,
			blockers = EXCLUDED.blockers,
			learnings = EXCLUDED.learnings,
			needs_repair = EXCLUDED.needs_repair,
			repair_attempts = EXCLUDED.repair_attempts`,
		row.EntryID, row.UserID, row.OccurredAt, row.OccurredDate,
		string(row.IngestStatus), string(row.Category), string(row.Sentiment),
		row.Summary, keywords, row.Accomplishments, row.Blockers, row.Learnings,
		row.NeedsRepair, row.RepairAttempts, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting entry row: %w", err)
	}
	return nil
}

func (d *Driver) EntriesInWindow(ctx context.Context, userID string, start, end time.Time) ([]storage.EntryRow, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+rowColumns+` FROM entry_rows
		WHERE user_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		ORDER BY occurred_at`, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying window: %w", err)
	}
	defer rows.Close()
	return collectRows(rows)
}

func (d *Driver) ListEntries(ctx context.Context, q storage.EntryQuery) ([]storage.EntryRow, int, error) {
	where := []string{"user_id = $1"}
	args := []any{q.UserID}

	next := func() string { return fmt.Sprintf("$%d", len(args)+1) }

	if q.Category != "" {
		where = append(where, "category = "+next())
		args = append(args, string(q.Category))
	}
	if !q.From.IsZero() {
		where = append(where, "occurred_at >= "+next())
		args = append(args, q.From)
	}
	if !q.To.IsZero() {
		where = append(where, "occurred_at < "+next())
		args = append(args, q.To)
	}
	if q.EntryIDs != nil {
		if len(q.EntryIDs) == 0 {
			return []storage.EntryRow{}, 0, nil
		}
		placeholders := make([]string, len(q.EntryIDs))
		for i, id := range q.EntryIDs {
			placeholders[i] = next()
			args = append(args, id)
		}
		where = append(where, fmt.Sprintf("entry_id IN (%s)", strings.Join(placeholders, ", ")))
	}

	clause := strings.Join(where, " AND ")

	var total int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entry_rows WHERE `+clause, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting entries: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	limitArg, offsetArg := next(), ""
	args = append(args, limit)
	offsetArg = next()
	args = append(args, q.Offset)

	rows, err := d.db.QueryContext(ctx, `
		SELECT `+rowColumns+` FROM entry_rows WHERE `+clause+`
		ORDER BY occurred_at DESC LIMIT `+limitArg+` OFFSET `+offsetArg, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	out, err := collectRows(rows)
	return out, total, err
}

func (d *Driver) RowsNeedingRepair(ctx context.Context, limit int) ([]storage.EntryRow, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+rowColumns+` FROM entry_rows
		WHERE needs_repair ORDER BY occurred_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying repair rows: %w", err)
	}
	defer rows.Close()
	return collectRows(rows)
}

func (d *Driver) SetRepairState(ctx context.Context, entryID string, attempts int, needsRepair bool) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE entry_rows SET repair_attempts = $1, needs_repair = $2
		WHERE entry_id = $3`, attempts, needsRepair, entryID)
	if err != nil {
		return fmt.Errorf("setting repair state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound{Kind: "entry row", ID: entryID}
	}
	return nil
}

func (d *Driver) DeleteEntryRow(ctx context.Context, entryID string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM entry_rows WHERE entry_id = $1`, entryID)
	if err != nil {
		return fmt.Errorf("deleting entry row: %w", err)
	}
	return nil
}

func (d *Driver) GetStreak(ctx context.Context, userID string) (*journal.StreakState, error) {
	var s journal.StreakState
	s.UserID = userID
	err := d.db.QueryRowContext(ctx, `
		SELECT current_streak, longest_streak, last_entry_date
		FROM streaks WHERE user_id = $1`, userID,
	).Scan(&s.CurrentStreak, &s.LongestStreak, &s.LastEntryDate)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound{Kind: "streak", ID: userID}
	}
	if err != nil {
		return nil, fmt.Errorf("getting streak: %w", err)
	}
	return &s, nil
}

func (d *Driver) PutStreak(ctx context.Context, s *journal.StreakState) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO streaks (user_id, current_streak, longest_streak, last_entry_date)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			current_streak = EXCLUDED.current_streak,
			longest_streak = EXCLUDED.longest_streak,
			last_entry_date = EXCLUDED.last_entry_date`,
		s.UserID, s.CurrentStreak, s.LongestStreak, s.LastEntryDate)
	if err != nil {
		return fmt.Errorf("putting streak: %w", err)
	}
	return nil
}

const artifactColumns = `id, user_id, period_key, kind, content, source_entry_ids,
	entry_count, category_histogram, productivity_score, degraded, generated_at`

func scanArtifact(scan func(dest ...any) error) (*journal.AggregationArtifact, error) {
	var a journal.AggregationArtifact
	var kind string
	var sourceIDs, histogram []byte
	err := scan(&a.ID, &a.UserID, &a.PeriodKey, &kind, &a.Content, &sourceIDs,
		&a.EntryCount, &histogram, &a.ProductivityScore, &a.Degraded, &a.GeneratedAt)
	if err != nil {
		return nil, err
	}
	a.Kind = journal.ArtifactKind(kind)
	if err := json.Unmarshal(sourceIDs, &a.SourceEntryIDs); err != nil {
		return nil, fmt.Errorf("decoding source ids: %w", err)
	}
	if err := json.Unmarshal(histogram, &a.CategoryHistogram); err != nil {
		return nil, fmt.Errorf("decoding histogram: %w", err)
	}
	return &a, nil
}

func (d *Driver) InsertArtifact(ctx context.Context, a *journal.AggregationArtifact) (*journal.AggregationArtifact, bool, error) {
	sourceIDs, _ := json.Marshal(a.SourceEntryIDs)
	histogram, _ := json.Marshal(a.CategoryHistogram)

	res, err := d.db.ExecContext(ctx, `
		INSERT INTO artifacts (`+artifactColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, period_key, kind) DO NOTHING`,
		a.ID, a.UserID, a.PeriodKey, string(a.Kind), a.Content, sourceIDs,
		a.EntryCount, histogram, a.ProductivityScore, a.Degraded, a.GeneratedAt)
	if err != nil {
		return nil, false, fmt.Errorf("inserting artifact: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return a, true, nil
	}
	existing, err := d.GetArtifact(ctx, a.UserID, a.PeriodKey, a.Kind)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (d *Driver) ReplaceArtifact(ctx context.Context, a *journal.AggregationArtifact) (*journal.AggregationArtifact, error) {
	sourceIDs, _ := json.Marshal(a.SourceEntryIDs)
	histogram, _ := json.Marshal(a.CategoryHistogram)

	res, err := d.db.ExecContext(ctx, `
		UPDATE artifacts SET
			content = $1, source_entry_ids = $2, entry_count = $3,
			category_histogram = $4, productivity_score = $5, degraded = $6,
			generated_at = $7
		WHERE user_id = $8 AND period_key = $9 AND kind = $10`,
		a.Content, sourceIDs, a.EntryCount, histogram, a.ProductivityScore,
		a.Degraded, a.GeneratedAt, a.UserID, a.PeriodKey, string(a.Kind))
	if err != nil {
		return nil, fmt.Errorf("replacing artifact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		stored, _, err := d.InsertArtifact(ctx, a)
		return stored, err
	}
	return d.GetArtifact(ctx, a.UserID, a.PeriodKey, a.Kind)
}

func (d *Driver) GetArtifact(ctx context.Context, userID, periodKey string, kind journal.ArtifactKind) (*journal.AggregationArtifact, error) {
	a, err := scanArtifact(d.db.QueryRowContext(ctx, `
		SELECT `+artifactColumns+` FROM artifacts
		WHERE user_id = $1 AND period_key = $2 AND kind = $3`,
		userID, periodKey, string(kind)).Scan)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound{Kind: "artifact", ID: periodKey}
	}
	if err != nil {
		return nil, fmt.Errorf("getting artifact: %w", err)
	}
	return a, nil
}

func (d *Driver) ListArtifacts(ctx context.Context, userID string, kind journal.ArtifactKind, limit, offset int) ([]journal.AggregationArtifact, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+artifactColumns+` FROM artifacts
		WHERE user_id = $1 AND kind = $2
		ORDER BY period_key DESC LIMIT $3 OFFSET $4`,
		userID, string(kind), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	defer rows.Close()

	var out []journal.AggregationArtifact
	for rows.Next() {
		a, err := scanArtifact(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (d *Driver) GetPrefs(ctx context.Context, userID string) (*journal.UserPrefs, error) {
	var p journal.UserPrefs
	p.UserID = userID
	err := d.db.QueryRowContext(ctx, `
		SELECT timezone, week_start_day, morning_hour, evening_hour, nudges_enabled
		FROM prefs WHERE user_id = $1`, userID,
	).Scan(&p.Timezone, &p.WeekStartDay, &p.MorningHour, &p.EveningHour, &p.NudgesEnabled)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound{Kind: "prefs", ID: userID}
	}
	if err != nil {
		return nil, fmt.Errorf("getting prefs: %w", err)
	}
	return &p, nil
}

func (d *Driver) PutPrefs(ctx context.Context, p *journal.UserPrefs) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO prefs (user_id, timezone, week_start_day, morning_hour, evening_hour, nudges_enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			timezone = EXCLUDED.timezone,
			week_start_day = EXCLUDED.week_start_day,
			morning_hour = EXCLUDED.morning_hour,
			evening_hour = EXCLUDED.evening_hour,
			nudges_enabled = EXCLUDED.nudges_enabled`,
		p.UserID, p.Timezone, p.WeekStartDay, p.MorningHour, p.EveningHour, p.NudgesEnabled)
	if err != nil {
		return fmt.Errorf("putting prefs: %w", err)
	}
	return nil
}

func (d *Driver) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT user_id FROM prefs
		UNION SELECT DISTINCT user_id FROM entry_rows
		ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning user id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (d *Driver) LastEntryAt(ctx context.Context, userID string) (time.Time, error) {
	var t sql.NullTime
	err := d.db.QueryRowContext(ctx,
		`SELECT MAX(occurred_at) FROM entry_rows WHERE user_id = $1`, userID,
	).Scan(&t)
	if err != nil {
		return time.Time{}, fmt.Errorf("getting last entry time: %w", err)
	}
	if !t.Valid {
		return time.Time{}, storage.ErrNotFound{Kind: "entry row", ID: userID}
	}
	return t.Time, nil
}

func (d *Driver) LogNudge(ctx context.Context, n *journal.NudgeRecord) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO nudge_log (user_id, kind, sent_at) VALUES ($1, $2, $3)`,
		n.UserID, n.Kind, n.SentAt)
	if err != nil {
		return fmt.Errorf("logging nudge: %w", err)
	}
	return nil
}

func (d *Driver) LastNudge(ctx context.Context, userID string) (*journal.NudgeRecord, error) {
	var n journal.NudgeRecord
	n.UserID = userID
	err := d.db.QueryRowContext(ctx, `
		SELECT kind, sent_at FROM nudge_log
		WHERE user_id = $1 ORDER BY sent_at DESC LIMIT 1`, userID,
	).Scan(&n.Kind, &n.SentAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound{Kind: "nudge", ID: userID}
	}
	if err != nil {
		return nil, fmt.Errorf("getting last nudge: %w", err)
	}
	return &n, nil
}

func (d *Driver) GetJob(ctx context.Context, userID, periodKey string, kind journal.JobKind) (*journal.JobState, error) {
	var j journal.JobState
	var status string
	err := d.db.QueryRowContext(ctx, `
		SELECT user_id, period_key, kind, status, attempts, last_error, not_before, updated_at
		FROM jobs WHERE user_id = $1 AND period_key = $2 AND kind = $3`,
		userID, periodKey, string(kind),
	).Scan(&j.UserID, &j.PeriodKey, &j.Kind, &status, &j.Attempts, &j.LastError,
		&j.NotBefore, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound{Kind: "job", ID: userID + "/" + periodKey}
	}
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	j.Status = journal.JobStatus(status)
	return &j, nil
}

func (d *Driver) PutJob(ctx context.Context, j *journal.JobState) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO jobs (user_id, period_key, kind, status, attempts, last_error, not_before, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, period_key, kind) DO UPDATE SET
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			not_before = EXCLUDED.not_before,
			updated_at = EXCLUDED.updated_at`,
		j.UserID, j.PeriodKey, string(j.Kind), string(j.Status), j.Attempts,
		j.LastError, j.NotBefore, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("putting job: %w", err)
	}
	return nil
}

func (d *Driver) ListJobs(ctx context.Context, status journal.JobStatus, limit int) ([]journal.JobState, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT user_id, period_key, kind, status, attempts, last_error, not_before, updated_at
		FROM jobs WHERE status = $1 ORDER BY updated_at DESC LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var out []journal.JobState
	for rows.Next() {
		var j journal.JobState
		var st string
		if err := rows.Scan(&j.UserID, &j.PeriodKey, &j.Kind, &st, &j.Attempts,
			&j.LastError, &j.NotBefore, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		j.Status = journal.JobStatus(st)
		out = append(out, j)
	}
	return out, rows.Err()
}
