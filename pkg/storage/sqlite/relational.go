package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/murmurhq/murmur/pkg/journal"
	"github.com/murmurhq/murmur/pkg/storage"
)

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

// UpsertEntryRow writes (or rewrites) the denormalized row for an entry.
func (d *Driver) UpsertEntryRow(ctx context.Context, row *storage.EntryRow) error {
	keywords, _ := json.Marshal(row.Keywords)
	if row.Keywords == nil {
		keywords = []byte("[]")
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO entry_rows (`+rowColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entry_id) DO UPDATE SET
			ingest_status = excluded.ingest_status,
			category = excluded.category,
			sentiment = excluded.sentiment,
			summary = excluded.summary,
			keywords = excluded.keywords,
			accomplishments = excluded.accomplishments,
			blockers = excluded.blockers,
			learnings = excluded.learnings,
			needs_repair = excluded.needs_repair,
			repair_attempts = excluded.repair_attempts`,
		row.EntryID, row.UserID, row.OccurredAt, row.OccurredDate,
		string(row.IngestStatus), string(row.Category), string(row.Sentiment),
		row.Summary, keywords, row.Accomplishments, row.Blockers, row.Learnings,
		row.NeedsRepair, row.RepairAttempts, row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting entry row: %w", err)
	}
	return nil
}

// EntriesInWindow returns a user's rows with occurred_at in [start, end),
// ordered by occurrence time.
func (d *Driver) EntriesInWindow(ctx context.Context, userID string, start, end time.Time) ([]storage.EntryRow, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+rowColumns+` FROM entry_rows
		WHERE user_id = ? AND occurred_at >= ? AND occurred_at < ?
		ORDER BY occurred_at`,
		userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying window: %w", err)
	}
	defer rows.Close()
	return collectRows(rows)
}

// ListEntries filters and paginates rows for the dashboard, returning the
// page plus the total match count.
func (d *Driver) ListEntries(ctx context.Context, q storage.EntryQuery) ([]storage.EntryRow, int, error) {
	where := []string{"user_id = ?"}
	args := []any{q.UserID}

	if q.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(q.Category))
	}
	if !q.From.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, q.From)
	}
	if !q.To.IsZero() {
		where = append(where, "occurred_at < ?")
		args = append(args, q.To)
	}
	if q.EntryIDs != nil {
		if len(q.EntryIDs) == 0 {
			return []storage.EntryRow{}, 0, nil
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(q.EntryIDs)), ",")
		where = append(where, fmt.Sprintf("entry_id IN (%s)", placeholders))
		for _, id := range q.EntryIDs {
			args = append(args, id)
		}
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
	args = append(args, limit, q.Offset)

	rows, err := d.db.QueryContext(ctx, `
		SELECT `+rowColumns+` FROM entry_rows WHERE `+clause+`
		ORDER BY occurred_at DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	out, err := collectRows(rows)
	return out, total, err
}

// RowsNeedingRepair returns rows flagged for the background repair sweep,
// oldest first.
func (d *Driver) RowsNeedingRepair(ctx context.Context, limit int) ([]storage.EntryRow, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+rowColumns+` FROM entry_rows
		WHERE needs_repair = 1 ORDER BY occurred_at LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying repair rows: %w", err)
	}
	defer rows.Close()
	return collectRows(rows)
}

// SetRepairState updates the repair bookkeeping on a row.
func (d *Driver) SetRepairState(ctx context.Context, entryID string, attempts int, needsRepair bool) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE entry_rows SET repair_attempts = ?, needs_repair = ?
		WHERE entry_id = ?`, attempts, needsRepair, entryID)
	if err != nil {
		return fmt.Errorf("setting repair state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound{Kind: "entry row", ID: entryID}
	}
	return nil
}

// DeleteEntryRow removes the denormalized row for an entry.
func (d *Driver) DeleteEntryRow(ctx context.Context, entryID string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM entry_rows WHERE entry_id = ?`, entryID)
	if err != nil {
		return fmt.Errorf("deleting entry row: %w", err)
	}
	return nil
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

// GetStreak retrieves a user's streak state.
func (d *Driver) GetStreak(ctx context.Context, userID string) (*journal.StreakState, error) {
	var s journal.StreakState
	s.UserID = userID
	err := d.db.QueryRowContext(ctx, `
		SELECT current_streak, longest_streak, last_entry_date
		FROM streaks WHERE user_id = ?`, userID,
	).Scan(&s.CurrentStreak, &s.LongestStreak, &s.LastEntryDate)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound{Kind: "streak", ID: userID}
	}
	if err != nil {
		return nil, fmt.Errorf("getting streak: %w", err)
	}
	return &s, nil
}

// PutStreak stores a user's streak state.
func (d *Driver) PutStreak(ctx context.Context, s *journal.StreakState) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO streaks (user_id, current_streak, longest_streak, last_entry_date)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			current_streak = excluded.current_streak,
			longest_streak = excluded.longest_streak,
			last_entry_date = excluded.last_entry_date`,
		s.UserID, s.CurrentStreak, s.LongestStreak, s.LastEntryDate)
	if err != nil {
		return fmt.Errorf("putting streak: %w", err)
	}
	return nil
}

const artifactColumns = `id, user_id, period_key, kind, content, source_entry_ids,
	entry_count, category_histogram, productivity_score, degraded, generated_at`

// InsertArtifact commits an artifact if none exists for its identity. The
// ON CONFLICT DO NOTHING makes the first committer win; a losing writer gets
// the already-committed artifact back with created=false.
func (d *Driver) InsertArtifact(ctx context.Context, a *journal.AggregationArtifact) (*journal.AggregationArtifact, bool, error) {
	sourceIDs, _ := json.Marshal(a.SourceEntryIDs)
	histogram, _ := json.Marshal(a.CategoryHistogram)

	res, err := d.db.ExecContext(ctx, `
		INSERT INTO artifacts (`+artifactColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, period_key, kind) DO NOTHING`,
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

// ReplaceArtifact overwrites an artifact's content under its existing identity.
func (d *Driver) ReplaceArtifact(ctx context.Context, a *journal.AggregationArtifact) (*journal.AggregationArtifact, error) {
	sourceIDs, _ := json.Marshal(a.SourceEntryIDs)
	histogram, _ := json.Marshal(a.CategoryHistogram)

	res, err := d.db.ExecContext(ctx, `
		UPDATE artifacts SET
			content = ?, source_entry_ids = ?, entry_count = ?,
			category_histogram = ?, productivity_score = ?, degraded = ?,
			generated_at = ?
		WHERE user_id = ? AND period_key = ? AND kind = ?`,
		a.Content, sourceIDs, a.EntryCount, histogram, a.ProductivityScore,
		a.Degraded, a.GeneratedAt, a.UserID, a.PeriodKey, string(a.Kind))
	if err != nil {
		return nil, fmt.Errorf("replacing artifact: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		stored, created, err := d.InsertArtifact(ctx, a)
		if err != nil {
			return nil, err
		}
		_ = created
		return stored, nil
	}
	return d.GetArtifact(ctx, a.UserID, a.PeriodKey, a.Kind)
}

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

// GetArtifact retrieves the artifact for (user, period, kind).
func (d *Driver) GetArtifact(ctx context.Context, userID, periodKey string, kind journal.ArtifactKind) (*journal.AggregationArtifact, error) {
	a, err := scanArtifact(d.db.QueryRowContext(ctx, `
		SELECT `+artifactColumns+` FROM artifacts
		WHERE user_id = ? AND period_key = ? AND kind = ?`,
		userID, periodKey, string(kind)).Scan)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound{Kind: "artifact", ID: periodKey}
	}
	if err != nil {
		return nil, fmt.Errorf("getting artifact: %w", err)
	}
	return a, nil
}

// ListArtifacts returns a user's artifacts of one kind, newest period first.
func (d *Driver) ListArtifacts(ctx context.Context, userID string, kind journal.ArtifactKind, limit, offset int) ([]journal.AggregationArtifact, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+artifactColumns+` FROM artifacts
		WHERE user_id = ? AND kind = ?
		ORDER BY period_key DESC LIMIT ? OFFSET ?`,
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

// GetPrefs retrieves a user's preferences.
func (d *Driver) GetPrefs(ctx context.Context, userID string) (*journal.UserPrefs, error) {
	var p journal.UserPrefs
	p.UserID = userID
	err := d.db.QueryRowContext(ctx, `
		SELECT timezone, week_start_day, morning_hour, evening_hour, nudges_enabled
		FROM prefs WHERE user_id = ?`, userID,
	).Scan(&p.Timezone, &p.WeekStartDay, &p.MorningHour, &p.EveningHour, &p.NudgesEnabled)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound{Kind: "prefs", ID: userID}
	}
	if err != nil {
		return nil, fmt.Errorf("getting prefs: %w", err)
	}
	return &p, nil
}

// PutPrefs stores a user's preferences.
func (d *Driver) PutPrefs(ctx context.Context, p *journal.UserPrefs) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO prefs (user_id, timezone, week_start_day, morning_hour, evening_hour, nudges_enabled)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			timezone = excluded.timezone,
			week_start_day = excluded.week_start_day,
			morning_hour = excluded.morning_hour,
			evening_hour = excluded.evening_hour,
			nudges_enabled = excluded.nudges_enabled`,
		p.UserID, p.Timezone, p.WeekStartDay, p.MorningHour, p.EveningHour, p.NudgesEnabled)
	if err != nil {
		return fmt.Errorf("putting prefs: %w", err)
	}
	return nil
}

// ListUsers returns every user id known to the relational tier.
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

// LastEntryAt returns the occurrence time of the user's most recent entry.
func (d *Driver) LastEntryAt(ctx context.Context, userID string) (time.Time, error) {
	var t sql.NullTime
	err := d.db.QueryRowContext(ctx,
		`SELECT MAX(occurred_at) FROM entry_rows WHERE user_id = ?`, userID,
	).Scan(&t)
	if err != nil {
		return time.Time{}, fmt.Errorf("getting last entry time: %w", err)
	}
	if !t.Valid {
		return time.Time{}, storage.ErrNotFound{Kind: "entry row", ID: userID}
	}
	return t.Time, nil
}

// LogNudge records a sent nudge.
func (d *Driver) LogNudge(ctx context.Context, n *journal.NudgeRecord) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO nudge_log (user_id, kind, sent_at) VALUES (?, ?, ?)`,
		n.UserID, n.Kind, n.SentAt)
	if err != nil {
		return fmt.Errorf("logging nudge: %w", err)
	}
	return nil
}

// LastNudge returns the most recently sent nudge for a user.
func (d *Driver) LastNudge(ctx context.Context, userID string) (*journal.NudgeRecord, error) {
	var n journal.NudgeRecord
	n.UserID = userID
	err := d.db.QueryRowContext(ctx, `
		SELECT kind, sent_at FROM nudge_log
		WHERE user_id = ? ORDER BY sent_at DESC LIMIT 1`, userID,
	).Scan(&n.Kind, &n.SentAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound{Kind: "nudge", ID: userID}
	}
	if err != nil {
		return nil, fmt.Errorf("getting last nudge: %w", err)
	}
	return &n, nil
}

// GetJob retrieves one scheduler job instance.
func (d *Driver) GetJob(ctx context.Context, userID, periodKey string, kind journal.JobKind) (*journal.JobState, error) {
	var j journal.JobState
	var status string
	err := d.db.QueryRowContext(ctx, `
		SELECT user_id, period_key, kind, status, attempts, last_error, not_before, updated_at
		FROM jobs WHERE user_id = ? AND period_key = ? AND kind = ?`,
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

// PutJob persists a job state transition.
func (d *Driver) PutJob(ctx context.Context, j *journal.JobState) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO jobs (user_id, period_key, kind, status, attempts, last_error, not_before, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, period_key, kind) DO UPDATE SET
			status = excluded.status,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			not_before = excluded.not_before,
			updated_at = excluded.updated_at`,
		j.UserID, j.PeriodKey, string(j.Kind), string(j.Status), j.Attempts,
		j.LastError, j.NotBefore, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("putting job: %w", err)
	}
	return nil
}

// ListJobs returns jobs in one status, most recently updated first.
func (d *Driver) ListJobs(ctx context.Context, status journal.JobStatus, limit int) ([]journal.JobState, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT user_id, period_key, kind, status, attempts, last_error, not_before, updated_at
		FROM jobs WHERE status = ? ORDER BY updated_at DESC LIMIT ?`,
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
