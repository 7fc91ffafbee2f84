// Package inmemory is a map-backed storage driver for tests and ephemeral use.
// Each tier can be failed independently to exercise degraded-commit paths.
package inmemory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/murmurhq/murmur/pkg/journal"
	"github.com/murmurhq/murmur/pkg/storage"
)

// Driver implements storage.Driver entirely in memory.
type Driver struct {
	mu sync.RWMutex

	entries   map[string]*journal.Entry // by id
	entryKeys map[string]string         // user|key -> entry id
	facts     map[string]*journal.StructuredFact
	rows      map[string]*storage.EntryRow
	streaks   map[string]*journal.StreakState
	artifacts map[string]*journal.AggregationArtifact // user|period|kind
	prefs     map[string]*journal.UserPrefs
	nudges    map[string][]journal.NudgeRecord
	jobs      map[string]*journal.JobState // user|period|kind

	// Failure injection. When set, the corresponding tier's writes return
	// the error instead of mutating state. The job table injects separately
	// from the entry tiers so job bookkeeping can survive a relational
	// outage the way the scheduler expects.
	FailRaw        error
	FailFact       error
	FailRelational error
	FailJobs       error
}

var _ storage.Driver = (*Driver)(nil)

// NewDriver returns an empty in-memory driver.
func NewDriver() *Driver {
	return &Driver{
		entries:   make(map[string]*journal.Entry),
		entryKeys: make(map[string]string),
		facts:     make(map[string]*journal.StructuredFact),
		rows:      make(map[string]*storage.EntryRow),
		streaks:   make(map[string]*journal.StreakState),
		artifacts: make(map[string]*journal.AggregationArtifact),
		prefs:     make(map[string]*journal.UserPrefs),
		nudges:    make(map[string][]journal.NudgeRecord),
		jobs:      make(map[string]*journal.JobState),
	}
}

// Close is a no-op.
func (d *Driver) Close() error { return nil }

func keyFor(userID, key string) string { return userID + "|" + key }

func artifactKey(userID, periodKey string, kind journal.ArtifactKind) string {
	return userID + "|" + periodKey + "|" + string(kind)
}

func (d *Driver) AppendEntry(_ context.Context, e *journal.Entry) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailRaw != nil {
		return false, d.FailRaw
	}

	k := keyFor(e.UserID, e.IdempotencyKey)
	if _, exists := d.entryKeys[k]; exists {
		return false, nil
	}
	cp := *e
	d.entries[e.ID] = &cp
	d.entryKeys[k] = e.ID
	return true, nil
}

func (d *Driver) GetEntry(_ context.Context, entryID string) (*journal.Entry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[entryID]
	if !ok {
		return nil, storage.ErrNotFound{Kind: "entry", ID: entryID}
	}
	cp := *e
	return &cp, nil
}

func (d *Driver) GetEntryByKey(_ context.Context, userID, key string) (*journal.Entry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.entryKeys[keyFor(userID, key)]
	if !ok {
		return nil, storage.ErrNotFound{Kind: "entry", ID: key}
	}
	cp := *d.entries[id]
	return &cp, nil
}

func (d *Driver) SetIngestStatus(_ context.Context, entryID string, status journal.IngestStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailRaw != nil {
		return d.FailRaw
	}
	e, ok := d.entries[entryID]
	if !ok {
		return storage.ErrNotFound{Kind: "entry", ID: entryID}
	}
	e.IngestStatus = status
	return nil
}

func (d *Driver) EntryDates(_ context.Context, userID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[string]bool)
	for _, e := range d.entries {
		if e.UserID == userID {
			seen[e.OccurredDate()] = true
		}
	}
	dates := make([]string, 0, len(seen))
	for date := range seen {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates, nil
}

func (d *Driver) DeleteEntry(_ context.Context, entryID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailRaw != nil {
		return d.FailRaw
	}
	if e, ok := d.entries[entryID]; ok {
		delete(d.entryKeys, keyFor(e.UserID, e.IdempotencyKey))
		delete(d.entries, entryID)
	}
	return nil
}

func (d *Driver) PutFact(_ context.Context, f *journal.StructuredFact) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailFact != nil {
		return d.FailFact
	}
	cp := *f
	d.facts[f.EntryID] = &cp
	return nil
}

func (d *Driver) GetFact(_ context.Context, entryID string) (*journal.StructuredFact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.facts[entryID]
	if !ok {
		return nil, storage.ErrNotFound{Kind: "fact", ID: entryID}
	}
	cp := *f
	return &cp, nil
}

func (d *Driver) DeleteFact(_ context.Context, entryID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailFact != nil {
		return d.FailFact
	}
	delete(d.facts, entryID)
	return nil
}

func (d *Driver) UpsertEntryRow(_ context.Context, row *storage.EntryRow) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailRelational != nil {
		return d.FailRelational
	}
	cp := *row
	d.rows[row.EntryID] = &cp
	return nil
}

func (d *Driver) EntriesInWindow(_ context.Context, userID string, start, end time.Time) ([]storage.EntryRow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []storage.EntryRow
	for _, r := range d.rows {
		if r.UserID == userID && !r.OccurredAt.Before(start) && r.OccurredAt.Before(end) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (d *Driver) ListEntries(_ context.Context, q storage.EntryQuery) ([]storage.EntryRow, int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var idFilter map[string]bool
	if q.EntryIDs != nil {
		idFilter = make(map[string]bool, len(q.EntryIDs))
		for _, id := range q.EntryIDs {
			idFilter[id] = true
		}
	}

	var matched []storage.EntryRow
	for _, r := range d.rows {
		if r.UserID != q.UserID {
			continue
		}
		if q.Category != "" && r.Category != q.Category {
			continue
		}
		if !q.From.IsZero() && r.OccurredAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !r.OccurredAt.Before(q.To) {
			continue
		}
		if idFilter != nil && !idFilter[r.EntryID] {
			continue
		}
		matched = append(matched, *r)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].OccurredAt.After(matched[j].OccurredAt) })

	total := len(matched)
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	if q.Offset >= total {
		return []storage.EntryRow{}, total, nil
	}
	end := q.Offset + limit
	if end > total {
		end = total
	}
	return matched[q.Offset:end], total, nil
}

func (d *Driver) RowsNeedingRepair(_ context.Context, limit int) ([]storage.EntryRow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []storage.EntryRow
	for _, r := range d.rows {
		if r.NeedsRepair {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (d *Driver) SetRepairState(_ context.Context, entryID string, attempts int, needsRepair bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailRelational != nil {
		return d.FailRelational
	}
	r, ok := d.rows[entryID]
	if !ok {
		return storage.ErrNotFound{Kind: "entry row", ID: entryID}
	}
	r.RepairAttempts = attempts
	r.NeedsRepair = needsRepair
	return nil
}

func (d *Driver) DeleteEntryRow(_ context.Context, entryID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailRelational != nil {
		return d.FailRelational
	}
	delete(d.rows, entryID)
	return nil
}

func (d *Driver) GetStreak(_ context.Context, userID string) (*journal.StreakState, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.streaks[userID]
	if !ok {
		return nil, storage.ErrNotFound{Kind: "streak", ID: userID}
	}
	cp := *s
	return &cp, nil
}

func (d *Driver) PutStreak(_ context.Context, s *journal.StreakState) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailRelational != nil {
		return d.FailRelational
	}
	cp := *s
	d.streaks[s.UserID] = &cp
	return nil
}

func (d *Driver) InsertArtifact(_ context.Context, a *journal.AggregationArtifact) (*journal.AggregationArtifact, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailRelational != nil {
		return nil, false, d.FailRelational
	}
	k := artifactKey(a.UserID, a.PeriodKey, a.Kind)
	if existing, ok := d.artifacts[k]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *a
	d.artifacts[k] = &cp
	stored := cp
	return &stored, true, nil
}

func (d *Driver) ReplaceArtifact(_ context.Context, a *journal.AggregationArtifact) (*journal.AggregationArtifact, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailRelational != nil {
		return nil, d.FailRelational
	}
	k := artifactKey(a.UserID, a.PeriodKey, a.Kind)
	cp := *a
	if existing, ok := d.artifacts[k]; ok {
		cp.ID = existing.ID
	}
	d.artifacts[k] = &cp
	stored := cp
	return &stored, nil
}

func (d *Driver) GetArtifact(_ context.Context, userID, periodKey string, kind journal.ArtifactKind) (*journal.AggregationArtifact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.artifacts[artifactKey(userID, periodKey, kind)]
	if !ok {
		return nil, storage.ErrNotFound{Kind: "artifact", ID: periodKey}
	}
	cp := *a
	return &cp, nil
}

func (d *Driver) ListArtifacts(_ context.Context, userID string, kind journal.ArtifactKind, limit, offset int) ([]journal.AggregationArtifact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []journal.AggregationArtifact
	for _, a := range d.artifacts {
		if a.UserID == userID && a.Kind == kind {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].PeriodKey, out[j].PeriodKey) > 0
	})
	if offset >= len(out) {
		return []journal.AggregationArtifact{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (d *Driver) GetPrefs(_ context.Context, userID string) (*journal.UserPrefs, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.prefs[userID]
	if !ok {
		return nil, storage.ErrNotFound{Kind: "prefs", ID: userID}
	}
	cp := *p
	return &cp, nil
}

func (d *Driver) PutPrefs(_ context.Context, p *journal.UserPrefs) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailRelational != nil {
		return d.FailRelational
	}
	cp := *p
	d.prefs[p.UserID] = &cp
	return nil
}

func (d *Driver) ListUsers(_ context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[string]bool)
	for id := range d.prefs {
		seen[id] = true
	}
	for _, r := range d.rows {
		seen[r.UserID] = true
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (d *Driver) LastEntryAt(_ context.Context, userID string) (time.Time, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var last time.Time
	for _, r := range d.rows {
		if r.UserID == userID && r.OccurredAt.After(last) {
			last = r.OccurredAt
		}
	}
	if last.IsZero() {
		return time.Time{}, storage.ErrNotFound{Kind: "entry row", ID: userID}
	}
	return last, nil
}

func (d *Driver) LogNudge(_ context.Context, n *journal.NudgeRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailRelational != nil {
		return d.FailRelational
	}
	d.nudges[n.UserID] = append(d.nudges[n.UserID], *n)
	return nil
}

func (d *Driver) LastNudge(_ context.Context, userID string) (*journal.NudgeRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	log := d.nudges[userID]
	if len(log) == 0 {
		return nil, storage.ErrNotFound{Kind: "nudge", ID: userID}
	}
	latest := log[0]
	for _, n := range log[1:] {
		if n.SentAt.After(latest.SentAt) {
			latest = n
		}
	}
	return &latest, nil
}

func (d *Driver) GetJob(_ context.Context, userID, periodKey string, kind journal.JobKind) (*journal.JobState, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	j, ok := d.jobs[userID+"|"+periodKey+"|"+string(kind)]
	if !ok {
		return nil, storage.ErrNotFound{Kind: "job", ID: userID + "/" + periodKey}
	}
	cp := *j
	return &cp, nil
}

func (d *Driver) PutJob(_ context.Context, j *journal.JobState) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailJobs != nil {
		return d.FailJobs
	}
	cp := *j
	d.jobs[j.UserID+"|"+j.PeriodKey+"|"+string(j.Kind)] = &cp
	return nil
}

func (d *Driver) ListJobs(_ context.Context, status journal.JobStatus, limit int) ([]journal.JobState, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []journal.JobState
	for _, j := range d.jobs {
		if j.Status == status {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
