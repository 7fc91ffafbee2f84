// Package memory coordinates entry commits across the four storage tiers.
//
// The raw transcript tier is the system of record: an entry exists once its
// raw append lands, and nothing that happens afterwards can un-exist it.
// Structured facts and embeddings are derived representations; when their
// writes fail the commit completes degraded instead of aborting, and the
// relational row carries a repair flag so a background sweep can finish the
// job. The relational tier is written synchronously because every dashboard
// and aggregation read comes from it.
//
// All writes for one user are serialized through a per-user mutex. Entries
// may still arrive out of order (device offline queues flush late); streak
// state is advanced incrementally on in-order commits and re-derived from the
// raw tier's date set when a commit lands behind the newest known date.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/murmurhq/murmur/pkg/embeddings"
	"github.com/murmurhq/murmur/pkg/eventstream"
	"github.com/murmurhq/murmur/pkg/journal"
	"github.com/murmurhq/murmur/pkg/storage"
	"github.com/murmurhq/murmur/pkg/vector"
)

// Coordinator owns the commit boundary for journal entries.
type Coordinator struct {
	store   storage.Driver
	vectors vector.VectorDriver
	embed   embeddings.Embedder
	events  eventstream.Publisher
	logger  *zap.Logger

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

// CommitInput is one entry plus its (possibly missing) classification.
type CommitInput struct {
	Entry *journal.Entry

	// Fact is nil when classification failed upstream; the commit proceeds
	// degraded and the repair sweep retries later.
	Fact *journal.StructuredFact
}

// CommitResult reports what one commit did.
type CommitResult struct {
	Entry *journal.Entry

	// Duplicate is true when the idempotency key already existed. The
	// stored entry is returned and nothing was written.
	Duplicate bool

	// Tiers records which tiers the commit reached.
	Tiers eventstream.TierOutcome

	// Streak is the user's streak state after the commit.
	Streak *journal.StreakState
}

// NewCoordinator wires the commit boundary. The publisher may be nil when no
// event stream is configured.
func NewCoordinator(store storage.Driver, vectors vector.VectorDriver, embed embeddings.Embedder, events eventstream.Publisher, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:   store,
		vectors: vectors,
		embed:   embed,
		events:  events,
		logger:  logger,
		users:   make(map[string]*sync.Mutex),
	}
}

// userLock returns the serialization mutex for one user.
func (c *Coordinator) userLock(userID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.users[userID]
	if !ok {
		lock = &sync.Mutex{}
		c.users[userID] = lock
	}
	return lock
}

// Commit lands an entry across the tiers. Only a raw-tier failure returns an
// error; every other tier failure degrades the commit.
func (c *Coordinator) Commit(ctx context.Context, in CommitInput) (*CommitResult, error) {
	e := in.Entry
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.IdempotencyKey == "" {
		e.IdempotencyKey = journal.IdempotencyKey(e.UserID, e.AudioRef, e.OccurredAt)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.IngestStatus = journal.StatusPending

	lock := c.userLock(e.UserID)
	lock.Lock()
	defer lock.Unlock()

	created, err := c.store.AppendEntry(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("raw append: %w", err)
	}
	if !created {
		existing, err := c.store.GetEntryByKey(ctx, e.UserID, e.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("loading duplicate entry: %w", err)
		}
		c.logger.Debug("duplicate ingestion attempt",
			zap.String("user_id", e.UserID),
			zap.String("entry_id", existing.ID),
		)
		return &CommitResult{Entry: existing, Duplicate: true}, nil
	}

	tiers := eventstream.TierOutcome{Raw: true}

	// Structured tier.
	if in.Fact != nil {
		in.Fact.EntryID = e.ID
		if err := c.store.PutFact(ctx, in.Fact); err != nil {
			c.logger.Warn("structured tier write failed, committing degraded",
				zap.String("entry_id", e.ID),
				zap.Error(err),
			)
		} else {
			tiers.Structured = true
		}
	}

	// Vector tier. The summary embeds better than a rambling transcript,
	// so it is preferred when classification landed.
	if c.vectors != nil && c.embed != nil {
		if err := c.indexEntry(ctx, e, in.Fact); err != nil {
			c.logger.Warn("vector tier write failed, committing degraded",
				zap.String("entry_id", e.ID),
				zap.Error(err),
			)
		} else {
			tiers.Vector = true
		}
	}

	degraded := !tiers.Structured || (c.vectors != nil && !tiers.Vector)
	status := journal.StatusCommitted
	if degraded {
		status = journal.StatusDegraded
	}

	// Relational tier. The row only carries structured columns the
	// structured tier actually holds; a failed fact write leaves them
	// nulled with needs_repair set.
	rowFact := in.Fact
	if !tiers.Structured {
		rowFact = nil
	}
	row := rowForEntry(e, rowFact, status, degraded)
	if err := c.store.UpsertEntryRow(ctx, row); err != nil {
		c.logger.Error("relational tier write failed, committing degraded",
			zap.String("entry_id", e.ID),
			zap.Error(err),
		)
		degraded = true
		status = journal.StatusDegraded
	} else {
		tiers.Relational = true
	}

	// Streak update happens inside the commit boundary, after the raw
	// append that justifies it.
	streak, err := c.updateStreak(ctx, e)
	if err != nil {
		c.logger.Error("streak update failed",
			zap.String("user_id", e.UserID),
			zap.Error(err),
		)
	}

	if err := c.store.SetIngestStatus(ctx, e.ID, status); err != nil {
		c.logger.Error("status advance failed",
			zap.String("entry_id", e.ID),
			zap.Error(err),
		)
	}
	e.IngestStatus = status

	c.publishIngested(ctx, e, tiers, streak)

	c.logger.Info("entry committed",
		zap.String("user_id", e.UserID),
		zap.String("entry_id", e.ID),
		zap.String("status", string(status)),
	)

	return &CommitResult{Entry: e, Tiers: tiers, Streak: streak}, nil
}

// indexEntry embeds and stores the entry's semantic representation.
func (c *Coordinator) indexEntry(ctx context.Context, e *journal.Entry, fact *journal.StructuredFact) error {
	text := e.RawText
	if fact != nil && fact.Summary != "" {
		text = fact.Summary
	}

	embedding, err := c.embed.Embed(ctx, text)
	if err != nil {
		return err
	}
	return c.vectors.Add(ctx, []vector.Document{{
		ID:        e.ID,
		UserID:    e.UserID,
		Text:      text,
		Embedding: embedding,
	}})
}

// updateStreak advances or re-derives the user's streak for a new entry.
func (c *Coordinator) updateStreak(ctx context.Context, e *journal.Entry) (*journal.StreakState, error) {
	current, err := c.store.GetStreak(ctx, e.UserID)
	if err != nil && !storage.IsNotFound(err) {
		return nil, err
	}
	if current == nil {
		current = &journal.StreakState{UserID: e.UserID}
	}

	date := e.OccurredDate()

	var next journal.StreakState
	if current.LastEntryDate != "" && date < current.LastEntryDate {
		// Out-of-order arrival: the incremental rule can't absorb a date
		// in the past, so rebuild from the raw tier's full date set.
		dates, err := c.store.EntryDates(ctx, e.UserID)
		if err != nil {
			return nil, err
		}
		next = journal.RederiveStreak(e.UserID, dates)
		next.LongestStreak = max(next.LongestStreak, current.LongestStreak)
	} else {
		next = journal.AdvanceStreak(*current, date)
	}

	if err := c.store.PutStreak(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// ApplyFact finishes a degraded entry: it lands the late classification,
// re-indexes the embedding off the summary, and flips the entry committed.
// Used by the repair sweep.
func (c *Coordinator) ApplyFact(ctx context.Context, entryID string, fact *journal.StructuredFact) error {
	entry, err := c.store.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}

	lock := c.userLock(entry.UserID)
	lock.Lock()
	defer lock.Unlock()

	fact.EntryID = entryID
	if err := c.store.PutFact(ctx, fact); err != nil {
		return fmt.Errorf("structured tier: %w", err)
	}

	if c.vectors != nil && c.embed != nil {
		if err := c.indexEntry(ctx, entry, fact); err != nil {
			return fmt.Errorf("vector tier: %w", err)
		}
	}

	row := rowForEntry(entry, fact, journal.StatusCommitted, false)
	if err := c.store.UpsertEntryRow(ctx, row); err != nil {
		return fmt.Errorf("relational tier: %w", err)
	}

	if err := c.store.SetIngestStatus(ctx, entryID, journal.StatusCommitted); err != nil {
		return fmt.Errorf("status advance: %w", err)
	}

	c.logger.Info("degraded entry repaired",
		zap.String("entry_id", entryID),
	)
	return nil
}

// Delete removes an entry from every tier. User-initiated; the raw tier goes
// last so a partial failure leaves the system of record intact.
func (c *Coordinator) Delete(ctx context.Context, entryID string) error {
	entry, err := c.store.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}

	lock := c.userLock(entry.UserID)
	lock.Lock()
	defer lock.Unlock()

	if c.vectors != nil {
		if err := c.vectors.Delete(ctx, []string{entryID}); err != nil {
			return fmt.Errorf("vector tier: %w", err)
		}
	}
	if err := c.store.DeleteFact(ctx, entryID); err != nil {
		return fmt.Errorf("structured tier: %w", err)
	}
	if err := c.store.DeleteEntryRow(ctx, entryID); err != nil {
		return fmt.Errorf("relational tier: %w", err)
	}
	if err := c.store.DeleteEntry(ctx, entryID); err != nil {
		return fmt.Errorf("raw tier: %w", err)
	}

	// The deleted entry may have carried the streak; rebuild from what's left.
	dates, err := c.store.EntryDates(ctx, entry.UserID)
	if err != nil {
		return fmt.Errorf("rederiving streak: %w", err)
	}
	current, err := c.store.GetStreak(ctx, entry.UserID)
	if err != nil && !storage.IsNotFound(err) {
		return err
	}
	next := journal.RederiveStreak(entry.UserID, dates)
	if current != nil {
		next.LongestStreak = max(next.LongestStreak, current.LongestStreak)
	}
	if err := c.store.PutStreak(ctx, &next); err != nil {
		return err
	}

	c.publishDeleted(ctx, entry)

	c.logger.Info("entry deleted",
		zap.String("user_id", entry.UserID),
		zap.String("entry_id", entryID),
	)
	return nil
}

// Recall returns the user's entries most similar to the query text. Feeds
// style-example retrieval for weekly reports.
func (c *Coordinator) Recall(ctx context.Context, userID, query string, topK int) ([]vector.QueryResult, error) {
	if c.vectors == nil || c.embed == nil {
		return nil, nil
	}
	embedding, err := c.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return c.vectors.Query(ctx, userID, embedding, topK)
}

func (c *Coordinator) publishIngested(ctx context.Context, e *journal.Entry, tiers eventstream.TierOutcome, streak *journal.StreakState) {
	if c.events == nil {
		return
	}
	err := c.events.PublishEntryIngested(ctx, &eventstream.EntryIngestedEvent{
		SchemaVersion: eventstream.SchemaVersionV1,
		EventType:     eventstream.EventTypeEntryIngested,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		Entry:         *e,
		Tiers:         tiers,
		Streak:        streak,
	})
	if err != nil {
		c.logger.Warn("entry ingested event publish failed",
			zap.String("entry_id", e.ID),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) publishDeleted(ctx context.Context, e *journal.Entry) {
	if c.events == nil {
		return
	}
	err := c.events.PublishEntryDeleted(ctx, &eventstream.EntryDeletedEvent{
		SchemaVersion: eventstream.SchemaVersionV1,
		EventType:     eventstream.EventTypeEntryDeleted,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		UserID:        e.UserID,
		EntryID:       e.ID,
	})
	if err != nil {
		c.logger.Warn("entry deleted event publish failed",
			zap.String("entry_id", e.ID),
			zap.Error(err),
		)
	}
}

// rowForEntry denormalizes an entry (and its fact, when present) into the
// relational tier's shape.
func rowForEntry(e *journal.Entry, fact *journal.StructuredFact, status journal.IngestStatus, needsRepair bool) *storage.EntryRow {
	row := &storage.EntryRow{
		EntryID:      e.ID,
		UserID:       e.UserID,
		OccurredAt:   e.OccurredAt,
		OccurredDate: e.OccurredDate(),
		IngestStatus: status,
		Keywords:     []string{},
		NeedsRepair:  needsRepair,
		CreatedAt:    e.CreatedAt,
	}
	if fact != nil {
		row.Category = fact.Category
		row.Sentiment = fact.Sentiment
		row.Summary = fact.Summary
		row.Keywords = fact.Keywords
		row.Accomplishments = len(fact.Accomplishments)
		row.Blockers = len(fact.Blockers)
		row.Learnings = len(fact.Learnings)
	}
	return row
}
