// Package ingest is the mouth of the system: one voice note in, one entry
// committed across the tiers.
//
// The pipeline orders its steps so paid adapters are only called for work
// that will land: the rate limiter runs first, then the idempotency
// pre-check against the raw tier, and only then transcription and
// classification. A committed duplicate returns the stored entry without a
// single adapter call.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/murmurhq/murmur/pkg/classify"
	"github.com/murmurhq/murmur/pkg/journal"
	"github.com/murmurhq/murmur/pkg/memory"
	"github.com/murmurhq/murmur/pkg/ratelimit"
	"github.com/murmurhq/murmur/pkg/search"
	"github.com/murmurhq/murmur/pkg/storage"
	"github.com/murmurhq/murmur/pkg/transcribe"
	"github.com/murmurhq/murmur/pkg/utils"
)

// ErrRateLimited is returned when the user has exhausted their ingestion
// budget for the current window.
var ErrRateLimited = errors.New("ingestion rate limit exceeded")

// Input is one voice note to ingest. Audio may be nil when Transcript is
// already known (text-only clients, repair replays).
type Input struct {
	UserID     string
	AudioRef   string
	OccurredAt time.Time

	Audio    io.Reader
	Filename string

	// Transcript skips the transcription adapter when set.
	Transcript string

	// AudioDuration is the note length in seconds, when the client knows it.
	AudioDuration int
}

// Result reports what one ingestion did.
type Result struct {
	Entry *journal.Entry

	// Duplicate is true when the idempotency key was already committed; the
	// stored entry is returned and no adapter was called.
	Duplicate bool

	// Degraded is true when the entry committed without its structured fact
	// or embedding. The repair pool picks it up.
	Degraded bool

	Streak *journal.StreakState
}

// Pipeline wires the ingestion steps together.
type Pipeline struct {
	coordinator *memory.Coordinator
	store       storage.Driver
	transcriber transcribe.Transcriber
	classifier  classify.Classifier
	limiter     ratelimit.Limiter
	index       *search.Index
	logger      *zap.Logger
}

// Config is the configuration options for the pipeline.
type Config struct {
	Coordinator *memory.Coordinator
	Store       storage.Driver

	// Transcriber is optional; without it every Input must carry a
	// Transcript.
	Transcriber transcribe.Transcriber

	// Classifier is optional; without it every entry commits degraded.
	Classifier classify.Classifier

	// Limiter is optional; without it ingestion is unthrottled.
	Limiter ratelimit.Limiter

	// Index is the optional full-text index over transcripts.
	Index *search.Index

	Logger *zap.Logger
}

// NewPipeline wires an ingestion pipeline.
func NewPipeline(c *Config) *Pipeline {
	return &Pipeline{
		coordinator: c.Coordinator,
		store:       c.Store,
		transcriber: c.Transcriber,
		classifier:  c.Classifier,
		limiter:     c.Limiter,
		index:       c.Index,
		logger:      c.Logger,
	}
}

// Ingest runs one voice note through the pipeline.
func (p *Pipeline) Ingest(ctx context.Context, in Input) (*Result, error) {
	if in.UserID == "" {
		return nil, errors.New("user id is required")
	}

	if p.limiter != nil {
		allowed, err := p.limiter.Allow(ctx, in.UserID)
		if err != nil {
			return nil, fmt.Errorf("checking rate limit: %w", err)
		}
		if !allowed {
			p.logger.Warn("ingestion rate limited", zap.String("user_id", in.UserID))
			return nil, ErrRateLimited
		}
	}

	// Duplicate check before any paid adapter call. The coordinator checks
	// again inside the commit boundary; this one just saves money.
	key := journal.IdempotencyKey(in.UserID, in.AudioRef, in.OccurredAt)
	existing, err := p.store.GetEntryByKey(ctx, in.UserID, key)
	if err != nil && !storage.IsNotFound(err) {
		return nil, fmt.Errorf("checking idempotency key: %w", err)
	}
	if existing != nil {
		p.logger.Info("duplicate note skipped before transcription",
			zap.String("user_id", in.UserID),
			zap.String("entry_id", existing.ID),
		)
		return &Result{Entry: existing, Duplicate: true}, nil
	}

	transcript, duration, err := p.transcript(ctx, in)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("transcript ready",
		zap.String("user_id", in.UserID),
		zap.String("preview", utils.Truncate(transcript, 80)),
	)

	entry := &journal.Entry{
		ID:             uuid.NewString(),
		UserID:         in.UserID,
		OccurredAt:     in.OccurredAt,
		RawText:        transcript,
		AudioRef:       in.AudioRef,
		AudioDuration:  duration,
		IdempotencyKey: key,
	}

	// Classification failure degrades the commit instead of failing it; the
	// repair pool retries later.
	var fact *journal.StructuredFact
	if p.classifier != nil {
		fact, err = p.classifier.Classify(ctx, entry.ID, transcript)
		if err != nil {
			p.logger.Warn("classification failed, committing degraded",
				zap.String("entry_id", entry.ID),
				zap.Error(err),
			)
			fact = nil
		}
	}

	committed, err := p.coordinator.Commit(ctx, memory.CommitInput{Entry: entry, Fact: fact})
	if err != nil {
		return nil, fmt.Errorf("committing entry: %w", err)
	}

	if p.index != nil && !committed.Duplicate {
		indexErr := p.index.IndexEntry(&search.IndexedEntry{
			EntryID:      committed.Entry.ID,
			UserID:       committed.Entry.UserID,
			Text:         committed.Entry.RawText,
			OccurredDate: committed.Entry.OccurredDate(),
		})
		if indexErr != nil {
			p.logger.Warn("transcript indexing failed",
				zap.String("entry_id", committed.Entry.ID),
				zap.Error(indexErr),
			)
		}
	}

	return &Result{
		Entry:     committed.Entry,
		Duplicate: committed.Duplicate,
		Degraded:  committed.Entry.IngestStatus == journal.StatusDegraded,
		Streak:    committed.Streak,
	}, nil
}

// Delete removes an entry from every tier and the search index.
func (p *Pipeline) Delete(ctx context.Context, entryID string) error {
	if err := p.coordinator.Delete(ctx, entryID); err != nil {
		return err
	}
	if p.index != nil {
		if err := p.index.Delete(entryID); err != nil {
			p.logger.Warn("removing entry from search index failed",
				zap.String("entry_id", entryID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// transcript resolves the raw text for an input, calling the transcription
// adapter when no pre-supplied transcript exists.
func (p *Pipeline) transcript(ctx context.Context, in Input) (string, int, error) {
	if strings.TrimSpace(in.Transcript) != "" {
		return strings.TrimSpace(in.Transcript), in.AudioDuration, nil
	}
	if p.transcriber == nil || in.Audio == nil {
		return "", 0, fmt.Errorf("%w: no transcript and no audio to transcribe", transcribe.ErrTranscription)
	}

	t, err := p.transcriber.Transcribe(ctx, in.Audio, in.Filename)
	if err != nil {
		// Fatal to the attempt; nothing has been persisted yet.
		return "", 0, fmt.Errorf("transcribing %s: %w", in.AudioRef, err)
	}
	return t.Text, t.DurationSec, nil
}
