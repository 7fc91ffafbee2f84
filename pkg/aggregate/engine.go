// Package aggregate generates daily reflections and weekly reports from the
// structured tier.
//
// Deterministic fields (entry count, category histogram, productivity score)
// are computed locally and never depend on the narrator; when narrative
// generation fails after retries the engine persists a template fallback
// artifact carrying the same numbers, flagged degraded. Exactly-once
// generation rides on relational uniqueness: the first committer of a
// (user, period, kind) identity wins, everyone else reads the stored row.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/murmurhq/murmur/pkg/embeddings"
	"github.com/murmurhq/murmur/pkg/eventstream"
	"github.com/murmurhq/murmur/pkg/journal"
	"github.com/murmurhq/murmur/pkg/narrative"
	"github.com/murmurhq/murmur/pkg/storage"
	"github.com/murmurhq/murmur/pkg/vector"
)

// ErrNoEntries is returned when the period window holds no entries; there is
// nothing to reflect on and no artifact is persisted.
var ErrNoEntries = errors.New("no entries in period")

// artifactDocPrefix namespaces artifact embeddings in the shared vector tier
// so style retrieval can tell them apart from entry embeddings.
const artifactDocPrefix = "artifact:"

// styleExampleCount is how many prior texts the weekly narrator sees.
const styleExampleCount = 3

// Engine generates aggregation artifacts.
type Engine struct {
	store    storage.Driver
	vectors  vector.VectorDriver
	embed    embeddings.Embedder
	narrator narrative.Composer
	fallback narrative.Composer
	events   eventstream.Publisher
	weights  journal.ScoreWeights
	logger   *zap.Logger
}

// Config is the configuration options for the engine.
type Config struct {
	Store storage.Driver

	// Vectors and Embed are optional; without them weekly reports lose style
	// examples and artifacts are not indexed for similarity.
	Vectors vector.VectorDriver
	Embed   embeddings.Embedder

	// Narrator writes the prose. Optional; without it every artifact uses
	// the fallback.
	Narrator narrative.Composer

	// Fallback must be deterministic and local. Required.
	Fallback narrative.Composer

	// Events is the optional artifact event publisher.
	Events eventstream.Publisher

	// Weights parameterize the productivity score. Zero value means defaults.
	Weights journal.ScoreWeights

	Logger *zap.Logger
}

// NewEngine wires an aggregation engine.
func NewEngine(c *Config) (*Engine, error) {
	if c.Fallback == nil {
		return nil, errors.New("a fallback composer is required")
	}
	if c.Weights == (journal.ScoreWeights{}) {
		c.Weights = journal.DefaultScoreWeights()
	}
	return &Engine{
		store:    c.Store,
		vectors:  c.Vectors,
		embed:    c.Embed,
		narrator: c.Narrator,
		fallback: c.Fallback,
		events:   c.Events,
		weights:  c.Weights,
		logger:   c.Logger,
	}, nil
}

// Generate produces the artifact for (userID, periodKey, kind). Without
// force, an already committed artifact is returned as-is; with force the
// content is regenerated in place under the same identity.
func (e *Engine) Generate(ctx context.Context, userID, periodKey string, kind journal.ArtifactKind, force bool) (*journal.AggregationArtifact, error) {
	prefs, err := e.prefs(ctx, userID)
	if err != nil {
		return nil, err
	}

	period, err := journal.ResolvePeriod(periodKey, kind, prefs)
	if err != nil {
		return nil, err
	}

	existing, err := e.store.GetArtifact(ctx, userID, periodKey, kind)
	if err != nil && !storage.IsNotFound(err) {
		return nil, fmt.Errorf("checking existing artifact: %w", err)
	}
	if existing != nil && !force {
		return existing, nil
	}

	rows, err := e.store.EntriesInWindow(ctx, userID, period.Start, period.End)
	if err != nil {
		return nil, fmt.Errorf("loading period entries: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNoEntries, kind, periodKey)
	}

	facts, sourceIDs, degradedCount := e.collectFacts(ctx, rows)

	artifact := &journal.AggregationArtifact{
		ID:                uuid.NewString(),
		UserID:            userID,
		PeriodKey:         periodKey,
		Kind:              kind,
		SourceEntryIDs:    sourceIDs,
		EntryCount:        len(rows),
		CategoryHistogram: journal.Histogram(facts),
		ProductivityScore: journal.ProductivityScore(facts, e.weights),
		GeneratedAt:       time.Now().UTC(),
	}

	content, narrativeDegraded := e.compose(ctx, userID, period, facts, degradedCount, artifact)
	artifact.Content = content
	artifact.Degraded = narrativeDegraded || degradedCount > 0

	stored, created, err := e.persist(ctx, artifact, existing, force)
	if err != nil {
		return nil, err
	}
	if !created && !force {
		// Lost the race to a concurrent generator; theirs is the artifact.
		return stored, nil
	}

	e.indexArtifact(ctx, stored)
	e.publish(ctx, stored, force && existing != nil)

	e.logger.Info("artifact generated",
		zap.String("user_id", userID),
		zap.String("period_key", periodKey),
		zap.String("kind", string(kind)),
		zap.Bool("degraded", stored.Degraded),
		zap.Bool("regenerated", force && existing != nil),
	)
	return stored, nil
}

func (e *Engine) prefs(ctx context.Context, userID string) (journal.UserPrefs, error) {
	p, err := e.store.GetPrefs(ctx, userID)
	if storage.IsNotFound(err) {
		return journal.DefaultPrefs(userID), nil
	}
	if err != nil {
		return journal.UserPrefs{}, fmt.Errorf("loading prefs: %w", err)
	}
	return *p, nil
}

// collectFacts loads the structured fact for each row. Rows without facts
// (degraded entries) count toward the degraded total instead of failing the
// generation.
func (e *Engine) collectFacts(ctx context.Context, rows []storage.EntryRow) ([]journal.StructuredFact, []string, int) {
	facts := make([]journal.StructuredFact, 0, len(rows))
	sourceIDs := make([]string, 0, len(rows))
	degraded := 0

	for _, row := range rows {
		sourceIDs = append(sourceIDs, row.EntryID)
		fact, err := e.store.GetFact(ctx, row.EntryID)
		if err != nil {
			if !storage.IsNotFound(err) {
				e.logger.Warn("loading fact failed",
					zap.String("entry_id", row.EntryID),
					zap.Error(err),
				)
			}
			degraded++
			continue
		}
		facts = append(facts, *fact)
	}
	return facts, sourceIDs, degraded
}

// compose writes the narrative, falling back to the deterministic template
// when the narrator is missing or fails. The bool reports whether the
// fallback was used.
func (e *Engine) compose(ctx context.Context, userID string, period journal.Period, facts []journal.StructuredFact, degradedCount int, artifact *journal.AggregationArtifact) (string, bool) {
	daily := narrative.DailyInput{
		UserID:   userID,
		DateKey:  period.Key,
		Facts:    facts,
		Degraded: degradedCount,
	}
	weekly := narrative.WeeklyInput{
		UserID:    userID,
		WeekKey:   period.Key,
		Facts:     facts,
		Degraded:  degradedCount,
		Score:     artifact.ProductivityScore,
		Histogram: artifact.CategoryHistogram,
	}
	if period.Kind == journal.KindWeekly {
		weekly.StyleExamples = e.styleExamples(ctx, userID, facts)
	}

	if e.narrator != nil {
		content, err := e.composeWith(ctx, e.narrator, period.Kind, daily, weekly)
		if err == nil {
			return content, false
		}
		e.logger.Warn("narrative generation failed, using fallback",
			zap.String("user_id", userID),
			zap.String("period_key", period.Key),
			zap.Error(err),
		)
	}

	content, err := e.composeWith(ctx, e.fallback, period.Kind, daily, weekly)
	if err != nil {
		// The template composer is deterministic; this does not happen
		// outside programming errors.
		e.logger.Error("fallback composition failed",
			zap.String("period_key", period.Key),
			zap.Error(err),
		)
		content = fmt.Sprintf("%d entries recorded for %s.", len(facts)+degradedCount, period.Key)
	}
	return content, true
}

func (e *Engine) composeWith(ctx context.Context, c narrative.Composer, kind journal.ArtifactKind, daily narrative.DailyInput, weekly narrative.WeeklyInput) (string, error) {
	if kind == journal.KindWeekly {
		return c.ComposeWeekly(ctx, weekly)
	}
	return c.ComposeDaily(ctx, daily)
}

// styleExamples retrieves prior texts most similar to this week's facts so
// the narrator can echo the user's phrasing and avoid repeating past reports.
func (e *Engine) styleExamples(ctx context.Context, userID string, facts []journal.StructuredFact) []string {
	if e.vectors == nil || e.embed == nil || len(facts) == 0 {
		return nil
	}

	var summaries []string
	for _, f := range facts {
		if f.Summary != "" {
			summaries = append(summaries, f.Summary)
		}
	}
	if len(summaries) == 0 {
		return nil
	}

	embedding, err := e.embed.Embed(ctx, strings.Join(summaries, "\n"))
	if err != nil {
		e.logger.Warn("style example embedding failed", zap.Error(err))
		return nil
	}

	hits, err := e.vectors.Query(ctx, userID, embedding, styleExampleCount)
	if err != nil {
		e.logger.Warn("style example retrieval failed", zap.Error(err))
		return nil
	}

	examples := make([]string, 0, len(hits))
	for _, hit := range hits {
		if hit.Text != "" {
			examples = append(examples, hit.Text)
		}
	}
	return examples
}

// persist commits the artifact, honoring first-committer-wins for fresh
// generations and in-place replacement for forced ones.
func (e *Engine) persist(ctx context.Context, artifact *journal.AggregationArtifact, existing *journal.AggregationArtifact, force bool) (*journal.AggregationArtifact, bool, error) {
	if force && existing != nil {
		stored, err := e.store.ReplaceArtifact(ctx, artifact)
		if err != nil {
			return nil, false, fmt.Errorf("replacing artifact: %w", err)
		}
		return stored, true, nil
	}

	stored, created, err := e.store.InsertArtifact(ctx, artifact)
	if err != nil {
		return nil, false, fmt.Errorf("committing artifact: %w", err)
	}
	return stored, created, nil
}

// indexArtifact embeds the artifact content into the vector tier so future
// weekly generations can bias against repeating it.
func (e *Engine) indexArtifact(ctx context.Context, a *journal.AggregationArtifact) {
	if e.vectors == nil || e.embed == nil || a.Content == "" {
		return
	}
	embedding, err := e.embed.Embed(ctx, a.Content)
	if err != nil {
		e.logger.Warn("artifact embedding failed",
			zap.String("artifact_id", a.ID),
			zap.Error(err),
		)
		return
	}
	err = e.vectors.Add(ctx, []vector.Document{{
		ID:        artifactDocPrefix + a.ID,
		UserID:    a.UserID,
		Text:      a.Content,
		Embedding: embedding,
	}})
	if err != nil {
		e.logger.Warn("artifact indexing failed",
			zap.String("artifact_id", a.ID),
			zap.Error(err),
		)
	}
}

func (e *Engine) publish(ctx context.Context, a *journal.AggregationArtifact, regenerated bool) {
	if e.events == nil {
		return
	}
	err := e.events.PublishArtifactGenerated(ctx, &eventstream.ArtifactGeneratedEvent{
		SchemaVersion: eventstream.SchemaVersionV1,
		EventType:     eventstream.EventTypeArtifactGenerated,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		Artifact:      *a,
		Regenerated:   regenerated,
	})
	if err != nil {
		e.logger.Warn("artifact event publish failed",
			zap.String("artifact_id", a.ID),
			zap.Error(err),
		)
	}
}
