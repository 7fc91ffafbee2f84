// Package worker provides the background repair pool that finishes degraded
// entries: rows whose classification or embedding never landed are retried
// off the ingestion hot path.
//
// The pool decouples repair work from the API and scheduler so a slow or
// down classifier never blocks an ingest.
package worker

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/murmurhq/murmur/pkg/classify"
	"github.com/murmurhq/murmur/pkg/journal"
	"github.com/murmurhq/murmur/pkg/storage"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
	defaultMaxAttempts       = 5
)

// Job is one degraded row for the pool to repair.
type Job struct {
	Row storage.EntryRow
}

// FactApplier lands a late classification across the tiers. Implemented by
// the memory coordinator.
type FactApplier interface {
	ApplyFact(ctx context.Context, entryID string, fact *journal.StructuredFact) error
}

// Config is the configuration options for the repair pool.
type Config struct {
	// Store reads degraded rows and tracks repair attempts.
	Store storage.Driver

	// Applier commits repaired facts across the tiers.
	Applier FactApplier

	// Classifier is the primary classifier to retry with.
	Classifier classify.Classifier

	// Fallback classifies locally once MaxAttempts is exhausted. Optional;
	// without it exhausted rows stay permanently degraded.
	Fallback classify.Classifier

	// MaxAttempts is how many primary-classifier retries a row gets before
	// falling back (defaults to 5).
	MaxAttempts int

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// Logger is the provided zap logger.
	Logger *zap.Logger
}

// Pool repairs degraded entries asynchronously via a worker pool.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewPool creates a repair pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	p := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
		logger: c.Logger,
	}

	p.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go p.worker(i)
	}

	return p, nil
}

// Enqueue submits a degraded row for repair.
// Returns true if enqueued, false if the queue is full and the job was dropped.
func (p *Pool) Enqueue(job Job) bool {
	select {
	case p.queue <- job:
		p.logger.Debug("repair job queued",
			zap.String("entry_id", job.Row.EntryID),
			zap.Int("attempts", job.Row.RepairAttempts),
		)
		return true
	default:
		p.logger.Error("repair job not queued, queue full, job dropped",
			zap.String("entry_id", job.Row.EntryID),
		)
		return false
	}
}

// Sweep enqueues up to limit rows currently flagged for repair. Called by the
// scheduler's periodic tick.
func (p *Pool) Sweep(ctx context.Context, limit int) (int, error) {
	rows, err := p.config.Store.RowsNeedingRepair(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("listing rows needing repair: %w", err)
	}

	queued := 0
	for _, row := range rows {
		if p.Enqueue(Job{Row: row}) {
			queued++
		}
	}

	if queued > 0 {
		p.logger.Info("repair sweep queued rows", zap.Int("count", queued))
	}
	return queued, nil
}

// Close signals workers to stop and waits for in-flight jobs to drain.
// Call during graceful shutdown after the HTTP server has stopped.
func (p *Pool) Close() {
	close(p.queue)
	p.wg.Wait()
}

// worker is the inner worker thread that continuously pulls jobs off the queue.
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("repair worker started", zap.Uint("worker_id", id))

	for job := range p.queue {
		p.processJob(job)
	}

	p.logger.Debug("repair worker stopped", zap.Uint("worker_id", id))
}

// processJob retries classification for one degraded row. Exhausted rows fall
// back to the local classifier; rows that still can't classify are marked
// permanently degraded so the sweep stops picking them up.
func (p *Pool) processJob(job Job) {
	ctx := context.Background()
	row := job.Row

	entry, err := p.config.Store.GetEntry(ctx, row.EntryID)
	if err != nil {
		if storage.IsNotFound(err) {
			// Entry deleted since the sweep; drop the flag.
			_ = p.config.Store.SetRepairState(ctx, row.EntryID, row.RepairAttempts, false)
			return
		}
		p.logger.Error("loading entry for repair failed",
			zap.String("entry_id", row.EntryID),
			zap.Error(err),
		)
		return
	}

	classifier := p.config.Classifier
	exhausted := row.RepairAttempts >= p.config.MaxAttempts
	if exhausted {
		classifier = p.config.Fallback
	}

	if classifier == nil {
		p.markPermanentlyDegraded(ctx, row)
		return
	}

	fact, err := classifier.Classify(ctx, entry.ID, entry.RawText)
	if err != nil {
		attempts := row.RepairAttempts + 1
		if exhausted {
			// The fallback is the last resort; nothing left to try.
			p.markPermanentlyDegraded(ctx, row)
			return
		}
		p.logger.Warn("repair classification failed",
			zap.String("entry_id", row.EntryID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		if err := p.config.Store.SetRepairState(ctx, row.EntryID, attempts, true); err != nil {
			p.logger.Error("recording repair attempt failed",
				zap.String("entry_id", row.EntryID),
				zap.Error(err),
			)
		}
		return
	}

	if err := p.config.Applier.ApplyFact(ctx, entry.ID, fact); err != nil {
		p.logger.Warn("applying repaired fact failed",
			zap.String("entry_id", row.EntryID),
			zap.Error(err),
		)
		if err := p.config.Store.SetRepairState(ctx, row.EntryID, row.RepairAttempts+1, true); err != nil {
			p.logger.Error("recording repair attempt failed",
				zap.String("entry_id", row.EntryID),
				zap.Error(err),
			)
		}
		return
	}

	p.logger.Info("entry repaired",
		zap.String("entry_id", row.EntryID),
		zap.Bool("via_fallback", exhausted),
	)
}

func (p *Pool) markPermanentlyDegraded(ctx context.Context, row storage.EntryRow) {
	if err := p.config.Store.SetRepairState(ctx, row.EntryID, row.RepairAttempts, false); err != nil {
		p.logger.Error("marking row permanently degraded failed",
			zap.String("entry_id", row.EntryID),
			zap.Error(err),
		)
		return
	}
	p.logger.Warn("entry left permanently degraded",
		zap.String("entry_id", row.EntryID),
		zap.Int("attempts", row.RepairAttempts),
	)
}
