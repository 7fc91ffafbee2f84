// Package scheduler drives time-based work: daily reflections, weekly
// reports, nudge evaluation, and the repair sweep.
//
// A single per-minute cron tick evaluates every user's local clock. Nothing
// here reads the server timezone; a user in Auckland gets their evening
// reflection at their 9pm, not the host's. Job state is persisted per
// (user, period key, kind) so dedup and retry survive restarts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/murmurhq/murmur/pkg/aggregate"
	"github.com/murmurhq/murmur/pkg/journal"
	"github.com/murmurhq/murmur/pkg/notify"
	"github.com/murmurhq/murmur/pkg/nudge"
	"github.com/murmurhq/murmur/pkg/storage"
	"github.com/murmurhq/murmur/pkg/worker"
)

var (
	defaultMaxAttempts = 3
	defaultJobBudget   = 2 * time.Minute
	defaultRetryBase   = time.Minute
	repairSweepBatch   = 100
	jobRetryBatch      = 100
)

// Engine owns the cron loop and the job state machine.
type Engine struct {
	store       storage.Driver
	aggregator  *aggregate.Engine
	notifier    notify.Notifier
	repair      *worker.Pool
	logger      *zap.Logger
	maxAttempts int
	jobBudget   time.Duration
	now         func() time.Time

	cron *cron.Cron
	wg   sync.WaitGroup
}

// Config is the configuration options for the engine.
type Config struct {
	Store      storage.Driver
	Aggregator *aggregate.Engine

	// Notifier delivers nudges. Optional; without it nudges are decided and
	// logged but not sent.
	Notifier notify.Notifier

	// Repair is the optional background repair pool, swept every four hours.
	Repair *worker.Pool

	// MaxAttempts bounds retryable job failures before they go terminal
	// (defaults to 3).
	MaxAttempts int

	// JobBudget is the wall-clock cap per job run (defaults to 2m).
	// Exceeding it marks the job failed retryable.
	JobBudget time.Duration

	Logger *zap.Logger
}

// NewEngine wires a scheduler.
func NewEngine(c *Config) *Engine {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.JobBudget == 0 {
		c.JobBudget = defaultJobBudget
	}
	return &Engine{
		store:       c.Store,
		aggregator:  c.Aggregator,
		notifier:    c.Notifier,
		repair:      c.Repair,
		logger:      c.Logger,
		maxAttempts: c.MaxAttempts,
		jobBudget:   c.JobBudget,
		now:         time.Now,
	}
}

// Start launches the cron loop: a minute tick for trigger evaluation and a
// four-hour sweep for repairs and inactivity reminders.
func (e *Engine) Start() error {
	e.cron = cron.New()

	if _, err := e.cron.AddFunc("* * * * *", func() { e.Tick(e.now()) }); err != nil {
		return fmt.Errorf("registering minute tick: %w", err)
	}
	if _, err := e.cron.AddFunc("0 */4 * * *", func() { e.Sweep(e.now()) }); err != nil {
		return fmt.Errorf("registering sweep: %w", err)
	}

	e.cron.Start()
	e.logger.Info("scheduler started")
	return nil
}

// Stop halts the cron loop and waits for in-flight evaluations.
func (e *Engine) Stop() {
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
	e.wg.Wait()
	e.logger.Info("scheduler stopped")
}

// Tick evaluates every user's local clock at instant now. Users are
// evaluated in parallel; all state they touch is per-user.
func (e *Engine) Tick(now time.Time) {
	ctx := context.Background()
	users, err := e.store.ListUsers(ctx)
	if err != nil {
		e.logger.Error("listing users for tick failed", zap.Error(err))
		return
	}

	for _, userID := range users {
		e.wg.Add(1)
		go func(userID string) {
			defer e.wg.Done()
			e.evaluateUser(ctx, userID, now)
		}(userID)
	}
	e.wg.Wait()

	e.retryDue(ctx, now)
}

// retryDue re-runs retryable failures whose backoff window has expired.
// Trigger minutes only ever fire the current period key, so this is the
// only path back to a job that failed on a now-stale period.
func (e *Engine) retryDue(ctx context.Context, now time.Time) {
	jobs, err := e.store.ListJobs(ctx, journal.JobFailedRetryable, jobRetryBatch)
	if err != nil {
		e.logger.Error("listing retryable jobs failed", zap.Error(err))
		return
	}
	for _, job := range jobs {
		if !job.Runnable(now) {
			continue
		}
		e.RunJob(ctx, job.UserID, job.PeriodKey, job.Kind, now)
	}
}

// Sweep runs the four-hourly background pass: repair queue fill plus
// inactivity reminders.
func (e *Engine) Sweep(now time.Time) {
	ctx := context.Background()

	if e.repair != nil {
		if _, err := e.repair.Sweep(ctx, repairSweepBatch); err != nil {
			e.logger.Error("repair sweep failed", zap.Error(err))
		}
	}

	users, err := e.store.ListUsers(ctx)
	if err != nil {
		e.logger.Error("listing users for sweep failed", zap.Error(err))
		return
	}
	for _, userID := range users {
		e.evaluateNudge(ctx, userID, now, true)
	}

	e.retryDue(ctx, now)
}

// evaluateUser fires whatever the user's local clock calls for at this
// minute: the evening daily reflection, the week-start weekly report, and
// nudge policy.
func (e *Engine) evaluateUser(ctx context.Context, userID string, now time.Time) {
	prefs := e.prefs(ctx, userID)
	local := now.In(prefs.Location())

	// Period jobs fire on the hour.
	if local.Minute() == 0 {
		if local.Hour() == prefs.EveningHour {
			key := journal.DayKey(local, prefs.Location())
			e.RunJob(ctx, userID, key, journal.JobDailyReflection, now)
		}
		if local.Hour() == prefs.MorningHour && mondayIndex(local.Weekday()) == prefs.WeekStartDay {
			// The week that just ended.
			key := journal.WeekKey(local.AddDate(0, 0, -7), prefs.Location())
			e.RunJob(ctx, userID, key, journal.JobWeeklyReport, now)
		}
	}

	e.evaluateNudge(ctx, userID, now, false)
}

// RunOnDemand services a user-initiated generation request through the same
// job bookkeeping as a scheduled run. force regenerates an existing artifact
// in place.
func (e *Engine) RunOnDemand(ctx context.Context, userID, periodKey string, kind journal.ArtifactKind, force bool) (*journal.AggregationArtifact, error) {
	now := e.now()

	runCtx, cancel := context.WithTimeout(ctx, e.jobBudget)
	defer cancel()

	artifact, err := e.aggregator.Generate(runCtx, userID, periodKey, kind, force)

	jobKind := journal.JobDailyReflection
	if kind == journal.KindWeekly {
		jobKind = journal.JobWeeklyReport
	}
	job, getErr := e.store.GetJob(ctx, userID, periodKey, jobKind)
	if getErr != nil && !storage.IsNotFound(getErr) {
		e.logger.Error("loading job state failed",
			zap.String("user_id", userID),
			zap.String("period_key", periodKey),
			zap.Error(getErr),
		)
	}
	if job == nil {
		job = &journal.JobState{
			UserID:    userID,
			PeriodKey: periodKey,
			Kind:      jobKind,
		}
	}
	settleErr := err
	if errors.Is(err, aggregate.ErrNoEntries) {
		settleErr = nil
	}
	e.settle(ctx, job, settleErr, now)

	return artifact, err
}

// RunJob drives one job instance through the persisted state machine.
func (e *Engine) RunJob(ctx context.Context, userID, periodKey string, kind journal.JobKind, now time.Time) {
	job, err := e.store.GetJob(ctx, userID, periodKey, kind)
	if err != nil && !storage.IsNotFound(err) {
		e.logger.Error("loading job state failed",
			zap.String("user_id", userID),
			zap.String("period_key", periodKey),
			zap.Error(err),
		)
		return
	}
	if job == nil {
		job = &journal.JobState{
			UserID:    userID,
			PeriodKey: periodKey,
			Kind:      kind,
			Status:    journal.JobScheduled,
		}
	} else if !job.Runnable(now) {
		return
	}

	job.Status = journal.JobRunning
	job.UpdatedAt = now
	if err := e.store.PutJob(ctx, job); err != nil {
		// Run anyway. The outcome write in settle is the one retry
		// bookkeeping depends on; bailing here would erase the attempt.
		e.logger.Warn("marking job running failed",
			zap.String("job", job.Key()),
			zap.Error(err),
		)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.jobBudget)
	defer cancel()

	runErr := e.execute(runCtx, job)
	e.settle(ctx, job, runErr, now)
}

// execute performs the job's work under its wall-clock budget.
func (e *Engine) execute(ctx context.Context, job *journal.JobState) error {
	switch job.Kind {
	case journal.JobDailyReflection:
		_, err := e.aggregator.Generate(ctx, job.UserID, job.PeriodKey, journal.KindDaily, false)
		if errors.Is(err, aggregate.ErrNoEntries) {
			// A quiet day is not a failure.
			return nil
		}
		return err
	case journal.JobWeeklyReport:
		_, err := e.aggregator.Generate(ctx, job.UserID, job.PeriodKey, journal.KindWeekly, false)
		if errors.Is(err, aggregate.ErrNoEntries) {
			return nil
		}
		return err
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// settle records the run's outcome: success, retryable failure with backoff,
// or terminal failure once attempts are exhausted.
func (e *Engine) settle(ctx context.Context, job *journal.JobState, runErr error, now time.Time) {
	job.UpdatedAt = now

	if runErr == nil {
		job.Status = journal.JobSucceeded
		job.LastError = ""
	} else {
		job.Attempts++
		job.LastError = runErr.Error()
		if job.Attempts >= e.maxAttempts {
			job.Status = journal.JobFailedTerminal
			e.logger.Error("job failed terminally",
				zap.String("job", job.Key()),
				zap.Int("attempts", job.Attempts),
				zap.Error(runErr),
			)
		} else {
			job.Status = journal.JobFailedRetryable
			job.NotBefore = now.Add(defaultRetryBase << (job.Attempts - 1))
			e.logger.Warn("job failed, will retry",
				zap.String("job", job.Key()),
				zap.Int("attempts", job.Attempts),
				zap.Time("not_before", job.NotBefore),
				zap.Error(runErr),
			)
		}
	}

	if err := e.store.PutJob(ctx, job); err != nil {
		e.logger.Error("persisting job outcome failed",
			zap.String("job", job.Key()),
			zap.Error(err),
		)
	}
}

// evaluateNudge runs the pure nudge policy for one user and delivers at most
// one message. gapOnly restricts the evaluation to the inactivity reminder,
// used by the four-hourly sweep.
func (e *Engine) evaluateNudge(ctx context.Context, userID string, now time.Time, gapOnly bool) {
	prefs := e.prefs(ctx, userID)

	streak, err := e.store.GetStreak(ctx, userID)
	if err != nil && !storage.IsNotFound(err) {
		e.logger.Error("loading streak for nudge failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return
	}
	if streak == nil {
		streak = &journal.StreakState{UserID: userID}
	}

	lastEntryAt, err := e.store.LastEntryAt(ctx, userID)
	if err != nil && !storage.IsNotFound(err) {
		e.logger.Error("loading last entry time failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return
	}

	lastNudge, err := e.store.LastNudge(ctx, userID)
	if err != nil && !storage.IsNotFound(err) {
		e.logger.Error("loading nudge log failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return
	}

	decision := nudge.Decide(nudge.Input{
		Now:         now,
		Streak:      *streak,
		LastEntryAt: lastEntryAt,
		LastNudge:   lastNudge,
		Prefs:       prefs,
	})
	if decision == nil {
		return
	}
	if gapOnly && decision.Kind != nudge.KindReminder {
		return
	}

	if e.notifier != nil {
		if err := e.notifier.Deliver(ctx, userID, renderNudge(decision)); err != nil {
			e.logger.Warn("nudge delivery failed",
				zap.String("user_id", userID),
				zap.String("kind", string(decision.Kind)),
				zap.Error(err),
			)
			return
		}
	}

	record := &journal.NudgeRecord{
		UserID: userID,
		Kind:   string(decision.Kind),
		SentAt: now,
	}
	if err := e.store.LogNudge(ctx, record); err != nil {
		e.logger.Error("logging nudge failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return
	}

	e.logger.Info("nudge sent",
		zap.String("user_id", userID),
		zap.String("kind", string(decision.Kind)),
	)
}

func (e *Engine) prefs(ctx context.Context, userID string) journal.UserPrefs {
	p, err := e.store.GetPrefs(ctx, userID)
	if err != nil {
		if !storage.IsNotFound(err) {
			e.logger.Warn("loading prefs failed, using defaults",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
		return journal.DefaultPrefs(userID)
	}
	return *p
}

// renderNudge turns a nudge intent into plain message text. Deliberately
// unadorned; wording is not a contract.
func renderNudge(n *nudge.Nudge) string {
	switch n.Kind {
	case nudge.KindMorning:
		return fmt.Sprintf("Morning! You're on a %s-day streak. What's the plan for today?", n.Vars["current_streak"])
	case nudge.KindReminder:
		return fmt.Sprintf("It's been %s hours since your last note. A quick voice memo keeps the record going.", n.Vars["hours_since"])
	case nudge.KindStreak:
		return fmt.Sprintf("Your %s-day streak ends tonight without an entry. One minute is enough.", n.Vars["current_streak"])
	default:
		return "Time to log a note."
	}
}

// mondayIndex maps time.Weekday (Sunday=0) onto Monday=0 .. Sunday=6,
// matching UserPrefs.WeekStartDay.
func mondayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}
