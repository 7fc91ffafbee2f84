package api

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/murmurhq/murmur/pkg/aggregate"
	"github.com/murmurhq/murmur/pkg/ingest"
	"github.com/murmurhq/murmur/pkg/journal"
	"github.com/murmurhq/murmur/pkg/storage"
	"github.com/murmurhq/murmur/pkg/transcribe"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	defaultRecallK = 5
	maxRecallK     = 50

	// statsWindowDays is the default lookback for the stats endpoint.
	statsWindowDays = 30
)

type errorResponse struct {
	Error string `json:"error"`
}

// ingestRequest is the JSON body for text-only ingestion. Multipart requests
// carry the same fields as form values plus an "audio" file part.
type ingestRequest struct {
	UserID           string    `json:"user_id"`
	AudioRef         string    `json:"audio_ref"`
	OccurredAt       time.Time `json:"occurred_at"`
	Transcript       string    `json:"transcript"`
	AudioDurationSec int       `json:"audio_duration_sec"`
}

// ingestResponse reports what one ingestion did, including the degraded flag
// the dashboard surfaces.
type ingestResponse struct {
	Entry     *journal.Entry       `json:"entry"`
	Duplicate bool                 `json:"duplicate"`
	Degraded  bool                 `json:"degraded"`
	Streak    *journal.StreakState `json:"streak,omitempty"`
}

// entryDetail pairs an entry with its structured fact, when one exists.
type entryDetail struct {
	Entry *journal.Entry          `json:"entry"`
	Fact  *journal.StructuredFact `json:"fact,omitempty"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleIngestEntry accepts one voice note, as multipart audio or a JSON
// transcript, and runs it through the ingestion pipeline.
func (s *Server) handleIngestEntry(c *fiber.Ctx) error {
	in, err := s.parseIngestInput(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	}

	result, err := s.pipeline.Ingest(c.Context(), *in)
	switch {
	case errors.Is(err, ingest.ErrRateLimited):
		return c.Status(fiber.StatusTooManyRequests).JSON(errorResponse{Error: "rate limit exceeded"})
	case errors.Is(err, transcribe.ErrTranscription):
		return c.Status(fiber.StatusBadGateway).JSON(errorResponse{Error: "transcription failed"})
	case err != nil:
		s.logger.Error("ingestion failed", zap.String("user_id", in.UserID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "ingestion failed"})
	}

	status := fiber.StatusCreated
	if result.Duplicate {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(ingestResponse{
		Entry:     result.Entry,
		Duplicate: result.Duplicate,
		Degraded:  result.Degraded,
		Streak:    result.Streak,
	})
}

// parseIngestInput builds an ingest.Input from either a multipart form or a
// JSON body.
func (s *Server) parseIngestInput(c *fiber.Ctx) (*ingest.Input, error) {
	in := &ingest.Input{}

	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		in.UserID = c.FormValue("user_id")
		in.AudioRef = c.FormValue("audio_ref")
		in.Transcript = c.FormValue("transcript")

		if v := c.FormValue("occurred_at"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, errors.New("occurred_at must be RFC 3339")
			}
			in.OccurredAt = t
		}
		if v := c.FormValue("audio_duration_sec"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, errors.New("audio_duration_sec must be an integer")
			}
			in.AudioDuration = n
		}

		if fh, err := c.FormFile("audio"); err == nil {
			f, err := fh.Open()
			if err != nil {
				return nil, errors.New("reading audio part failed")
			}
			in.Audio = f
			in.Filename = fh.Filename
			if in.AudioRef == "" {
				in.AudioRef = fh.Filename
			}
		}
	} else {
		var req ingestRequest
		if err := c.BodyParser(&req); err != nil {
			return nil, errors.New("invalid request body")
		}
		in.UserID = req.UserID
		in.AudioRef = req.AudioRef
		in.OccurredAt = req.OccurredAt
		in.Transcript = req.Transcript
		in.AudioDuration = req.AudioDurationSec
	}

	if in.UserID == "" {
		return nil, errors.New("user_id is required")
	}
	if in.OccurredAt.IsZero() {
		in.OccurredAt = time.Now().UTC()
	}
	return in, nil
}

// handleListEntries serves the paginated dashboard listing with optional
// category, date-range, and full-text filters.
func (s *Server) handleListEntries(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "user_id parameter required"})
	}

	q := storage.EntryQuery{
		UserID: userID,
		Limit:  pageSize(c),
		Offset: c.QueryInt("offset", 0),
	}

	if cat := c.Query("category"); cat != "" {
		q.Category = journal.ParseCategory(cat)
	}

	var err error
	if q.From, err = parseDateParam(c.Query("from")); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "from must be YYYY-MM-DD"})
	}
	if q.To, err = parseDateParam(c.Query("to")); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "to must be YYYY-MM-DD"})
	}

	if text := c.Query("q"); text != "" {
		if s.index == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(errorResponse{Error: "full-text search is not configured"})
		}
		ids, err := s.index.Search(userID, text, maxPageSize)
		if err != nil {
			s.logger.Error("text search failed", zap.String("user_id", userID), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "search failed"})
		}
		if len(ids) == 0 {
			return c.JSON(fiber.Map{
				"entries": []storage.EntryRow{},
				"total":   0,
				"limit":   q.Limit,
				"offset":  q.Offset,
			})
		}
		q.EntryIDs = ids
	}

	rows, total, err := s.storer.ListEntries(c.Context(), q)
	if err != nil {
		s.logger.Error("listing entries failed", zap.String("user_id", userID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "failed to list entries"})
	}

	return c.JSON(fiber.Map{
		"entries": rows,
		"total":   total,
		"limit":   q.Limit,
		"offset":  q.Offset,
	})
}

// handleGetEntry returns a single entry with its structured fact.
func (s *Server) handleGetEntry(c *fiber.Ctx) error {
	id := c.Params("id")

	entry, err := s.storer.GetEntry(c.Context(), id)
	if err != nil {
		if storage.IsNotFound(err) {
			return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: "entry not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "failed to load entry"})
	}

	detail := entryDetail{Entry: entry}
	fact, err := s.storer.GetFact(c.Context(), id)
	if err == nil {
		detail.Fact = fact
	} else if !storage.IsNotFound(err) {
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "failed to load fact"})
	}

	return c.JSON(detail)
}

// handleDeleteEntry cascades one entry's deletion across every tier.
func (s *Server) handleDeleteEntry(c *fiber.Ctx) error {
	id := c.Params("id")

	if err := s.pipeline.Delete(c.Context(), id); err != nil {
		if storage.IsNotFound(err) {
			return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: "entry not found"})
		}
		s.logger.Error("deleting entry failed", zap.String("entry_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "failed to delete entry"})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// handleListArtifacts lists generated reflections or reports for a user.
func (s *Server) handleListArtifacts(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "user_id parameter required"})
	}

	kind, err := parseKind(c.Query("kind", string(journal.KindDaily)))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	}

	artifacts, err := s.storer.ListArtifacts(c.Context(), userID, kind, pageSize(c), c.QueryInt("offset", 0))
	if err != nil {
		s.logger.Error("listing artifacts failed", zap.String("user_id", userID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "failed to list artifacts"})
	}

	return c.JSON(fiber.Map{
		"artifacts": artifacts,
		"count":     len(artifacts),
	})
}

// generateRequest asks for an on-demand artifact. Force regenerates an
// existing artifact in place.
type generateRequest struct {
	UserID    string `json:"user_id"`
	PeriodKey string `json:"period_key"`
	Kind      string `json:"kind"`
	Force     bool   `json:"force"`
}

// handleGenerate runs aggregation for one period on demand.
func (s *Server) handleGenerate(c *fiber.Ctx) error {
	if s.engine == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(errorResponse{Error: "aggregation is not configured"})
	}

	var req generateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid request body"})
	}
	if req.UserID == "" || req.PeriodKey == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "user_id and period_key are required"})
	}
	kind, err := parseKind(req.Kind)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	}

	artifact, err := s.engine.RunOnDemand(c.Context(), req.UserID, req.PeriodKey, kind, req.Force)
	switch {
	case errors.Is(err, aggregate.ErrNoEntries):
		return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: "no entries in period"})
	case err != nil:
		s.logger.Error("on-demand generation failed",
			zap.String("user_id", req.UserID),
			zap.String("period_key", req.PeriodKey),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "generation failed"})
	}

	return c.JSON(artifact)
}

// handleListJobs surfaces scheduler job state, defaulting to the terminal
// failures an operator has to act on.
func (s *Server) handleListJobs(c *fiber.Ctx) error {
	status, err := parseJobStatus(c.Query("status", string(journal.JobFailedTerminal)))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	}

	jobs, err := s.storer.ListJobs(c.Context(), status, pageSize(c))
	if err != nil {
		s.logger.Error("listing jobs failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "failed to list jobs"})
	}

	if userID := c.Query("user_id"); userID != "" {
		filtered := jobs[:0]
		for _, j := range jobs {
			if j.UserID == userID {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	if jobs == nil {
		jobs = []journal.JobState{}
	}

	return c.JSON(fiber.Map{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// recallResult is one semantic recall hit.
type recallResult struct {
	EntryID string  `json:"entry_id"`
	Text    string  `json:"text"`
	Score   float32 `json:"score"`
}

// handleRecall answers "what did I say about X" over the vector tier.
func (s *Server) handleRecall(c *fiber.Ctx) error {
	if s.coordinator == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(errorResponse{Error: "recall is not configured"})
	}

	userID := c.Query("user_id")
	query := c.Query("q")
	if userID == "" || query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "user_id and q parameters required"})
	}

	topK := c.QueryInt("top_k", defaultRecallK)
	if topK < 1 || topK > maxRecallK {
		topK = defaultRecallK
	}

	hits, err := s.coordinator.Recall(c.Context(), userID, query, topK)
	if err != nil {
		s.logger.Error("recall failed", zap.String("user_id", userID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "recall failed"})
	}

	results := make([]recallResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, recallResult{
			EntryID: h.ID,
			Text:    h.Text,
			Score:   h.Score,
		})
	}

	return c.JSON(fiber.Map{
		"results": results,
		"count":   len(results),
	})
}

// handleStreak returns the user's streak state; users with no entries get the
// zero streak rather than a 404.
func (s *Server) handleStreak(c *fiber.Ctx) error {
	userID := c.Params("user")

	streak, err := s.storer.GetStreak(c.Context(), userID)
	if err != nil {
		if storage.IsNotFound(err) {
			return c.JSON(journal.StreakState{UserID: userID})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "failed to load streak"})
	}

	return c.JSON(streak)
}

// handleStats summarizes a user's recent window: entry volume, category
// histogram, accomplishment/blocker/learning counts, and degraded entries.
func (s *Server) handleStats(c *fiber.Ctx) error {
	userID := c.Params("user")

	to, err := parseDateParam(c.Query("to"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "to must be YYYY-MM-DD"})
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	from, err := parseDateParam(c.Query("from"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "from must be YYYY-MM-DD"})
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -statsWindowDays)
	}

	rows, err := s.storer.EntriesInWindow(c.Context(), userID, from, to)
	if err != nil {
		s.logger.Error("stats window query failed", zap.String("user_id", userID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "failed to load stats"})
	}

	histogram := make(map[journal.Category]int)
	var accomplishments, blockers, learnings, degraded int
	for _, r := range rows {
		if r.Category != "" {
			histogram[r.Category]++
		}
		accomplishments += r.Accomplishments
		blockers += r.Blockers
		learnings += r.Learnings
		if r.NeedsRepair || r.IngestStatus == journal.StatusDegraded {
			degraded++
		}
	}

	return c.JSON(fiber.Map{
		"user_id":            userID,
		"from":               from.Format(journal.DateLayout),
		"to":                 to.Format(journal.DateLayout),
		"entry_count":        len(rows),
		"category_histogram": histogram,
		"accomplishments":    accomplishments,
		"blockers":           blockers,
		"learnings":          learnings,
		"degraded_entries":   degraded,
	})
}

// handleCalendar returns the per-day entry counts for one month, evaluated in
// the user's timezone. Feeds the commitment heat-map.
func (s *Server) handleCalendar(c *fiber.Ctx) error {
	userID := c.Params("user")

	prefs, err := s.storer.GetPrefs(c.Context(), userID)
	if err != nil {
		if !storage.IsNotFound(err) {
			return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "failed to load prefs"})
		}
		p := journal.DefaultPrefs(userID)
		prefs = &p
	}
	loc := prefs.Location()

	month := c.Query("month")
	var start time.Time
	if month == "" {
		now := time.Now().In(loc)
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	} else {
		m, err := time.ParseInLocation("2006-01", month, loc)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "month must be YYYY-MM"})
		}
		start = m
	}
	end := start.AddDate(0, 1, 0)

	rows, err := s.storer.EntriesInWindow(c.Context(), userID, start, end)
	if err != nil {
		s.logger.Error("calendar window query failed", zap.String("user_id", userID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "failed to load calendar"})
	}

	days := make(map[string]int)
	for _, r := range rows {
		days[r.OccurredDate]++
	}

	return c.JSON(fiber.Map{
		"user_id": userID,
		"month":   start.Format("2006-01"),
		"days":    days,
	})
}

// handleGetPrefs returns the user's prefs, falling back to defaults for users
// who never configured any.
func (s *Server) handleGetPrefs(c *fiber.Ctx) error {
	userID := c.Params("user")

	prefs, err := s.storer.GetPrefs(c.Context(), userID)
	if err != nil {
		if storage.IsNotFound(err) {
			return c.JSON(journal.DefaultPrefs(userID))
		}
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "failed to load prefs"})
	}

	return c.JSON(prefs)
}

// handlePutPrefs stores the user's prefs. The timezone must be a loadable
// IANA name; everything downstream trusts it.
func (s *Server) handlePutPrefs(c *fiber.Ctx) error {
	userID := c.Params("user")

	var prefs journal.UserPrefs
	if err := c.BodyParser(&prefs); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid request body"})
	}
	prefs.UserID = userID

	if prefs.Timezone != "" {
		if _, err := time.LoadLocation(prefs.Timezone); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "unknown timezone"})
		}
	}
	if prefs.WeekStartDay < 0 || prefs.WeekStartDay > 6 {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "week_start_day must be 0-6"})
	}
	if prefs.MorningHour < 0 || prefs.MorningHour > 23 || prefs.EveningHour < 0 || prefs.EveningHour > 23 {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "hours must be 0-23"})
	}

	if err := s.storer.PutPrefs(c.Context(), &prefs); err != nil {
		s.logger.Error("saving prefs failed", zap.String("user_id", userID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "failed to save prefs"})
	}

	return c.JSON(prefs)
}

// pageSize clamps the limit query parameter.
func pageSize(c *fiber.Ctx) int {
	limit := c.QueryInt("limit", defaultPageSize)
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return limit
}

// parseDateParam parses an optional YYYY-MM-DD query parameter.
func parseDateParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(journal.DateLayout, v)
}

// parseJobStatus validates a job status parameter.
func parseJobStatus(v string) (journal.JobStatus, error) {
	switch journal.JobStatus(v) {
	case journal.JobScheduled, journal.JobRunning, journal.JobSucceeded,
		journal.JobFailedRetryable, journal.JobFailedTerminal:
		return journal.JobStatus(v), nil
	default:
		return "", errors.New("unknown job status")
	}
}

// parseKind validates an artifact kind parameter.
func parseKind(v string) (journal.ArtifactKind, error) {
	switch journal.ArtifactKind(v) {
	case journal.KindDaily:
		return journal.KindDaily, nil
	case journal.KindWeekly:
		return journal.KindWeekly, nil
	default:
		return "", errors.New(`kind must be "daily" or "weekly"`)
	}
}
