package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/murmurhq/murmur/pkg/aggregate"
	"github.com/murmurhq/murmur/pkg/eventstream/nop"
	"github.com/murmurhq/murmur/pkg/ingest"
	"github.com/murmurhq/murmur/pkg/journal"
	murmurlogger "github.com/murmurhq/murmur/pkg/logger"
	"github.com/murmurhq/murmur/pkg/memory"
	narrativetemplate "github.com/murmurhq/murmur/pkg/narrative/template"
	"github.com/murmurhq/murmur/pkg/scheduler"
	"github.com/murmurhq/murmur/pkg/search"
	"github.com/murmurhq/murmur/pkg/storage/inmemory"
	testutils "github.com/murmurhq/murmur/pkg/utils/test"
)

// jsonRequest builds an http request with a JSON body.
func jsonRequest(method, target string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
	}
	req, err := http.NewRequest(method, target, &buf)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return req
}

func decodeBody(resp *http.Response, out any) {
	raw, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	Expect(json.Unmarshal(raw, out)).To(Succeed())
}

var _ = Describe("API handlers", func() {
	var (
		server *Server
		inMem  *inmemory.Driver
	)

	occurredAt := time.Date(2026, 8, 27, 21, 30, 0, 0, time.UTC)

	ingestEntry := func(userID, transcript, audioRef string, at time.Time) ingestResponse {
		req := jsonRequest(http.MethodPost, "/v1/entries", map[string]any{
			"user_id":     userID,
			"audio_ref":   audioRef,
			"occurred_at": at.Format(time.RFC3339),
			"transcript":  transcript,
		})
		resp, err := server.app.Test(req)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(BeElementOf(fiber.StatusCreated, fiber.StatusOK))

		var out ingestResponse
		decodeBody(resp, &out)
		return out
	}

	BeforeEach(func() {
		logger := murmurlogger.Nop()
		inMem = inmemory.NewDriver()
		vectorDriver := testutils.NewMockVectorDriver()
		embedder := testutils.NewMockEmbedder()

		coordinator := memory.NewCoordinator(inMem, vectorDriver, embedder, nop.NewPublisher(), logger)

		index, err := search.OpenInMemory()
		Expect(err).NotTo(HaveOccurred())

		pipeline := ingest.NewPipeline(&ingest.Config{
			Coordinator: coordinator,
			Store:       inMem,
			Transcriber: testutils.NewMockTranscriber("spoken words"),
			Classifier:  testutils.NewMockClassifier(),
			Index:       index,
			Logger:      logger,
		})

		aggregator, err := aggregate.NewEngine(&aggregate.Config{
			Store:    inMem,
			Vectors:  vectorDriver,
			Embed:    embedder,
			Fallback: narrativetemplate.NewComposer(),
			Logger:   logger,
		})
		Expect(err).NotTo(HaveOccurred())

		engine := scheduler.NewEngine(&scheduler.Config{
			Store:      inMem,
			Aggregator: aggregator,
			Logger:     logger,
		})

		server = NewServer(Config{ListenAddr: ":0"}, Deps{
			Storer:      inMem,
			Pipeline:    pipeline,
			Engine:      engine,
			Coordinator: coordinator,
			Index:       index,
		}, logger)
	})

	Describe("ping", func() {
		It("returns pong", func() {
			req, err := http.NewRequest(http.MethodGet, "/ping", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("pong"))
		})
	})

	Describe("POST /v1/entries", func() {
		It("ingests a transcript entry", func() {
			req := jsonRequest(http.MethodPost, "/v1/entries", map[string]any{
				"user_id":     "ada",
				"audio_ref":   "note-1.ogg",
				"occurred_at": occurredAt.Format(time.RFC3339),
				"transcript":  "Shipped the retry logic today",
			})

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusCreated))

			var out ingestResponse
			decodeBody(resp, &out)
			Expect(out.Entry).NotTo(BeNil())
			Expect(out.Entry.UserID).To(Equal("ada"))
			Expect(out.Entry.RawText).To(Equal("Shipped the retry logic today"))
			Expect(out.Entry.IngestStatus).To(Equal(journal.StatusCommitted))
			Expect(out.Duplicate).To(BeFalse())
			Expect(out.Streak).NotTo(BeNil())
			Expect(out.Streak.CurrentStreak).To(Equal(1))
		})

		It("returns 200 with the original entry for a duplicate", func() {
			first := ingestEntry("ada", "same note", "note-1.ogg", occurredAt)

			req := jsonRequest(http.MethodPost, "/v1/entries", map[string]any{
				"user_id":     "ada",
				"audio_ref":   "note-1.ogg",
				"occurred_at": occurredAt.Format(time.RFC3339),
				"transcript":  "same note",
			})
			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out ingestResponse
			decodeBody(resp, &out)
			Expect(out.Duplicate).To(BeTrue())
			Expect(out.Entry.ID).To(Equal(first.Entry.ID))
		})

		It("accepts a multipart voice note and transcribes it", func() {
			var buf bytes.Buffer
			w := multipart.NewWriter(&buf)
			Expect(w.WriteField("user_id", "ada")).To(Succeed())
			Expect(w.WriteField("occurred_at", occurredAt.Format(time.RFC3339))).To(Succeed())
			part, err := w.CreateFormFile("audio", "note.ogg")
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write([]byte("fake audio bytes"))
			Expect(err).NotTo(HaveOccurred())
			Expect(w.Close()).To(Succeed())

			req, err := http.NewRequest(http.MethodPost, "/v1/entries", &buf)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusCreated))

			var out ingestResponse
			decodeBody(resp, &out)
			Expect(out.Entry.RawText).To(Equal("spoken words"))
			Expect(out.Entry.AudioRef).To(Equal("note.ogg"))
		})

		It("rejects a request without a user id", func() {
			req := jsonRequest(http.MethodPost, "/v1/entries", map[string]any{
				"transcript": "who am I",
			})
			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})
	})

	Describe("GET /v1/entries", func() {
		It("requires user_id", func() {
			req, err := http.NewRequest(http.MethodGet, "/v1/entries", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("lists a user's entries with pagination metadata", func() {
			ingestEntry("ada", "first note", "n1.ogg", occurredAt)
			ingestEntry("ada", "second note", "n2.ogg", occurredAt.Add(time.Hour))
			ingestEntry("grace", "other user", "n3.ogg", occurredAt)

			req, err := http.NewRequest(http.MethodGet, "/v1/entries?user_id=ada", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out struct {
				Entries []map[string]any `json:"entries"`
				Total   int              `json:"total"`
				Limit   int              `json:"limit"`
			}
			decodeBody(resp, &out)
			Expect(out.Total).To(Equal(2))
			Expect(out.Entries).To(HaveLen(2))
			Expect(out.Limit).To(Equal(defaultPageSize))
		})

		It("filters by full-text query", func() {
			ingestEntry("ada", "debugging the kafka consumer", "n1.ogg", occurredAt)
			ingestEntry("ada", "walked the dog", "n2.ogg", occurredAt.Add(time.Hour))

			req, err := http.NewRequest(http.MethodGet, "/v1/entries?user_id=ada&q=kafka", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out struct {
				Entries []map[string]any `json:"entries"`
				Total   int              `json:"total"`
			}
			decodeBody(resp, &out)
			Expect(out.Total).To(Equal(1))
		})

		It("returns an empty page when the text query matches nothing", func() {
			ingestEntry("ada", "plain note", "n1.ogg", occurredAt)

			req, err := http.NewRequest(http.MethodGet, "/v1/entries?user_id=ada&q=zeppelin", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out struct {
				Total int `json:"total"`
			}
			decodeBody(resp, &out)
			Expect(out.Total).To(BeZero())
		})

		It("rejects a malformed from date", func() {
			req, err := http.NewRequest(http.MethodGet, "/v1/entries?user_id=ada&from=yesterday", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})
	})

	Describe("GET /v1/entries/:id", func() {
		It("returns the entry with its structured fact", func() {
			created := ingestEntry("ada", "note with fact", "n1.ogg", occurredAt)

			req, err := http.NewRequest(http.MethodGet, "/v1/entries/"+created.Entry.ID, nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out entryDetail
			decodeBody(resp, &out)
			Expect(out.Entry.ID).To(Equal(created.Entry.ID))
			Expect(out.Fact).NotTo(BeNil())
			Expect(out.Fact.Category).To(Equal(journal.CategoryCoding))
		})

		It("returns 404 for an unknown entry", func() {
			req, err := http.NewRequest(http.MethodGet, "/v1/entries/nope", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusNotFound))
		})
	})

	Describe("DELETE /v1/entries/:id", func() {
		It("cascades the deletion and then 404s on reads", func() {
			created := ingestEntry("ada", "soon gone", "n1.ogg", occurredAt)

			req, err := http.NewRequest(http.MethodDelete, "/v1/entries/"+created.Entry.ID, nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusNoContent))

			getReq, err := http.NewRequest(http.MethodGet, "/v1/entries/"+created.Entry.ID, nil)
			Expect(err).NotTo(HaveOccurred())
			getResp, err := server.app.Test(getReq)
			Expect(err).NotTo(HaveOccurred())
			Expect(getResp.StatusCode).To(Equal(fiber.StatusNotFound))
		})

		It("returns 404 for an unknown entry", func() {
			req, err := http.NewRequest(http.MethodDelete, "/v1/entries/nope", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusNotFound))
		})
	})

	Describe("POST /v1/artifacts/generate", func() {
		It("generates a daily reflection on demand", func() {
			ingestEntry("ada", "fixed the flaky test and learned about fakes", "n1.ogg", occurredAt)

			req := jsonRequest(http.MethodPost, "/v1/artifacts/generate", generateRequest{
				UserID:    "ada",
				PeriodKey: occurredAt.Format(journal.DateLayout),
				Kind:      "daily",
			})

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var artifact journal.AggregationArtifact
			decodeBody(resp, &artifact)
			Expect(artifact.Kind).To(Equal(journal.KindDaily))
			Expect(artifact.EntryCount).To(Equal(1))
			Expect(artifact.Content).NotTo(BeEmpty())
		})

		It("returns 404 when the period holds no entries", func() {
			req := jsonRequest(http.MethodPost, "/v1/artifacts/generate", generateRequest{
				UserID:    "ada",
				PeriodKey: "2001-01-01",
				Kind:      "daily",
			})

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusNotFound))
		})

		It("rejects an unknown kind", func() {
			req := jsonRequest(http.MethodPost, "/v1/artifacts/generate", generateRequest{
				UserID:    "ada",
				PeriodKey: "2026-08-27",
				Kind:      "hourly",
			})

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("returns 503 when aggregation is not wired", func() {
			bare := NewServer(Config{ListenAddr: ":0"}, Deps{Storer: inMem}, murmurlogger.Nop())

			req := jsonRequest(http.MethodPost, "/v1/artifacts/generate", generateRequest{
				UserID:    "ada",
				PeriodKey: "2026-08-27",
				Kind:      "daily",
			})

			resp, err := bare.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusServiceUnavailable))
		})
	})

	Describe("GET /v1/artifacts", func() {
		It("lists generated artifacts for a user", func() {
			ingestEntry("ada", "a day worth reflecting on", "n1.ogg", occurredAt)

			genReq := jsonRequest(http.MethodPost, "/v1/artifacts/generate", generateRequest{
				UserID:    "ada",
				PeriodKey: occurredAt.Format(journal.DateLayout),
				Kind:      "daily",
			})
			genResp, err := server.app.Test(genReq)
			Expect(err).NotTo(HaveOccurred())
			Expect(genResp.StatusCode).To(Equal(fiber.StatusOK))

			req, err := http.NewRequest(http.MethodGet, "/v1/artifacts?user_id=ada&kind=daily", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out struct {
				Artifacts []journal.AggregationArtifact `json:"artifacts"`
				Count     int                           `json:"count"`
			}
			decodeBody(resp, &out)
			Expect(out.Count).To(Equal(1))
			Expect(out.Artifacts[0].PeriodKey).To(Equal(occurredAt.Format(journal.DateLayout)))
		})

		It("rejects an invalid kind", func() {
			req, err := http.NewRequest(http.MethodGet, "/v1/artifacts?user_id=ada&kind=hourly", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})
	})

	Describe("GET /v1/jobs", func() {
		seedJob := func(userID, periodKey string, status journal.JobStatus, lastError string) {
			Expect(inMem.PutJob(context.Background(), &journal.JobState{
				UserID:    userID,
				PeriodKey: periodKey,
				Kind:      journal.JobDailyReflection,
				Status:    status,
				Attempts:  3,
				LastError: lastError,
				UpdatedAt: occurredAt,
			})).To(Succeed())
		}

		It("lists terminal failures by default", func() {
			seedJob("ada", "2026-08-25", journal.JobFailedTerminal, "narrator unreachable")
			seedJob("ada", "2026-08-26", journal.JobSucceeded, "")

			req, err := http.NewRequest(http.MethodGet, "/v1/jobs", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out struct {
				Jobs  []journal.JobState `json:"jobs"`
				Count int                `json:"count"`
			}
			decodeBody(resp, &out)
			Expect(out.Count).To(Equal(1))
			Expect(out.Jobs[0].PeriodKey).To(Equal("2026-08-25"))
			Expect(out.Jobs[0].Status).To(Equal(journal.JobFailedTerminal))
			Expect(out.Jobs[0].LastError).To(Equal("narrator unreachable"))
		})

		It("filters by user and status", func() {
			seedJob("ada", "2026-08-25", journal.JobFailedTerminal, "narrator unreachable")
			seedJob("grace", "2026-08-25", journal.JobFailedTerminal, "narrator unreachable")
			seedJob("ada", "2026-08-26", journal.JobFailedRetryable, "flaky store")

			req, err := http.NewRequest(http.MethodGet, "/v1/jobs?user_id=ada&status=failed_retryable", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out struct {
				Jobs  []journal.JobState `json:"jobs"`
				Count int                `json:"count"`
			}
			decodeBody(resp, &out)
			Expect(out.Count).To(Equal(1))
			Expect(out.Jobs[0].PeriodKey).To(Equal("2026-08-26"))
			Expect(out.Jobs[0].UserID).To(Equal("ada"))
		})

		It("rejects an unknown status", func() {
			req, err := http.NewRequest(http.MethodGet, "/v1/jobs?status=hourly", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})
	})

	Describe("GET /v1/recall", func() {
		It("returns semantic hits for the user", func() {
			ingestEntry("ada", "thinking about the migration plan", "n1.ogg", occurredAt)

			req, err := http.NewRequest(http.MethodGet, "/v1/recall?user_id=ada&q=migration", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out struct {
				Results []recallResult `json:"results"`
				Count   int            `json:"count"`
			}
			decodeBody(resp, &out)
			Expect(out.Count).To(Equal(1))
			Expect(out.Results[0].Text).NotTo(BeEmpty())
		})

		It("requires user_id and q", func() {
			req, err := http.NewRequest(http.MethodGet, "/v1/recall?user_id=ada", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("returns 503 when recall is not wired", func() {
			bare := NewServer(Config{ListenAddr: ":0"}, Deps{Storer: inMem}, murmurlogger.Nop())

			req, err := http.NewRequest(http.MethodGet, "/v1/recall?user_id=ada&q=x", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := bare.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusServiceUnavailable))
		})
	})

	Describe("GET /v1/users/:user/streak", func() {
		It("returns the zero streak for an unknown user", func() {
			req, err := http.NewRequest(http.MethodGet, "/v1/users/nobody/streak", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var streak journal.StreakState
			decodeBody(resp, &streak)
			Expect(streak.UserID).To(Equal("nobody"))
			Expect(streak.CurrentStreak).To(BeZero())
		})

		It("reflects ingested entries", func() {
			ingestEntry("ada", "day one", "n1.ogg", occurredAt)

			req, err := http.NewRequest(http.MethodGet, "/v1/users/ada/streak", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var streak journal.StreakState
			decodeBody(resp, &streak)
			Expect(streak.CurrentStreak).To(Equal(1))
			Expect(streak.LastEntryDate).To(Equal(occurredAt.Format(journal.DateLayout)))
		})
	})

	Describe("GET /v1/users/:user/stats", func() {
		It("summarizes the window", func() {
			ingestEntry("ada", "accomplished a lot today honestly", "n1.ogg", occurredAt)
			ingestEntry("ada", "another day another note", "n2.ogg", occurredAt.Add(24*time.Hour))

			target := fmt.Sprintf("/v1/users/ada/stats?from=%s&to=%s",
				occurredAt.AddDate(0, 0, -1).Format(journal.DateLayout),
				occurredAt.AddDate(0, 0, 2).Format(journal.DateLayout),
			)
			req, err := http.NewRequest(http.MethodGet, target, nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out struct {
				EntryCount        int            `json:"entry_count"`
				CategoryHistogram map[string]int `json:"category_histogram"`
				DegradedEntries   int            `json:"degraded_entries"`
			}
			decodeBody(resp, &out)
			Expect(out.EntryCount).To(Equal(2))
			Expect(out.CategoryHistogram).To(HaveKeyWithValue("coding", 2))
			Expect(out.DegradedEntries).To(BeZero())
		})

		It("rejects malformed dates", func() {
			req, err := http.NewRequest(http.MethodGet, "/v1/users/ada/stats?from=lastweek", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})
	})

	Describe("GET /v1/users/:user/calendar", func() {
		It("returns per-day entry counts for the month", func() {
			ingestEntry("ada", "first", "n1.ogg", occurredAt)
			ingestEntry("ada", "second same day", "n2.ogg", occurredAt.Add(time.Hour))
			ingestEntry("ada", "next day", "n3.ogg", occurredAt.Add(26*time.Hour))

			req, err := http.NewRequest(http.MethodGet, "/v1/users/ada/calendar?month=2026-08", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out struct {
				Month string         `json:"month"`
				Days  map[string]int `json:"days"`
			}
			decodeBody(resp, &out)
			Expect(out.Month).To(Equal("2026-08"))
			Expect(out.Days).To(HaveKeyWithValue("2026-08-27", 2))
			Expect(out.Days).To(HaveKeyWithValue("2026-08-28", 1))
		})

		It("rejects a malformed month", func() {
			req, err := http.NewRequest(http.MethodGet, "/v1/users/ada/calendar?month=August", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})
	})

	Describe("user prefs", func() {
		It("returns defaults for a user without prefs", func() {
			req, err := http.NewRequest(http.MethodGet, "/v1/users/ada/prefs", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var prefs journal.UserPrefs
			decodeBody(resp, &prefs)
			Expect(prefs.UserID).To(Equal("ada"))
			Expect(prefs.EveningHour).To(Equal(21))
		})

		It("round-trips stored prefs", func() {
			put := jsonRequest(http.MethodPut, "/v1/users/ada/prefs", map[string]any{
				"timezone":       "Pacific/Auckland",
				"week_start_day": 6,
				"morning_hour":   7,
				"evening_hour":   22,
				"nudges_enabled": true,
			})
			putResp, err := server.app.Test(put)
			Expect(err).NotTo(HaveOccurred())
			Expect(putResp.StatusCode).To(Equal(fiber.StatusOK))

			get, err := http.NewRequest(http.MethodGet, "/v1/users/ada/prefs", nil)
			Expect(err).NotTo(HaveOccurred())
			getResp, err := server.app.Test(get)
			Expect(err).NotTo(HaveOccurred())

			var prefs journal.UserPrefs
			decodeBody(getResp, &prefs)
			Expect(prefs.Timezone).To(Equal("Pacific/Auckland"))
			Expect(prefs.WeekStartDay).To(Equal(6))
			Expect(prefs.MorningHour).To(Equal(7))
		})

		It("rejects an unknown timezone", func() {
			put := jsonRequest(http.MethodPut, "/v1/users/ada/prefs", map[string]any{
				"timezone": "Mars/Olympus_Mons",
			})
			resp, err := server.app.Test(put)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("rejects an out-of-range week start day", func() {
			put := jsonRequest(http.MethodPut, "/v1/users/ada/prefs", map[string]any{
				"week_start_day": 9,
			})
			resp, err := server.app.Test(put)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})
	})

	Describe("full-text search availability", func() {
		It("returns 503 for q when no index is wired", func() {
			noIndex := NewServer(Config{ListenAddr: ":0"}, Deps{Storer: inMem}, murmurlogger.Nop())

			req, err := http.NewRequest(http.MethodGet, "/v1/entries?user_id=ada&q=kafka", nil)
			Expect(err).NotTo(HaveOccurred())

			resp, err := noIndex.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusServiceUnavailable))
		})
	})
})
