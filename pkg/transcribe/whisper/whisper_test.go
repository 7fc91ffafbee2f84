package whisper_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/murmurhq/murmur/pkg/transcribe"
	"github.com/murmurhq/murmur/pkg/transcribe/whisper"
)

var _ = Describe("Transcriber", func() {
	It("requires a base URL", func() {
		_, err := whisper.NewTranscriber(whisper.Config{})
		Expect(err).To(HaveOccurred())
	})

	It("sends multipart audio and decodes the transcript", func() {
		var gotModel, gotAuth string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/audio/transcriptions"))
			Expect(r.ParseMultipartForm(1 << 20)).To(Succeed())
			gotModel = r.FormValue("model")
			gotAuth = r.Header.Get("Authorization")

			file, header, err := r.FormFile("file")
			Expect(err).NotTo(HaveOccurred())
			defer file.Close()
			Expect(header.Filename).To(Equal("note.ogg"))

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"text": "spent the morning debugging the importer", "duration": 41.7}`))
		}))
		defer server.Close()

		t, err := whisper.NewTranscriber(whisper.Config{
			BaseURL: server.URL,
			APIKey:  "sk-test",
		})
		Expect(err).NotTo(HaveOccurred())

		got, err := t.Transcribe(context.Background(), strings.NewReader("fake-ogg-bytes"), "note.ogg")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Text).To(Equal("spent the morning debugging the importer"))
		Expect(got.DurationSec).To(Equal(42))
		Expect(gotModel).To(Equal(whisper.DefaultModel))
		Expect(gotAuth).To(Equal("Bearer sk-test"))
	})

	It("wraps backend errors in ErrTranscription", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model overloaded", http.StatusServiceUnavailable)
		}))
		defer server.Close()

		t, err := whisper.NewTranscriber(whisper.Config{BaseURL: server.URL})
		Expect(err).NotTo(HaveOccurred())

		_, err = t.Transcribe(context.Background(), strings.NewReader("audio"), "note.wav")
		Expect(err).To(MatchError(transcribe.ErrTranscription))
	})

	It("fails the attempt on timeout", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer server.Close()

		t, err := whisper.NewTranscriber(whisper.Config{
			BaseURL: server.URL,
			Timeout: 50 * time.Millisecond,
		})
		Expect(err).NotTo(HaveOccurred())

		_, err = t.Transcribe(context.Background(), strings.NewReader("audio"), "note.wav")
		Expect(err).To(MatchError(transcribe.ErrTranscription))
	})

	It("rejects an empty transcript", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"text": ""}`))
		}))
		defer server.Close()

		t, err := whisper.NewTranscriber(whisper.Config{BaseURL: server.URL})
		Expect(err).NotTo(HaveOccurred())

		_, err = t.Transcribe(context.Background(), strings.NewReader("audio"), "note.wav")
		Expect(err).To(MatchError(transcribe.ErrTranscription))
	})
})
