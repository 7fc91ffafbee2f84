package testutils

import (
	"context"
	"io"
	"strings"

	"github.com/murmurhq/murmur/pkg/classify"
	"github.com/murmurhq/murmur/pkg/journal"
	"github.com/murmurhq/murmur/pkg/transcribe"
)

// MockTranscriber is a test transcriber that returns canned text.
type MockTranscriber struct {
	// Text is returned for every call. When empty, the audio bytes are
	// echoed back as the transcript.
	Text string

	// DurationSec is reported on every transcript.
	DurationSec int

	// Err causes Transcribe to fail.
	Err error
}

func NewMockTranscriber(text string) *MockTranscriber {
	return &MockTranscriber{Text: text}
}

func (m *MockTranscriber) Transcribe(_ context.Context, audio io.Reader, _ string) (*transcribe.Transcript, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	text := m.Text
	if text == "" {
		raw, err := io.ReadAll(audio)
		if err != nil {
			return nil, err
		}
		text = string(raw)
	}
	return &transcribe.Transcript{Text: text, DurationSec: m.DurationSec}, nil
}

func (m *MockTranscriber) Close() error {
	return nil
}

// MockClassifier is a test classifier that returns a fixed-shape fact.
type MockClassifier struct {
	// Category overrides the fact category (defaults to coding).
	Category journal.Category

	// Err causes Classify to fail with classification degradation.
	Err error
}

func NewMockClassifier() *MockClassifier {
	return &MockClassifier{Category: journal.CategoryCoding}
}

func (m *MockClassifier) Classify(_ context.Context, entryID, rawText string) (*journal.StructuredFact, error) {
	if m.Err != nil {
		return nil, m.Err
	}

	summary := rawText
	if words := strings.Fields(rawText); len(words) > 10 {
		summary = strings.Join(words[:10], " ")
	}

	fact := &journal.StructuredFact{
		EntryID:   entryID,
		Category:  m.Category,
		Keywords:  []string{"alpha", "beta", "gamma"},
		Sentiment: journal.SentimentNeutral,
		Summary:   summary,
	}
	fact.Normalize()
	return fact, nil
}

func (m *MockClassifier) Close() error {
	return nil
}

var _ classify.Classifier = (*MockClassifier)(nil)
var _ transcribe.Transcriber = (*MockTranscriber)(nil)
